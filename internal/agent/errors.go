package agent

import (
	xerrors "NeoLink-Agent/internal/errors"
)

const (
	// CodeClassificationAmbiguous 表示消息像是查询却无法确定资产，按未分类处理。
	CodeClassificationAmbiguous xerrors.Code = "CLASSIFICATION_AMBIGUOUS"
	// CodeValidation 表示用户输入格式错误，可由用户自行修正。
	CodeValidation xerrors.Code = "VALIDATION_ERROR"
	// CodeProviderUnavailable 表示数据源超时或不可用。
	CodeProviderUnavailable xerrors.Code = "PROVIDER_UNAVAILABLE"
	// CodePreconditionUnmet 表示缺少前置条件，例如未登记钱包。
	CodePreconditionUnmet xerrors.Code = "PRECONDITION_UNMET"
	// CodeFallbackUnavailable 表示大模型调用失败。
	CodeFallbackUnavailable xerrors.Code = "FALLBACK_UNAVAILABLE"
)

func init() {
	xerrors.Register(CodeClassificationAmbiguous, xerrors.Attributes{
		Message:  "classification ambiguous",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeValidation, xerrors.Attributes{
		Message:    "invalid input",
		Severity:   xerrors.SeverityInfo,
		UserFacing: true,
	})
	xerrors.Register(CodeProviderUnavailable, xerrors.Attributes{
		Message:   "data provider unavailable",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodePreconditionUnmet, xerrors.Attributes{
		Message:    "precondition unmet",
		Severity:   xerrors.SeverityInfo,
		UserFacing: true,
	})
	xerrors.Register(CodeFallbackUnavailable, xerrors.Attributes{
		Message:   "conversational fallback unavailable",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}
