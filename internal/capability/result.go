package capability

import (
	"context"
	"errors"
	"time"

	xerrors "NeoLink-Agent/internal/errors"
)

// Reason 描述数据源调用失败的原因。
type Reason string

const (
	ReasonNotFound    Reason = "not_found"
	ReasonTimeout     Reason = "timeout"
	ReasonMalformed   Reason = "malformed"
	ReasonRateLimited Reason = "rate_limited"
	ReasonUnavailable Reason = "unavailable"
)

// Tiers 表示 Gas 费用的低、中、高三档，单位与 Result.Unit 一致。
type Tiers struct {
	Low    float64 `json:"low"`
	Medium float64 `json:"medium"`
	High   float64 `json:"high"`
}

// Result 是所有数据源调用的返回值，只能通过 Ok 或 Failed 构造。
type Result struct {
	ok         bool
	Value      float64
	Unit       string
	SourceTime time.Time
	Source     string

	// 可选的附加数据，仅在成功结果上出现。
	Change24h *float64
	Tiers     *Tiers

	Reason Reason
	// Err 仅用于日志，不允许展示给用户。
	Err error
}

// Ok 构造成功结果。
func Ok(value float64, unit string, sourceTime time.Time) Result {
	return Result{ok: true, Value: value, Unit: unit, SourceTime: sourceTime}
}

// Failed 构造失败结果。
func Failed(reason Reason, cause error) Result {
	if reason == "" {
		reason = ReasonUnavailable
	}
	return Result{Reason: reason, Err: cause}
}

// OK 判断结果是否成功。
func (r Result) OK() bool {
	return r.ok
}

// WithChange24h 为成功结果附加 24 小时涨跌幅（百分比）。
func (r Result) WithChange24h(pct float64) Result {
	if r.ok {
		r.Change24h = &pct
	}
	return r
}

// WithTiers 为成功结果附加费用档位。
func (r Result) WithTiers(t Tiers) Result {
	if r.ok {
		r.Tiers = &t
	}
	return r
}

// WithSource 标记结果来源，便于日志和指标区分。
func (r Result) WithSource(name string) Result {
	r.Source = name
	return r
}

// ReasonOf 将调用错误归类为失败原因。
func ReasonOf(err error) Reason {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case xerrors.CodeOf(err) == xerrors.CodeTimeout:
		return ReasonTimeout
	case xerrors.CodeOf(err) == xerrors.CodeNotFound:
		return ReasonNotFound
	default:
		return ReasonUnavailable
	}
}

// FromError 将错误转换为失败结果。
func FromError(err error) Result {
	return Failed(ReasonOf(err), err)
}
