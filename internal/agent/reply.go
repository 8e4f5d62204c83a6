package agent

import (
	"math"
	"strconv"
	"strings"

	xerrors "NeoLink-Agent/internal/errors"
	"NeoLink-Agent/internal/intent"
)

// Reply 是对一条入站消息的唯一回复。
type Reply struct {
	Text         string       `json:"text"`
	QuickReplies []string     `json:"quick_replies,omitempty"`
	Intent       intent.Kind  `json:"intent"`
	ErrorCode    xerrors.Code `json:"error_code,omitempty"`
}

// Failed 判断回复是否由失败路径产生。歧义提示码只标记分类结果，不算失败。
func (r Reply) Failed() bool {
	return r.ErrorCode != "" && r.ErrorCode != CodeClassificationAmbiguous
}

func failure(code xerrors.Code, text string) Reply {
	return Reply{Text: text, ErrorCode: code}
}

// formatAmount 输出不带千分位的数值，整数部分保持原样以便用户复制。
func formatAmount(v float64) string {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return "0"
	}
	precision := 2
	if math.Abs(v) < 1 {
		precision = 6
	}
	s := strconv.FormatFloat(v, 'f', precision, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}

func formatChange(pct float64) string {
	icon, sign := "📈", "+"
	if pct < 0 {
		icon, sign = "📉", ""
	}
	return icon + " 24h: " + sign + strconv.FormatFloat(pct, 'f', 2, 64) + "%"
}
