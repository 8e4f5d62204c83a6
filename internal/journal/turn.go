package journal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	xerrors "NeoLink-Agent/internal/errors"
)

const (
	// CodeJournalPublish 表示会话记录投递失败。
	CodeJournalPublish xerrors.Code = "JOURNAL_PUBLISH_FAILED"
	// CodeJournalPersist 表示会话记录落库失败。
	CodeJournalPersist xerrors.Code = "JOURNAL_PERSIST_FAILED"
)

func init() {
	xerrors.Register(CodeJournalPublish, xerrors.Attributes{
		Message:   "journal publish failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeJournalPersist, xerrors.Attributes{
		Message:   "journal persist failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

// Turn 是一轮对话的历史记录，只用于审计和分析，不会回读到会话中。
type Turn struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	Intent    string    `json:"intent"`
	Reply     string    `json:"reply"`
	ErrorCode string    `json:"error_code,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTurn 构造带有唯一 ID 的记录。
func NewTurn(userID, text, intent, reply, errorCode string, latency time.Duration, at time.Time) Turn {
	return Turn{
		ID:        uuid.NewString(),
		UserID:    userID,
		Text:      text,
		Intent:    intent,
		Reply:     reply,
		ErrorCode: errorCode,
		LatencyMS: latency.Milliseconds(),
		CreatedAt: at.UTC(),
	}
}

// Encode 序列化为队列消息体。
func (t Turn) Encode() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("序列化会话记录失败: %w", err)
	}
	return data, nil
}

// DecodeTurn 解析队列消息体。
func DecodeTurn(data []byte) (Turn, error) {
	var t Turn
	if err := json.Unmarshal(data, &t); err != nil {
		return Turn{}, fmt.Errorf("解析会话记录失败: %w", err)
	}
	if _, err := uuid.Parse(t.ID); err != nil {
		return Turn{}, fmt.Errorf("会话记录 ID 无效: %w", err)
	}
	return t, nil
}
