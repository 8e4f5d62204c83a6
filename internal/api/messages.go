package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"NeoLink-Agent/internal/agent"
	"NeoLink-Agent/internal/auth"
	xerrors "NeoLink-Agent/internal/errors"
)

const (
	// ScopeMessagesWrite 允许通过 JSON 接口提交消息。
	ScopeMessagesWrite = "messages:write"
	// ScopeTurnsRead 允许查询对话记录。
	ScopeTurnsRead = "turns:read"

	maxTurnsLimit = 100
)

// CodeRateLimited 表示发送者超过了消息频率限制。
const CodeRateLimited xerrors.Code = "RATE_LIMITED"

func init() {
	xerrors.Register(CodeRateLimited, xerrors.Attributes{
		Message:    "sender exceeded the message rate",
		Severity:   xerrors.SeverityInfo,
		Retryable:  true,
		UserFacing: true,
	})
}

func rateLimitedReply() agent.Reply {
	return agent.Reply{
		Text:      "⏳ Whoa, that's a lot of messages! Give me a few seconds and try again.",
		ErrorCode: CodeRateLimited,
	}
}

type messageRequest struct {
	From string `json:"from"`
	Text string `json:"text"`
}

type messageResponse struct {
	Reply        string   `json:"reply"`
	Intent       string   `json:"intent,omitempty"`
	ErrorCode    string   `json:"error_code,omitempty"`
	QuickReplies []string `json:"quick_replies,omitempty"`
}

// handleMessage 以 JSON 形式提交一条消息，供测试工具和其他渠道使用。
// 未填写 from 的已认证请求以 api:<调用方> 作为发送者。
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "请求体解析失败")
		return
	}
	caller := auth.SubjectID(r.Context())
	from := strings.TrimSpace(req.From)
	if _, ok := auth.SubjectFromContext(r.Context()); ok && from == "" {
		from = "api:" + caller
	}
	s.logger.Debug("收到 API 消息", "subject", caller, "user", from)
	reply, handled := s.reply(r.Context(), from, req.Text)
	status := http.StatusOK
	if !handled {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, messageResponse{
		Reply:        reply.Text,
		Intent:       string(reply.Intent),
		ErrorCode:    string(reply.ErrorCode),
		QuickReplies: reply.QuickReplies,
	})
}

// handleListTurns 返回指定用户最近的对话记录。
func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	if s.turns == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "对话记录未启用")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = min(parsed, maxTurnsLimit)
		}
	}
	userID := chi.URLParam(r, "userID")
	if unescaped, err := url.PathUnescape(userID); err == nil {
		userID = unescaped
	}
	turns, err := s.turns.ListByUser(r.Context(), userID, limit)
	if err != nil {
		s.logger.Error("查询对话记录失败", "error", err, "error_code", xerrors.CodeOf(err))
		writeJSONError(w, http.StatusInternalServerError, "查询对话记录失败")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
