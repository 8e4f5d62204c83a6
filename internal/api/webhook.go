package api

import (
	"encoding/xml"
	"net/http"
	"strings"
)

// twimlResponse 是 Twilio 期望的 Messaging 响应。
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message"`
}

// handleWebhook 处理 Twilio WhatsApp 回调，每次投递恰好回复一条消息。
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "表单解析失败", http.StatusBadRequest)
		return
	}
	from := strings.TrimSpace(r.PostForm.Get("From"))
	body := strings.TrimSpace(r.PostForm.Get("Body"))
	s.logger.Debug("收到 webhook 消息", "user", from, "length", len(body))

	reply, _ := s.reply(r.Context(), from, body)
	writeTwiML(w, reply.Text)
}

func writeTwiML(w http.ResponseWriter, text string) {
	payload, err := xml.Marshal(twimlResponse{Message: text})
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(payload)
}
