package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"NeoLink-Agent/pkg/logger"
)

// TwilioSignatureHeader 是 Twilio 回调请求携带的签名头。
const TwilioSignatureHeader = "X-Twilio-Signature"

// TwilioValidator 校验 Twilio webhook 的 HMAC-SHA1 签名。
type TwilioValidator struct {
	authToken string
	// publicURL 覆盖请求中的地址，用于反向代理之后的部署。
	publicURL string
	audit     *slog.Logger
}

// NewTwilioValidator 创建签名校验器，authToken 为空时校验被关闭。
func NewTwilioValidator(authToken, publicURL string) *TwilioValidator {
	return &TwilioValidator{
		authToken: strings.TrimSpace(authToken),
		publicURL: strings.TrimRight(strings.TrimSpace(publicURL), "/"),
		audit:     logger.Audit(),
	}
}

// Enabled 判断是否配置了 Auth Token。
func (v *TwilioValidator) Enabled() bool {
	return v != nil && v.authToken != ""
}

// TwilioSignature 按 Twilio 规则计算签名：完整 URL 拼接按键排序的表单键值，HMAC-SHA1 后 base64。
func TwilioSignature(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for key := range form {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, key := range keys {
		for _, value := range form[key] {
			b.WriteString(key)
			b.WriteString(value)
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Validate 校验已解析表单的请求。
func (v *TwilioValidator) Validate(r *http.Request) error {
	if !v.Enabled() {
		return nil
	}
	given := r.Header.Get(TwilioSignatureHeader)
	if given == "" {
		return ErrBadSignature
	}
	if err := r.ParseForm(); err != nil {
		return err
	}
	expected := TwilioSignature(v.authToken, v.requestURL(r), r.PostForm)
	if !hmac.Equal([]byte(expected), []byte(given)) {
		return ErrBadSignature
	}
	return nil
}

func (v *TwilioValidator) requestURL(r *http.Request) string {
	if v.publicURL != "" {
		return v.publicURL + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// Middleware 拒绝签名不正确的 webhook 请求。
func (v *TwilioValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := v.Validate(r); err != nil {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			v.audit.Warn("webhook_rejected",
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"error", err.Error(),
			)
			return
		}
		next.ServeHTTP(w, r)
	})
}
