package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newJWTService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{Mode: ModeJWT, Secret: "unit-test-secret", Issuer: "neolink", TTLSeconds: 60})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestIssueAndVerify(t *testing.T) {
	svc := newJWTService(t)
	token, err := svc.Issue("ops", "messages:write", "turns:read")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	subject, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if subject.ID != "ops" || !subject.HasScope("TURNS:READ") || subject.HasScope("admin") {
		t.Fatalf("unexpected subject %+v", subject)
	}
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	svc := newJWTService(t)
	token, err := svc.Issue("ops")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := svc.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}

	other, _ := NewService(Config{Mode: ModeJWT, Secret: "another-secret", Issuer: "neolink"})
	foreign, _ := other.Issue("ops")
	if _, err := newJWTService(t).Verify(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature error, got %v", err)
	}

	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Minute).Unix(),
		"iss": "neolink",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := newJWTService(t).Verify(unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("alg none must be rejected, got %v", err)
	}
}

func TestNewServiceValidation(t *testing.T) {
	if _, err := NewService(Config{Mode: ModeJWT}); err == nil {
		t.Fatal("expected missing secret error")
	}
	if _, err := NewService(Config{Mode: "oauth"}); err == nil {
		t.Fatal("expected unsupported mode error")
	}
	svc, err := NewService(Config{})
	if err != nil || svc.Mode() != ModeDisabled {
		t.Fatalf("empty mode should disable auth: %v %v", svc, err)
	}
	if _, err := svc.Issue("ops"); err == nil {
		t.Fatal("disabled service must not issue tokens")
	}
}

func TestMiddleware(t *testing.T) {
	svc := newJWTService(t)
	var seen *Subject
	handler := svc.Middleware(MiddlewareConfig{
		RequiredScopes: map[string][]string{http.MethodPost: {"messages:write"}},
		AuditEvent:     "messages",
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	call := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := call(""); code != http.StatusUnauthorized {
		t.Fatalf("missing token: got %d", code)
	}
	if code := call("garbage"); code != http.StatusUnauthorized {
		t.Fatalf("bad token: got %d", code)
	}
	readOnly, _ := svc.Issue("viewer", "turns:read")
	if code := call(readOnly); code != http.StatusForbidden {
		t.Fatalf("missing scope: got %d", code)
	}
	writer, _ := svc.Issue("bot", "messages:write")
	if code := call(writer); code != http.StatusAccepted {
		t.Fatalf("authorised request: got %d", code)
	}
	if seen == nil || seen.ID != "bot" {
		t.Fatalf("subject not propagated: %+v", seen)
	}
}

func TestSubjectID(t *testing.T) {
	if got := SubjectID(context.Background()); got != AnonymousSubject {
		t.Fatalf("missing subject: got %q", got)
	}
	if _, ok := SubjectFromContext(WithSubject(context.Background(), nil)); ok {
		t.Fatal("nil subject must not be stored")
	}
	ctx := WithSubject(context.Background(), &Subject{ID: "sdk", Scopes: []string{" Messages:Write "}})
	subject, ok := SubjectFromContext(ctx)
	if !ok || SubjectID(ctx) != "sdk" || !subject.HasScope("messages:write") {
		t.Fatalf("unexpected subject %+v", subject)
	}
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	svc, _ := NewService(Config{Mode: ModeDisabled})
	handler := svc.Middleware(MiddlewareConfig{})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("got %d", rec.Code)
	}
}

func signedWebhook(token, target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(TwilioSignatureHeader, TwilioSignature(token, target, form))
	return req
}

func TestTwilioValidator(t *testing.T) {
	const token = "twilio-token"
	v := NewTwilioValidator(token, "")
	form := url.Values{"From": {"whatsapp:+15551234567"}, "Body": {"eth price"}}

	if err := v.Validate(signedWebhook(token, "http://bot.example/webhook", form)); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	tampered := signedWebhook(token, "http://bot.example/webhook", form)
	tampered.Body = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("From=x&Body=gas")).Body
	if err := v.Validate(tampered); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("tampered body accepted: %v", err)
	}

	unsigned := httptest.NewRequest(http.MethodPost, "http://bot.example/webhook", strings.NewReader(form.Encode()))
	unsigned.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := v.Validate(unsigned); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("missing signature accepted: %v", err)
	}
}

func TestTwilioValidatorPublicURLAndMiddleware(t *testing.T) {
	const token = "twilio-token"
	v := NewTwilioValidator(token, "https://public.example/")
	form := url.Values{"Body": {"hi"}}

	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := signedWebhook(token, "https://public.example/webhook", form)
	req.Host = "internal:8080"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("signature against public url rejected: %d", rec.Code)
	}

	bad := signedWebhook("wrong", "https://public.example/webhook", form)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, bad)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	if NewTwilioValidator("", "").Validate(httptest.NewRequest(http.MethodPost, "/webhook", nil)) != nil {
		t.Fatal("validator without token should accept everything")
	}
}
