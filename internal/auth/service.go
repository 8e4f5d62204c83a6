package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"NeoLink-Agent/pkg/logger"
)

const defaultTokenTTL = time.Hour

// claims 是访问令牌携带的声明。
type claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Service 负责 JSON 接口的令牌签发与校验。
type Service struct {
	mode   Mode
	secret []byte
	issuer string
	ttl    time.Duration
	audit  *slog.Logger
	now    func() time.Time
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, issuer: cfg.Issuer, audit: logger.Audit(), now: time.Now}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeJWT:
		if strings.TrimSpace(cfg.Secret) == "" {
			return nil, errors.New("jwt secret must be configured")
		}
		svc.secret = []byte(cfg.Secret)
		svc.ttl = time.Duration(cfg.TTLSeconds) * time.Second
		if svc.ttl <= 0 {
			svc.ttl = defaultTokenTTL
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// Issue 为调用方签发 HS256 访问令牌。
func (s *Service) Issue(subjectID string, scopes ...string) (string, error) {
	if s.Mode() != ModeJWT {
		return "", errors.New("token issuance requires jwt mode")
	}
	if strings.TrimSpace(subjectID) == "" {
		return "", errors.New("subject cannot be empty")
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Scope: strings.Join(scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify 校验令牌签名、有效期和签发者。
func (s *Service) Verify(raw string) (*Subject, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	var parsed claims
	token, err := jwt.ParseWithClaims(raw, &parsed, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &Subject{ID: parsed.Subject, Scopes: strings.Fields(parsed.Scope)}, nil
}

// AuthenticateRequest 从 Authorization 头中解析并校验令牌。
func (s *Service) AuthenticateRequest(authorization string) (*Subject, error) {
	authorization = strings.TrimSpace(authorization)
	if authorization == "" {
		return nil, ErrMissingToken
	}
	const prefix = "bearer "
	if len(authorization) <= len(prefix) || !strings.EqualFold(authorization[:len(prefix)], prefix) {
		return nil, ErrMissingToken
	}
	return s.Verify(strings.TrimSpace(authorization[len(prefix):]))
}
