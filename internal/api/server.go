package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"NeoLink-Agent/internal/agent"
	"NeoLink-Agent/internal/auth"
	"NeoLink-Agent/internal/journal"
	"NeoLink-Agent/internal/observability/metrics"
	"NeoLink-Agent/internal/web3"
	"NeoLink-Agent/pkg/logger"
)

const (
	defaultMessageTimeout    = 30 * time.Second
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
)

// MessageHandler 处理一条入站消息并返回唯一的回复。
type MessageHandler interface {
	HandleMessage(ctx context.Context, userID, text string) agent.Reply
}

// ChainReporter 提供健康检查所需的链状态。
type ChainReporter interface {
	Snapshots(ctx context.Context) ([]web3.ChainSnapshot, map[string]error)
}

// SessionCounter 报告当前活跃会话数。
type SessionCounter interface {
	Len() int
}

// Server 负责暴露 HTTP 接口，把消息转交给智能体。
type Server struct {
	addr    string
	handler MessageHandler

	turns    journal.Repository
	chains   ChainReporter
	sessions SessionCounter
	auth     *auth.Service
	twilio   *auth.TwilioValidator
	limiter  *senderLimiter

	version         string
	features        []string
	metricsRoute    bool
	messageTimeout  time.Duration
	readTimeout     time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithTurnHistory 启用对话记录查询接口。
func WithTurnHistory(repo journal.Repository) Option {
	return func(s *Server) { s.turns = repo }
}

// WithChains 在健康检查中报告链状态。
func WithChains(chains ChainReporter) Option {
	return func(s *Server) { s.chains = chains }
}

// WithSessionCounter 在健康检查中报告会话数。
func WithSessionCounter(counter SessionCounter) Option {
	return func(s *Server) { s.sessions = counter }
}

// WithAuth 使用令牌保护 JSON 接口。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) { s.auth = svc }
}

// WithTwilioValidator 校验 webhook 签名。
func WithTwilioValidator(v *auth.TwilioValidator) Option {
	return func(s *Server) { s.twilio = v }
}

// WithRateLimit 按发送者限制消息频率，perMinute 为 0 时关闭。
func WithRateLimit(perMinute, burst int) Option {
	return func(s *Server) { s.limiter = newSenderLimiter(perMinute, burst) }
}

// WithVersion 设置健康检查中的版本号。
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// WithFeatures 设置健康检查中的功能列表。
func WithFeatures(features ...string) Option {
	return func(s *Server) { s.features = append([]string(nil), features...) }
}

// WithMetricsRoute 控制是否在主路由挂载 /metrics。
func WithMetricsRoute(enabled bool) Option {
	return func(s *Server) { s.metricsRoute = enabled }
}

// WithTimeouts 设置消息处理、读取请求头与优雅关闭的超时。
func WithTimeouts(message, readHeader, shutdown time.Duration) Option {
	return func(s *Server) {
		if message > 0 {
			s.messageTimeout = message
		}
		if readHeader > 0 {
			s.readTimeout = readHeader
		}
		if shutdown > 0 {
			s.shutdownTimeout = shutdown
		}
	}
}

// WithLogger 替换默认日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, handler MessageHandler, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		handler:         handler,
		version:         "dev",
		metricsRoute:    true,
		messageTimeout:  defaultMessageTimeout,
		readTimeout:     defaultReadHeaderTimeout,
		shutdownTimeout: defaultShutdownTimeout,
		logger:          logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 构建完整的路由。
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(observeRequests)

	r.Get("/health", s.handleHealth)
	if s.metricsRoute {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if s.twilio.Enabled() {
			r.Use(s.twilio.Middleware)
		}
		r.Post("/webhook", s.handleWebhook)
	})

	r.Route("/api/v1", func(r chi.Router) {
		if s.auth != nil {
			r.Use(s.auth.Middleware(auth.MiddlewareConfig{
				RequiredScopes: map[string][]string{
					http.MethodPost: {ScopeMessagesWrite},
					http.MethodGet:  {ScopeTurnsRead},
				},
				AuditEvent: "api_v1",
			}))
		}
		r.Post("/messages", s.handleMessage)
		r.Get("/users/{userID}/turns", s.handleListTurns)
	})
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: s.readTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("HTTP 服务已启动", "address", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// reply 在限定时间内处理消息，并应用发送者限流。
func (s *Server) reply(ctx context.Context, userID, text string) (agent.Reply, bool) {
	if s.limiter != nil && !s.limiter.Allow(userID) {
		s.logger.Warn("发送频率超限", "user", userID)
		return rateLimitedReply(), false
	}
	ctx, cancel := context.WithTimeout(ctx, s.messageTimeout)
	defer cancel()
	return s.handler.HandleMessage(ctx, userID, text), true
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

// observeRequests 以路由模板为标签记录请求指标。
func observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.ObserveHTTPRequest(route, r.Method, status, time.Since(start))
	})
}
