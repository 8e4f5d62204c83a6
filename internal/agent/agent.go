package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "NeoLink-Agent/internal/errors"
	"NeoLink-Agent/internal/intent"
	"NeoLink-Agent/internal/journal"
	"NeoLink-Agent/internal/session"
	"NeoLink-Agent/pkg/logger"
)

// MetricsRecorder 接收每轮对话的统计信息。
type MetricsRecorder interface {
	ObserveIntent(kind string)
	ObserveErrorCode(code string)
	SetSessions(n int)
}

// Agent 串联会话存储、分类器和调度器，是处理消息的入口。
type Agent struct {
	store      session.Store
	classifier *intent.Classifier
	dispatcher *Dispatcher
	journal    *journal.Journal
	metrics    MetricsRecorder
	logger     *slog.Logger
	now        func() time.Time
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithJournal 配置会话记录投递。
func WithJournal(j *journal.Journal) Option {
	return func(a *Agent) {
		a.journal = j
	}
}

// WithMetrics 配置指标记录。
func WithMetrics(m MetricsRecorder) Option {
	return func(a *Agent) {
		a.metrics = m
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = l
	}
}

// WithClock 替换时间来源，便于测试。
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

// New 创建一个 Agent。
func New(store session.Store, classifier *intent.Classifier, dispatcher *Dispatcher, opts ...Option) *Agent {
	a := &Agent{
		store:      store,
		classifier: classifier,
		dispatcher: dispatcher,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.logger == nil {
		a.logger = logger.Named("agent")
	}
	return a
}

// Classifier 返回 Agent 使用的分类器。
func (a *Agent) Classifier() *intent.Classifier {
	return a.classifier
}

// HandleMessage 处理一条入站消息并总是返回一个回复。
//
// 同一用户的消息在会话锁内串行执行，不同用户互不阻塞。
func (a *Agent) HandleMessage(ctx context.Context, userID, text string) Reply {
	start := a.now()
	var (
		reply Reply
		in    intent.Intent
	)
	err := a.store.WithSession(ctx, userID, func(s *session.Session) error {
		s.LastSeenAt = start
		in = a.classifier.Classify(text, *s)
		reply = a.dispatch(ctx, in, s, text)
		if !reply.Failed() {
			s.LastIntent = string(in.Kind)
			if in.Symbol != "" {
				s.LastSymbol = in.Symbol
			}
		}
		return nil
	})
	if err != nil {
		reply = a.storeFailure(ctx, err)
	}

	latency := a.now().Sub(start)
	a.logger.Info("消息处理完成",
		slog.String("user", userID),
		slog.String("intent", string(reply.Intent)),
		slog.Duration("latency", latency),
		slog.String("error_code", string(reply.ErrorCode)),
	)
	if a.metrics != nil {
		if reply.Intent != "" {
			a.metrics.ObserveIntent(string(reply.Intent))
		}
		a.metrics.ObserveErrorCode(string(reply.ErrorCode))
		a.metrics.SetSessions(a.store.Len())
	}
	if a.journal != nil && strings.TrimSpace(userID) != "" {
		a.journal.Record(ctx, journal.NewTurn(userID, text, string(reply.Intent), reply.Text, string(reply.ErrorCode), latency, start))
	}
	return reply
}

// dispatch 在会话副本上执行调度，发生 panic 时丢弃修改并返回通用回复。
func (a *Agent) dispatch(ctx context.Context, in intent.Intent, s *session.Session, text string) (reply Reply) {
	work := *s
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("调度发生 panic",
				slog.Any("error", fmt.Errorf("%v", r)),
				slog.String("user", s.UserID),
				slog.String("intent", string(in.Kind)),
			)
			reply = failure(xerrors.CodeUnknown, "❌ Sorry, I encountered an error. Please try again or type 'help' for assistance.")
			reply.Intent = in.Kind
		}
	}()
	reply = a.dispatcher.Dispatch(ctx, in, &work, text)
	*s = work
	return reply
}

// storeFailure 把会话层错误转换为回复。用户输入导致的错误只记 INFO。
func (a *Agent) storeFailure(ctx context.Context, err error) Reply {
	code := xerrors.CodeOf(err)
	level := slog.LevelWarn
	if xerrors.UserFacing(err) {
		level = slog.LevelInfo
	}
	a.logger.Log(ctx, level, "获取会话失败",
		slog.Any("error", err),
		slog.String("error_code", string(code)),
		slog.String("severity", string(xerrors.SeverityOf(err))),
	)
	switch code {
	case xerrors.CodeTimeout:
		return failure(code, "⏳ I'm still working on your previous message. Please try again in a moment.")
	case xerrors.CodeInvalidArgument:
		return failure(code, "❌ I couldn't tell who sent this message.")
	default:
		return failure(code, "❌ Sorry, I encountered an error. Please try again or type 'help' for assistance.")
	}
}
