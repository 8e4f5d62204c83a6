package journal

import (
	"context"
	"log/slog"
	"time"

	xerrors "NeoLink-Agent/internal/errors"
	"NeoLink-Agent/internal/observability/alerting"
	"NeoLink-Agent/pkg/logger"
)

// Recorder 从队列消费会话记录并写入仓储。
type Recorder struct {
	consumer    Consumer
	repo        Repository
	workerCount int
	logger      *slog.Logger
	alerts      alerting.Dispatcher
}

// RecorderOption 定义可选配置。
type RecorderOption func(*Recorder)

// WithRecorderLogger 指定日志输出。
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = l
	}
}

// WithAlerts 在落库失败时发送告警。
func WithAlerts(d alerting.Dispatcher) RecorderOption {
	return func(r *Recorder) {
		r.alerts = d
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) RecorderOption {
	return func(r *Recorder) {
		if workers > 0 {
			r.workerCount = workers
		}
	}
}

// NewRecorder 构造 Recorder。
func NewRecorder(consumer Consumer, repo Repository, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		consumer:    consumer,
		repo:        repo,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.logger == nil {
		r.logger = logger.Named("journal")
	}
	return r
}

// Start 启动消费循环，直到 ctx 取消。
func (r *Recorder) Start(ctx context.Context) error {
	if r.consumer == nil || r.repo == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "会话记录器未初始化")
	}
	return r.consumer.Consume(ctx, r.workerCount, r.handle)
}

func (r *Recorder) handle(ctx context.Context, turn Turn) error {
	if err := r.repo.Save(ctx, turn); err != nil {
		wrapped := xerrors.Wrap(CodeJournalPersist, err, "保存会话记录失败")
		r.logger.Error("保存会话记录失败",
			slog.Any("error", wrapped),
			slog.String("turn_id", turn.ID),
			slog.String("user", turn.UserID),
		)
		if r.alerts != nil {
			event := alerting.FromError(wrapped, time.Now())
			event.UserID, event.TurnID = turn.UserID, turn.ID
			if err := r.alerts.Notify(ctx, event); err != nil {
				r.logger.Warn("发送告警失败", slog.Any("error", err))
			}
		}
		return wrapped
	}
	logger.Audit().Info("会话记录已保存",
		slog.String("turn_id", turn.ID),
		slog.String("user", turn.UserID),
		slog.String("intent", turn.Intent),
		slog.String("error_code", turn.ErrorCode),
	)
	return nil
}
