package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	xerrors "NeoLink-Agent/internal/errors"
	"NeoLink-Agent/pkg/logger"
)

const (
	// DefaultPublishTimeout 是单次投递的最长等待时间。
	DefaultPublishTimeout = 2 * time.Second
	// DefaultBacklog 是等待投递的记录上限，超出后新记录被丢弃。
	DefaultBacklog = 256
)

// Journal 以尽力而为的方式投递会话记录，投递失败只记录日志，不影响回复。
//
// Record 只把记录放入缓冲区，由单个后台协程按顺序投递，
// 生产者变慢时回复不会被拖住。
type Journal struct {
	producer Producer
	timeout  time.Duration
	backlog  int
	logger   *slog.Logger

	mu       sync.Mutex
	closed   bool
	pending  chan Turn
	inFlight sync.WaitGroup
	done     chan struct{}
}

// Option 定义 Journal 的可选配置。
type Option func(*Journal)

// WithPublishTimeout 设置投递超时。
func WithPublishTimeout(d time.Duration) Option {
	return func(j *Journal) {
		if d > 0 {
			j.timeout = d
		}
	}
}

// WithBacklog 设置缓冲区大小。
func WithBacklog(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.backlog = n
		}
	}
}

// New 创建 Journal。producer 为空时 Record 不做任何事情。
func New(producer Producer, opts ...Option) *Journal {
	j := &Journal{
		producer: producer,
		timeout:  DefaultPublishTimeout,
		backlog:  DefaultBacklog,
		logger:   logger.Named("journal"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(j)
		}
	}
	if producer != nil {
		j.pending = make(chan Turn, j.backlog)
		j.done = make(chan struct{})
		go j.run()
	}
	return j
}

// Record 把一条记录交给后台投递，立即返回。调用方的 ctx 取消不会中断投递。
func (j *Journal) Record(_ context.Context, turn Turn) {
	if j == nil || j.producer == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	j.inFlight.Add(1)
	select {
	case j.pending <- turn:
	default:
		j.inFlight.Done()
		j.logger.Warn("会话记录积压，丢弃本条",
			slog.String("turn_id", turn.ID),
			slog.String("user", turn.UserID),
			slog.Int("backlog", j.backlog),
		)
	}
}

// Flush 等待已接收的记录全部投递完成或失败。
func (j *Journal) Flush() {
	if j == nil || j.producer == nil {
		return
	}
	j.inFlight.Wait()
}

func (j *Journal) run() {
	defer close(j.done)
	for turn := range j.pending {
		j.publish(turn)
		j.inFlight.Done()
	}
}

func (j *Journal) publish(turn Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if err := j.producer.Publish(ctx, turn); err != nil {
		j.logger.Warn("投递会话记录失败",
			slog.Any("error", xerrors.Wrap(CodeJournalPublish, err, "投递会话记录失败")),
			slog.String("turn_id", turn.ID),
			slog.String("user", turn.UserID),
		)
	}
}

// Close 投递完缓冲区中的记录后关闭底层生产者，之后的 Record 被忽略。
func (j *Journal) Close() error {
	if j == nil || j.producer == nil {
		return nil
	}
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.pending)
	}
	j.mu.Unlock()
	<-j.done
	return j.producer.Close()
}
