package journal

import (
	"context"
)

// Handler 处理来自消息队列的会话记录。
type Handler func(ctx context.Context, turn Turn) error

// Producer 负责向队列投递记录。
type Producer interface {
	Publish(ctx context.Context, turn Turn) error
	Close() error
}

// Consumer 负责从队列中消费记录。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// Repository 持久化会话记录。
type Repository interface {
	Save(ctx context.Context, turn Turn) error
	ListByUser(ctx context.Context, userID string, limit int) ([]Turn, error)
	Close() error
}
