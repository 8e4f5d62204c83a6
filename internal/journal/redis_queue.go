package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"NeoLink-Agent/pkg/logger"
)

// RedisQueueConfig 描述 Redis 队列的参数。
type RedisQueueConfig struct {
	Queue     string
	BlockWait time.Duration
}

// listBackend 是队列使用到的 Redis list 命令。
type listBackend interface {
	LPush(ctx context.Context, key string, values ...any) *goredis.IntCmd
	RPush(ctx context.Context, key string, values ...any) *goredis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *goredis.StringSliceCmd
}

// RedisQueue 使用 Redis list 实现会话记录队列。
type RedisQueue struct {
	client listBackend
	queue  string
	wait   time.Duration
}

// NewRedisQueue 基于已建立的 Redis 连接创建队列，连接的生命周期由调用方管理。
func NewRedisQueue(client *goredis.Client, cfg RedisQueueConfig) (*RedisQueue, error) {
	if client == nil {
		return nil, errors.New("Redis 客户端不能为空")
	}
	return newRedisQueue(client, cfg), nil
}

func newRedisQueue(client listBackend, cfg RedisQueueConfig) *RedisQueue {
	queue := cfg.Queue
	if queue == "" {
		queue = "neolink:turns"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, queue: queue, wait: wait}
}

// Publish 将记录投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, turn Turn) error {
	body, err := turn.Encode()
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.queue, body).Err(); err != nil {
		return fmt.Errorf("Redis 投递会话记录失败: %w", err)
	}
	return nil
}

// Consume 通过 BRPOP 从 Redis 获取记录。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				default:
				}
				values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, goredis.ErrClosed) {
						errCh <- err
						return
					}
					if errors.Is(err, goredis.Nil) {
						continue
					}
					errCh <- fmt.Errorf("Redis 读取会话记录失败: %w", err)
					return
				}
				if len(values) != 2 {
					continue
				}
				turn, err := DecodeTurn([]byte(values[1]))
				if err != nil {
					// 无法解析的消息直接丢弃，避免阻塞队列。
					logger.Named("journal").Warn("丢弃无效的会话记录", slog.Any("error", err))
					continue
				}
				if handlerErr := handler(ctx, turn); handlerErr != nil {
					_ = q.client.RPush(ctx, q.queue, values[1]).Err()
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Close 队列不持有连接，由创建连接的一方关闭。
func (q *RedisQueue) Close() error {
	return nil
}

var _ Queue = (*RedisQueue)(nil)
