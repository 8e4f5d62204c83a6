package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config 描述 Redis 连接参数。URL 优先于 Address。
type Config struct {
	URL         string
	Address     string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// Enabled 判断是否配置了 Redis。
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.URL) != "" || strings.TrimSpace(c.Address) != ""
}

// Dial 创建 Redis 客户端并确认连接可用。
func Dial(ctx context.Context, cfg Config) (*goredis.Client, error) {
	var opts *goredis.Options
	switch {
	case strings.TrimSpace(cfg.URL) != "":
		parsed, err := goredis.ParseURL(strings.TrimSpace(cfg.URL))
		if err != nil {
			return nil, fmt.Errorf("解析 Redis URL 失败: %w", err)
		}
		opts = parsed
	case strings.TrimSpace(cfg.Address) != "":
		opts = &goredis.Options{
			Addr:     strings.TrimSpace(cfg.Address),
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	default:
		return nil, errors.New("Redis 地址不能为空")
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}

	client := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return client, nil
}
