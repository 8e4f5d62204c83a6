package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"NeoLink-Agent/internal/capability"
	"NeoLink-Agent/pkg/logger"
)

const (
	defaultPriceTTL    = 60 * time.Second
	defaultPricePrefix = "neolink:price:"
)

// cacheBackend 是 PriceCache 使用的 Redis 命令子集，*goredis.Client 满足该接口。
type cacheBackend interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
}

type cachedPrice struct {
	Value      float64  `json:"value"`
	Unit       string   `json:"unit"`
	SourceTime int64    `json:"source_time"`
	Source     string   `json:"source,omitempty"`
	Change24h  *float64 `json:"change_24h,omitempty"`
}

// PriceCache 为任意价格数据源提供读穿缓存。
// 缓存读写失败只记录日志，不影响价格查询。
type PriceCache struct {
	next    capability.PriceProvider
	backend cacheBackend
	ttl     time.Duration
	prefix  string
	logger  *slog.Logger
}

// CacheOption 定义 PriceCache 的可选配置。
type CacheOption func(*PriceCache)

// WithTTL 设置缓存有效期。
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *PriceCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithKeyPrefix 设置缓存键前缀。
func WithKeyPrefix(prefix string) CacheOption {
	return func(c *PriceCache) {
		if strings.TrimSpace(prefix) != "" {
			c.prefix = prefix
		}
	}
}

// NewPriceCache 包装价格数据源。
func NewPriceCache(next capability.PriceProvider, client *goredis.Client, opts ...CacheOption) *PriceCache {
	return newPriceCache(next, client, opts...)
}

func newPriceCache(next capability.PriceProvider, backend cacheBackend, opts ...CacheOption) *PriceCache {
	c := &PriceCache{
		next:    next,
		backend: backend,
		ttl:     defaultPriceTTL,
		prefix:  defaultPricePrefix,
		logger:  logger.Named("price_cache"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Price 优先读取缓存，未命中时查询下游并写回成功结果。
func (c *PriceCache) Price(ctx context.Context, symbol string) capability.Result {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	key := c.prefix + symbol

	if raw, err := c.backend.Get(ctx, key).Bytes(); err == nil {
		var cached cachedPrice
		if err := json.Unmarshal(raw, &cached); err == nil {
			res := capability.Ok(cached.Value, cached.Unit, time.Unix(cached.SourceTime, 0)).
				WithSource(cached.Source)
			if cached.Change24h != nil {
				res = res.WithChange24h(*cached.Change24h)
			}
			return res
		}
		c.logger.Warn("缓存数据无法解析", "key", key)
	} else if !errors.Is(err, goredis.Nil) {
		c.logger.Warn("读取价格缓存失败", "key", key, "error", err)
	}

	res := c.next.Price(ctx, symbol)
	if !res.OK() {
		return res
	}

	payload, err := json.Marshal(cachedPrice{
		Value:      res.Value,
		Unit:       res.Unit,
		SourceTime: res.SourceTime.Unix(),
		Source:     res.Source,
		Change24h:  res.Change24h,
	})
	if err == nil {
		if err := c.backend.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.Warn("写入价格缓存失败", "key", key, "error", err)
		}
	}
	return res
}

var _ capability.PriceProvider = (*PriceCache)(nil)
