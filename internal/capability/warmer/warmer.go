// Package warmer 定期预取热门资产价格，使价格缓存在用户提问前保持新鲜。
package warmer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"NeoLink-Agent/internal/capability"
	"NeoLink-Agent/pkg/logger"
)

// DefaultSchedule 每分钟预热一次。
const DefaultSchedule = "@every 1m"

// Warmer 按 cron 表达式调用价格数据源。
type Warmer struct {
	provider capability.PriceProvider
	symbols  []string
	spec     string
	timeout  time.Duration
	logger   *slog.Logger
	runs     atomic.Int64
}

// Option 定义 Warmer 的可选配置。
type Option func(*Warmer)

// WithTimeout 设置单个资产的查询超时。
func WithTimeout(d time.Duration) Option {
	return func(w *Warmer) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithLogger 替换默认日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(w *Warmer) {
		if l != nil {
			w.logger = l
		}
	}
}

// New 校验调度表达式并创建预热器。
func New(provider capability.PriceProvider, symbols []string, spec string, opts ...Option) (*Warmer, error) {
	if provider == nil {
		return nil, fmt.Errorf("价格数据源不能为空")
	}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = DefaultSchedule
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("无效的预热调度 %q: %w", spec, err)
	}
	w := &Warmer{
		provider: provider,
		spec:     spec,
		timeout:  capability.DefaultTimeout,
		logger:   logger.Named("price_warmer"),
	}
	seen := make(map[string]struct{}, len(symbols))
	for _, symbol := range symbols {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" {
			continue
		}
		if _, dup := seen[symbol]; dup {
			continue
		}
		seen[symbol] = struct{}{}
		w.symbols = append(w.symbols, symbol)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// Symbols 返回需要预热的资产代码。
func (w *Warmer) Symbols() []string {
	return append([]string(nil), w.symbols...)
}

// Runs 返回已完成的预热轮数。
func (w *Warmer) Runs() int64 {
	return w.runs.Load()
}

// WarmOnce 依次查询全部资产，返回成功的数量。
func (w *Warmer) WarmOnce(ctx context.Context) int {
	ok := 0
	for _, symbol := range w.symbols {
		symbol := symbol
		res := capability.Call(ctx, w.timeout, func(ctx context.Context) capability.Result {
			return w.provider.Price(ctx, symbol)
		})
		if res.OK() {
			ok++
			continue
		}
		w.logger.Warn("价格预热失败", "symbol", symbol, "reason", res.Reason, "error", res.Err)
	}
	w.runs.Add(1)
	w.logger.Debug("价格预热完成", "symbols", len(w.symbols), "ok", ok)
	return ok
}

// Start 立即预热一次，然后按调度运行直到 ctx 结束。
func (w *Warmer) Start(ctx context.Context) error {
	if len(w.symbols) == 0 {
		<-ctx.Done()
		return nil
	}
	scheduler := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := scheduler.AddFunc(w.spec, func() { w.WarmOnce(ctx) }); err != nil {
		return fmt.Errorf("注册预热任务失败: %w", err)
	}

	w.WarmOnce(ctx)
	scheduler.Start()
	w.logger.Info("价格预热已启动", "schedule", w.spec, "symbols", w.symbols)

	<-ctx.Done()
	<-scheduler.Stop().Done()
	return nil
}
