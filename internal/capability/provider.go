package capability

import (
	"context"
	"fmt"
	"time"
)

// DefaultTimeout 是数据源调用的默认超时时间。
const DefaultTimeout = 8 * time.Second

// PriceProvider 查询资产价格。
type PriceProvider interface {
	Price(ctx context.Context, symbol string) Result
}

// GasProvider 查询当前网络费用。
type GasProvider interface {
	Gas(ctx context.Context) Result
}

// BalanceProvider 查询地址上的资产余额。
type BalanceProvider interface {
	Balance(ctx context.Context, address, symbol string) Result
}

// PriceFunc 允许普通函数作为 PriceProvider 使用。
type PriceFunc func(ctx context.Context, symbol string) Result

func (f PriceFunc) Price(ctx context.Context, symbol string) Result { return f(ctx, symbol) }

// GasFunc 允许普通函数作为 GasProvider 使用。
type GasFunc func(ctx context.Context) Result

func (f GasFunc) Gas(ctx context.Context) Result { return f(ctx) }

// BalanceFunc 允许普通函数作为 BalanceProvider 使用。
type BalanceFunc func(ctx context.Context, address, symbol string) Result

func (f BalanceFunc) Balance(ctx context.Context, address, symbol string) Result {
	return f(ctx, address, symbol)
}

// Call 在限定时间内执行 fn。
//
// 超时返回 Failed(timeout)，fn 发生 panic 返回 Failed(unavailable)。
// fn 在独立的 goroutine 中运行，即使它忽略 ctx，调用方也会按时返回。
func Call(ctx context.Context, timeout time.Duration, fn func(context.Context) Result) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Failed(ReasonUnavailable, fmt.Errorf("数据源发生 panic: %v", r))
			}
		}()
		done <- fn(callCtx)
	}()

	select {
	case res := <-done:
		return res
	case <-callCtx.Done():
		return Failed(ReasonTimeout, callCtx.Err())
	}
}

// Providers 汇总调度器使用的全部数据源。
type Providers struct {
	Price   PriceProvider
	Gas     GasProvider
	Balance BalanceProvider
	Timeout time.Duration
	// Observe 在每次调用完成后收到结果，可用于记录指标。
	Observe func(capability string, res Result)
}

// FetchPrice 查询价格，未配置数据源时返回 Failed(unavailable)。
func (p Providers) FetchPrice(ctx context.Context, symbol string) Result {
	if p.Price == nil {
		return p.observe("price", Failed(ReasonUnavailable, fmt.Errorf("未配置价格数据源")))
	}
	return p.observe("price", Call(ctx, p.Timeout, func(ctx context.Context) Result {
		return p.Price.Price(ctx, symbol)
	}))
}

// FetchGas 查询网络费用。
func (p Providers) FetchGas(ctx context.Context) Result {
	if p.Gas == nil {
		return p.observe("gas", Failed(ReasonUnavailable, fmt.Errorf("未配置 Gas 数据源")))
	}
	return p.observe("gas", Call(ctx, p.Timeout, p.Gas.Gas))
}

// FetchBalance 查询余额。
func (p Providers) FetchBalance(ctx context.Context, address, symbol string) Result {
	if p.Balance == nil {
		return p.observe("balance", Failed(ReasonUnavailable, fmt.Errorf("未配置余额数据源")))
	}
	return p.observe("balance", Call(ctx, p.Timeout, func(ctx context.Context) Result {
		return p.Balance.Balance(ctx, address, symbol)
	}))
}

func (p Providers) observe(capability string, res Result) Result {
	if p.Observe != nil {
		p.Observe(capability, res)
	}
	return res
}
