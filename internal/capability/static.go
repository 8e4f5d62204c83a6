package capability

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Static 是基于内存数据的确定性数据源，用于测试和离线模式。
type Static struct {
	Prices   map[string]float64
	Changes  map[string]float64
	GasTiers *Tiers
	// Balances 以小写地址为键，值为资产代码到数量的映射。
	Balances map[string]map[string]float64
	Now      func() time.Time

	calls atomic.Int64
}

// NewStatic 返回带有演示数据的数据源。
func NewStatic() *Static {
	return &Static{
		Prices: map[string]float64{
			"ETH":  3200,
			"BTC":  67000,
			"USDC": 1,
			"USDT": 1,
			"DAI":  1,
		},
		Changes:  map[string]float64{"ETH": 1.8, "BTC": -0.6},
		GasTiers: &Tiers{Low: 12, Medium: 15, High: 24},
		Balances: map[string]map[string]float64{},
	}
}

// Calls 返回累计调用次数。
func (s *Static) Calls() int64 {
	return s.calls.Load()
}

func (s *Static) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Static) Price(_ context.Context, symbol string) Result {
	s.calls.Add(1)
	symbol = strings.ToUpper(symbol)
	price, ok := s.Prices[symbol]
	if !ok {
		return Failed(ReasonNotFound, fmt.Errorf("未知资产 %s", symbol))
	}
	res := Ok(price, "USD", s.now()).WithSource("static")
	if change, ok := s.Changes[symbol]; ok {
		res = res.WithChange24h(change)
	}
	return res
}

func (s *Static) Gas(context.Context) Result {
	s.calls.Add(1)
	if s.GasTiers == nil {
		return Failed(ReasonUnavailable, fmt.Errorf("未配置 Gas 数据"))
	}
	return Ok(s.GasTiers.Medium, "gwei", s.now()).WithTiers(*s.GasTiers).WithSource("static")
}

func (s *Static) Balance(_ context.Context, address, symbol string) Result {
	s.calls.Add(1)
	holdings := s.Balances[strings.ToLower(address)]
	return Ok(holdings[strings.ToUpper(symbol)], strings.ToUpper(symbol), s.now()).WithSource("static")
}

var (
	_ PriceProvider   = (*Static)(nil)
	_ GasProvider     = (*Static)(nil)
	_ BalanceProvider = (*Static)(nil)
)
