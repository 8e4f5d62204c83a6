package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "NeoLink-Agent/internal/errors"
)

func TestCallTimesOutSlowProvider(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	res := Call(context.Background(), 20*time.Millisecond, func(context.Context) Result {
		<-release
		return Ok(1, "USD", time.Now())
	})
	if res.OK() || res.Reason != ReasonTimeout {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("call blocked for %s", elapsed)
	}
}

func TestCallRecoversPanic(t *testing.T) {
	res := Call(context.Background(), time.Second, func(context.Context) Result {
		panic("upstream exploded")
	})
	if res.OK() || res.Reason != ReasonUnavailable || res.Err == nil {
		t.Fatalf("expected unavailable, got %+v", res)
	}
}

func TestCallPassesResultThrough(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res := Call(context.Background(), time.Second, func(ctx context.Context) Result {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("provider context must carry a deadline")
		}
		return Ok(67000, "USD", at).WithChange24h(2.5)
	})
	if !res.OK() || res.Value != 67000 || res.Unit != "USD" || !res.SourceTime.Equal(at) {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Change24h == nil || *res.Change24h != 2.5 {
		t.Fatalf("missing change: %+v", res)
	}
}

func TestFailedNeverCarriesExtras(t *testing.T) {
	res := Failed(ReasonNotFound, nil).WithChange24h(1).WithTiers(Tiers{Low: 1})
	if res.OK() || res.Change24h != nil || res.Tiers != nil {
		t.Fatalf("failed result must stay empty: %+v", res)
	}
	if Failed("", nil).Reason != ReasonUnavailable {
		t.Fatal("empty reason should default to unavailable")
	}
}

func TestReasonOf(t *testing.T) {
	cases := map[Reason]error{
		ReasonTimeout:     context.DeadlineExceeded,
		ReasonNotFound:    xerrors.New(xerrors.CodeNotFound, "missing"),
		ReasonUnavailable: errors.New("connection refused"),
	}
	for want, err := range cases {
		if got := ReasonOf(err); got != want {
			t.Fatalf("ReasonOf(%v) = %s, want %s", err, got, want)
		}
	}
}

func TestProvidersWithoutBackendsFail(t *testing.T) {
	var observed []string
	p := Providers{Observe: func(name string, res Result) {
		if res.OK() {
			t.Errorf("%s should have failed", name)
		}
		observed = append(observed, name)
	}}
	ctx := context.Background()
	p.FetchPrice(ctx, "ETH")
	p.FetchGas(ctx)
	p.FetchBalance(ctx, "0x1", "ETH")
	if len(observed) != 3 {
		t.Fatalf("expected three observations, got %v", observed)
	}
}

func TestStaticProviders(t *testing.T) {
	s := NewStatic()
	s.Balances["0xabc"] = map[string]float64{"ETH": 1.5}
	p := Providers{Price: s, Gas: s, Balance: s, Timeout: time.Second}
	ctx := context.Background()

	if res := p.FetchPrice(ctx, "btc"); !res.OK() || res.Value != 67000 {
		t.Fatalf("unexpected price %+v", res)
	}
	if res := p.FetchPrice(ctx, "DOGE"); res.OK() || res.Reason != ReasonNotFound {
		t.Fatalf("expected not found, got %+v", res)
	}
	if res := p.FetchGas(ctx); !res.OK() || res.Tiers == nil || res.Tiers.High != 24 {
		t.Fatalf("unexpected gas %+v", res)
	}
	if res := p.FetchBalance(ctx, "0xABC", "eth"); !res.OK() || res.Value != 1.5 || res.Unit != "ETH" {
		t.Fatalf("unexpected balance %+v", res)
	}
	if s.Calls() != 4 {
		t.Fatalf("expected 4 calls, got %d", s.Calls())
	}
}

func TestFuncAdapters(t *testing.T) {
	var (
		_ PriceProvider   = PriceFunc(nil)
		_ GasProvider     = GasFunc(nil)
		_ BalanceProvider = BalanceFunc(nil)
	)
	p := Providers{Gas: GasFunc(func(context.Context) Result { return Ok(30, "gwei", time.Now()) })}
	if res := p.FetchGas(context.Background()); !res.OK() || res.Value != 30 {
		t.Fatalf("unexpected gas %+v", res)
	}
}
