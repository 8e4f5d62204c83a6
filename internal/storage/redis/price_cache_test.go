package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"NeoLink-Agent/internal/capability"
)

type fakeBackend struct {
	mu      sync.Mutex
	data    map[string][]byte
	ttl     map[string]time.Duration
	failGet bool
	failSet bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: map[string][]byte{}, ttl: map[string]time.Duration{}}
}

func (f *fakeBackend) Get(_ context.Context, key string) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet {
		return goredis.NewStringResult("", errors.New("connection reset"))
	}
	v, ok := f.data[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(string(v), nil)
}

func (f *fakeBackend) Set(_ context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet {
		return goredis.NewStatusResult("", errors.New("read only replica"))
	}
	f.data[key] = value.([]byte)
	f.ttl[key] = expiration
	return goredis.NewStatusResult("OK", nil)
}

func countingProvider(calls *int, res capability.Result) capability.PriceProvider {
	return capability.PriceFunc(func(context.Context, string) capability.Result {
		*calls++
		return res
	})
}

func TestPriceCacheReadThrough(t *testing.T) {
	backend := newFakeBackend()
	calls := 0
	upstream := capability.Ok(67000, "USD", time.Unix(1714557600, 0)).WithChange24h(1.5).WithSource("coingecko")
	cache := newPriceCache(countingProvider(&calls, upstream), backend, WithTTL(time.Minute), WithKeyPrefix("test:"))

	first := cache.Price(context.Background(), "btc")
	second := cache.Price(context.Background(), "BTC")
	if calls != 1 {
		t.Fatalf("expected one upstream call, got %d", calls)
	}
	if !second.OK() || second.Value != 67000 || second.Unit != "USD" || second.Source != "coingecko" {
		t.Fatalf("unexpected cached result %+v", second)
	}
	if second.Change24h == nil || *second.Change24h != 1.5 {
		t.Fatalf("change not cached: %+v", second)
	}
	if !first.SourceTime.Equal(second.SourceTime) {
		t.Fatalf("source time mismatch %s vs %s", first.SourceTime, second.SourceTime)
	}
	if backend.ttl["test:BTC"] != time.Minute {
		t.Fatalf("unexpected ttl %v", backend.ttl)
	}
}

func TestPriceCacheSkipsFailures(t *testing.T) {
	backend := newFakeBackend()
	calls := 0
	cache := newPriceCache(countingProvider(&calls, capability.Failed(capability.ReasonRateLimited, nil)), backend)

	cache.Price(context.Background(), "ETH")
	res := cache.Price(context.Background(), "ETH")
	if calls != 2 || res.Reason != capability.ReasonRateLimited {
		t.Fatalf("failures must not be cached: calls=%d res=%+v", calls, res)
	}
	if len(backend.data) != 0 {
		t.Fatalf("unexpected cache entries %v", backend.data)
	}
}

func TestPriceCacheBypassesBrokenRedis(t *testing.T) {
	backend := newFakeBackend()
	backend.failGet, backend.failSet = true, true
	calls := 0
	cache := newPriceCache(countingProvider(&calls, capability.Ok(1, "USD", time.Now())), backend)

	if res := cache.Price(context.Background(), "USDC"); !res.OK() {
		t.Fatalf("redis errors must not fail the lookup: %+v", res)
	}
	if calls != 1 {
		t.Fatalf("expected upstream call, got %d", calls)
	}
}

func TestPriceCacheIgnoresCorruptEntries(t *testing.T) {
	backend := newFakeBackend()
	backend.data[defaultPricePrefix+"DAI"] = []byte("{not json")
	calls := 0
	cache := newPriceCache(countingProvider(&calls, capability.Ok(1.001, "USD", time.Now())), backend)

	if res := cache.Price(context.Background(), "DAI"); !res.OK() || res.Value != 1.001 {
		t.Fatalf("unexpected result %+v", res)
	}
	if calls != 1 {
		t.Fatalf("corrupt entry should trigger upstream call")
	}
}

func TestConfigEnabled(t *testing.T) {
	if (Config{}).Enabled() {
		t.Fatal("empty config should be disabled")
	}
	if !(Config{URL: "redis://localhost:6379/0"}).Enabled() {
		t.Fatal("url config should be enabled")
	}
}

func TestDialRequiresAddress(t *testing.T) {
	if _, err := Dial(context.Background(), Config{}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Dial(context.Background(), Config{URL: "http://not-redis"}); err == nil {
		t.Fatal("expected url parse error")
	}
}
