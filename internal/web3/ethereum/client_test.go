package ethereum

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/simulated"

	"NeoLink-Agent/internal/capability"
	"NeoLink-Agent/internal/web3"
)

var (
	holder   = common.HexToAddress("0x742d35Cc6634C0532925a3b8D4C9db96C4b4d8e8")
	oneEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

func newSimulatedClient(t *testing.T) (*Client, *simulated.Backend) {
	t.Helper()
	backend := simulated.NewBackend(coretypes.GenesisAlloc{
		holder: {Balance: new(big.Int).Mul(big.NewInt(3), oneEther)},
	})
	t.Cleanup(func() { _ = backend.Close() })
	client := NewClientWithBackend(Config{Name: "simulated", Notes: "simulated backend"}, backend.Client())
	t.Cleanup(client.Close)
	return client, backend
}

func TestNativeBalanceOnSimulatedChain(t *testing.T) {
	t.Parallel()
	client, _ := newSimulatedClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res := client.Balance(ctx, holder.Hex(), "eth")
	if !res.OK() {
		t.Fatalf("balance failed: %+v", res)
	}
	if res.Value != 3 || res.Unit != "ETH" || res.Source != "ethereum:simulated" {
		t.Fatalf("unexpected balance %+v", res)
	}

	empty := client.Balance(ctx, "0x0000000000000000000000000000000000000bad", "")
	if !empty.OK() || empty.Value != 0 {
		t.Fatalf("unexpected empty balance %+v", empty)
	}
}

func TestGasTiersOnSimulatedChain(t *testing.T) {
	t.Parallel()
	client, backend := newSimulatedClient(t)
	backend.Commit()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res := client.Gas(ctx)
	if !res.OK() {
		t.Fatalf("gas failed: %+v", res)
	}
	if res.Unit != "gwei" || res.Tiers == nil {
		t.Fatalf("expected tiers in gwei, got %+v", res)
	}
	if !(res.Tiers.Low <= res.Tiers.Medium && res.Tiers.Medium <= res.Tiers.High) || res.Tiers.High <= 0 {
		t.Fatalf("tiers out of order: %+v", *res.Tiers)
	}
	if res.Value != res.Tiers.Medium {
		t.Fatalf("headline value should be the medium tier: %+v", res)
	}
}

func TestChainSnapshot(t *testing.T) {
	t.Parallel()
	client, backend := newSimulatedClient(t)
	backend.Commit()

	snap, err := client.FetchChainSnapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.ChainID != "1337" || snap.BlockNumber != "1" || snap.Name != "simulated" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

// stubBackend answers ERC-20 calls without a chain.
type stubBackend struct {
	balances map[common.Address]*big.Int
	decimals uint8
	callErr  error
	garbage  bool
	calls    int
	baseFee  *big.Int
	tip      *big.Int
	gasPrice *big.Int
	tipErr   error
	priceErr error
}

func (s *stubBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (s *stubBackend) BlockNumber(context.Context) (uint64, error) { return 19_000_000, nil }
func (s *stubBackend) HeaderByNumber(context.Context, *big.Int) (*coretypes.Header, error) {
	return &coretypes.Header{BaseFee: s.baseFee}, nil
}
func (s *stubBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return s.gasPrice, s.priceErr }
func (s *stubBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return s.tip, s.tipErr }
func (s *stubBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (s *stubBackend) CallContract(_ context.Context, msg gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	s.calls++
	if s.callErr != nil {
		return nil, s.callErr
	}
	if s.garbage {
		return []byte{0x01, 0x02}, nil
	}
	method, err := parsedERC20.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "balanceOf":
		args, err := method.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		amount := s.balances[args[0].(common.Address)]
		if amount == nil {
			amount = big.NewInt(0)
		}
		return method.Outputs.Pack(amount)
	case "decimals":
		return method.Outputs.Pack(s.decimals)
	}
	return nil, errors.New("unexpected method")
}

func tokenClient(stub *stubBackend, decimals uint8) *Client {
	return NewClientWithBackend(Config{
		Name: "mainnet",
		Tokens: map[string]web3.TokenDefinition{
			"usdc": {Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: decimals},
		},
	}, stub)
}

func TestERC20BalanceWithConfiguredDecimals(t *testing.T) {
	stub := &stubBackend{balances: map[common.Address]*big.Int{holder: big.NewInt(12_500_000)}}
	res := tokenClient(stub, 6).Balance(context.Background(), holder.Hex(), "USDC")
	if !res.OK() || res.Value != 12.5 || res.Unit != "USDC" {
		t.Fatalf("unexpected balance %+v", res)
	}
	if stub.calls != 1 {
		t.Fatalf("configured decimals should skip the decimals call, got %d calls", stub.calls)
	}
}

func TestERC20BalanceQueriesDecimalsOnce(t *testing.T) {
	stub := &stubBackend{decimals: 6, balances: map[common.Address]*big.Int{holder: big.NewInt(1_000_000)}}
	client := tokenClient(stub, 0)

	for i := 0; i < 2; i++ {
		res := client.Balance(context.Background(), holder.Hex(), "usdc")
		if !res.OK() || res.Value != 1 {
			t.Fatalf("unexpected balance %+v", res)
		}
	}
	if stub.calls != 3 {
		t.Fatalf("expected two balanceOf calls and one decimals call, got %d", stub.calls)
	}
}

func TestERC20Failures(t *testing.T) {
	if res := tokenClient(&stubBackend{garbage: true}, 6).Balance(context.Background(), holder.Hex(), "USDC"); res.Reason != capability.ReasonMalformed {
		t.Fatalf("expected malformed, got %+v", res)
	}
	if res := tokenClient(&stubBackend{callErr: context.DeadlineExceeded}, 6).Balance(context.Background(), holder.Hex(), "USDC"); res.Reason != capability.ReasonTimeout {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if res := tokenClient(&stubBackend{}, 6).Balance(context.Background(), holder.Hex(), "SHIB"); res.Reason != capability.ReasonNotFound {
		t.Fatalf("expected not found, got %+v", res)
	}
	if res := tokenClient(&stubBackend{}, 6).Balance(context.Background(), "0x1234", "ETH"); res.Reason != capability.ReasonMalformed {
		t.Fatalf("expected malformed address, got %+v", res)
	}
}

func TestGasTierFormula(t *testing.T) {
	gwei := big.NewInt(1_000_000_000)
	stub := &stubBackend{
		baseFee: new(big.Int).Mul(big.NewInt(20), gwei),
		tip:     new(big.Int).Mul(big.NewInt(2), gwei),
	}
	res := NewClientWithBackend(Config{}, stub).Gas(context.Background())
	if !res.OK() || res.Tiers == nil {
		t.Fatalf("unexpected gas %+v", res)
	}
	want := capability.Tiers{Low: 21, Medium: 22, High: 42}
	if *res.Tiers != want {
		t.Fatalf("tiers = %+v, want %+v", *res.Tiers, want)
	}
}

func TestGasFallsBackToLegacyPrice(t *testing.T) {
	stub := &stubBackend{gasPrice: big.NewInt(15_000_000_000)}
	res := NewClientWithBackend(Config{}, stub).Gas(context.Background())
	if !res.OK() || res.Tiers != nil || res.Value != 15 {
		t.Fatalf("expected single legacy estimate, got %+v", res)
	}

	stub = &stubBackend{priceErr: errors.New("node down")}
	if res := NewClientWithBackend(Config{}, stub).Gas(context.Background()); res.OK() || res.Reason != capability.ReasonUnavailable {
		t.Fatalf("expected unavailable, got %+v", res)
	}
}

func TestClosedClientFails(t *testing.T) {
	client := NewClientWithBackend(Config{}, &stubBackend{})
	client.Close()
	if res := client.Gas(context.Background()); res.Reason != capability.ReasonUnavailable {
		t.Fatalf("expected unavailable after close, got %+v", res)
	}
	if _, err := client.FetchChainSnapshot(context.Background()); err == nil {
		t.Fatal("expected error after close")
	}
}

func TestNewClientRequiresRPC(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{}); err == nil {
		t.Fatal("expected error without rpc url")
	}
}
