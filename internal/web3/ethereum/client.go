package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"NeoLink-Agent/internal/capability"
	"NeoLink-Agent/internal/web3"
)

const erc20ABI = `[
 {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
 {"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

var (
	parsedERC20 abi.ABI
	weiPerGwei  = big.NewFloat(1e9)
)

func init() {
	var err error
	parsedERC20, err = abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(fmt.Sprintf("parse erc20 abi: %v", err))
	}
}

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name         string
	RPCURL       string
	NativeSymbol string
	Notes        string
	Tokens       map[string]web3.TokenDefinition
}

// chainBackend is the subset of go-ethereum client methods the adapter
// needs. Both *ethclient.Client and the simulated backend satisfy it.
type chainBackend interface {
	gethcore.ChainIDReader
	gethcore.BlockNumberReader
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	gethcore.GasPricer
	gethcore.GasPricer1559
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	gethcore.ContractCaller
}

// Client implements web3.Client for EVM compatible chains.
type Client struct {
	name   string
	notes  string
	native string
	tokens map[string]web3.TokenDefinition

	mu      sync.Mutex
	backend chainBackend
	owned   *ethclient.Client

	decimals sync.Map // symbol -> uint8
	now      func() time.Time
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	c := NewClientWithBackend(cfg, eth)
	c.owned = eth
	return c, nil
}

// NewClientWithBackend wraps an existing backend such as a simulated chain.
// The caller keeps ownership of the backend.
func NewClientWithBackend(cfg Config, backend chainBackend) *Client {
	native := strings.ToUpper(strings.TrimSpace(cfg.NativeSymbol))
	if native == "" {
		native = "ETH"
	}
	tokens := make(map[string]web3.TokenDefinition, len(cfg.Tokens))
	for symbol, token := range cfg.Tokens {
		tokens[strings.ToUpper(symbol)] = token
	}
	return &Client{
		name:    cfg.Name,
		notes:   cfg.Notes,
		native:  native,
		tokens:  tokens,
		backend: backend,
		now:     time.Now,
	}
}

// NativeSymbol returns the chain's base currency symbol.
func (c *Client) NativeSymbol() string {
	return c.native
}

// Close releases the RPC connection when the client dialled it itself.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owned != nil {
		c.owned.Close()
		c.owned = nil
	}
	c.backend = nil
}

func (c *Client) chain() (chainBackend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend == nil {
		return nil, errors.New("以太坊客户端已关闭")
	}
	return c.backend, nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	backend, err := c.chain()
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	blockNumber, err := backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		Name:        c.name,
		ChainID:     chainID.String(),
		BlockNumber: fmt.Sprintf("%d", blockNumber),
		Notes:       c.notes,
	}, nil
}

// Gas reports fee tiers in gwei. On chains with a base fee the tiers are
// derived from the base fee and the suggested tip; otherwise the legacy gas
// price is returned as a single estimate.
func (c *Client) Gas(ctx context.Context) capability.Result {
	backend, err := c.chain()
	if err != nil {
		return capability.Failed(capability.ReasonUnavailable, err)
	}

	header, headerErr := backend.HeaderByNumber(ctx, nil)
	if headerErr == nil && header != nil && header.BaseFee != nil {
		tip, tipErr := backend.SuggestGasTipCap(ctx)
		if tipErr == nil {
			base := header.BaseFee
			low := new(big.Int).Add(base, new(big.Int).Rsh(tip, 1))
			medium := new(big.Int).Add(base, tip)
			high := new(big.Int).Add(new(big.Int).Lsh(base, 1), tip)
			tiers := capability.Tiers{Low: toGwei(low), Medium: toGwei(medium), High: toGwei(high)}
			return capability.Ok(tiers.Medium, "gwei", c.now()).WithTiers(tiers).WithSource(c.source())
		}
	}

	price, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return capability.Failed(capability.ReasonOf(err), fmt.Errorf("查询 Gas 价格失败: %w", err))
	}
	return capability.Ok(toGwei(price), "gwei", c.now()).WithSource(c.source())
}

// Balance returns the holding of symbol at address, in whole units.
func (c *Client) Balance(ctx context.Context, address, symbol string) capability.Result {
	if !common.IsHexAddress(address) {
		return capability.Failed(capability.ReasonMalformed, fmt.Errorf("地址格式无效: %s", address))
	}
	backend, err := c.chain()
	if err != nil {
		return capability.Failed(capability.ReasonUnavailable, err)
	}
	account := common.HexToAddress(address)
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		symbol = c.native
	}

	if symbol == c.native {
		wei, err := backend.BalanceAt(ctx, account, nil)
		if err != nil {
			return capability.Failed(capability.ReasonOf(err), fmt.Errorf("查询余额失败: %w", err))
		}
		return capability.Ok(scale(wei, 18), symbol, c.now()).WithSource(c.source())
	}

	token, ok := c.tokens[symbol]
	if !ok {
		return capability.Failed(capability.ReasonNotFound, fmt.Errorf("链 %s 未配置代币 %s", c.name, symbol))
	}
	contract := common.HexToAddress(token.Address)

	out, err := c.call(ctx, backend, contract, "balanceOf", account)
	if err != nil {
		return capability.Failed(reasonForCall(err), err)
	}
	raw, ok := out.(*big.Int)
	if !ok {
		return capability.Failed(capability.ReasonMalformed, fmt.Errorf("%w: balanceOf 返回类型 %T", errMalformedCall, out))
	}
	decimals, err := c.tokenDecimals(ctx, backend, symbol, token)
	if err != nil {
		return capability.Failed(reasonForCall(err), err)
	}
	return capability.Ok(scale(raw, decimals), symbol, c.now()).WithSource(c.source())
}

func (c *Client) tokenDecimals(ctx context.Context, backend chainBackend, symbol string, token web3.TokenDefinition) (uint8, error) {
	if token.Decimals > 0 {
		return token.Decimals, nil
	}
	if cached, ok := c.decimals.Load(symbol); ok {
		return cached.(uint8), nil
	}
	out, err := c.call(ctx, backend, common.HexToAddress(token.Address), "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := out.(uint8)
	if !ok {
		return 0, fmt.Errorf("%w: decimals 返回类型 %T", errMalformedCall, out)
	}
	c.decimals.Store(symbol, decimals)
	return decimals, nil
}

var errMalformedCall = errors.New("合约返回数据无法解析")

func (c *Client) call(ctx context.Context, backend chainBackend, contract common.Address, method string, args ...any) (any, error) {
	input, err := parsedERC20.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("编码 %s 调用失败: %w", method, err)
	}
	output, err := backend.CallContract(ctx, gethcore.CallMsg{To: &contract, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("调用合约 %s.%s 失败: %w", contract.Hex(), method, err)
	}
	if len(output) == 0 {
		return nil, fmt.Errorf("%w: %s 返回为空", errMalformedCall, method)
	}
	values, err := parsedERC20.Unpack(method, output)
	if err != nil || len(values) != 1 {
		return nil, fmt.Errorf("%w: %s: %v", errMalformedCall, method, err)
	}
	return values[0], nil
}

func (c *Client) source() string {
	if c.name == "" {
		return "ethereum"
	}
	return "ethereum:" + c.name
}

func reasonForCall(err error) capability.Reason {
	if errors.Is(err, errMalformedCall) {
		return capability.ReasonMalformed
	}
	return capability.ReasonOf(err)
}

func toGwei(wei *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerGwei).Float64()
	return f
}

func scale(amount *big.Int, decimals uint8) float64 {
	if amount == nil {
		return 0
	}
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(amount), divisor).Float64()
	return f
}

var _ web3.Client = (*Client)(nil)
