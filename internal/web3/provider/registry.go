package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"NeoLink-Agent/internal/web3"
	"NeoLink-Agent/internal/web3/ethereum"
)

// Config selects the chain definitions file and the fallback RPC endpoint
// used when no definitions are present.
type Config struct {
	ChainConfig  string
	DefaultChain string
	RPCURL       string
	NativeSymbol string
}

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]web3.Client
}

// dialFunc builds a client for a single chain definition.
type dialFunc func(ctx context.Context, name string, def web3.ChainDefinition) (web3.Client, error)

func dialEVM(ctx context.Context, name string, def web3.ChainDefinition) (web3.Client, error) {
	return ethereum.NewClient(ctx, ethereum.Config{
		Name:         name,
		RPCURL:       def.RPCURL,
		NativeSymbol: def.NativeSymbol,
		Notes:        def.Description,
		Tokens:       def.Tokens,
	})
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg Config) (*Registry, error) {
	return newRegistry(ctx, cfg, dialEVM)
}

func newRegistry(ctx context.Context, cfg Config, dial dialFunc) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	if len(defs.Chains) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		native := strings.ToUpper(strings.TrimSpace(cfg.NativeSymbol))
		if native == "" {
			native = "ETH"
		}
		defs.Chains["default"] = web3.ChainDefinition{
			Type:         "evm",
			RPCURL:       cfg.RPCURL,
			NativeSymbol: native,
			Description:  "configured through RPC URL",
			Tokens:       web3.MainnetTokens(),
		}
		if defs.Default == "" {
			defs.Default = "default"
		}
	}
	if len(defs.Chains) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	registry := &Registry{clients: make(map[string]web3.Client, len(defs.Chains))}
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		if chainType != "evm" {
			registry.Close()
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
		client, err := dial(ctx, name, chain)
		if err != nil {
			registry.Close()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		registry.clients[name] = client
	}

	defaultChain := strings.TrimSpace(cfg.DefaultChain)
	if defaultChain == "" {
		defaultChain = defs.Default
	}
	if defaultChain == "" {
		defaultChain = registry.Chains()[0]
	}
	if _, ok := registry.clients[defaultChain]; !ok {
		registry.Close()
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}
	registry.defaultChain = defaultChain
	return registry, nil
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (web3.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return client, nil
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Snapshots collects metadata from every chain; unreachable chains are
// reported through the returned error map.
func (r *Registry) Snapshots(ctx context.Context) ([]web3.ChainSnapshot, map[string]error) {
	var (
		snapshots []web3.ChainSnapshot
		failures  map[string]error
	)
	for _, name := range r.Chains() {
		snap, err := r.clients[name].FetchChainSnapshot(ctx)
		if err != nil {
			if failures == nil {
				failures = make(map[string]error)
			}
			failures[name] = err
			continue
		}
		if snap.Name == "" {
			snap.Name = name
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, failures
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
