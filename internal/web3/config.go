package web3

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Default string                     `yaml:"default"`
	Chains  map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition.
type ChainDefinition struct {
	Type         string                     `yaml:"type"`
	RPCURL       string                     `yaml:"rpc_url"`
	NativeSymbol string                     `yaml:"native_symbol"`
	Description  string                     `yaml:"description"`
	Tokens       map[string]TokenDefinition `yaml:"tokens"`
}

// TokenDefinition points at an ERC-20 contract. A zero Decimals value means
// the contract is asked for its decimals on first use.
type TokenDefinition struct {
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
}

// MainnetTokens lists the stablecoins supported on Ethereum mainnet.
func MainnetTokens() map[string]TokenDefinition {
	return map[string]TokenDefinition{
		"USDC": {Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
		"USDT": {Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
		"DAI":  {Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Decimals: 18},
	}
}

// LoadChainDefinitions parses the YAML file containing chain metadata. An
// empty path yields an empty set.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	for name, chain := range defs.Chains {
		normalized, err := chain.normalize()
		if err != nil {
			return ChainDefinitions{}, fmt.Errorf("链 %s 配置无效: %w", name, err)
		}
		defs.Chains[name] = normalized
	}
	return defs, nil
}

func (c ChainDefinition) normalize() (ChainDefinition, error) {
	c.NativeSymbol = strings.ToUpper(strings.TrimSpace(c.NativeSymbol))
	if c.NativeSymbol == "" {
		c.NativeSymbol = "ETH"
	}
	tokens := make(map[string]TokenDefinition, len(c.Tokens))
	for symbol, token := range c.Tokens {
		if !common.IsHexAddress(token.Address) {
			return ChainDefinition{}, fmt.Errorf("代币 %s 的合约地址 %q 无效", symbol, token.Address)
		}
		tokens[strings.ToUpper(strings.TrimSpace(symbol))] = token
	}
	c.Tokens = tokens
	return c, nil
}
