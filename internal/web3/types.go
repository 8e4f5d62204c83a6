package web3

import (
	"context"

	"NeoLink-Agent/internal/capability"
)

// ChainSnapshot represents summarized network metadata for health reporting.
type ChainSnapshot struct {
	Name        string `json:"name"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// Client defines the read-only operations a chain adapter provides. Gas and
// balance lookups never fail with an error; failures are reported through
// capability.Result.
type Client interface {
	capability.GasProvider
	capability.BalanceProvider
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	NativeSymbol() string
	Close()
}
