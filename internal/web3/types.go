package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainSnapshot represents summarized network metadata for UI/reporting.
type ChainSnapshot struct {
	ChainID     uint64 `json:"chainId"`
	BlockNumber uint64 `json:"blockNumber"`
	Notes       string `json:"notes,omitempty"`
}

// Client defines the common interface that any chain implementation must
// provide so the execution layer can confirm transactions and read
// allowances on different networks uniformly.
type Client interface {
	ChainID() uint64
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Close()
}
