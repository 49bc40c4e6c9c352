package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/grassrootseconomics/ethutils"
)

// Chain is the read-only view of the chain RPC endpoint used by the scan
// loop. Every call carries a context and a transport-level timeout; a slow
// node surfaces as an error, never a hang.
type Chain interface {
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
	GetBlock(ctx context.Context, blockNumber uint64) (*types.Block, error)
	GetReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID() *big.Int
	Provider() *ethutils.Provider
}
