package chain

import (
	"context"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/grassrootseconomics/ethutils"
	"github.com/lmittmann/w3"
	"github.com/lmittmann/w3/module/eth"
)

type (
	EthRPCOpts struct {
		RPCEndpoint string
		ChainID     int64
	}

	EthRPC struct {
		provider *ethutils.Provider
		chainID  *big.Int
	}
)

func NewRPCFetcher(o EthRPCOpts) (Chain, error) {
	customRPCClient, err := lowTimeoutRPCClient(o.RPCEndpoint)
	if err != nil {
		return nil, err
	}

	chainProvider := ethutils.NewProvider(
		o.RPCEndpoint,
		o.ChainID,
		ethutils.WithClient(customRPCClient),
	)

	return &EthRPC{
		provider: chainProvider,
		chainID:  big.NewInt(o.ChainID),
	}, nil
}

// lowTimeoutRPCClient caps every RPC round trip at 10s so a struggling node
// shows up as a transient error in the scan loop instead of a stall.
func lowTimeoutRPCClient(rpcEndpoint string) (*w3.Client, error) {
	httpClient := &http.Client{
		Timeout: 10 * time.Second,
	}

	rpcClient, err := rpc.DialOptions(context.Background(), rpcEndpoint, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}

	return w3.NewClient(rpcClient), nil
}

func (c *EthRPC) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	var latestBlock *big.Int
	latestBlockCall := eth.BlockNumber().Returns(&latestBlock)

	if err := c.provider.Client.CallCtx(ctx, latestBlockCall); err != nil {
		return 0, err
	}

	return latestBlock.Uint64(), nil
}

func (c *EthRPC) GetBlock(ctx context.Context, blockNumber uint64) (*types.Block, error) {
	var block *types.Block
	blockCall := eth.BlockByNumber(new(big.Int).SetUint64(blockNumber)).Returns(&block)

	if err := c.provider.Client.CallCtx(ctx, blockCall); err != nil {
		return nil, err
	}

	return block, nil
}

func (c *EthRPC) GetReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt

	if err := c.provider.Client.CallCtx(ctx, eth.TxReceipt(txHash).Returns(&receipt)); err != nil {
		return nil, err
	}

	return receipt, nil
}

func (c *EthRPC) ChainID() *big.Int {
	return c.chainID
}

func (c *EthRPC) Provider() *ethutils.Provider {
	return c.provider
}
