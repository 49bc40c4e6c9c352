package fees

import (
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// nativeDecimals is the subunit precision of the chain's native currency
// (wei per ether).
const nativeDecimals = 18

// Metrics carries the fee economics of a single matched transaction. All
// wei-denominated values are exact big integers; Cost is an exact
// fixed-point decimal in whole native units. No floats anywhere.
type Metrics struct {
	EffectiveGasPrice *big.Int
	BaseFee           *big.Int
	PriorityFee       *big.Int
	GasUsed           uint64
	Cost              decimal.Decimal
	MethodSelector    string
	Sender            string
}

// Compute derives the fee metrics for a (transaction, receipt) pair within
// a block carrying the given base fee.
//
// The effective price comes from the receipt when the node reports it,
// falling back to the transaction's stated gas price for nodes that omit
// the field. The priority fee is clamped at zero: a legacy transaction
// priced below the current base fee would otherwise yield a negative tip.
func Compute(tx *types.Transaction, receipt *types.Receipt, baseFee *big.Int, chainID *big.Int) Metrics {
	effectivePrice := new(big.Int)
	if receipt.EffectiveGasPrice != nil {
		effectivePrice.Set(receipt.EffectiveGasPrice)
	} else if tx.GasPrice() != nil {
		effectivePrice.Set(tx.GasPrice())
	}

	base := new(big.Int)
	if baseFee != nil {
		base.Set(baseFee)
	}

	priority := new(big.Int).Sub(effectivePrice, base)
	if priority.Sign() < 0 {
		priority.SetInt64(0)
	}

	costWei := new(big.Int).Mul(effectivePrice, new(big.Int).SetUint64(receipt.GasUsed))

	return Metrics{
		EffectiveGasPrice: effectivePrice,
		BaseFee:           base,
		PriorityFee:       priority,
		GasUsed:           receipt.GasUsed,
		Cost:              decimal.NewFromBigInt(costWei, -nativeDecimals),
		MethodSelector:    methodSelector(tx.Data()),
		Sender:            recoverSender(tx, chainID),
	}
}

// methodSelector returns the hex-encoded first 4 bytes of the call data, or
// an empty string for plain transfers and truncated payloads.
func methodSelector(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	return "0x" + hex.EncodeToString(data[:4])
}

// recoverSender performs chain-id-aware signature recovery. Malformed or
// unsupported transaction types yield an empty sender rather than an error:
// the match is still worth publishing without it.
func recoverSender(tx *types.Transaction, chainID *big.Int) string {
	signer := types.LatestSignerForChainID(chainID)
	address, err := types.Sender(signer, tx)
	if err != nil {
		return ""
	}
	return strings.ToLower(address.Hex())
}
