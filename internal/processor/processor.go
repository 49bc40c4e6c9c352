package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chainspend/gas-tracker/db"
	"github.com/chainspend/gas-tracker/internal/chain"
	"github.com/chainspend/gas-tracker/internal/fees"
	"github.com/chainspend/gas-tracker/internal/pub"
	"github.com/chainspend/gas-tracker/internal/registry"
	"github.com/chainspend/gas-tracker/internal/stats"
	"github.com/chainspend/gas-tracker/pkg/event"
)

type (
	ProcessorOpts struct {
		Registry registry.Registry
		Chain    chain.Chain
		DB       db.DB
		Pub      pub.Pub
		Stats    *stats.Stats
		TenantID string
		Logg     *slog.Logger
	}

	Processor struct {
		registry registry.Registry
		chain    chain.Chain
		db       db.DB
		pub      pub.Pub
		stats    *stats.Stats
		tenantID string
		logg     *slog.Logger
	}
)

func NewProcessor(o ProcessorOpts) *Processor {
	return &Processor{
		registry: o.Registry,
		chain:    o.Chain,
		db:       o.DB,
		pub:      o.Pub,
		stats:    o.Stats,
		tenantID: o.TenantID,
		logg:     o.Logg,
	}
}

// ProcessBlock fetches one block and publishes an event for every
// transaction addressed to a watched contract, in the transaction's
// included order.
//
// Failure granularity matches the liveness policy: a block fetch failure
// fails the whole block (the caller records and skips it), a receipt fetch
// failure skips only that transaction, and a publish failure is recorded
// but never fails the block — the cursor must keep moving.
func (p *Processor) ProcessBlock(ctx context.Context, blockNumber uint64) error {
	block, err := p.chain.GetBlock(ctx, blockNumber)
	if err != nil {
		return fmt.Errorf("block %d fetch error: %w", blockNumber, err)
	}

	for _, tx := range block.Transactions() {
		// Contract creations have no recipient and can never match a watch.
		if tx.To() == nil {
			continue
		}

		recipient := strings.ToLower(tx.To().Hex())
		watched, err := p.registry.Exists(ctx, recipient)
		if err != nil {
			return err
		}
		if !watched {
			continue
		}
		p.stats.IncTxMatched()

		receipt, err := p.chain.GetReceipt(ctx, tx.Hash())
		if err != nil {
			p.logg.Warn("receipt fetch failed, skipping transaction",
				"block", blockNumber,
				"tx", tx.Hash().Hex(),
				"error", err,
			)
			continue
		}

		metrics := fees.Compute(tx, receipt, block.BaseFee(), p.chain.ChainID())

		payload := event.Event{
			TenantID:          p.tenantID,
			Contract:          recipient,
			TxHash:            tx.Hash().Hex(),
			Block:             block.NumberU64(),
			Timestamp:         block.Time(),
			From:              metrics.Sender,
			To:                recipient,
			MethodSelector:    metrics.MethodSelector,
			GasUsed:           metrics.GasUsed,
			EffectiveGasPrice: metrics.EffectiveGasPrice.String(),
			BaseFee:           metrics.BaseFee.String(),
			PriorityFee:       metrics.PriorityFee.String(),
			Cost:              metrics.Cost.String(),
		}

		if err := p.pub.Send(ctx, payload); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.stats.IncPublishFailures()
			p.logg.Error("event publish failed",
				"block", blockNumber,
				"tx", payload.TxHash,
				"contract", payload.Contract,
				"error", err,
			)
			if dlErr := p.db.RecordFailedPublish(payload.TxHash, payload.Contract, err); dlErr != nil {
				p.logg.Error("could not dead-letter failed publish", "error", dlErr)
			}
			continue
		}
		p.stats.IncEventsPublished()
	}

	p.stats.IncBlocksProcessed()
	p.logg.Debug("successfully processed block", "block", blockNumber)
	return nil
}
