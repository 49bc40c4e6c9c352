package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/chainspend/gas-tracker/db"
	"github.com/chainspend/gas-tracker/internal/chain"
	"github.com/chainspend/gas-tracker/internal/processor"
	"github.com/chainspend/gas-tracker/internal/stats"
)

type (
	SyncerOpts struct {
		Chain     chain.Chain
		Processor *processor.Processor
		DB        db.DB
		Stats     *stats.Stats
		Logg      *slog.Logger
	}

	// Syncer owns the chain cursor and runs the sequential scan loop. The
	// cursor is monotonically non-decreasing, never exceeds the observed
	// head, and advances over every block number exactly once.
	Syncer struct {
		chain     chain.Chain
		processor *processor.Processor
		db        db.DB
		stats     *stats.Stats
		logg      *slog.Logger
		cursor    atomic.Uint64
	}
)

var (
	// headRetryInterval is the wait after a transient head-read failure.
	headRetryInterval = 3 * time.Second
	// idlePollInterval is the wait when the head has not moved.
	idlePollInterval = 2 * time.Second
)

func New(o SyncerOpts) *Syncer {
	return &Syncer{
		chain:     o.Chain,
		processor: o.Processor,
		db:        o.DB,
		stats:     o.Stats,
		logg:      o.Logg,
	}
}

// Init sets the cursor to the current chain head. New trackers never
// backfill: everything at or below the head at startup is skipped so a
// fresh instance does not flood the log with historical matches. An error
// here is fatal to the process — without a head there is no way to make
// progress.
func (s *Syncer) Init(ctx context.Context) error {
	head, err := s.chain.GetLatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("initial head read: %w", err)
	}

	s.cursor.Store(head)
	s.stats.SetLatestBlock(head)
	s.logg.Info("cursor initialized at chain head", "head", head)
	return nil
}

// Cursor returns the highest fully processed block number.
func (s *Syncer) Cursor() uint64 {
	return s.cursor.Load()
}

// Start runs the poll loop until the context is cancelled. Head-read
// failures are transient: log, wait, poll again. Block-level failures are
// handled inside the advance; they never stall the loop.
func (s *Syncer) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			s.logg.Debug("syncer shutting down")
			return
		}

		head, err := s.chain.GetLatestBlockNumber(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logg.Warn("head poll failed", "error", err)
			if !sleepCtx(ctx, headRetryInterval) {
				return
			}
			continue
		}

		if head <= s.cursor.Load() {
			if !sleepCtx(ctx, idlePollInterval) {
				return
			}
			continue
		}

		s.advance(ctx, head)
	}
}

// advance processes every block from cursor+1 through head in ascending
// order, then moves the cursor to head. A block whose fetch or walk fails
// is recorded in the dead letter store and skipped; the range is never
// retried on a later cycle. Cancellation mid-range leaves the cursor where
// it was — a restart re-initializes at head anyway.
func (s *Syncer) advance(ctx context.Context, head uint64) {
	for n := s.cursor.Load() + 1; n <= head; n++ {
		if ctx.Err() != nil {
			return
		}

		if err := s.processor.ProcessBlock(ctx, n); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logg.Error("block processing failed, skipping block", "block", n, "error", err)
			s.stats.IncBlocksSkipped()
			if dlErr := s.db.RecordSkippedBlock(n, err); dlErr != nil {
				s.logg.Error("could not dead-letter skipped block", "block", n, "error", dlErr)
			}
		}
	}

	s.cursor.Store(head)
	s.stats.SetLatestBlock(head)
}

// sleepCtx waits for d, returning false if the context was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
