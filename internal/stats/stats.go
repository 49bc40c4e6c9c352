package stats

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/chainspend/gas-tracker/db"
	"github.com/chainspend/gas-tracker/internal/registry"
)

type (
	StatsOpts struct {
		Registry registry.Registry
		DB       db.DB
		Logg     *slog.Logger
	}

	Stats struct {
		registry registry.Registry
		db       db.DB
		logg     *slog.Logger
		stopCh   chan struct{}

		latestBlock     atomic.Uint64
		blocksProcessed *metrics.Counter
		txMatched       *metrics.Counter
		eventsPublished *metrics.Counter
		publishFailures *metrics.Counter
		blocksSkipped   *metrics.Counter
	}

	APIStats struct {
		LatestBlock     uint64 `json:"latestBlock"`
		RegistrySize    int64  `json:"registrySize"`
		BlocksProcessed uint64 `json:"blocksProcessed"`
		TxMatched       uint64 `json:"txMatched"`
		EventsPublished uint64 `json:"eventsPublished"`
		PublishFailures uint64 `json:"publishFailures"`
		BlocksSkipped   uint64 `json:"blocksSkipped"`

		DeadLetter struct {
			SkippedBlocks   []db.SkippedBlock  `json:"skippedBlocks"`
			FailedPublishes []db.FailedPublish `json:"failedPublishes"`
		} `json:"deadLetter"`
	}
)

const statsPrinterInterval = 60 * time.Second

func New(o StatsOpts) *Stats {
	return &Stats{
		registry:        o.Registry,
		db:              o.DB,
		logg:            o.Logg,
		stopCh:          make(chan struct{}),
		blocksProcessed: metrics.GetOrCreateCounter("tracker_blocks_processed_total"),
		txMatched:       metrics.GetOrCreateCounter("tracker_transactions_matched_total"),
		eventsPublished: metrics.GetOrCreateCounter("tracker_events_published_total"),
		publishFailures: metrics.GetOrCreateCounter("tracker_publish_failures_total"),
		blocksSkipped:   metrics.GetOrCreateCounter("tracker_blocks_skipped_total"),
	}
}

func (s *Stats) SetLatestBlock(n uint64) {
	s.latestBlock.Store(n)
}

func (s *Stats) GetLatestBlock() uint64 {
	return s.latestBlock.Load()
}

func (s *Stats) IncBlocksProcessed() { s.blocksProcessed.Inc() }
func (s *Stats) IncTxMatched()       { s.txMatched.Inc() }
func (s *Stats) IncEventsPublished() { s.eventsPublished.Inc() }
func (s *Stats) IncPublishFailures() { s.publishFailures.Inc() }
func (s *Stats) IncBlocksSkipped()   { s.blocksSkipped.Inc() }

func (s *Stats) APIStatsResponse(ctx context.Context) (*APIStats, error) {
	size, err := s.registry.Size(ctx)
	if err != nil {
		return nil, err
	}

	resp := &APIStats{
		LatestBlock:     s.latestBlock.Load(),
		RegistrySize:    size,
		BlocksProcessed: s.blocksProcessed.Get(),
		TxMatched:       s.txMatched.Get(),
		EventsPublished: s.eventsPublished.Get(),
		PublishFailures: s.publishFailures.Get(),
		BlocksSkipped:   s.blocksSkipped.Get(),
	}

	resp.DeadLetter.SkippedBlocks, err = s.db.SkippedBlocks()
	if err != nil {
		return nil, err
	}
	resp.DeadLetter.FailedPublishes, err = s.db.FailedPublishes()
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (s *Stats) StartStatsPrinter() {
	ticker := time.NewTicker(statsPrinterInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			size, _ := s.registry.Size(context.Background())
			s.logg.Info("tracker stats",
				"latest_block", s.latestBlock.Load(),
				"registry_size", size,
				"blocks_processed", s.blocksProcessed.Get(),
				"tx_matched", s.txMatched.Get(),
				"events_published", s.eventsPublished.Get(),
				"publish_failures", s.publishFailures.Get(),
				"blocks_skipped", s.blocksSkipped.Get(),
			)
		}
	}
}

func (s *Stats) Stop() {
	close(s.stopCh)
}
