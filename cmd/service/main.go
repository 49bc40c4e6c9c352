package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/chainspend/gas-tracker/db"
	"github.com/chainspend/gas-tracker/internal/api"
	"github.com/chainspend/gas-tracker/internal/chain"
	"github.com/chainspend/gas-tracker/internal/processor"
	"github.com/chainspend/gas-tracker/internal/pub"
	"github.com/chainspend/gas-tracker/internal/registry"
	"github.com/chainspend/gas-tracker/internal/stats"
	"github.com/chainspend/gas-tracker/internal/sub"
	"github.com/chainspend/gas-tracker/internal/syncer"
	"github.com/chainspend/gas-tracker/internal/util"
	"github.com/knadh/koanf/v2"
)

const defaultGracefulShutdownPeriod = time.Second * 30

var (
	build = "dev"

	confFlag string

	lo *slog.Logger
	ko *koanf.Koanf
)

func init() {
	flag.StringVar(&confFlag, "config", "config.toml", "Config file location")
	flag.Parse()

	lo = util.InitLogger()
	ko = util.InitConfig(lo, confFlag)
}

func main() {
	lo.Info("starting gas tracker", "build", build, "chain_id", ko.MustInt64("chain.chainid"), "tenant", ko.MustString("core.tenant_id"))

	var wg sync.WaitGroup
	ctx, stop := notifyShutdown()

	chainClient, err := chain.NewRPCFetcher(chain.EthRPCOpts{
		RPCEndpoint: ko.MustString("chain.rpc_endpoint"),
		ChainID:     ko.MustInt64("chain.chainid"),
	})
	if err != nil {
		lo.Error("could not initialize chain client", "error", err)
		os.Exit(1)
	}
	lo.Debug("loaded rpc fetcher")

	dbInstance, err := db.New(db.DBOpts{
		Logg:   lo,
		DBType: ko.MustString("core.db_type"),
	})
	if err != nil {
		lo.Error("could not initialize dead letter db", "error", err)
		os.Exit(1)
	}
	lo.Debug("loaded dead letter db")

	watchRegistry := registry.New()
	registry.Bootstrap(ctx, watchRegistry, registry.BootstrapOpts{
		APIBase:  ko.String("bootstrap.api_base"),
		TenantID: ko.MustString("core.tenant_id"),
		Logg:     lo,
	})
	lo.Debug("loaded and bootstrapped watch registry")

	jetStreamPub, err := pub.NewJetStreamPub(pub.JetStreamOpts{
		Endpoint:                ko.MustString("jetstream.endpoint"),
		StreamName:              ko.MustString("jetstream.stream"),
		ClientID:                ko.String("jetstream.client_id"),
		PersistDuration:         time.Duration(ko.MustInt("jetstream.persist_duration_hrs")) * time.Hour,
		DedupWindow:             time.Duration(ko.Int("jetstream.dedup_window_hrs")) * time.Hour,
		StreamReplicas:          ko.Int("jetstream.stream_replicas"),
		MaxRetries:              ko.Int("publisher.max_retries"),
		CircuitBreakerThreshold: ko.Int("publisher.circuit_breaker_threshold"),
		CircuitBreakerTimeout:   time.Duration(ko.Int("publisher.circuit_breaker_timeout_s")) * time.Second,
		Logg:                    lo,
	})
	if err != nil {
		lo.Error("could not initialize jetstream pub", "error", err)
		os.Exit(1)
	}
	lo.Debug("loaded jetstream publisher")

	watchSub, err := sub.NewJetStreamSub(sub.JetStreamSubOpts{
		Endpoint:   ko.MustString("jetstream.endpoint"),
		StreamName: ko.MustString("jetstream.watch_stream"),
		Durable:    ko.String("jetstream.client_id"),
		TenantID:   ko.MustString("core.tenant_id"),
		Registry:   watchRegistry,
		Logg:       lo,
	})
	if err != nil {
		lo.Error("could not initialize watch subscriber", "error", err)
		os.Exit(1)
	}
	lo.Debug("loaded watch subscriber")

	statsProvider := stats.New(stats.StatsOpts{
		Registry: watchRegistry,
		DB:       dbInstance,
		Logg:     lo,
	})
	lo.Debug("bootstrapped stats provider")

	blockProcessor := processor.NewProcessor(processor.ProcessorOpts{
		Registry: watchRegistry,
		Chain:    chainClient,
		DB:       dbInstance,
		Pub:      jetStreamPub,
		Stats:    statsProvider,
		TenantID: ko.MustString("core.tenant_id"),
		Logg:     lo,
	})
	lo.Debug("bootstrapped processor")

	chainSyncer := syncer.New(syncer.SyncerOpts{
		Chain:     chainClient,
		Processor: blockProcessor,
		DB:        dbInstance,
		Stats:     statsProvider,
		Logg:      lo,
	})
	if err := chainSyncer.Init(ctx); err != nil {
		lo.Error("could not initialize chain cursor", "error", err)
		os.Exit(1)
	}
	lo.Debug("bootstrapped chain syncer")

	apiServer := &http.Server{
		Addr:    ko.MustString("api.address"),
		Handler: api.New(statsProvider, jetStreamPub, ko.Bool("api.enable_pprof")),
	}
	lo.Debug("bootstrapped API server")

	lo.Debug("starting routines")

	wg.Add(1)
	go func() {
		defer wg.Done()
		chainSyncer.Start(ctx)
	}()
	lo.Debug("started chain syncer")

	wg.Add(1)
	go func() {
		defer wg.Done()
		watchSub.Start(ctx)
	}()
	lo.Debug("started watch subscriber")

	wg.Add(1)
	go func() {
		defer wg.Done()
		statsProvider.StartStatsPrinter()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		lo.Info("metrics and stats server starting", "address", ko.MustString("api.address"))
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			lo.Error("failed to start API server", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	lo.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulShutdownPeriod)

	wg.Add(1)
	go func() {
		defer wg.Done()
		watchSub.Stop()
		statsProvider.Stop()
		jetStreamPub.Close()
		dbInstance.Close()
		apiServer.Shutdown(shutdownCtx)
		lo.Info("graceful shutdown routine complete")
	}()

	go func() {
		wg.Wait()
		stop()
		cancel()
		os.Exit(0)
	}()

	<-shutdownCtx.Done()
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		stop()
		cancel()
		lo.Error("graceful shutdown period exceeded, forcefully shutting down")
	}
	os.Exit(1)
}

func notifyShutdown() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
}
