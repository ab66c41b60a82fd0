// Package main wires together the STAC crawler service binary.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stacmap/stac-crawler/internal/api"
	"github.com/stacmap/stac-crawler/internal/availability"
	"github.com/stacmap/stac-crawler/internal/clock/system"
	"github.com/stacmap/stac-crawler/internal/config"
	"github.com/stacmap/stac-crawler/internal/crawl"
	"github.com/stacmap/stac-crawler/internal/fetch"
	"github.com/stacmap/stac-crawler/internal/id/uuid"
	"github.com/stacmap/stac-crawler/internal/logging"
	"github.com/stacmap/stac-crawler/internal/progress"
	"github.com/stacmap/stac-crawler/internal/progress/sinks"
	"github.com/stacmap/stac-crawler/internal/scheduler"
	"github.com/stacmap/stac-crawler/internal/seed"
	"github.com/stacmap/stac-crawler/internal/store/postgres"
)

// newRootCmd creates and configures the root command. The crawler is a
// single-command daemon, so the root command does all the work itself.
func newRootCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "staccrawler",
		Short: "A scheduled crawler that indexes STAC catalogs and APIs.",
		Long: `staccrawler walks a seed list of STAC catalogs and APIs on a fixed
cadence, harvesting every collection it can reach into a Postgres-backed
index. Crawls are partitioned by domain and resumable through a durable
work queue.`,
		SilenceUsage: true,

		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() {
				_ = logger.Sync()
			}()
			zap.ReplaceGlobals(logger)

			if err := run(cmd.Context(), cfg, logger); err != nil {
				logger.Error("crawler exited with error", zap.Error(err))
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgPath, "config", "", "Path to config file")
	flags.StringP("mode", "m", string(seed.ModeBoth), "Crawl mode: catalogs, apis, or both")
	flags.IntP("max-catalogs", "c", 0, "Maximum static catalogs to crawl (0 = unlimited)")
	flags.IntP("max-apis", "a", 0, "Maximum APIs to crawl (0 = unlimited)")
	flags.IntP("timeout", "t", 30000, "HTTP fetch timeout in milliseconds")
	flags.IntP("max-depth", "d", 0, "Maximum catalog nesting depth (0 = unlimited)")
	flags.IntP("parallel-domains", "p", 5, "Domains crawled concurrently")
	flags.IntP("rpm-per-domain", "r", 0, "Request rate cap per domain, per minute (0 = unlimited)")
	flags.IntP("concurrency-per-domain", "n", 20, "Concurrent fetches within one domain")
	flags.IntP("max-retries", "R", 3, "Retries per failed fetch")
	flags.IntP("domain-delay", "D", 0, "Minimum delay between requests to one domain, in seconds")
	flags.Bool("once", false, "Run a single crawl cycle and exit")

	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	catalogStore, err := postgres.New(ctx, postgres.Config{
		DSN:         cfg.DB.DSN,
		MaxConns:    int32(cfg.DB.MaxConns),
		MinConns:    int32(cfg.DB.MinConns),
		StaleWindow: cfg.StaleWindow(),
	})
	if err != nil {
		return fmt.Errorf("connect catalog store: %w", err)
	}
	defer catalogStore.Close()

	limiter := fetch.NewDomainLimiter(fetch.LimiterConfig{
		RequestsPerMinute: cfg.HTTP.RequestsPerMinute,
		MinDelay:          cfg.DomainDelay(),
	})
	fetcher := fetch.NewClient(fetch.Config{
		UserAgent:    cfg.HTTP.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		MaxRetries:   cfg.HTTP.MaxRetries,
		MaxBodyBytes: int64(cfg.HTTP.MaxBodyMegabytes) << 20,
	}, limiter, logger.Named("fetch"))

	checker := availability.NewChecker(availability.Config{
		Timeout:      time.Duration(cfg.Availability.TimeoutSeconds) * time.Second,
		MaxRetries:   cfg.Availability.MaxRetries,
		RetryBackoff: time.Duration(cfg.Availability.RetryBackoffSec) * time.Second,
		Concurrency:  cfg.Availability.Concurrency,
		UserAgent:    cfg.HTTP.UserAgent,
	}, logger.Named("availability"))

	registry := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	hub := progress.NewHub(progress.Config{
		Logger: logger.Named("progress"),
	}, promSink, sinks.NewLogSink(logger.Named("progress")))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := hub.Close(closeCtx); cerr != nil {
			logger.Warn("progress hub close failed", zap.Error(cerr))
		}
	}()

	aggregator := crawl.NewAggregator(logger.Named("stats"))
	seedClient := seed.NewClient(cfg.Seed.FeedURL, fetcher, logger.Named("seed"))

	engine := crawl.NewEngine(
		seedClient,
		fetcher,
		checker,
		catalogStore,
		aggregator,
		hub,
		uuid.New(),
		crawl.EngineConfig{
			Mode:            seed.Mode(cfg.Crawl.Mode),
			MaxCatalogs:     cfg.Crawl.MaxCatalogs,
			MaxAPIs:         cfg.Crawl.MaxAPIs,
			ParallelDomains: cfg.Crawl.ParallelDomains,
			Worker: crawl.WorkerConfig{
				MaxDepth:            cfg.Crawl.MaxDepth,
				FetchConcurrency:    cfg.Crawl.ConcurrencyPerDomain,
				FlushThreshold:      cfg.Crawl.FlushThreshold,
				QueueLowWatermark:   cfg.Queue.LowWatermark,
				QueueClaimBatch:     cfg.Queue.ClaimBatch,
				QueuePendingCeiling: cfg.Queue.PendingCeiling,
			},
			ProgressInterval: time.Duration(cfg.Crawl.ProgressIntervalSec) * time.Second,
		},
		logger.Named("crawl"),
	)

	apiServer := api.NewServer(catalogStore, aggregator, registry, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if serr := srv.ListenAndServe(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(serr))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			logger.Error("server shutdown error", zap.Error(serr))
		}
	}()

	sched := scheduler.New(engine, system.New(), scheduler.Config{
		Interval:   cfg.CrawlInterval(),
		ErrorRetry: cfg.ErrorRetry(),
		Once:       cfg.Scheduler.Once,
	}, logger.Named("scheduler"))

	logger.Info("stac crawler started",
		zap.String("mode", cfg.Crawl.Mode),
		zap.Bool("once", cfg.Scheduler.Once),
		zap.Duration("interval", cfg.CrawlInterval()),
	)

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
