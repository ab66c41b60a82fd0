package crawl

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stacmap/stac-crawler/internal/progress"
	"github.com/stacmap/stac-crawler/internal/seed"
	"github.com/stacmap/stac-crawler/internal/store"
)

// SeedSource supplies the crawl's initial targets.
type SeedSource interface {
	FetchSeeds(ctx context.Context) ([]seed.Entry, error)
}

// IDGenerator mints run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// EngineConfig bounds one crawl cycle.
type EngineConfig struct {
	Mode        seed.Mode
	MaxCatalogs int
	MaxAPIs     int
	// ParallelDomains is the number of domain workers in flight at once.
	ParallelDomains int
	Worker          WorkerConfig
	// ProgressInterval drives the periodic stats log; zero disables it.
	ProgressInterval time.Duration
}

func (c *EngineConfig) applyDefaults() {
	if c.Mode == "" {
		c.Mode = seed.ModeBoth
	}
	if c.ParallelDomains <= 0 {
		c.ParallelDomains = 5
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = 30 * time.Second
	}
}

// CycleReport summarizes one finished crawl cycle.
type CycleReport struct {
	RunID         string
	Stats         Stats
	Domains       int
	FailedDomains int
	Deactivated   int64
	Elapsed       time.Duration
}

// Engine runs full crawl cycles: seed, partition, fan out domain workers,
// and close the cycle with stale-collection cleanup.
type Engine struct {
	seeds   SeedSource
	fetcher Fetcher
	checker AvailabilityChecker
	catalog store.CatalogStore
	agg     *Aggregator
	emitter progress.Emitter
	ids     IDGenerator
	cfg     EngineConfig
	logger  *zap.Logger
}

// NewEngine wires an Engine from its collaborators.
func NewEngine(
	seeds SeedSource,
	fetcher Fetcher,
	checker AvailabilityChecker,
	catalog store.CatalogStore,
	agg *Aggregator,
	emitter progress.Emitter,
	ids IDGenerator,
	cfg EngineConfig,
	logger *zap.Logger,
) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	return &Engine{
		seeds:   seeds,
		fetcher: fetcher,
		checker: checker,
		catalog: catalog,
		agg:     agg,
		emitter: emitter,
		ids:     ids,
		cfg:     cfg,
		logger:  logger,
	}
}

// RunCycle executes one complete crawl cycle. A store-connectivity failure
// is returned wrapped in store.ErrStoreUnavailable so the caller can halt;
// per-domain failures are absorbed into the report.
func (e *Engine) RunCycle(ctx context.Context) (CycleReport, error) {
	start := time.Now()

	runID, err := e.ids.NewID()
	if err != nil {
		return CycleReport{}, fmt.Errorf("mint run id: %w", err)
	}
	report := CycleReport{RunID: runID}

	if err := e.catalog.Ping(ctx); err != nil {
		return report, fmt.Errorf("store ping: %w", err)
	}

	entries, err := e.seeds.FetchSeeds(ctx)
	if err != nil {
		e.emitCycleError(runID, err)
		return report, fmt.Errorf("fetch seeds: %w", err)
	}
	entries = seed.Filter(entries, e.cfg.Mode, e.cfg.MaxCatalogs, e.cfg.MaxAPIs)
	if len(entries) == 0 {
		e.logger.Warn("no seeds after filtering, nothing to crawl",
			zap.String("mode", string(e.cfg.Mode)))
		return report, nil
	}
	e.markPendingQueues(ctx, entries)

	batches := Batches(PartitionByDomain(entries))
	report.Domains = len(batches)

	e.agg.Reset()
	e.agg.StartPeriodicLog(ctx, e.cfg.ProgressInterval)
	defer e.agg.Stop()

	e.emitter.Emit(progress.Event{
		RunID: runID, TS: time.Now().UTC(), Stage: progress.StageCycleStart,
	})
	e.logger.Info("crawl cycle starting",
		zap.String("run_id", runID),
		zap.Int("seeds", len(entries)),
		zap.Int("domains", len(batches)),
		zap.Int("parallel_domains", e.cfg.ParallelDomains),
	)

	tasks := make([]Task, len(batches))
	for i, batch := range batches {
		worker := NewWorker(batch, e.fetcher, e.checker, e.catalog,
			e.agg, e.emitter, runID, e.cfg.Worker, e.logger)
		tasks[i] = worker.Run
	}

	results := RunLimited(ctx, tasks, e.cfg.ParallelDomains, func(completed, total int) {
		e.logger.Info("domain finished",
			zap.String("run_id", runID),
			zap.Int("completed", completed),
			zap.Int("total", total),
		)
	})

	for i, res := range results {
		report.Stats.Add(res.Stats)
		if res.Err != nil {
			report.FailedDomains++
			e.logger.Error("domain crawl failed",
				zap.String("domain", batches[i].Domain),
				zap.Error(res.Err))
		}
	}

	deactivated, err := e.catalog.DeactivateStaleCollections(ctx)
	if err != nil {
		e.logger.Error("stale collection cleanup failed", zap.Error(err))
	}
	report.Deactivated = deactivated
	report.Elapsed = time.Since(start)

	e.emitter.Emit(progress.Event{
		RunID: runID, TS: time.Now().UTC(), Stage: progress.StageCycleDone,
		Dur: report.Elapsed,
	})
	e.logger.Info("crawl cycle finished",
		zap.String("run_id", runID),
		zap.Duration("elapsed", report.Elapsed),
		zap.Int64("collections_saved", report.Stats.CollectionsSaved),
		zap.Int64("collections_found", report.Stats.CollectionsFound),
		zap.Int64("deactivated", report.Deactivated),
		zap.Int("failed_domains", report.FailedDomains),
	)
	return report, nil
}

// markPendingQueues flags seeds whose durable queue still holds unclaimed
// work from an earlier run. Those seeds resume from the queue instead of
// restarting traversal from the root.
func (e *Engine) markPendingQueues(ctx context.Context, entries []seed.Entry) {
	for i := range entries {
		if entries[i].CrawlLogCatalogID == nil {
			continue
		}
		count, err := e.catalog.PendingQueueCount(ctx, []int64{*entries[i].CrawlLogCatalogID})
		if err != nil {
			e.logger.Warn("pending queue lookup failed",
				zap.String("url", entries[i].URL), zap.Error(err))
			continue
		}
		entries[i].HasPendingQueue = count > 0
	}
}

func (e *Engine) emitCycleError(runID string, err error) {
	e.emitter.Emit(progress.Event{
		RunID: runID, TS: time.Now().UTC(), Stage: progress.StageCycleError,
		Note: err.Error(),
	})
}
