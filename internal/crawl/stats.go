package crawl

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Aggregator is the single cross-domain statistics accumulation point. Every
// concurrently running domain worker increments it directly, so all counters
// are atomics; reads produce a point-in-time snapshot.
type Aggregator struct {
	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	failedRequests     atomic.Int64
	collectionsFound   atomic.Int64
	collectionsSaved   atomic.Int64
	collectionsFailed  atomic.Int64
	catalogsProcessed  atomic.Int64
	apisProcessed      atomic.Int64
	stacCompliant      atomic.Int64
	nonCompliant       atomic.Int64

	activeDomains    atomic.Int64
	completedDomains atomic.Int64

	logger *zap.Logger

	mu       sync.Mutex
	stopFn   context.CancelFunc
	stopped  chan struct{}
	started  time.Time
}

// Snapshot is a point-in-time view of the aggregate counters.
type Snapshot struct {
	Stats            Stats
	ActiveDomains    int64
	CompletedDomains int64
	Elapsed          time.Duration
}

// NewAggregator creates an Aggregator.
func NewAggregator(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{logger: logger}
}

// Reset zeroes every counter. Must be called before each crawl cycle to
// avoid double-counting across runs.
func (a *Aggregator) Reset() {
	a.totalRequests.Store(0)
	a.successfulRequests.Store(0)
	a.failedRequests.Store(0)
	a.collectionsFound.Store(0)
	a.collectionsSaved.Store(0)
	a.collectionsFailed.Store(0)
	a.catalogsProcessed.Store(0)
	a.apisProcessed.Store(0)
	a.stacCompliant.Store(0)
	a.nonCompliant.Store(0)
	a.activeDomains.Store(0)
	a.completedDomains.Store(0)
	a.mu.Lock()
	a.started = time.Now()
	a.mu.Unlock()
}

// Apply folds a stats delta into the live aggregate.
func (a *Aggregator) Apply(delta Stats) {
	a.totalRequests.Add(delta.TotalRequests)
	a.successfulRequests.Add(delta.SuccessfulRequests)
	a.failedRequests.Add(delta.FailedRequests)
	a.collectionsFound.Add(delta.CollectionsFound)
	a.collectionsSaved.Add(delta.CollectionsSaved)
	a.collectionsFailed.Add(delta.CollectionsFailed)
	a.catalogsProcessed.Add(delta.CatalogsProcessed)
	a.apisProcessed.Add(delta.APIsProcessed)
	a.stacCompliant.Add(delta.StacCompliant)
	a.nonCompliant.Add(delta.NonCompliant)
}

// DomainStarted marks one domain worker as running.
func (a *Aggregator) DomainStarted() {
	a.activeDomains.Add(1)
}

// DomainCompleted marks one domain worker as finished.
func (a *Aggregator) DomainCompleted() {
	a.activeDomains.Add(-1)
	a.completedDomains.Add(1)
}

// Snapshot returns the current aggregate view.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	var elapsed time.Duration
	if !started.IsZero() {
		elapsed = time.Since(started)
	}
	return Snapshot{
		Stats: Stats{
			TotalRequests:      a.totalRequests.Load(),
			SuccessfulRequests: a.successfulRequests.Load(),
			FailedRequests:     a.failedRequests.Load(),
			CollectionsFound:   a.collectionsFound.Load(),
			CollectionsSaved:   a.collectionsSaved.Load(),
			CollectionsFailed:  a.collectionsFailed.Load(),
			CatalogsProcessed:  a.catalogsProcessed.Load(),
			APIsProcessed:      a.apisProcessed.Load(),
			StacCompliant:      a.stacCompliant.Load(),
			NonCompliant:       a.nonCompliant.Load(),
		},
		ActiveDomains:    a.activeDomains.Load(),
		CompletedDomains: a.completedDomains.Load(),
		Elapsed:          elapsed,
	}
}

// StartPeriodicLog emits a snapshot log line every interval until Stop or
// ctx cancellation.
func (a *Aggregator) StartPeriodicLog(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopFn != nil {
		return
	}
	logCtx, cancel := context.WithCancel(ctx)
	a.stopFn = cancel
	a.stopped = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-logCtx.Done():
				return
			case <-ticker.C:
				a.logSnapshot("crawl progress")
			}
		}
	}(a.stopped)
}

// Stop halts periodic logging and emits one final snapshot.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	stopFn := a.stopFn
	stopped := a.stopped
	a.stopFn = nil
	a.stopped = nil
	a.mu.Unlock()
	if stopFn != nil {
		stopFn()
		<-stopped
	}
	a.logSnapshot("crawl finished")
}

func (a *Aggregator) logSnapshot(msg string) {
	snap := a.Snapshot()
	a.logger.Info(msg,
		zap.Int64("total_requests", snap.Stats.TotalRequests),
		zap.Int64("successful_requests", snap.Stats.SuccessfulRequests),
		zap.Int64("failed_requests", snap.Stats.FailedRequests),
		zap.Int64("collections_found", snap.Stats.CollectionsFound),
		zap.Int64("collections_saved", snap.Stats.CollectionsSaved),
		zap.Int64("collections_failed", snap.Stats.CollectionsFailed),
		zap.Int64("catalogs_processed", snap.Stats.CatalogsProcessed),
		zap.Int64("apis_processed", snap.Stats.APIsProcessed),
		zap.Int64("stac_compliant", snap.Stats.StacCompliant),
		zap.Int64("non_compliant", snap.Stats.NonCompliant),
		zap.Int64("active_domains", snap.ActiveDomains),
		zap.Int64("completed_domains", snap.CompletedDomains),
		zap.Duration("elapsed", snap.Elapsed),
	)
}
