package crawl

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stacmap/stac-crawler/internal/availability"
	"github.com/stacmap/stac-crawler/internal/fetch"
	"github.com/stacmap/stac-crawler/internal/progress"
	"github.com/stacmap/stac-crawler/internal/seed"
	"github.com/stacmap/stac-crawler/internal/stac"
	"github.com/stacmap/stac-crawler/internal/store"
)

// AvailabilityChecker probes source URLs before persistence.
type AvailabilityChecker interface {
	CheckBatch(ctx context.Context, urls []string) []availability.Result
}

// WorkerConfig bounds one domain worker's traversal and memory use.
type WorkerConfig struct {
	// MaxDepth limits catalog nesting; 0 means unlimited.
	MaxDepth int
	// FetchConcurrency is the number of concurrent fetches inside the worker.
	FetchConcurrency int
	// FlushThreshold caps the in-memory collection batch.
	FlushThreshold int
	// MetadataClearThreshold truncates the processed-catalog bookkeeping.
	MetadataClearThreshold int
	// QueueLowWatermark triggers a durable-queue refill.
	QueueLowWatermark int
	// QueueClaimBatch is the maximum entries claimed per refill.
	QueueClaimBatch int
	// QueuePendingCeiling caps queued+in-flight requests; discovery beyond
	// it spills into the durable work queue.
	QueuePendingCeiling int
}

func (c *WorkerConfig) applyDefaults() {
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = 20
	}
	if c.FlushThreshold <= 0 {
		c.FlushThreshold = 25
	}
	if c.MetadataClearThreshold <= 0 {
		c.MetadataClearThreshold = 25
	}
	if c.QueueLowWatermark <= 0 {
		c.QueueLowWatermark = 100
	}
	if c.QueueClaimBatch <= 0 {
		c.QueueClaimBatch = 900
	}
	if c.QueuePendingCeiling <= 0 {
		c.QueuePendingCeiling = 1000
	}
}

// Worker drives one domain's traversal: it seeds requests, dispatches
// fetched bodies by label, accumulates normalized collections, and flushes
// them in bounded batches through the availability checker into the store.
type Worker struct {
	domain  string
	seeds   []seed.Entry
	fetcher Fetcher
	checker AvailabilityChecker
	catalog store.CatalogStore
	agg     *Aggregator
	emitter progress.Emitter
	runID   string
	cfg     WorkerConfig
	logger  *zap.Logger

	queue *requestQueue

	mu        sync.Mutex
	batch     []stac.Collection
	processed []string
	stats     Stats
	refillDry bool
}

// NewWorker constructs a Worker for one domain batch.
func NewWorker(
	batch DomainBatch,
	fetcher Fetcher,
	checker AvailabilityChecker,
	catalog store.CatalogStore,
	agg *Aggregator,
	emitter progress.Emitter,
	runID string,
	cfg WorkerConfig,
	logger *zap.Logger,
) *Worker {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	return &Worker{
		domain:  batch.Domain,
		seeds:   batch.Entries,
		fetcher: fetcher,
		checker: checker,
		catalog: catalog,
		agg:     agg,
		emitter: emitter,
		runID:   runID,
		cfg:     cfg,
		logger:  logger.With(zap.String("domain", batch.Domain)),
		queue:   newRequestQueue(),
	}
}

// Run crawls the domain to completion and returns its stats. Failures below
// the store-connectivity tier are recovered locally; the returned error is
// reserved for conditions that invalidate the whole domain run.
func (w *Worker) Run(ctx context.Context) (Stats, error) {
	w.agg.DomainStarted()
	w.emitter.Emit(progress.Event{
		RunID: w.runID, TS: time.Now().UTC(), Stage: progress.StageDomainStart, Domain: w.domain,
	})
	defer func() {
		w.agg.DomainCompleted()
		w.emitter.Emit(progress.Event{
			RunID: w.runID, TS: time.Now().UTC(), Stage: progress.StageDomainDone, Domain: w.domain,
		})
	}()

	w.seedRequests()
	w.refill(ctx)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.FetchConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()

	// Forced flush: whatever accumulated below the threshold must not be
	// lost at the end of the run.
	w.flush(ctx, true)
	w.recordTimestamps(ctx)

	w.mu.Lock()
	stats := w.stats
	w.mu.Unlock()
	return stats, nil
}

// seedRequests converts the domain's seed entries into depth-0 requests.
// Entries whose pending work already sits in the durable queue are skipped;
// refill will pick their children up.
func (w *Worker) seedRequests() {
	var reqs []Request
	for _, e := range w.seeds {
		if e.HasPendingQueue {
			w.logger.Debug("seed has pending durable queue, not re-seeding",
				zap.String("url", e.URL))
			continue
		}
		label := LabelCatalog
		if e.IsAPI {
			label = LabelAPIRoot
		}
		reqs = append(reqs, Request{
			URL:               e.URL,
			Label:             label,
			Depth:             0,
			CatalogSlug:       e.Slug,
			CrawlLogCatalogID: e.CrawlLogCatalogID,
		})
	}
	w.queue.push(reqs...)
}

// loop is one fetch goroutine: it pulls requests until the traversal ends.
func (w *Worker) loop(ctx context.Context) {
	for {
		req, ok := w.queue.next()
		if !ok {
			// The in-memory traversal is drained; the durable queue may
			// still hold claimable work.
			if ctx.Err() != nil {
				return
			}
			w.refill(ctx)
			if w.queue.pending() == 0 {
				return
			}
			continue
		}
		if ctx.Err() == nil {
			w.handle(ctx, req)
		}
		w.queue.done()
	}
}

// handle runs one request through fetch, dispatch, and the flush/refill
// threshold checks. Every terminal condition is counted; nothing here may
// crash the worker.
func (w *Worker) handle(ctx context.Context, req Request) {
	w.count(func(s *Stats) { s.TotalRequests++ })

	resp, err := w.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		w.recordFetchFailure(req, err)
		return
	}
	w.count(func(s *Stats) { s.SuccessfulRequests++ })
	w.emitter.Emit(progress.Event{
		RunID:       w.runID,
		TS:          time.Now().UTC(),
		Stage:       progress.StageFetchDone,
		Domain:      w.domain,
		URL:         req.URL,
		StatusClass: progress.ClassifyStatus(resp.StatusCode),
		Dur:         resp.Duration,
	})

	switch req.Label {
	case LabelCatalog, LabelAPIRoot:
		w.handleCatalog(req, resp)
	case LabelCollections, LabelAPICollections:
		w.handleCollectionList(req, resp)
	case LabelAPICollection:
		w.handleSingleCollection(req, resp)
	}

	w.flush(ctx, false)
	w.refill(ctx)
}

func (w *Worker) recordFetchFailure(req Request, err error) {
	w.count(func(s *Stats) { s.FailedRequests++ })

	var statusErr *fetch.StatusError
	if errors.As(err, &statusErr) {
		w.emitter.Emit(progress.Event{
			RunID:       w.runID,
			TS:          time.Now().UTC(),
			Stage:       progress.StageFetchDone,
			Domain:      w.domain,
			URL:         req.URL,
			StatusClass: progress.ClassifyStatus(statusErr.Code),
			Note:        err.Error(),
		})
		w.logger.Warn("request failed",
			zap.String("url", req.URL),
			zap.String("label", string(req.Label)),
			zap.Int("status", statusErr.Code),
		)
		return
	}
	w.logger.Warn("request failed",
		zap.String("url", req.URL),
		zap.String("label", string(req.Label)),
		zap.Error(err),
	)
}

// handleCatalog processes a CATALOG or API_ROOT body: classify it, harvest
// it if it turns out to be a collection, otherwise discover its collections
// endpoint and descend into its children.
func (w *Worker) handleCatalog(req Request, resp fetch.Response) {
	doc, err := stac.Classify(resp.Body)
	if err != nil {
		// Expected on the open web; schema failures are not exceptional.
		w.count(func(s *Stats) { s.NonCompliant++ })
		w.logger.Info("document failed schema validation",
			zap.String("url", req.URL), zap.Error(err))
		return
	}
	w.count(func(s *Stats) { s.StacCompliant++ })

	if doc.Kind == stac.KindCollection {
		w.appendCollection(doc, doc.SelfURL(req.URL), req.CatalogSlug)
		return
	}

	apiRoot := req.Label == LabelAPIRoot
	if apiRoot {
		w.count(func(s *Stats) { s.APIsProcessed++ })
	} else {
		w.count(func(s *Stats) { s.CatalogsProcessed++ })
	}
	w.trackProcessed(doc.ID)

	w.enqueueCollectionsEndpoint(req, doc, apiRoot)
	w.enqueueChildren(req, doc, apiRoot)
}

func (w *Worker) enqueueCollectionsEndpoint(req Request, doc stac.Document, apiRoot bool) {
	if !apiRoot {
		// Static catalogs only get a collections request when they actually
		// advertise one; the {base}/collections guess is an API convention.
		if _, ok := doc.LinkByRel("data", "collections"); !ok {
			return
		}
	}
	colURL, err := doc.CollectionsURL(req.URL)
	if err != nil {
		w.logger.Warn("unresolvable collections link",
			zap.String("url", req.URL), zap.Error(err))
		return
	}
	label := LabelCollections
	if apiRoot {
		label = LabelAPICollections
	}
	w.enqueue(Request{
		URL:               colURL,
		Label:             label,
		Depth:             req.Depth,
		ParentID:          doc.ID,
		CatalogSlug:       req.CatalogSlug,
		CrawlLogCatalogID: req.CrawlLogCatalogID,
	})
}

// enqueueChildren descends into child links. The depth check happens before
// enqueueing, never after fetching: content beyond the limit is not worth a
// request.
func (w *Worker) enqueueChildren(req Request, doc stac.Document, apiRoot bool) {
	if w.cfg.MaxDepth > 0 && req.Depth >= w.cfg.MaxDepth {
		return
	}
	childLabel := LabelCatalog
	if apiRoot {
		childLabel = LabelAPIRoot
	}
	for _, link := range doc.ChildLinks(apiRoot) {
		childURL, err := stac.ResolveLink(req.URL, link.Href)
		if err != nil {
			w.logger.Warn("dropping unresolvable child link",
				zap.String("parent", req.URL),
				zap.String("href", link.Href),
				zap.Error(err))
			continue
		}
		w.enqueue(Request{
			URL:               childURL,
			Label:             childLabel,
			Depth:             req.Depth + 1,
			ParentID:          doc.ID,
			CatalogSlug:       req.CatalogSlug,
			CrawlLogCatalogID: req.CrawlLogCatalogID,
		})
	}
}

func (w *Worker) handleCollectionList(req Request, resp fetch.Response) {
	docs, invalid, err := stac.ParseCollectionList(resp.Body)
	if err != nil {
		w.count(func(s *Stats) { s.NonCompliant++ })
		w.logger.Info("collections listing failed validation",
			zap.String("url", req.URL), zap.Error(err))
		return
	}
	if invalid > 0 {
		w.count(func(s *Stats) { s.NonCompliant += int64(invalid) })
	}
	for _, doc := range docs {
		w.count(func(s *Stats) { s.StacCompliant++ })
		if doc.Kind != stac.KindCollection {
			continue
		}
		w.appendCollection(doc, doc.SelfURL(req.URL), req.CatalogSlug)
	}
}

func (w *Worker) handleSingleCollection(req Request, resp fetch.Response) {
	doc, err := stac.Classify(resp.Body)
	if err != nil || doc.Kind != stac.KindCollection {
		w.count(func(s *Stats) { s.NonCompliant++ })
		w.logger.Info("document is not a collection",
			zap.String("url", req.URL), zap.Error(err))
		return
	}
	w.count(func(s *Stats) { s.StacCompliant++ })
	w.appendCollection(doc, doc.SelfURL(req.URL), req.CatalogSlug)
}

func (w *Worker) appendCollection(doc stac.Document, sourceURL, slug string) {
	col := stac.Normalize(doc, sourceURL, slug)
	w.mu.Lock()
	w.batch = append(w.batch, col)
	w.stats.CollectionsFound++
	w.mu.Unlock()
	w.agg.Apply(Stats{CollectionsFound: 1})
}

// trackProcessed keeps lightweight bookkeeping of catalogs seen. The list
// feeds counters only; it is truncated at a threshold so a long crawl cannot
// grow it without bound.
func (w *Worker) trackProcessed(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.processed = append(w.processed, id)
	if len(w.processed) >= w.cfg.MetadataClearThreshold {
		w.processed = w.processed[:0]
	}
}

// enqueue routes a discovered request either into the in-memory queue or,
// when the worker is already saturated, into the durable work queue so
// discovery rate cannot outgrow memory.
func (w *Worker) enqueue(req Request) {
	if w.queue.pending() >= w.cfg.QueuePendingCeiling &&
		(req.Label == LabelCollections || req.Label == LabelAPICollections || req.Label == LabelAPICollection) {
		w.spill(req)
		return
	}
	w.queue.push(req)
}

func (w *Worker) spill(req Request) {
	err := w.catalog.EnqueueCollectionURL(context.Background(), store.QueueEntry{
		SourceURL:         req.URL,
		Slug:              req.CatalogSlug,
		IsAPI:             req.Label.IsAPI(),
		CrawlLogCatalogID: req.CrawlLogCatalogID,
	})
	if err != nil {
		// Fall back to memory rather than lose the discovery.
		w.logger.Warn("durable queue enqueue failed, keeping in memory",
			zap.String("url", req.URL), zap.Error(err))
		w.queue.push(req)
		return
	}
	w.mu.Lock()
	w.refillDry = false
	w.mu.Unlock()
}

// refill tops the in-memory queue up from the durable work queue when it
// drains to the low watermark, capped so queued+in-flight stays at or below
// the pending ceiling. This is what makes an interrupted crawl resumable:
// a restarted process keeps draining the same durable queue.
func (w *Worker) refill(ctx context.Context) {
	pending := w.queue.pending()
	if pending > w.cfg.QueueLowWatermark {
		return
	}
	w.mu.Lock()
	dry := w.refillDry
	w.mu.Unlock()
	if dry {
		return
	}

	limit := min(w.cfg.QueueClaimBatch, w.cfg.QueuePendingCeiling-pending)
	if limit <= 0 {
		return
	}

	claimed := 0
	for _, isAPI := range w.seedKinds() {
		entries, err := w.catalog.ClaimQueueBatch(ctx, store.ClaimParams{
			Limit:              limit - claimed,
			IsAPI:              isAPI,
			CrawlLogCatalogIDs: w.seedCatalogIDs(),
		})
		if err != nil {
			w.logger.Warn("work queue claim failed", zap.Error(err))
			return
		}
		for _, e := range entries {
			w.queue.push(queueEntryToRequest(e))
		}
		claimed += len(entries)
		if claimed >= limit {
			break
		}
	}
	if claimed == 0 {
		w.mu.Lock()
		w.refillDry = true
		w.mu.Unlock()
	}
}

func (w *Worker) seedKinds() []bool {
	var kinds []bool
	seen := map[bool]bool{}
	for _, e := range w.seeds {
		if !seen[e.IsAPI] {
			seen[e.IsAPI] = true
			kinds = append(kinds, e.IsAPI)
		}
	}
	return kinds
}

func (w *Worker) seedCatalogIDs() []int64 {
	var ids []int64
	for _, e := range w.seeds {
		if e.CrawlLogCatalogID != nil {
			ids = append(ids, *e.CrawlLogCatalogID)
		}
	}
	return ids
}

// queueEntryToRequest derives the request label from the claimed URL: paths
// ending in /collections are listings, anything else is a single collection
// endpoint.
func queueEntryToRequest(e store.QueueEntry) Request {
	label := LabelAPICollection
	if isCollectionsPath(e.SourceURL) {
		if e.IsAPI {
			label = LabelAPICollections
		} else {
			label = LabelCollections
		}
	} else if !e.IsAPI {
		label = LabelCatalog
	}
	return Request{
		URL:               e.SourceURL,
		Label:             label,
		Depth:             0,
		CatalogSlug:       e.Slug,
		CrawlLogCatalogID: e.CrawlLogCatalogID,
	}
}

func isCollectionsPath(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.TrimRight(u.Path, "/"), "/collections")
}

// flush hands the accumulated batch to the availability checker and the
// store. A per-record upsert failure is counted and skipped; one bad record
// never loses the rest of the batch.
func (w *Worker) flush(ctx context.Context, force bool) {
	w.mu.Lock()
	if len(w.batch) == 0 || (!force && len(w.batch) < w.cfg.FlushThreshold) {
		w.mu.Unlock()
		return
	}
	outgoing := w.batch
	w.batch = nil
	w.mu.Unlock()

	urls := make([]string, len(outgoing))
	for i, col := range outgoing {
		urls[i] = col.SourceURL
	}
	probes := w.checker.CheckBatch(ctx, urls)

	var saved, failed int64
	for i, col := range outgoing {
		active := probes[i].Available
		if _, err := w.catalog.UpsertCollection(ctx, col, active); err != nil {
			failed++
			w.logger.Warn("collection upsert failed",
				zap.String("collection_id", col.ID),
				zap.String("source_url", col.SourceURL),
				zap.Error(err))
			continue
		}
		saved++
		w.emitter.Emit(progress.Event{
			RunID:  w.runID,
			TS:     time.Now().UTC(),
			Stage:  progress.StageCollectionSaved,
			Domain: w.domain,
			URL:    col.SourceURL,
			Active: active,
		})
	}

	w.count(func(s *Stats) {
		s.CollectionsSaved += saved
		s.CollectionsFailed += failed
	})
	w.logger.Debug("batch flushed",
		zap.Int("size", len(outgoing)),
		zap.Int64("saved", saved),
		zap.Int64("failed", failed),
	)
}

func (w *Worker) recordTimestamps(ctx context.Context) {
	for _, e := range w.seeds {
		if e.CrawlLogCatalogID == nil {
			continue
		}
		kind := store.TimestampCatalog
		if e.IsAPI {
			kind = store.TimestampAPI
		}
		if err := w.catalog.RecordCrawlTimestamp(ctx, *e.CrawlLogCatalogID, kind); err != nil {
			w.logger.Warn("record crawl timestamp failed",
				zap.Int64("entity_id", *e.CrawlLogCatalogID), zap.Error(err))
		}
	}
}

// count applies a mutation to the worker-local stats and mirrors the delta
// into the live aggregate.
func (w *Worker) count(mutate func(*Stats)) {
	var delta Stats
	mutate(&delta)
	w.mu.Lock()
	w.stats.Add(delta)
	w.mu.Unlock()
	w.agg.Apply(delta)
}
