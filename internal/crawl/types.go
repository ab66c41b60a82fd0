// Package crawl implements the crawl orchestration engine: domain
// partitioning, bounded-concurrency execution, per-domain traversal workers,
// and cross-domain statistics aggregation.
package crawl

import (
	"context"

	"github.com/stacmap/stac-crawler/internal/fetch"
)

// RequestLabel determines which handler processes a fetched body.
type RequestLabel string

// Request labels. Static catalogs and queryable APIs traverse through
// separate label families so handlers can honor their differing link
// conventions.
const (
	LabelCatalog        RequestLabel = "CATALOG"
	LabelCollections    RequestLabel = "COLLECTIONS"
	LabelAPIRoot        RequestLabel = "API_ROOT"
	LabelAPICollections RequestLabel = "API_COLLECTIONS"
	LabelAPICollection  RequestLabel = "API_COLLECTION"
)

// IsAPI reports whether the label belongs to the API traversal family.
func (l RequestLabel) IsAPI() bool {
	switch l {
	case LabelAPIRoot, LabelAPICollections, LabelAPICollection:
		return true
	}
	return false
}

// Request is one unit of crawl work. Each request is consumed exactly once;
// requests never re-enter the queue.
type Request struct {
	URL               string
	Label             RequestLabel
	Depth             int
	ParentID          string
	CatalogSlug       string
	CrawlLogCatalogID *int64
}

// Fetcher is the HTTP capability a worker needs.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (fetch.Response, error)
}

// Stats holds the per-domain counter set; per-domain instances are summed
// into one aggregate at the end of a cycle.
type Stats struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	CollectionsFound   int64
	CollectionsSaved   int64
	CollectionsFailed  int64
	CatalogsProcessed  int64
	APIsProcessed      int64
	StacCompliant      int64
	NonCompliant       int64
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.TotalRequests += other.TotalRequests
	s.SuccessfulRequests += other.SuccessfulRequests
	s.FailedRequests += other.FailedRequests
	s.CollectionsFound += other.CollectionsFound
	s.CollectionsSaved += other.CollectionsSaved
	s.CollectionsFailed += other.CollectionsFailed
	s.CatalogsProcessed += other.CatalogsProcessed
	s.APIsProcessed += other.APIsProcessed
	s.StacCompliant += other.StacCompliant
	s.NonCompliant += other.NonCompliant
}
