// Package store defines the persistence boundary consumed by the crawl
// engine. The engine is written against CatalogStore; the relational layout
// behind it belongs to the implementation.
package store

import (
	"context"
	"errors"

	"github.com/stacmap/stac-crawler/internal/stac"
)

// ErrStoreUnavailable marks failures that mean the store itself cannot be
// reached. It is the only error class allowed to halt the whole process.
var ErrStoreUnavailable = errors.New("catalog store unavailable")

// TimestampKind distinguishes which bookkeeping entity a crawl timestamp
// belongs to.
type TimestampKind string

// Timestamp kinds recorded per crawl cycle.
const (
	TimestampCatalog TimestampKind = "catalog"
	TimestampAPI     TimestampKind = "api"
)

// QueueEntry is a durable work-queue row: a discovered collection endpoint
// that has not been crawled yet. Unclaimed entries survive process restarts,
// which is what makes a multi-day crawl resumable.
type QueueEntry struct {
	ID                int64
	SourceURL         string
	Slug              string
	IsAPI             bool
	CrawlLogCatalogID *int64
}

// ClaimParams bounds a work-queue claim.
type ClaimParams struct {
	Limit              int
	IsAPI              bool
	CrawlLogCatalogIDs []int64
}

// CatalogStore is the durable persistence collaborator.
type CatalogStore interface {
	// UpsertCollection persists a collection record, updating the existing
	// row on repeat crawls rather than duplicating it. The stable key is the
	// (source slug, declared STAC id, title) triple.
	UpsertCollection(ctx context.Context, col stac.Collection, isActive bool) (int64, error)

	// EnqueueCollectionURL appends an entry to the durable work queue.
	EnqueueCollectionURL(ctx context.Context, entry QueueEntry) error

	// ClaimQueueBatch atomically claims up to Limit unclaimed entries.
	ClaimQueueBatch(ctx context.Context, params ClaimParams) ([]QueueEntry, error)

	// PendingQueueCount reports unclaimed entries, optionally scoped to the
	// given crawl-log catalog ids.
	PendingQueueCount(ctx context.Context, crawlLogCatalogIDs []int64) (int, error)

	// DeactivateStaleCollections marks collections not re-confirmed within
	// the rolling window as inactive and returns how many rows changed.
	DeactivateStaleCollections(ctx context.Context) (int64, error)

	// RecordCrawlTimestamp stamps the bookkeeping row for a seed entity.
	RecordCrawlTimestamp(ctx context.Context, entityID int64, kind TimestampKind) error

	// Ping verifies connectivity; failures wrap ErrStoreUnavailable.
	Ping(ctx context.Context) error

	Close()
}
