// Package postgres provides the pgx-backed CatalogStore implementation.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacmap/stac-crawler/internal/stac"
	"github.com/stacmap/stac-crawler/internal/store"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	StaleWindow     time.Duration
}

const defaultStaleWindow = 7 * 24 * time.Hour

// pgxPool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it
// in tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// CatalogStore implements store.CatalogStore on Postgres.
type CatalogStore struct {
	pool        pgxPool
	staleWindow time.Duration
}

// New connects a pool and returns the store.
func New(ctx context.Context, cfg Config) (*CatalogStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect postgres: %v", store.ErrStoreUnavailable, err)
	}
	return newWithPool(pool, cfg.StaleWindow), nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool, staleWindow time.Duration) (*CatalogStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newWithPool(pool, staleWindow), nil
}

func newWithPool(pool pgxPool, staleWindow time.Duration) *CatalogStore {
	if staleWindow <= 0 {
		staleWindow = defaultStaleWindow
	}
	return &CatalogStore{pool: pool, staleWindow: staleWindow}
}

// Close releases the underlying pool resources.
func (s *CatalogStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies connectivity.
func (s *CatalogStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", store.ErrStoreUnavailable, err)
	}
	return nil
}

const upsertCollectionSQL = `
INSERT INTO collections (
	stac_id,
	title,
	description,
	license,
	keywords,
	stac_extensions,
	providers,
	assets,
	summaries,
	bbox,
	temporal_start,
	temporal_end,
	source_url,
	source_slug,
	is_active,
	last_crawled_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NOW()
)
ON CONFLICT (source_slug, stac_id, title) DO UPDATE SET
	description = EXCLUDED.description,
	license = EXCLUDED.license,
	keywords = EXCLUDED.keywords,
	stac_extensions = EXCLUDED.stac_extensions,
	providers = EXCLUDED.providers,
	assets = EXCLUDED.assets,
	summaries = EXCLUDED.summaries,
	bbox = EXCLUDED.bbox,
	temporal_start = EXCLUDED.temporal_start,
	temporal_end = EXCLUDED.temporal_end,
	source_url = EXCLUDED.source_url,
	is_active = EXCLUDED.is_active,
	last_crawled_at = NOW()
RETURNING id`

// UpsertCollection inserts or refreshes a collection row and returns its id.
func (s *CatalogStore) UpsertCollection(ctx context.Context, col stac.Collection, isActive bool) (int64, error) {
	providersJSON, err := json.Marshal(col.Providers)
	if err != nil {
		return 0, fmt.Errorf("marshal providers: %w", err)
	}
	assetsJSON, err := json.Marshal(col.Assets)
	if err != nil {
		return 0, fmt.Errorf("marshal assets: %w", err)
	}
	summariesJSON, err := json.Marshal(col.Summaries)
	if err != nil {
		return 0, fmt.Errorf("marshal summaries: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx, upsertCollectionSQL,
		col.ID,
		col.Title,
		col.Description,
		col.License,
		col.Keywords,
		col.StacExtensions,
		providersJSON,
		assetsJSON,
		summariesJSON,
		col.BBox,
		col.TemporalStart,
		col.TemporalEnd,
		col.SourceURL,
		col.SourceSlug,
		isActive,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert collection %q: %w", col.ID, err)
	}
	return id, nil
}

const enqueueSQL = `
INSERT INTO collection_queue (source_url, slug, is_api, crawl_log_catalog_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (source_url) DO NOTHING`

// EnqueueCollectionURL appends a work-queue entry; re-discovered URLs are
// deduplicated on the way in.
func (s *CatalogStore) EnqueueCollectionURL(ctx context.Context, entry store.QueueEntry) error {
	if entry.SourceURL == "" {
		return fmt.Errorf("queue entry source url is required")
	}
	_, err := s.pool.Exec(ctx, enqueueSQL,
		entry.SourceURL,
		entry.Slug,
		entry.IsAPI,
		entry.CrawlLogCatalogID,
	)
	if err != nil {
		return fmt.Errorf("enqueue collection url: %w", err)
	}
	return nil
}

const claimBatchSQL = `
UPDATE collection_queue
SET claimed_at = NOW()
WHERE id IN (
	SELECT id FROM collection_queue
	WHERE claimed_at IS NULL
	  AND is_api = $2
	  AND ($3::bigint[] IS NULL OR crawl_log_catalog_id = ANY($3))
	ORDER BY id
	LIMIT $1
	FOR UPDATE SKIP LOCKED
)
RETURNING id, source_url, slug, is_api, crawl_log_catalog_id`

// ClaimQueueBatch atomically claims up to params.Limit unclaimed entries.
// SKIP LOCKED keeps concurrent workers from claiming the same rows.
func (s *CatalogStore) ClaimQueueBatch(ctx context.Context, params store.ClaimParams) ([]store.QueueEntry, error) {
	if params.Limit <= 0 {
		return nil, nil
	}
	var ids any
	if len(params.CrawlLogCatalogIDs) > 0 {
		ids = params.CrawlLogCatalogIDs
	}
	rows, err := s.pool.Query(ctx, claimBatchSQL, params.Limit, params.IsAPI, ids)
	if err != nil {
		return nil, fmt.Errorf("claim queue batch: %w", err)
	}
	defer rows.Close()

	var entries []store.QueueEntry
	for rows.Next() {
		var e store.QueueEntry
		if err := rows.Scan(&e.ID, &e.SourceURL, &e.Slug, &e.IsAPI, &e.CrawlLogCatalogID); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue entries: %w", err)
	}
	return entries, nil
}

const pendingCountSQL = `
SELECT COUNT(*) FROM collection_queue
WHERE claimed_at IS NULL
  AND ($1::bigint[] IS NULL OR crawl_log_catalog_id = ANY($1))`

// PendingQueueCount reports unclaimed work-queue entries.
func (s *CatalogStore) PendingQueueCount(ctx context.Context, crawlLogCatalogIDs []int64) (int, error) {
	var ids any
	if len(crawlLogCatalogIDs) > 0 {
		ids = crawlLogCatalogIDs
	}
	var count int
	if err := s.pool.QueryRow(ctx, pendingCountSQL, ids).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending queue entries: %w", err)
	}
	return count, nil
}

const deactivateStaleSQL = `
UPDATE collections
SET is_active = FALSE
WHERE is_active = TRUE
  AND last_crawled_at < NOW() - $1::interval`

// DeactivateStaleCollections marks collections not re-confirmed within the
// rolling window as inactive.
func (s *CatalogStore) DeactivateStaleCollections(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, deactivateStaleSQL, s.staleWindow.String())
	if err != nil {
		return 0, fmt.Errorf("deactivate stale collections: %w", err)
	}
	return tag.RowsAffected(), nil
}

const recordTimestampSQL = `
INSERT INTO crawl_timestamps (entity_id, kind, crawled_at)
VALUES ($1, $2, NOW())
ON CONFLICT (entity_id, kind) DO UPDATE SET crawled_at = NOW()`

// RecordCrawlTimestamp stamps the bookkeeping row for a seed entity.
func (s *CatalogStore) RecordCrawlTimestamp(ctx context.Context, entityID int64, kind store.TimestampKind) error {
	if _, err := s.pool.Exec(ctx, recordTimestampSQL, entityID, string(kind)); err != nil {
		return fmt.Errorf("record crawl timestamp: %w", err)
	}
	return nil
}
