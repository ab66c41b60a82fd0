package seed

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/stacmap/stac-crawler/internal/fetch"
)

// fetcher is the HTTP capability the feed client needs.
type fetcher interface {
	Fetch(ctx context.Context, url string) (fetch.Response, error)
}

// feedItem is the wire shape published by the catalog listing feed.
type feedItem struct {
	ID         int64    `json:"id"`
	Slug       string   `json:"slug"`
	URL        string   `json:"url"`
	AccessURL  string   `json:"accessUrl"`
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Categories []string `json:"categories"`
	IsAPI      bool     `json:"isApi"`
	IsPrivate  bool     `json:"isPrivate"`
}

// feedEnvelope tolerates both a bare array and a {catalogs: [...]} wrapper.
type feedEnvelope struct {
	Catalogs []feedItem `json:"catalogs"`
}

// Client fetches and shape-normalizes the seed feed.
type Client struct {
	feedURL string
	fetcher fetcher
	logger  *zap.Logger
}

// NewClient builds a feed client.
func NewClient(feedURL string, f fetcher, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{feedURL: feedURL, fetcher: f, logger: logger}
}

// FetchSeeds downloads the feed and returns crawlable entries. Private
// listings and entries without a usable URL are dropped with a warning.
func (c *Client) FetchSeeds(ctx context.Context) ([]Entry, error) {
	resp, err := c.fetcher.Fetch(ctx, c.feedURL)
	if err != nil {
		return nil, fmt.Errorf("fetch seed feed: %w", err)
	}

	var items []feedItem
	if err := json.Unmarshal(resp.Body, &items); err != nil {
		var envelope feedEnvelope
		if err := json.Unmarshal(resp.Body, &envelope); err != nil {
			return nil, fmt.Errorf("parse seed feed: %w", err)
		}
		items = envelope.Catalogs
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		if item.IsPrivate {
			continue
		}
		url := item.URL
		if url == "" {
			url = item.AccessURL
		}
		if url == "" {
			c.logger.Warn("seed feed entry has no url", zap.String("slug", item.Slug))
			continue
		}
		id := item.ID
		entry := Entry{
			URL:   url,
			Slug:  item.Slug,
			Title: item.Title,
			IsAPI: item.IsAPI,
		}
		if id != 0 {
			entry.CrawlLogCatalogID = &id
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
