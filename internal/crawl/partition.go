package crawl

import (
	"net/url"

	"github.com/stacmap/stac-crawler/internal/seed"
)

// UnknownDomain buckets seeds whose URL cannot be parsed. They still get
// crawled; they just share one rate-limit bucket.
const UnknownDomain = "unknown"

// DomainBatch groups one domain's seeds for a crawl cycle.
type DomainBatch struct {
	Domain  string
	Entries []seed.Entry
}

// PartitionByDomain groups seeds by exact hostname. Subdomains are distinct
// domains on purpose: independently operated subdomains usually impose
// independent rate limits. Bucket iteration order is unspecified and nothing
// downstream may depend on it.
func PartitionByDomain(entries []seed.Entry) map[string][]seed.Entry {
	buckets := make(map[string][]seed.Entry)
	for _, e := range entries {
		domain := UnknownDomain
		if u, err := url.Parse(e.URL); err == nil && u.Hostname() != "" {
			domain = u.Hostname()
		}
		buckets[domain] = append(buckets[domain], e)
	}
	return buckets
}

// Batches converts a partition map into a slice for the executor.
func Batches(buckets map[string][]seed.Entry) []DomainBatch {
	out := make([]DomainBatch, 0, len(buckets))
	for domain, entries := range buckets {
		out = append(out, DomainBatch{Domain: domain, Entries: entries})
	}
	return out
}
