// Package seed ingests the external catalog-listing feed that supplies the
// crawl's initial targets.
package seed

// Entry is an initial crawl target. Entries are immutable during a crawl.
type Entry struct {
	URL               string
	Slug              string
	Title             string
	IsAPI             bool
	CrawlLogCatalogID *int64
	// HasPendingQueue marks entries whose children are already sitting in
	// the durable work queue from a previous run; such entries are not
	// re-seeded, their work arrives via queue refill instead.
	HasPendingQueue bool
}

// Mode restricts which seed kinds a cycle crawls.
type Mode string

// Crawl modes.
const (
	ModeCatalogs Mode = "catalogs"
	ModeAPIs     Mode = "apis"
	ModeBoth     Mode = "both"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeCatalogs, ModeAPIs, ModeBoth:
		return true
	}
	return false
}

// Filter applies the mode and per-kind caps to entries. A cap of 0 means
// unlimited. Order is preserved.
func Filter(entries []Entry, mode Mode, maxCatalogs, maxAPIs int) []Entry {
	var out []Entry
	catalogs, apis := 0, 0
	for _, e := range entries {
		if e.IsAPI {
			if mode == ModeCatalogs {
				continue
			}
			if maxAPIs > 0 && apis >= maxAPIs {
				continue
			}
			apis++
		} else {
			if mode == ModeAPIs {
				continue
			}
			if maxCatalogs > 0 && catalogs >= maxCatalogs {
				continue
			}
			catalogs++
		}
		out = append(out, e)
	}
	return out
}
