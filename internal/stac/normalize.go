package stac

import (
	"encoding/json"
	"time"
)

// PlaceholderID tags collections whose source document omitted an id.
const PlaceholderID = "unknown-collection"

// Collection is the canonical in-memory record persisted for each discovered
// collection. It is produced from either wire shape (a proper collection
// document, or a catalog that turned out to describe a single dataset).
type Collection struct {
	ID             string
	Title          string
	Description    string
	License        string
	Keywords       []string
	StacExtensions []string
	Providers      []Provider
	Assets         map[string]Asset
	Summaries      map[string]json.RawMessage
	BBox           []float64
	TemporalStart  *time.Time
	TemporalEnd    *time.Time
	SourceURL      string
	SourceSlug     string
}

// Normalize converts a classified document into a canonical Collection.
// sourceURL is the document's resolved self URL; sourceSlug identifies the
// seed that produced it, disambiguating title collisions across sources.
func Normalize(doc Document, sourceURL, sourceSlug string) Collection {
	col := Collection{
		ID:             doc.ID,
		Title:          doc.Title,
		Description:    doc.Description,
		License:        doc.License,
		Keywords:       doc.Keywords,
		StacExtensions: doc.StacExtensions,
		Providers:      doc.Providers,
		Assets:         doc.Assets,
		Summaries:      doc.Summaries,
		SourceURL:      sourceURL,
		SourceSlug:     sourceSlug,
	}
	if col.ID == "" {
		col.ID = PlaceholderID
	}
	if doc.Extent != nil {
		col.BBox = firstBBox(doc.Extent.Spatial.BBox)
		col.TemporalStart, col.TemporalEnd = firstInterval(doc.Extent.Temporal.Interval)
	}
	return col
}

// firstBBox keeps at most one 4- or 6-tuple; anything else is discarded.
func firstBBox(boxes [][]float64) []float64 {
	for _, b := range boxes {
		if len(b) == 4 || len(b) == 6 {
			out := make([]float64, len(b))
			copy(out, b)
			return out
		}
	}
	return nil
}

// firstInterval parses the first temporal interval; either bound may be null
// or unparseable, in which case it stays open.
func firstInterval(intervals [][]*string) (*time.Time, *time.Time) {
	if len(intervals) == 0 || len(intervals[0]) < 2 {
		return nil, nil
	}
	return parseBound(intervals[0][0]), parseBound(intervals[0][1])
}

func parseBound(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
