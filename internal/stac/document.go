// Package stac parses, classifies, and normalizes STAC catalog and
// collection documents fetched from remote catalogs.
package stac

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies a parsed STAC document.
type Kind string

// Document kinds produced by Classify.
const (
	KindCatalog    Kind = "catalog"
	KindCollection Kind = "collection"
	KindInvalid    Kind = "invalid"
)

// ErrNotSTAC reports a body that parsed as JSON but exposes none of the
// capabilities of a STAC catalog or collection.
var ErrNotSTAC = errors.New("document is not a recognizable STAC catalog or collection")

// Link is a STAC link object.
type Link struct {
	Rel   string `json:"rel"`
	Href  string `json:"href"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

// Provider describes an organization associated with a collection.
type Provider struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles,omitempty"`
	URL   string   `json:"url,omitempty"`
}

// Asset describes a downloadable artifact attached to a collection.
type Asset struct {
	Href  string   `json:"href"`
	Title string   `json:"title,omitempty"`
	Type  string   `json:"type,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Extent carries the raw spatial and temporal extent shapes from the wire.
type Extent struct {
	Spatial struct {
		BBox [][]float64 `json:"bbox"`
	} `json:"spatial"`
	Temporal struct {
		Interval [][]*string `json:"interval"`
	} `json:"temporal"`
}

// Document is a classified STAC document. The Kind tag is derived from the
// capabilities the body actually exposes, never from its "type" field alone:
// plenty of live servers omit or mislabel it.
type Document struct {
	Kind           Kind
	ID             string
	Title          string
	Description    string
	License        string
	Keywords       []string
	StacExtensions []string
	Providers      []Provider
	Assets         map[string]Asset
	Summaries      map[string]json.RawMessage
	Extent         *Extent
	Links          []Link
	ConformsTo     []string
}

// rawDocument is the loose wire shape accepted by Classify.
type rawDocument struct {
	Type           string                     `json:"type"`
	ID             string                     `json:"id"`
	Title          string                     `json:"title"`
	Description    string                     `json:"description"`
	License        string                     `json:"license"`
	Keywords       []string                   `json:"keywords"`
	StacExtensions []string                   `json:"stac_extensions"`
	Providers      []Provider                 `json:"providers"`
	Assets         map[string]Asset           `json:"assets"`
	Summaries      map[string]json.RawMessage `json:"summaries"`
	Extent         *Extent                    `json:"extent"`
	Links          []Link                     `json:"links"`
	ConformsTo     []string                   `json:"conformsTo"`
}

// Classify parses body and decides whether it is a catalog, a collection, or
// neither. A nil body, a non-object body, or malformed JSON yields
// KindInvalid with a non-nil error.
func Classify(body []byte) (Document, error) {
	if len(body) == 0 {
		return Document{Kind: KindInvalid}, errors.New("empty document body")
	}
	var raw rawDocument
	if err := json.Unmarshal(body, &raw); err != nil {
		return Document{Kind: KindInvalid}, fmt.Errorf("parse stac document: %w", err)
	}
	doc := Document{
		ID:             raw.ID,
		Title:          raw.Title,
		Description:    raw.Description,
		License:        raw.License,
		Keywords:       raw.Keywords,
		StacExtensions: raw.StacExtensions,
		Providers:      raw.Providers,
		Assets:         raw.Assets,
		Summaries:      raw.Summaries,
		Extent:         raw.Extent,
		Links:          raw.Links,
		ConformsTo:     raw.ConformsTo,
	}

	switch {
	case doc.isCollection():
		doc.Kind = KindCollection
	case doc.isCatalog():
		doc.Kind = KindCatalog
	default:
		return Document{Kind: KindInvalid}, ErrNotSTAC
	}
	return doc, nil
}

// isCollection is capability inspection: a collection declares an extent or a
// license, regardless of what its type field claims.
func (d Document) isCollection() bool {
	if d.Extent != nil {
		return true
	}
	return d.License != "" && (d.ID != "" || d.Description != "")
}

// isCatalog accepts anything with an identity and links to follow.
func (d Document) isCatalog() bool {
	if len(d.Links) == 0 && len(d.ConformsTo) == 0 {
		return false
	}
	return d.ID != "" || d.Description != "" || d.Title != ""
}

// LinkByRel returns the first link with one of the given rel values.
func (d Document) LinkByRel(rels ...string) (Link, bool) {
	for _, rel := range rels {
		for _, l := range d.Links {
			if l.Rel == rel && l.Href != "" {
				return l, true
			}
		}
	}
	return Link{}, false
}

// ChildLinks returns the links a crawler should descend into. Static catalogs
// publish rel="child" links; API roots frequently publish nested catalogs
// under arbitrary rel values, so for those every navigational link that is
// not self-referential is considered a child.
func (d Document) ChildLinks(apiRoot bool) []Link {
	var out []Link
	for _, l := range d.Links {
		if l.Href == "" {
			continue
		}
		switch l.Rel {
		case "child":
			out = append(out, l)
		case "self", "root", "parent", "data", "collections", "search",
			"service-desc", "service-doc", "conformance", "items", "license":
			continue
		default:
			if apiRoot {
				out = append(out, l)
			}
		}
	}
	return out
}

// collectionListing matches the {"collections": [...]} envelope returned by
// API collection endpoints.
type collectionListing struct {
	Collections []json.RawMessage `json:"collections"`
}

// ParseCollectionList parses a collections-endpoint response. The body may be
// a bare JSON array, a {"collections": [...]} envelope, or a single
// collection document (some servers paginate a "collection of collections").
// Members that fail classification are skipped and counted in the second
// return value.
func ParseCollectionList(body []byte) ([]Document, int, error) {
	if len(body) == 0 {
		return nil, 0, errors.New("empty collections response")
	}

	var members []json.RawMessage
	if err := json.Unmarshal(body, &members); err != nil {
		var envelope collectionListing
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, 0, fmt.Errorf("parse collections response: %w", err)
		}
		if envelope.Collections == nil {
			// A single document rather than a listing.
			doc, cerr := Classify(body)
			if cerr != nil {
				return nil, 1, nil
			}
			return []Document{doc}, 0, nil
		}
		members = envelope.Collections
	}

	docs := make([]Document, 0, len(members))
	invalid := 0
	for _, m := range members {
		doc, err := Classify(m)
		if err != nil {
			invalid++
			continue
		}
		docs = append(docs, doc)
	}
	return docs, invalid, nil
}
