package stac

import (
	"fmt"
	"net/url"
	"strings"
)

// ResolveLink turns a link href found in a document at base into an absolute,
// fetchable HTTP(S) URL. Relative hrefs are resolved against base. S3-scheme
// hrefs are rewritten to their virtual-hosted HTTPS form. Absolute hrefs with
// any other scheme are rejected.
func ResolveLink(base, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("empty href")
	}
	if strings.HasPrefix(href, "s3://") {
		return rewriteS3(href)
	}

	u, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse href %q: %w", href, err)
	}
	if u.IsAbs() {
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", fmt.Errorf("unsupported scheme %q in %q", u.Scheme, href)
		}
		return u.String(), nil
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base %q: %w", base, err)
	}
	return baseURL.ResolveReference(u).String(), nil
}

// rewriteS3 maps s3://bucket/key to https://bucket.s3.amazonaws.com/key.
func rewriteS3(href string) (string, error) {
	rest := strings.TrimPrefix(href, "s3://")
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", fmt.Errorf("malformed s3 url %q", href)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", bucket, key), nil
}

// SelfURL derives the canonical URL of a document, preferring its self link,
// then its root link, and finally the URL it was fetched from. The returned
// URL seeds later availability probes, so it must be absolute.
func (d Document) SelfURL(fetchedFrom string) string {
	if link, ok := d.LinkByRel("self", "root"); ok {
		if resolved, err := ResolveLink(fetchedFrom, link.Href); err == nil {
			return resolved
		}
	}
	return fetchedFrom
}

// CollectionsURL derives the collections-listing endpoint for a catalog or
// API root. STAC advertises it with rel="data" or rel="collections"; servers
// that advertise neither almost always serve it at {base}/collections.
func (d Document) CollectionsURL(base string) (string, error) {
	if link, ok := d.LinkByRel("data", "collections"); ok {
		resolved, err := ResolveLink(base, link.Href)
		if err != nil {
			return "", fmt.Errorf("resolve collections link: %w", err)
		}
		return resolved, nil
	}
	return strings.TrimRight(base, "/") + "/collections", nil
}
