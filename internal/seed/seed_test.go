package seed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testEntries() []Entry {
	return []Entry{
		{URL: "https://a.io/catalog.json", Slug: "a"},
		{URL: "https://b.io/", Slug: "b", IsAPI: true},
		{URL: "https://c.io/catalog.json", Slug: "c"},
		{URL: "https://d.io/", Slug: "d", IsAPI: true},
		{URL: "https://e.io/catalog.json", Slug: "e"},
	}
}

func TestModeValid(t *testing.T) {
	t.Parallel()

	assert.True(t, ModeCatalogs.Valid())
	assert.True(t, ModeAPIs.Valid())
	assert.True(t, ModeBoth.Valid())
	assert.False(t, Mode("everything").Valid())
	assert.False(t, Mode("").Valid())
}

func TestFilterByMode(t *testing.T) {
	t.Parallel()

	catalogs := Filter(testEntries(), ModeCatalogs, 0, 0)
	assert.Len(t, catalogs, 3)
	for _, e := range catalogs {
		assert.False(t, e.IsAPI)
	}

	apis := Filter(testEntries(), ModeAPIs, 0, 0)
	assert.Len(t, apis, 2)
	for _, e := range apis {
		assert.True(t, e.IsAPI)
	}

	both := Filter(testEntries(), ModeBoth, 0, 0)
	assert.Len(t, both, 5)
}

func TestFilterAppliesCaps(t *testing.T) {
	t.Parallel()

	out := Filter(testEntries(), ModeBoth, 2, 1)
	var catalogs, apis int
	for _, e := range out {
		if e.IsAPI {
			apis++
		} else {
			catalogs++
		}
	}
	assert.Equal(t, 2, catalogs)
	assert.Equal(t, 1, apis)

	// A zero cap means unlimited, not none.
	assert.Len(t, Filter(testEntries(), ModeBoth, 0, 0), 5)
}

func TestFilterPreservesOrder(t *testing.T) {
	t.Parallel()

	out := Filter(testEntries(), ModeCatalogs, 2, 0)
	assert.Equal(t, "a", out[0].Slug)
	assert.Equal(t, "c", out[1].Slug)
}
