package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stacmap/stac-crawler/internal/crawl"
	"github.com/stacmap/stac-crawler/internal/progress"
	"github.com/stacmap/stac-crawler/internal/progress/sinks"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestServer(t *testing.T, pingErr error) (*Server, *crawl.Aggregator) {
	t.Helper()
	agg := crawl.NewAggregator(zap.NewNop())
	reg := prometheus.NewRegistry()
	return NewServer(fakePinger{err: pingErr}, agg, reg, zap.NewNop()), agg
}

func TestServerHealthz(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServerReadyz(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready"`)
}

func TestServerReadyzStoreDown(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, errors.New("connection refused"))
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestServerStatusExposesAggregates(t *testing.T) {
	t.Parallel()

	server, agg := newTestServer(t, nil)
	agg.Reset()
	agg.Apply(crawl.Stats{TotalRequests: 12, CollectionsSaved: 5})
	agg.DomainStarted()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_requests":12`)
	assert.Contains(t, rec.Body.String(), `"collections_saved":5`)
	assert.Contains(t, rec.Body.String(), `"active_domains":1`)
}

func TestServerMetricsServesRegistry(t *testing.T) {
	t.Parallel()

	agg := crawl.NewAggregator(zap.NewNop())
	reg := prometheus.NewRegistry()
	sink, err := sinks.NewPrometheusSink(reg)
	require.NoError(t, err)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{Stage: progress.StageCycleStart},
	}))

	server := NewServer(fakePinger{}, agg, reg, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stac_crawler_cycles_started_total 1")
}
