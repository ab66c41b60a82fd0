package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/stacmap/stac-crawler/internal/progress"
)

func promEvent(stage progress.Stage) progress.Event {
	return progress.Event{
		RunID:       "run-1",
		TS:          time.Now().UTC(),
		Stage:       stage,
		Domain:      "example.com",
		URL:         "https://example.com/catalog.json",
		StatusClass: progress.Status2xx,
		Dur:         120 * time.Millisecond,
	}
}

func TestPrometheusSinkCycleCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batch := []progress.Event{
		promEvent(progress.StageCycleStart),
		promEvent(progress.StageCycleDone),
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, float64(1), testutil.ToFloat64(sink.cyclesStarted))
	require.Equal(t, float64(1),
		testutil.ToFloat64(sink.cyclesCompleted.WithLabelValues("success")))
}

func TestPrometheusSinkDomainGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		promEvent(progress.StageDomainStart),
		promEvent(progress.StageDomainStart),
		promEvent(progress.StageDomainDone),
	}))

	require.Equal(t, float64(1), testutil.ToFloat64(sink.domainsRunning))
}

func TestPrometheusSinkFetchLabels(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	evt := promEvent(progress.StageFetchDone)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{evt}))

	counter := sink.fetchRequests.WithLabelValues("example.com", "2xx")
	require.Equal(t, float64(1), testutil.ToFloat64(counter))
}

func TestPrometheusSinkCollectionsSavedByVerdict(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	active := promEvent(progress.StageCollectionSaved)
	active.Active = true
	inactive := promEvent(progress.StageCollectionSaved)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{active, inactive}))

	require.Equal(t, float64(1),
		testutil.ToFloat64(sink.collectionsSaved.WithLabelValues("true")))
	require.Equal(t, float64(1),
		testutil.ToFloat64(sink.collectionsSaved.WithLabelValues("false")))
}

func TestPrometheusSinkDoubleRegistrationFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
