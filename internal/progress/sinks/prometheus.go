package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stacmap/stac-crawler/internal/progress"
)

// PrometheusSink exports crawl progress via Prometheus. It owns the
// collectors for cycles, running domains, fetches, and saved collections.
type PrometheusSink struct {
	cyclesStarted   prometheus.Counter
	cyclesCompleted *prometheus.CounterVec
	cycleRuntime    *prometheus.HistogramVec
	domainsRunning  prometheus.Gauge

	fetchRequests *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	collectionsSaved *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		cyclesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stac_crawler_cycles_started_total",
			Help: "Total crawl cycles that have started.",
		}),
		cyclesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stac_crawler_cycles_completed_total",
			Help: "Total crawl cycles completed partitioned by result.",
		}, []string{"result"}),
		cycleRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stac_crawler_cycle_runtime_seconds",
			Help:    "Wall time per completed crawl cycle.",
			Buckets: []float64{60, 300, 900, 3600, 14400, 43200, 86400, 259200},
		}, []string{"result"}),
		domainsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stac_crawler_domains_running",
			Help: "Domain workers currently crawling.",
		}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stac_crawler_fetch_requests_total",
			Help: "Fetch completions partitioned by domain and status class.",
		}, []string{"domain", "status_class"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stac_crawler_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by domain and status class.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"domain", "status_class"}),
		collectionsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stac_crawler_collections_saved_total",
			Help: "Collections persisted partitioned by availability verdict.",
		}, []string{"active"}),
	}
	for _, collector := range []prometheus.Collector{
		s.cyclesStarted,
		s.cyclesCompleted,
		s.cycleRuntime,
		s.domainsRunning,
		s.fetchRequests,
		s.fetchDuration,
		s.collectionsSaved,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageCycleStart:
		s.cyclesStarted.Inc()
	case progress.StageCycleDone:
		s.cyclesCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageCycleError:
		s.cyclesCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	case progress.StageDomainStart:
		s.domainsRunning.Inc()
	case progress.StageDomainDone:
		s.domainsRunning.Dec()
	case progress.StageFetchDone:
		s.handleFetchEvent(evt)
	case progress.StageCollectionSaved:
		s.collectionsSaved.WithLabelValues(fmt.Sprintf("%t", evt.Active)).Inc()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.cycleRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleFetchEvent(evt progress.Event) {
	domain := evt.Domain
	if domain == "" {
		domain = "unknown"
	}
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.fetchRequests.WithLabelValues(domain, statusClass).Inc()
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(domain, statusClass).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
