package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lsfleet"

// Metrics holds the agent's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	NodeScrapes        prometheus.Counter
	NodeScrapeDuration prometheus.Histogram
	PollCycles         prometheus.Counter
	PollCycleDuration  prometheus.Histogram
	FetchFailures      *prometheus.CounterVec
	FleetNodes         *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		NodeScrapes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_scrapes_total",
			Help:      "Node snapshots built.",
		}),
		NodeScrapeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_scrape_duration_seconds",
			Help:      "Time spent building one node snapshot.",
			Buckets:   prometheus.DefBuckets,
		}),
		PollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Fleet poll cycles completed.",
		}),
		PollCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Wall time of one fleet poll cycle.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 3, 5, 10},
		}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_fetch_failures_total",
			Help:      "Child fetches recorded as failures.",
		}, []string{"node"}),
		FleetNodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fleet_nodes",
			Help:      "Nodes in the last poll cycle by state.",
		}, []string{"state"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.NodeScrapes,
		m.NodeScrapeDuration,
		m.PollCycles,
		m.PollCycleDuration,
		m.FetchFailures,
		m.FleetNodes,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveScrape(d time.Duration) {
	if m == nil {
		return
	}
	m.NodeScrapes.Inc()
	m.NodeScrapeDuration.Observe(d.Seconds())
}

func (m *Metrics) ObservePoll(d time.Duration, ok, failed int) {
	if m == nil {
		return
	}
	m.PollCycles.Inc()
	m.PollCycleDuration.Observe(d.Seconds())
	m.FleetNodes.WithLabelValues("ok").Set(float64(ok))
	m.FleetNodes.WithLabelValues("failed").Set(float64(failed))
}

func (m *Metrics) FetchFailed(node string) {
	if m == nil {
		return
	}
	m.FetchFailures.WithLabelValues(node).Inc()
}
