package telemetry

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RecordsAndServes(t *testing.T) {
	m := NewMetrics()
	m.ObserveScrape(20 * time.Millisecond)
	m.ObserveScrape(30 * time.Millisecond)
	m.ObservePoll(time.Second, 3, 1)
	m.FetchFailed("10.0.0.7")

	if got := testutil.ToFloat64(m.NodeScrapes); got != 2 {
		t.Errorf("node scrapes = %v; want 2", got)
	}
	if got := testutil.ToFloat64(m.FleetNodes.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed nodes = %v; want 1", got)
	}
	if got := testutil.ToFloat64(m.FetchFailures.WithLabelValues("10.0.0.7")); got != 1 {
		t.Errorf("fetch failures = %v; want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, name := range []string{"lsfleet_node_scrapes_total", "lsfleet_poll_cycle_duration_seconds", "lsfleet_fleet_nodes"} {
		if !strings.Contains(body, name) {
			t.Errorf("exposition missing %s", name)
		}
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveScrape(time.Second)
	m.ObservePoll(time.Second, 1, 0)
	m.FetchFailed("x")
	if m.Registry() != nil {
		t.Error("nil metrics returned a registry")
	}
}
