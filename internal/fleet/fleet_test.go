package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"lsfleet-agent/internal/model"
	"lsfleet-agent/internal/telemetry"
)

type stubLocal struct {
	calls atomic.Int32
}

func (s *stubLocal) Collect(context.Context) model.NodeSnapshot {
	s.calls.Add(1)
	return model.NodeSnapshot{NodeID: "master-host", Hostname: "master-host"}
}

func childServer(t *testing.T, name string, domains model.DomainCounters) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(model.NodeSnapshot{NodeID: name, Hostname: name, Domains: domains})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// mapFetcher maps a child id to a test server URL.
type mapFetcher struct {
	inner  *HTTPFetcher
	routes map[string]string
}

func (m mapFetcher) Fetch(ctx context.Context, addr string) (model.NodeSnapshot, error) {
	return m.inner.Fetch(ctx, m.routes[addr])
}

func TestParseTargets(t *testing.T) {
	input := `# lsyncd targets
10.0.0.2
10.0.0.3:/var/www/html   # docroot sync

10.0.0.2
127.0.0.1
   10.0.0.4 extra fields ignored
`
	got, err := ParseTargets(strings.NewReader(input), "127.0.0.1")
	if err != nil {
		t.Fatalf("ParseTargets: %v", err)
	}
	want := []string{"10.0.0.2", "10.0.0.3", "10.0.0.4"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("targets = %v; want %v", got, want)
	}
}

func TestReadTargets_MissingFileMeansNoChildren(t *testing.T) {
	got, err := ReadTargets(t.TempDir()+"/absent.conf", "127.0.0.1")
	if err != nil || len(got) != 0 {
		t.Errorf("ReadTargets = %v, %v; want empty, nil", got, err)
	}
}

func TestHTTPFetcher(t *testing.T) {
	ok := childServer(t, "web-02", nil)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer bad.Close()
	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer garbage.Close()
	marker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"local data unavailable"}`))
	}))
	defer marker.Close()

	f := NewHTTPFetcher("{addr}", nil)
	ctx := context.Background()

	snap, err := f.Fetch(ctx, ok.URL)
	if err != nil || snap.Hostname != "web-02" {
		t.Errorf("Fetch ok = %+v, %v", snap, err)
	}
	if _, err := f.Fetch(ctx, bad.URL); !errors.Is(err, ErrBadStatus) {
		t.Errorf("Fetch 500 err = %v; want ErrBadStatus", err)
	}
	if _, err := f.Fetch(ctx, garbage.URL); !errors.Is(err, ErrDecode) {
		t.Errorf("Fetch garbage err = %v; want ErrDecode", err)
	}
	if _, err := f.Fetch(ctx, marker.URL); err == nil || !strings.Contains(err.Error(), "local data unavailable") {
		t.Errorf("Fetch marker err = %v", err)
	}
}

func TestHTTPFetcher_URLTemplate(t *testing.T) {
	f := NewHTTPFetcher("http://{addr}:8090/api/v1/node?json=1", nil)
	if got := f.URL("10.0.0.9"); got != "http://10.0.0.9:8090/api/v1/node?json=1" {
		t.Errorf("URL = %s", got)
	}
}

func TestPoll_OneChildTimesOut(t *testing.T) {
	hung := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer hung.Close()
	a1 := childServer(t, "web-02", nil)
	a2 := childServer(t, "web-03", nil)

	fetcher := mapFetcher{
		inner:  NewHTTPFetcher("{addr}", nil),
		routes: map[string]string{"10.0.0.2": a1.URL, "10.0.0.3": a2.URL, "10.0.0.4": hung.URL},
	}
	metrics := telemetry.NewMetrics()
	timeout := 300 * time.Millisecond
	agg := NewAggregator(&stubLocal{}, fetcher, StaticTargets{"10.0.0.2", "10.0.0.3", "10.0.0.4"},
		AggregatorOptions{Timeout: timeout, Metrics: metrics})

	started := time.Now()
	view := agg.Poll(context.Background())
	elapsed := time.Since(started)

	if elapsed > timeout+collectGrace+200*time.Millisecond {
		t.Errorf("poll took %v; want about %v", elapsed, timeout)
	}
	if len(view.Nodes) != 4 {
		t.Fatalf("nodes = %v; want master plus 3 children", view.Nodes)
	}
	if !view.Nodes[model.MasterNodeID].OK() || !view.Nodes["10.0.0.2"].OK() || !view.Nodes["10.0.0.3"].OK() {
		t.Errorf("live nodes not all OK: %+v", view.Nodes)
	}
	if r := view.Nodes["10.0.0.4"]; r.OK() || r.Error == "" {
		t.Errorf("hung child = %+v; want failure marker", r)
	}
	if view.Failures() != 1 {
		t.Errorf("Failures = %d; want 1", view.Failures())
	}
	if view.CycleID == "" {
		t.Error("cycle id not set")
	}
	if got := testutil.ToFloat64(metrics.FetchFailures.WithLabelValues("10.0.0.4")); got != 1 {
		t.Errorf("fetch failure counter = %v; want 1", got)
	}
}

// stuckFetcher ignores its context until release is closed.
type stuckFetcher struct{ release chan struct{} }

func (f stuckFetcher) Fetch(context.Context, string) (model.NodeSnapshot, error) {
	<-f.release
	return model.NodeSnapshot{}, errors.New("released")
}

func TestPoll_CancelledContextMarksPendingChildren(t *testing.T) {
	fetcher := stuckFetcher{release: make(chan struct{})}
	defer close(fetcher.release)
	agg := NewAggregator(&stubLocal{}, fetcher, StaticTargets{"10.0.0.2"}, AggregatorOptions{Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	view := agg.Poll(ctx)

	r := view.Nodes["10.0.0.2"]
	if r.OK() || !strings.Contains(r.Error, context.Canceled.Error()) {
		t.Errorf("pending child = %+v; want a context canceled marker", r)
	}
	if strings.Contains(r.Error, "timed out") {
		t.Errorf("cancelled cycle reported as timeout: %q", r.Error)
	}
}

func TestLatest_ServesLastCycle(t *testing.T) {
	child := childServer(t, "web-02", nil)
	fetcher := mapFetcher{inner: NewHTTPFetcher("{addr}", nil), routes: map[string]string{"10.0.0.2": child.URL}}
	local := &stubLocal{}
	agg := NewAggregator(local, fetcher, StaticTargets{"10.0.0.2"}, AggregatorOptions{Timeout: time.Second})
	ctx := context.Background()

	if _, ok := agg.Latest(); ok {
		t.Fatal("Latest reported a cycle before any poll")
	}
	view := agg.Poll(ctx)
	latest, ok := agg.Latest()
	if !ok || latest.CycleID != view.CycleID {
		t.Fatalf("Latest = %q, %v; want %q", latest.CycleID, ok, view.CycleID)
	}

	child.Close()
	if r, err := agg.FetchOne(ctx, "10.0.0.2"); err != nil || !r.OK() || r.Snapshot.Hostname != "web-02" {
		t.Errorf("child = %+v, %v; want cached snapshot", r, err)
	}
	if r, err := agg.FetchOne(ctx, model.MasterNodeID); err != nil || !r.OK() {
		t.Errorf("master = %+v, %v", r, err)
	}
	if got := local.calls.Load(); got != 1 {
		t.Errorf("local collect calls = %d; want 1", got)
	}
}

func TestPoll_MalformedChildIsFailure(t *testing.T) {
	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{\"hostname\":"))
	}))
	defer garbage.Close()

	fetcher := mapFetcher{inner: NewHTTPFetcher("{addr}", nil), routes: map[string]string{"bad": garbage.URL}}
	agg := NewAggregator(&stubLocal{}, fetcher, StaticTargets{"bad"}, AggregatorOptions{Timeout: time.Second})

	view := agg.Poll(context.Background())

	r, ok := view.Nodes["bad"]
	if !ok || r.OK() {
		t.Fatalf("bad child = %+v (present %v); want failure marker", r, ok)
	}
	raw, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(raw), `{"error":`) {
		t.Errorf("marker JSON = %s", raw)
	}
}

func TestPoll_NoChildrenStillHasMaster(t *testing.T) {
	local := &stubLocal{}
	agg := NewAggregator(local, nil, FileTargets{Path: t.TempDir() + "/missing.conf"}, AggregatorOptions{})

	view := agg.Poll(context.Background())

	if len(view.Nodes) != 1 || !view.Nodes[model.MasterNodeID].OK() {
		t.Errorf("view = %+v; want master only", view.Nodes)
	}
	if local.calls.Load() != 1 {
		t.Errorf("local collect calls = %d; want 1", local.calls.Load())
	}
}

func TestFetchOne(t *testing.T) {
	child := childServer(t, "web-02", nil)
	fetcher := mapFetcher{inner: NewHTTPFetcher("{addr}", nil), routes: map[string]string{"10.0.0.2": child.URL}}
	agg := NewAggregator(&stubLocal{}, fetcher, StaticTargets{"10.0.0.2"}, AggregatorOptions{Timeout: time.Second})
	ctx := context.Background()

	if r, err := agg.FetchOne(ctx, model.MasterNodeID); err != nil || !r.OK() {
		t.Errorf("master = %+v, %v", r, err)
	}
	if r, err := agg.FetchOne(ctx, "10.0.0.2"); err != nil || r.Snapshot.Hostname != "web-02" {
		t.Errorf("child = %+v, %v", r, err)
	}
	if _, err := agg.FetchOne(ctx, "169.254.169.254"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("unconfigured node err = %v; want ErrUnknownNode", err)
	}
}

func TestDomainMatrix(t *testing.T) {
	view := model.FleetView{
		CycleID: "cycle",
		Nodes: map[string]model.NodeResult{
			model.MasterNodeID: model.Succeeded(model.NodeSnapshot{Hostname: "m", Domains: model.DomainCounters{
				{Label: "shop.io", ReqProcessing: 1, ReqPerSec: 0.5, TotalReqs: 10},
				{Label: "blog.io", ReqProcessing: 0, ReqPerSec: 0.1, TotalReqs: 4},
			}}),
			"10.0.0.2": model.Succeeded(model.NodeSnapshot{Hostname: "c", Domains: model.DomainCounters{
				{Label: "Shop.io", TotalReqs: 1},
				{Label: "shop.io", ReqProcessing: 2, ReqPerSec: 1.5, TotalReqs: 20},
			}}),
			"10.0.0.3": {Error: "timed out"},
		},
	}

	m := DomainMatrix(view)

	if strings.Join(m.Nodes, ",") != "master,10.0.0.2" {
		t.Errorf("Nodes = %v", m.Nodes)
	}
	if m.Failed["10.0.0.3"] != "timed out" {
		t.Errorf("Failed = %v", m.Failed)
	}
	var labels []string
	for _, row := range m.Domains {
		labels = append(labels, row.Label)
	}
	if strings.Join(labels, ",") != "blog.io,Shop.io,shop.io" {
		t.Errorf("labels = %v", labels)
	}
	shop := m.Domains[2]
	if shop.Total.ReqProcessing != 3 || shop.Total.TotalReqs != 30 || shop.Total.ReqPerSec != 2.0 {
		t.Errorf("shop.io total = %+v", shop.Total)
	}
	if len(shop.PerNode) != 2 {
		t.Errorf("shop.io per node = %v", shop.PerNode)
	}
}

func TestOrderedNodes(t *testing.T) {
	view := model.FleetView{Nodes: map[string]model.NodeResult{
		"b": {}, model.MasterNodeID: {}, "a": {},
	}}
	if got := strings.Join(OrderedNodes(view), ","); got != "master,a,b" {
		t.Errorf("OrderedNodes = %s", got)
	}
}
