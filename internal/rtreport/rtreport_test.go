package rtreport

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lsfleet-agent/internal/model"
)

const reportA = `VERSION: LiteSpeed Web Server/Open/1.7.19
UPTIME: 02:10:33
BPS_IN: 1, BPS_OUT: 2, SSL_BPS_IN: 0, SSL_BPS_OUT: 0
MAXCONN: 10000, MAXSSL_CONN: 5000, PLAINCONN: 12, AVAILCONN: 9988, IDLECONN: 3, SSLCONN: 4, AVAILSSL: 4996
REQ_RATE []: REQ_PROCESSING: 2, REQ_PER_SEC: 0.5, TOT_REQS: 1000, PUB_CACHE_HITS_PER_SEC: 0.0
REQ_RATE [shop.example.org]: REQ_PROCESSING: 3, REQ_PER_SEC: 1.5, TOT_REQS: 900, PUB_CACHE_HITS_PER_SEC: 0.0
REQ_RATE [_AdminVHost]: REQ_PROCESSING: 1, REQ_PER_SEC: 0.1, TOT_REQS: 7
EXTAPP [LSAPI] [] [lsphp]: CMAXCONN: 35, EMAXCONN: 35, POOL_SIZE: 2, INUSE_CONN: 1, IDLE_CONN: 1, WAITQUE_DEPTH: 0, REQ_PER_SEC: 0.0, TOT_REQS: 50
BLOCKED_IP:
`

const reportB = `MAXCONN: 20000, MAXSSL_CONN: 100, PLAINCONN: 3, SSLCONN: 1
REQ_RATE [shop.example.org]: REQ_PROCESSING: 3, REQ_PER_SEC: 1.5, TOT_REQS: 900
REQ_RATE [Alpha.net]: TOT_REQS: 10, REQ_PER_SEC: 0.2, REQ_PROCESSING: 0
REQ_RATE [EXAMPLE]: REQ_PROCESSING: 9, REQ_PER_SEC: 9.0, TOT_REQS: 9
EXTAPP [LSAPI] [shop.example.org] [lsphp]: INUSE_CONN: 2, IDLE_CONN: 0
`

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestTokenize_WholeKeysOnly(t *testing.T) {
	toks := Tokenize("CMAXCONN: 35, EMAXCONN: 35, MAXCONN: 7, REQ_PER_SEC: 1.25")
	want := []Token{
		{Key: "CMAXCONN", Value: "35"},
		{Key: "EMAXCONN", Value: "35"},
		{Key: "MAXCONN", Value: "7"},
		{Key: "REQ_PER_SEC", Value: "1.25"},
	}
	if len(toks) != len(want) {
		t.Fatalf("Tokenize = %v; want %v", toks, want)
	}
	for i := range want {
		if toks[i] != want[i] {
			t.Errorf("token %d = %v; want %v", i, toks[i], want[i])
		}
	}
	if got := Tokenize("BLOCKED_IP:"); got != nil {
		t.Errorf("Tokenize without value = %v; want nil", got)
	}
}

func TestTokenInt_TruncatesFractions(t *testing.T) {
	if got := (Token{Value: "12.9"}).Int(); got != 12 {
		t.Errorf("Int = %d; want 12", got)
	}
}

func TestParseDomainLine(t *testing.T) {
	cases := []struct {
		name  string
		line  string
		ok    bool
		label string
		proc  int64
		rate  float64
		total int64
	}{
		{
			name:  "canonical order",
			line:  "REQ_RATE [shop.example.org]: REQ_PROCESSING: 3, REQ_PER_SEC: 1.5, TOT_REQS: 900",
			ok:    true,
			label: "shop.example.org", proc: 3, rate: 1.5, total: 900,
		},
		{
			name:  "fields out of order",
			line:  "REQ_RATE [a.io]: TOT_REQS: 5, REQ_PROCESSING: 1, REQ_PER_SEC: 0.25",
			ok:    true,
			label: "a.io", proc: 1, rate: 0.25, total: 5,
		},
		{
			name:  "empty label still matches",
			line:  "REQ_RATE []: REQ_PROCESSING: 2, REQ_PER_SEC: 0.5, TOT_REQS: 1000",
			ok:    true,
			label: "", proc: 2, rate: 0.5, total: 1000,
		},
		{name: "missing field", line: "REQ_RATE [a.io]: REQ_PROCESSING: 1, TOT_REQS: 5"},
		{name: "no label", line: "REQ_PROCESSING: 1, REQ_PER_SEC: 0.1, TOT_REQS: 5"},
		{name: "unrelated", line: "UPTIME: 02:10:33"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dc, ok := ParseDomainLine(tc.line)
			if ok != tc.ok {
				t.Fatalf("ok = %v; want %v", ok, tc.ok)
			}
			if !ok {
				return
			}
			if dc.Label != tc.label || dc.ReqProcessing != tc.proc || !approx(dc.ReqPerSec, tc.rate) || dc.TotalReqs != tc.total {
				t.Errorf("ParseDomainLine = %+v; want {%s %d %v %d}", dc, tc.label, tc.proc, tc.rate, tc.total)
			}
		})
	}
}

func TestParseGlobalCounters_IndependentFields(t *testing.T) {
	u := ParseGlobalCounters("EXTAPP [LSAPI] [] [lsphp]: CMAXCONN: 35, INUSE_CONN: 4, IDLE_CONN: 6")

	if u.PHPBusy == nil || *u.PHPBusy != 4 {
		t.Errorf("PHPBusy = %v; want 4", u.PHPBusy)
	}
	if u.PHPIdle == nil || *u.PHPIdle != 6 {
		t.Errorf("PHPIdle = %v; want 6", u.PHPIdle)
	}
	if u.MaxHTTP != nil {
		t.Errorf("MaxHTTP = %d; CMAXCONN must not count as MAXCONN", *u.MaxHTTP)
	}
	if u.ReqProcessing != nil || u.HTTPActive != nil {
		t.Errorf("unexpected fields in %+v", u)
	}
	if !ParseGlobalCounters("VERSION: LiteSpeed").Empty() {
		t.Error("line without known keys should yield an empty update")
	}
}

func TestParseDocuments_SumsAcrossDocuments(t *testing.T) {
	rep, err := ParseDocuments(strings.NewReader(reportA), strings.NewReader(reportB))
	if err != nil {
		t.Fatalf("ParseDocuments: %v", err)
	}

	shop, ok := rep.Domains.Lookup("shop.example.org")
	if !ok {
		t.Fatalf("shop.example.org missing from %v", rep.Domains)
	}
	if shop.ReqProcessing != 6 || !approx(shop.ReqPerSec, 3.0) || shop.TotalReqs != 1800 {
		t.Errorf("shop.example.org = %+v; want 6 / 3.0 / 1800", shop)
	}

	if rep.Totals.ReqProcessing != 6 || rep.Totals.TotalReqs != 1810 || !approx(rep.Totals.ReqPerSec, 3.2) {
		t.Errorf("Totals = %+v", rep.Totals)
	}

	g := rep.Gauges
	if g.MaxHTTP != 20000 || g.MaxHTTPS != 5000 {
		t.Errorf("max gauges = %d/%d; want 20000/5000", g.MaxHTTP, g.MaxHTTPS)
	}
	if g.HTTPActive != 15 || g.HTTPSActive != 5 {
		t.Errorf("active connections = %d/%d; want 15/5", g.HTTPActive, g.HTTPSActive)
	}
	if g.PHPBusy != 3 || g.PHPIdle != 1 {
		t.Errorf("php workers = %d/%d; want 3/1", g.PHPBusy, g.PHPIdle)
	}
	// Global counters include every line carrying the key, denylisted hosts too.
	if g.ReqProcessing != 18 || g.TotalReqs != 2876 {
		t.Errorf("request gauges = %d/%d; want 18/2876", g.ReqProcessing, g.TotalReqs)
	}
}

func TestReport_DenylistAndOrdering(t *testing.T) {
	rep, err := ParseDocuments(strings.NewReader(reportA), strings.NewReader(reportB))
	if err != nil {
		t.Fatalf("ParseDocuments: %v", err)
	}

	var labels []string
	for _, dc := range rep.Domains {
		labels = append(labels, dc.Label)
	}
	want := []string{"Alpha.net", "shop.example.org"}
	if strings.Join(labels, ",") != strings.Join(want, ",") {
		t.Errorf("labels = %v; want %v", labels, want)
	}

	for _, label := range []string{"", "_AdminVHost", "_adminvhost", "Example", "EXAMPLE"} {
		if !Denied(label) {
			t.Errorf("Denied(%q) = false; want true", label)
		}
	}
	for _, label := range []string{"example.com", " example ", "_adminvhost "} {
		if Denied(label) {
			t.Errorf("Denied(%q) = true; only exact labels are reserved", label)
		}
	}
}

func TestReport_CaseInsensitiveOrder(t *testing.T) {
	agg := NewAggregator()
	for _, label := range []string{"beta.io", "Zeta.io", "alpha.io", "Beta.io"} {
		agg.AddLine("REQ_RATE [" + label + "]: REQ_PROCESSING: 1, REQ_PER_SEC: 1, TOT_REQS: 1")
	}

	var labels []string
	for _, dc := range agg.Report().Domains {
		labels = append(labels, dc.Label)
	}
	want := "alpha.io,Beta.io,beta.io,Zeta.io"
	if got := strings.Join(labels, ","); got != want {
		t.Errorf("order = %s; want %s", got, want)
	}
}

func TestParseDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		".rtreport":   reportA,
		".rtreport.2": reportB,
		"unrelated":   "REQ_RATE [ignored.io]: REQ_PROCESSING: 1, REQ_PER_SEC: 1, TOT_REQS: 1\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	rep, err := ParseDir(dir, ".rtreport")
	if err != nil {
		t.Fatalf("ParseDir: %v", err)
	}
	if len(rep.Domains) != 2 {
		t.Errorf("domains = %v; want 2 entries", rep.Domains)
	}
	if _, ok := rep.Domains.Lookup("ignored.io"); ok {
		t.Error("file without the report prefix was parsed")
	}
}

func TestParseDir_MissingDirectoryIsEmpty(t *testing.T) {
	rep, err := ParseDir(filepath.Join(t.TempDir(), "absent"), ".rtreport")
	if err != nil {
		t.Fatalf("ParseDir: %v", err)
	}
	if len(rep.Domains) != 0 || rep.Gauges != (model.ReportGauges{}) {
		t.Errorf("report = %+v; want empty", rep)
	}
}
