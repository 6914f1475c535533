package rtreport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"lsfleet-agent/internal/model"
)

const maxLineBytes = 1 << 20

// deniedLabels are internal virtual hosts, compared case-insensitively.
var deniedLabels = map[string]struct{}{
	"":            {},
	"_adminvhost": {},
	"example":     {},
}

// Report is the merged result of one or more runtime report documents.
type Report struct {
	Domains model.DomainCounters
	Totals  model.DomainTotals
	Gauges  model.ReportGauges
}

// Aggregator merges report lines. Counters for the same label are summed
// across lines and documents. It is not safe for concurrent use.
type Aggregator struct {
	domains map[string]*model.DomainCounter
	gauges  model.ReportGauges
}

func NewAggregator() *Aggregator {
	return &Aggregator{domains: make(map[string]*model.DomainCounter)}
}

func Denied(label string) bool {
	_, ok := deniedLabels[strings.ToLower(label)]
	return ok
}

func (a *Aggregator) AddLine(line string) {
	ParseGlobalCounters(line).Apply(&a.gauges)

	dc, ok := ParseDomainLine(line)
	if !ok || Denied(dc.Label) {
		return
	}
	if cur, exists := a.domains[dc.Label]; exists {
		cur.Add(dc)
		return
	}
	a.domains[dc.Label] = &dc
}

func (a *Aggregator) AddDocument(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		a.AddLine(sc.Text())
	}
	return sc.Err()
}

// Report returns retained domains ordered by case-insensitive label.
func (a *Aggregator) Report() Report {
	out := make(model.DomainCounters, 0, len(a.domains))
	for _, dc := range a.domains {
		out = append(out, *dc)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := strings.ToLower(out[i].Label), strings.ToLower(out[j].Label)
		if li != lj {
			return li < lj
		}
		return out[i].Label < out[j].Label
	})
	return Report{Domains: out, Totals: out.Totals(), Gauges: a.gauges}
}

func ParseDocuments(docs ...io.Reader) (Report, error) {
	agg := NewAggregator()
	var errs []error
	for i, doc := range docs {
		if err := agg.AddDocument(doc); err != nil {
			errs = append(errs, fmt.Errorf("document %d: %w", i, err))
		}
	}
	return agg.Report(), errors.Join(errs...)
}

// ParseDir merges every file in dir whose name starts with prefix. A missing
// directory yields an empty report. Unreadable files are skipped and reported
// in the returned error alongside the report built from the rest.
func ParseDir(dir, prefix string) (Report, error) {
	paths, err := filepath.Glob(filepath.Join(dir, globEscape(prefix)+"*"))
	if err != nil {
		return NewAggregator().Report(), fmt.Errorf("glob report files: %w", err)
	}
	sort.Strings(paths)

	agg := NewAggregator()
	var errs []error
	for _, path := range paths {
		if err := addFile(agg, path); err != nil {
			errs = append(errs, err)
		}
	}
	return agg.Report(), errors.Join(errs...)
}

func addFile(agg *Aggregator, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if info, err := f.Stat(); err == nil && info.IsDir() {
		return nil
	}
	if err := agg.AddDocument(f); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
