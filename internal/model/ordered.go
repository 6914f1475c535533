package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CorePercent is one core's utilization; order inside CorePercents is preserved on the wire.
type CorePercent struct {
	Core    string
	Percent float64
}

type CorePercents []CorePercent

func (c CorePercents) MarshalJSON() ([]byte, error) {
	return marshalOrdered(len(c), func(i int) (string, any) { return c[i].Core, c[i].Percent })
}

func (c *CorePercents) UnmarshalJSON(data []byte) error {
	out := CorePercents{}
	err := unmarshalOrdered(data, func(key string, dec *json.Decoder) error {
		var pct float64
		if err := dec.Decode(&pct); err != nil {
			return err
		}
		out = append(out, CorePercent{Core: key, Percent: pct})
		return nil
	})
	if err != nil {
		return err
	}
	*c = out
	return nil
}

// Lookup returns the percent for core and whether it was reported.
func (c CorePercents) Lookup(core string) (float64, bool) {
	for _, cp := range c {
		if cp.Core == core {
			return cp.Percent, true
		}
	}
	return 0, false
}

// DomainCounter holds request counters for one virtual host.
type DomainCounter struct {
	Label         string  `json:"-"`
	ReqProcessing int64   `json:"req_processing"`
	ReqPerSec     float64 `json:"req_per_sec"`
	TotalReqs     int64   `json:"tot_reqs"`
}

func (d *DomainCounter) Add(o DomainCounter) {
	d.ReqProcessing += o.ReqProcessing
	d.ReqPerSec += o.ReqPerSec
	d.TotalReqs += o.TotalReqs
}

// DomainCounters is serialized as a JSON object keyed by label, keeping slice order.
type DomainCounters []DomainCounter

func (d DomainCounters) MarshalJSON() ([]byte, error) {
	return marshalOrdered(len(d), func(i int) (string, any) { return d[i].Label, d[i] })
}

func (d *DomainCounters) UnmarshalJSON(data []byte) error {
	out := DomainCounters{}
	err := unmarshalOrdered(data, func(key string, dec *json.Decoder) error {
		var dc DomainCounter
		if err := dec.Decode(&dc); err != nil {
			return err
		}
		dc.Label = key
		out = append(out, dc)
		return nil
	})
	if err != nil {
		return err
	}
	*d = out
	return nil
}

func (d DomainCounters) Lookup(label string) (DomainCounter, bool) {
	for _, dc := range d {
		if dc.Label == label {
			return dc, true
		}
	}
	return DomainCounter{}, false
}

// DomainTotals sums the retained domain counters.
type DomainTotals struct {
	ReqProcessing int64   `json:"req_processing"`
	ReqPerSec     float64 `json:"req_per_sec"`
	TotalReqs     int64   `json:"tot_reqs"`
}

func (d DomainCounters) Totals() DomainTotals {
	var t DomainTotals
	for _, dc := range d {
		t.ReqProcessing += dc.ReqProcessing
		t.ReqPerSec += dc.ReqPerSec
		t.TotalReqs += dc.TotalReqs
	}
	return t
}

func marshalOrdered(n int, entry func(i int) (string, any)) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i := 0; i < n; i++ {
		key, val := entry(i)
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("marshal %q: %w", key, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func unmarshalOrdered(data []byte, add func(key string, dec *json.Decoder) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		if err := add(key, dec); err != nil {
			return fmt.Errorf("decode %q: %w", key, err)
		}
	}
	_, err = dec.Token()
	return err
}
