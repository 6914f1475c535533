// Package rtreport extracts request counters and connection gauges from
// OpenLiteSpeed runtime report files (.rtreport, .rtreport.2, ...).
package rtreport

import (
	"regexp"
	"strconv"
)

// Token is one `KEY: value` pair found on a report line.
type Token struct {
	Key   string
	Value string
}

var (
	tokenPattern = regexp.MustCompile(`\b([A-Z][A-Z0-9_]*):\s*([0-9]+(?:\.[0-9]+)?)`)
	labelPattern = regexp.MustCompile(`\bREQ_RATE\s+\[([^\]]*)\]`)
)

// Tokenize returns every whole-key numeric token on line in the order it
// appears. A key embedded in a longer key (MAXCONN inside CMAXCONN) is not
// reported as the shorter key.
func Tokenize(line string) []Token {
	matches := tokenPattern.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]Token, 0, len(matches))
	for _, m := range matches {
		out = append(out, Token{Key: m[1], Value: m[2]})
	}
	return out
}

// DomainLabel returns the bracketed REQ_RATE label on line, if any. An empty
// label ("REQ_RATE []") is reported as present.
func DomainLabel(line string) (string, bool) {
	m := labelPattern.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func (t Token) Int() int64 {
	if n, err := strconv.ParseInt(t.Value, 10, 64); err == nil {
		return n
	}
	f, err := strconv.ParseFloat(t.Value, 64)
	if err != nil {
		return 0
	}
	return int64(f)
}

func (t Token) Float() float64 {
	f, err := strconv.ParseFloat(t.Value, 64)
	if err != nil {
		return 0
	}
	return f
}
