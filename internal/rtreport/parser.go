package rtreport

import "lsfleet-agent/internal/model"

const (
	keyReqProcessing = "REQ_PROCESSING"
	keyReqPerSec     = "REQ_PER_SEC"
	keyTotalReqs     = "TOT_REQS"
	keyInUseConn     = "INUSE_CONN"
	keyIdleConn      = "IDLE_CONN"
	keyPlainConn     = "PLAINCONN"
	keySSLConn       = "SSLCONN"
	keyMaxConn       = "MAXCONN"
	keyMaxSSLConn    = "MAXSSL_CONN"
)

// ParseDomainLine extracts a virtual host's counters from a line carrying a
// REQ_RATE label plus REQ_PROCESSING, REQ_PER_SEC and TOT_REQS in any order.
// Any other line is reported as no match.
func ParseDomainLine(line string) (model.DomainCounter, bool) {
	label, ok := DomainLabel(line)
	if !ok {
		return model.DomainCounter{}, false
	}

	dc := model.DomainCounter{Label: label}
	var seen int
	for _, tok := range Tokenize(line) {
		switch tok.Key {
		case keyReqProcessing:
			if seen&1 == 0 {
				dc.ReqProcessing = tok.Int()
				seen |= 1
			}
		case keyReqPerSec:
			if seen&2 == 0 {
				dc.ReqPerSec = tok.Float()
				seen |= 2
			}
		case keyTotalReqs:
			if seen&4 == 0 {
				dc.TotalReqs = tok.Int()
				seen |= 4
			}
		}
	}
	if seen != 7 {
		return model.DomainCounter{}, false
	}
	return dc, true
}

// GlobalUpdate is the partial set of server-wide counters found on one line.
// A nil field was not present.
type GlobalUpdate struct {
	ReqProcessing *int64
	ReqPerSec     *float64
	TotalReqs     *int64
	PHPBusy       *int64
	PHPIdle       *int64
	HTTPActive    *int64
	HTTPSActive   *int64
	MaxHTTP       *int64
	MaxHTTPS      *int64
}

func (u GlobalUpdate) Empty() bool {
	return u == GlobalUpdate{}
}

// ParseGlobalCounters extracts each server-wide counter independently; the
// first occurrence of a key on the line wins.
func ParseGlobalCounters(line string) GlobalUpdate {
	var u GlobalUpdate
	for _, tok := range Tokenize(line) {
		switch tok.Key {
		case keyReqProcessing:
			setInt(&u.ReqProcessing, tok)
		case keyReqPerSec:
			if u.ReqPerSec == nil {
				v := tok.Float()
				u.ReqPerSec = &v
			}
		case keyTotalReqs:
			setInt(&u.TotalReqs, tok)
		case keyInUseConn:
			setInt(&u.PHPBusy, tok)
		case keyIdleConn:
			setInt(&u.PHPIdle, tok)
		case keyPlainConn:
			setInt(&u.HTTPActive, tok)
		case keySSLConn:
			setInt(&u.HTTPSActive, tok)
		case keyMaxConn:
			setInt(&u.MaxHTTP, tok)
		case keyMaxSSLConn:
			setInt(&u.MaxHTTPS, tok)
		}
	}
	return u
}

func setInt(dst **int64, tok Token) {
	if *dst != nil {
		return
	}
	v := tok.Int()
	*dst = &v
}

// Apply folds u into g: sums for additive counters, max for the two ceilings.
func (u GlobalUpdate) Apply(g *model.ReportGauges) {
	addInt(&g.ReqProcessing, u.ReqProcessing)
	if u.ReqPerSec != nil {
		g.ReqPerSec += *u.ReqPerSec
	}
	addInt(&g.TotalReqs, u.TotalReqs)
	addInt(&g.PHPBusy, u.PHPBusy)
	addInt(&g.PHPIdle, u.PHPIdle)
	addInt(&g.HTTPActive, u.HTTPActive)
	addInt(&g.HTTPSActive, u.HTTPSActive)
	maxInt(&g.MaxHTTP, u.MaxHTTP)
	maxInt(&g.MaxHTTPS, u.MaxHTTPS)
}

func addInt(dst *int64, v *int64) {
	if v != nil {
		*dst += *v
	}
}

func maxInt(dst *int64, v *int64) {
	if v != nil && *v > *dst {
		*dst = *v
	}
}
