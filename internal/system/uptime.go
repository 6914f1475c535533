package system

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"lsfleet-agent/internal/model"
)

// SampleUptimeSeconds parses the first token of <proc>/uptime.
func (s *Sampler) SampleUptimeSeconds() float64 {
	raw, err := os.ReadFile(s.path("uptime"))
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// SampleLoadAverage parses "<l1> <l5> <l15> <running>/<total> <lastpid>".
func (s *Sampler) SampleLoadAverage() model.LoadAverage {
	raw, err := os.ReadFile(s.path("loadavg"))
	if err != nil {
		return model.LoadAverage{}
	}
	return ParseLoadAverage(string(raw))
}

func ParseLoadAverage(raw string) model.LoadAverage {
	fields := strings.Fields(raw)
	var out model.LoadAverage
	loads := []*float64{&out.Load1, &out.Load5, &out.Load15}
	for i, dst := range loads {
		if i >= len(fields) {
			break
		}
		if v, err := strconv.ParseFloat(fields[i], 64); err == nil {
			*dst = v
		}
	}
	if len(fields) > 3 {
		running, total, ok := strings.Cut(fields[3], "/")
		if ok {
			out.ProcsRunning, _ = strconv.ParseUint(running, 10, 64)
			out.ProcsTotal, _ = strconv.ParseUint(total, 10, 64)
		}
	}
	return out
}

// FormatUptime renders seconds as "DD days, HH:MM:SS".
func FormatUptime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	s := uint64(seconds)
	days := s / 86400
	hours := (s % 86400) / 3600
	mins := (s % 3600) / 60
	secs := s % 60
	return fmt.Sprintf("%02d days, %02d:%02d:%02d", days, hours, mins, secs)
}

func FormatLoad(l model.LoadAverage) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return fmt.Sprintf("%s, %s, %s (1,5,15 min) Processes: %d/%d",
		f(l.Load1), f(l.Load5), f(l.Load15), l.ProcsRunning, l.ProcsTotal)
}
