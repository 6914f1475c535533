package system

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"lsfleet-agent/internal/model"
)

// SampleCPU returns per-core counters from <proc>/stat. The aggregate "cpu"
// line is skipped. An unreadable source gives an empty snapshot.
func (s *Sampler) SampleCPU() model.CounterSnapshot {
	snap, err := ReadCPUCounters(s.path("stat"))
	if err != nil {
		return model.CounterSnapshot{}
	}
	return snap
}

func ReadCPUCounters(path string) (model.CounterSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	out := model.CounterSnapshot{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		parts := strings.Fields(sc.Text())
		if len(parts) < 2 || !isCoreName(parts[0]) {
			continue
		}
		vals := make([]uint64, 0, len(parts)-1)
		for _, p := range parts[1:] {
			v, convErr := strconv.ParseUint(p, 10, 64)
			if convErr != nil {
				v = 0
			}
			vals = append(vals, v)
		}
		out[parts[0]] = vals
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return out, nil
}

// isCoreName matches "cpu" followed by one or more digits.
func isCoreName(key string) bool {
	if len(key) <= 3 || !strings.HasPrefix(key, "cpu") {
		return false
	}
	for i := 3; i < len(key); i++ {
		if key[i] < '0' || key[i] > '9' {
			return false
		}
	}
	return true
}
