package system

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"lsfleet-agent/internal/model"
)

// SampleMemory returns the raw <proc>/meminfo fields in kilobytes.
func (s *Sampler) SampleMemory() map[string]uint64 {
	vals, err := ReadMemInfo(s.path("meminfo"))
	if err != nil {
		return map[string]uint64{}
	}
	return vals
}

func ReadMemInfo(path string) (map[string]uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	vals := map[string]uint64{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		parts := strings.Fields(sc.Text())
		if len(parts) < 2 || !strings.HasSuffix(parts[0], ":") {
			continue
		}
		v, convErr := strconv.ParseUint(parts[1], 10, 64)
		if convErr != nil {
			continue
		}
		vals[strings.TrimSuffix(parts[0], ":")] = v
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return vals, nil
}

// MemoryReportFrom applies the htop formula to meminfo fields (kB):
// used = MemTotal - MemFree - Buffers - Cached - SReclaimable + Shmem.
// Shmem is added back because the kernel counts it inside Cached.
func MemoryReportFrom(fields map[string]uint64) model.MemoryReport {
	total := int64(fields["MemTotal"])
	free := int64(fields["MemFree"])
	buffers := int64(fields["Buffers"])
	cached := int64(fields["Cached"])
	reclaim := int64(fields["SReclaimable"])
	shmem := int64(fields["Shmem"])

	used := total - free - buffers - cached - reclaim + shmem
	if used < 0 {
		used = 0
	}

	swapTotal := int64(fields["SwapTotal"])
	swapUsed := swapTotal - int64(fields["SwapFree"])
	if swapUsed < 0 {
		swapUsed = 0
	}

	return model.MemoryReport{
		TotalMB:     toMB(total),
		UsedMB:      toMB(used),
		FreeMB:      toMB(total - used),
		Percent:     percentOf(used, total),
		SwapTotalMB: toMB(swapTotal),
		SwapUsedMB:  toMB(swapUsed),
		SwapPercent: percentOf(swapUsed, swapTotal),
		Details: model.MemoryDetails{
			FreeMB:        toMB(free),
			BuffersMB:     toMB(buffers),
			CachedMB:      toMB(cached),
			ReclaimableMB: toMB(reclaim),
			SharedMB:      toMB(shmem),
		},
	}
}

func toMB(kb int64) uint64 {
	if kb <= 0 {
		return 0
	}
	return uint64(kb / 1024)
}

func percentOf(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return Round1(float64(part) / float64(total) * 100)
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}
