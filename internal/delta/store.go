package delta

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"lsfleet-agent/internal/model"
	"lsfleet-agent/internal/system"
)

// Store turns consecutive counter snapshots into utilization. It holds the
// single previous snapshot per node behind a Storage backend.
type Store struct {
	mu      sync.Mutex
	storage Storage
	logger  *zap.Logger
}

func NewStore(storage Storage, logger *zap.Logger) *Store {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{storage: storage, logger: logger}
}

// Compute diffs current against the persisted snapshot, then replaces the
// persisted snapshot with current. The read-modify-write is serialized so
// concurrent scrapes cannot both diff against the same stale snapshot.
func (s *Store) Compute(ctx context.Context, current model.CounterSnapshot) model.Utilization {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.storage.Load(ctx)
	if err != nil {
		s.logger.Debug("previous cpu snapshot unavailable, treating as first sample", zap.Error(err))
		prev = model.CounterSnapshot{}
	}

	out := Utilize(prev, current)

	if err := s.storage.Save(ctx, current.Clone()); err != nil {
		s.logger.Warn("persist cpu snapshot failed", zap.Error(err))
	}
	return out
}

func (s *Store) Close() error {
	return s.storage.Close()
}

// Utilize computes per-core and work-weighted aggregate usage. A core missing
// from prev is diffed against itself and reports 0%. Every per-field delta is
// floored at zero so counter rollbacks never produce negative usage.
func Utilize(prev, current model.CounterSnapshot) model.Utilization {
	cores := sortedCores(current)
	out := model.Utilization{PerCore: make(model.CorePercents, 0, len(cores))}

	var workSum, totalSum uint64
	for _, core := range cores {
		cur := current[core]
		before, ok := prev[core]
		if !ok {
			before = cur
		}

		var totalDelta uint64
		for i, v := range cur {
			if i < len(before) {
				totalDelta += deltaCounter(v, before[i])
			}
		}
		idleDelta := deltaCounter(at(cur, model.IdleIndex), at(before, model.IdleIndex))
		if idleDelta > totalDelta {
			idleDelta = totalDelta
		}
		work := totalDelta - idleDelta

		pct := 0.0
		if totalDelta > 0 {
			pct = system.Round1(clampPercent(float64(work) / float64(totalDelta) * 100))
		}
		out.PerCore = append(out.PerCore, model.CorePercent{Core: core, Percent: pct})

		workSum += work
		totalSum += totalDelta
	}

	if totalSum > 0 {
		out.Total = system.Round1(clampPercent(float64(workSum) / float64(totalSum) * 100))
	}
	return out
}

func at(vals []uint64, i int) uint64 {
	if i < len(vals) {
		return vals[i]
	}
	return 0
}

func deltaCounter(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}

func clampPercent(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}

// sortedCores orders "cpu2" before "cpu10".
func sortedCores(s model.CounterSnapshot) []string {
	cores := make([]string, 0, len(s))
	for core := range s {
		cores = append(cores, core)
	}
	sort.Slice(cores, func(i, j int) bool {
		a, errA := strconv.Atoi(cores[i][min(3, len(cores[i])):])
		b, errB := strconv.Atoi(cores[j][min(3, len(cores[j])):])
		if errA != nil || errB != nil || a == b {
			return cores[i] < cores[j]
		}
		return a < b
	})
	return cores
}
