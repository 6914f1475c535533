package model

// CounterSnapshot maps a core name ("cpu0", "cpu1", ...) to its cumulative
// jiffie counters in /proc/stat column order: user, nice, system, idle,
// iowait, irq, softirq, steal, guest, guest_nice.
type CounterSnapshot map[string][]uint64

// IdleIndex is the position of the idle counter inside a core's counters.
const IdleIndex = 3

func (s CounterSnapshot) Clone() CounterSnapshot {
	out := make(CounterSnapshot, len(s))
	for core, vals := range s {
		out[core] = append([]uint64(nil), vals...)
	}
	return out
}
