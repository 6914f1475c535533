package agent

import (
	"sync/atomic"
	"time"

	"lsfleet-agent/internal/model"
)

type HealthStatus struct {
	serving          atomic.Bool
	streamConnected  atomic.Bool
	lastNodeSampleAt atomic.Int64
	lastFleetViewAt  atomic.Int64
	lastFleetNodes   atomic.Int64
	lastFleetFailed  atomic.Int64
}

func NewHealthStatus() *HealthStatus {
	return &HealthStatus{}
}

func (h *HealthStatus) SetServing(ok bool) {
	h.serving.Store(ok)
}

func (h *HealthStatus) SetStreamConnected(ok bool) {
	h.streamConnected.Store(ok)
}

func (h *HealthStatus) MarkNodeSample(ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}
	h.lastNodeSampleAt.Store(ts.UnixNano())
}

func (h *HealthStatus) MarkFleetView(v model.FleetView) {
	ts := v.FinishedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	h.lastFleetViewAt.Store(ts.UnixNano())
	h.lastFleetNodes.Store(int64(len(v.Nodes)))
	h.lastFleetFailed.Store(int64(v.Failures()))
}

func (h *HealthStatus) Snapshot() map[string]any {
	out := map[string]any{
		"serving":          h.serving.Load(),
		"stream_connected": h.streamConnected.Load(),
	}
	if v := h.lastNodeSampleAt.Load(); v > 0 {
		out["last_node_sample_at"] = time.Unix(0, v).UTC()
	}
	if v := h.lastFleetViewAt.Load(); v > 0 {
		out["last_fleet_view_at"] = time.Unix(0, v).UTC()
		out["last_fleet_nodes"] = h.lastFleetNodes.Load()
		out["last_fleet_failed"] = h.lastFleetFailed.Load()
	}
	return out
}
