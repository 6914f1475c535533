package model

type EnvelopeType string

const (
	EnvelopeNodeSnapshot EnvelopeType = "node_snapshot"
	EnvelopeFleetView    EnvelopeType = "fleet_view"
)

// Envelope is transport-agnostic framing for pushed payloads.
type Envelope struct {
	Type          EnvelopeType `json:"type"`
	NodeID        string       `json:"node_id"`
	CycleID       string       `json:"cycle_id,omitempty"`
	TimestampUnix int64        `json:"timestamp_unix"`
	Payload       any          `json:"payload"`
}

func NodeSnapshotEnvelope(s NodeSnapshot) Envelope {
	return Envelope{
		Type:          EnvelopeNodeSnapshot,
		NodeID:        s.NodeID,
		TimestampUnix: s.Timestamp.Unix(),
		Payload:       s,
	}
}

// FleetViewEnvelope carries only the node mapping as payload, the same shape
// the fleet endpoint serves.
func FleetViewEnvelope(nodeID string, v FleetView) Envelope {
	return Envelope{
		Type:          EnvelopeFleetView,
		NodeID:        nodeID,
		CycleID:       v.CycleID,
		TimestampUnix: v.FinishedAt.Unix(),
		Payload:       v.Nodes,
	}
}
