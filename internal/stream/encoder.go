package stream

import (
	"context"
	"encoding/json"

	"lsfleet-agent/internal/model"
)

// Sink receives snapshots and fleet views pushed by the scheduler.
type Sink interface {
	SendNodeSnapshot(ctx context.Context, s model.NodeSnapshot) error
	SendFleetView(ctx context.Context, nodeID string, v model.FleetView) error
	Close(ctx context.Context) error
}

func EncodeEnvelope(e model.Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// NoopSink drops everything. It backs stream_mode "none".
type NoopSink struct{}

func (NoopSink) SendNodeSnapshot(context.Context, model.NodeSnapshot) error { return nil }

func (NoopSink) SendFleetView(context.Context, string, model.FleetView) error { return nil }

func (NoopSink) Close(context.Context) error { return nil }
