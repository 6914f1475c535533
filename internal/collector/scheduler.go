package collector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"lsfleet-agent/internal/model"
	"lsfleet-agent/internal/stream"
)

// FleetPoller runs one master poll cycle.
type FleetPoller interface {
	Poll(ctx context.Context) model.FleetView
}

// Scheduler pushes on a fixed cadence: this node's snapshot on a child, or a
// whole fleet view on the master. Fleet views are also handed to observers
// such as the live websocket feed.
type Scheduler struct {
	logger       *zap.Logger
	node         *NodeCollector
	fleet        FleetPoller
	sink         stream.Sink
	interval     time.Duration
	errorBackoff time.Duration
	observers    []func(model.FleetView)
}

// NewScheduler builds a child scheduler when fleet is nil.
func NewScheduler(
	logger *zap.Logger,
	node *NodeCollector,
	fleet FleetPoller,
	sink stream.Sink,
	interval, errorBackoff time.Duration,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = stream.NoopSink{}
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if errorBackoff <= 0 {
		errorBackoff = time.Second
	}
	return &Scheduler{
		logger:       logger,
		node:         node,
		fleet:        fleet,
		sink:         sink,
		interval:     interval,
		errorBackoff: errorBackoff,
	}
}

// OnFleetView registers fn to receive every fleet view. Call before Run.
func (s *Scheduler) OnFleetView(fn func(model.FleetView)) {
	s.observers = append(s.observers, fn)
}

func (s *Scheduler) Run(ctx context.Context) error {
	if s.fleet != nil {
		return s.loop(ctx, "fleet", s.pollAndSendFleet)
	}
	return s.loop(ctx, "node", s.collectAndSendNode)
}

func (s *Scheduler) loop(ctx context.Context, kind string, tick func(context.Context) error) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := tick(ctx); err != nil {
		s.logger.Warn("initial push failed", zap.String("kind", kind), zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := tick(ctx); err != nil {
				s.logger.Error("collect/send failed", zap.String("kind", kind), zap.Error(err))
				s.sleepWithContext(ctx, s.errorBackoff)
			}
		}
	}
}

func (s *Scheduler) collectAndSendNode(ctx context.Context) error {
	snap := s.node.Collect(ctx)
	return s.sink.SendNodeSnapshot(ctx, snap)
}

func (s *Scheduler) pollAndSendFleet(ctx context.Context) error {
	view := s.fleet.Poll(ctx)
	for _, fn := range s.observers {
		fn(view)
	}
	nodeID := ""
	if s.node != nil {
		nodeID = s.node.NodeID()
	}
	return s.sink.SendFleetView(ctx, nodeID, view)
}

func (s *Scheduler) sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
