// Package fleet implements the master's poll cycle: one in-process snapshot
// plus one concurrent fetch per child, merged into a FleetView.
package fleet

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lsfleet-agent/internal/model"
	"lsfleet-agent/internal/telemetry"
)

// collectGrace bounds how long a cycle waits past the fetch timeout for a
// fetcher that does not honor its context.
const collectGrace = 250 * time.Millisecond

// LocalCollector builds the master's own snapshot.
type LocalCollector interface {
	Collect(ctx context.Context) model.NodeSnapshot
}

type AggregatorOptions struct {
	Timeout time.Duration
	Metrics *telemetry.Metrics
	Logger  *zap.Logger
}

type Aggregator struct {
	local   LocalCollector
	fetcher Fetcher
	targets TargetSource
	timeout time.Duration
	metrics *telemetry.Metrics
	logger  *zap.Logger
	newID   func() string
	now     func() time.Time

	mu     sync.RWMutex
	latest *model.FleetView
}

func NewAggregator(local LocalCollector, fetcher Fetcher, targets TargetSource, opts AggregatorOptions) *Aggregator {
	if targets == nil {
		targets = StaticTargets(nil)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Aggregator{
		local:   local,
		fetcher: fetcher,
		targets: targets,
		timeout: opts.Timeout,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

type fetchResult struct {
	node   string
	result model.NodeResult
}

// Poll runs one cycle. Every configured child appears in the view, either as
// a snapshot or as a failure marker; nothing is retried or carried over from
// a previous cycle. Responses arriving after the cycle deadline are dropped.
func (a *Aggregator) Poll(ctx context.Context) model.FleetView {
	started := a.now()
	view := model.FleetView{
		CycleID:   a.newID(),
		StartedAt: started.UTC(),
		Nodes:     make(map[string]model.NodeResult),
	}
	log := a.logger.With(zap.String("cycle_id", view.CycleID))

	children, err := a.targets.Targets()
	if err != nil {
		log.Warn("read targets failed, polling master only", zap.Error(err))
	}

	// Buffered so late senders never block after the cycle returns.
	results := make(chan fetchResult, len(children))
	for _, node := range children {
		go func(node string) {
			results <- fetchResult{node: node, result: a.fetch(ctx, node)}
		}(node)
	}

	view.Nodes[model.MasterNodeID] = model.Succeeded(a.local.Collect(ctx))

	deadline := time.NewTimer(a.timeout + collectGrace)
	defer deadline.Stop()
	pending := len(children)
	var abandoned error
collect:
	for pending > 0 {
		select {
		case r := <-results:
			view.Nodes[r.node] = r.result
			pending--
		case <-deadline.C:
			break collect
		case <-ctx.Done():
			abandoned = ctx.Err()
			break collect
		}
	}
	for _, node := range children {
		if _, ok := view.Nodes[node]; ok {
			continue
		}
		if abandoned != nil {
			view.Nodes[node] = model.Failed(fmt.Errorf("fetch %s: %w", node, abandoned))
		} else {
			view.Nodes[node] = model.Failed(fmt.Errorf("fetch %s: timed out after %s", node, a.timeout))
		}
	}

	view.FinishedAt = a.now().UTC()
	failed := 0
	for node, r := range view.Nodes {
		if r.OK() {
			continue
		}
		failed++
		a.metrics.FetchFailed(node)
		log.Debug("node fetch failed", zap.String("node", node), zap.String("error", r.Error))
	}
	elapsed := view.FinishedAt.Sub(started)
	a.metrics.ObservePoll(elapsed, len(view.Nodes)-failed, failed)
	log.Debug("poll cycle complete",
		zap.Int("nodes", len(view.Nodes)),
		zap.Int("failed", failed),
		zap.Duration("elapsed", elapsed),
	)

	a.mu.Lock()
	a.latest = &view
	a.mu.Unlock()
	return view
}

// Latest returns the most recent completed cycle. Readers that must not
// advance any node's CPU baseline serve this instead of polling.
func (a *Aggregator) Latest() (model.FleetView, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.latest == nil {
		return model.FleetView{}, false
	}
	return *a.latest, true
}

// FetchOne returns a single node's result: the master in-process, a child
// only when it is currently configured. A node present in the latest cycle
// is served from it so the node is sampled by one poller only.
func (a *Aggregator) FetchOne(ctx context.Context, node string) (model.NodeResult, error) {
	if node == model.MasterNodeID {
		if res, ok := a.cached(node); ok {
			return res, nil
		}
		return model.Succeeded(a.local.Collect(ctx)), nil
	}
	children, err := a.targets.Targets()
	if err != nil {
		return model.NodeResult{}, fmt.Errorf("read targets: %w", err)
	}
	for _, child := range children {
		if child == node {
			if res, ok := a.cached(node); ok {
				return res, nil
			}
			res := a.fetch(ctx, node)
			if !res.OK() {
				a.metrics.FetchFailed(node)
			}
			return res, nil
		}
	}
	return model.NodeResult{}, fmt.Errorf("%w: %q", ErrUnknownNode, node)
}

func (a *Aggregator) cached(node string) (model.NodeResult, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.latest == nil {
		return model.NodeResult{}, false
	}
	res, ok := a.latest.Nodes[node]
	return res, ok
}

// Nodes lists the master followed by the configured children.
func (a *Aggregator) Nodes() ([]string, error) {
	children, err := a.targets.Targets()
	return append([]string{model.MasterNodeID}, children...), err
}

func (a *Aggregator) fetch(ctx context.Context, node string) model.NodeResult {
	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	snap, err := a.fetcher.Fetch(reqCtx, node)
	if err != nil {
		return model.Failed(err)
	}
	return model.Succeeded(snap)
}

// OrderedNodes returns the view's node ids with the master first and the
// children sorted.
func OrderedNodes(v model.FleetView) []string {
	out := make([]string, 0, len(v.Nodes))
	for node := range v.Nodes {
		if node != model.MasterNodeID {
			out = append(out, node)
		}
	}
	sort.Strings(out)
	if _, ok := v.Nodes[model.MasterNodeID]; ok {
		out = append([]string{model.MasterNodeID}, out...)
	}
	return out
}
