package collector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"lsfleet-agent/internal/delta"
	"lsfleet-agent/internal/model"
	"lsfleet-agent/internal/rtreport"
	"lsfleet-agent/internal/system"
	"lsfleet-agent/internal/telemetry"
)

type NodeCollectorOptions struct {
	NodeID       string
	ReportDir    string
	ReportPrefix string
	Metrics      *telemetry.Metrics
	Logger       *zap.Logger
}

// NodeCollector builds this node's snapshot from /proc and the web server's
// runtime reports. It holds no state of its own beyond the delta store.
type NodeCollector struct {
	sampler      *system.Sampler
	store        *delta.Store
	nodeID       string
	reportDir    string
	reportPrefix string
	metrics      *telemetry.Metrics
	logger       *zap.Logger
	now          func() time.Time
}

func NewNodeCollector(sampler *system.Sampler, store *delta.Store, opts NodeCollectorOptions) *NodeCollector {
	if sampler == nil {
		sampler = system.NewSampler("")
	}
	if store == nil {
		store = delta.NewStore(nil, opts.Logger)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ReportPrefix == "" {
		opts.ReportPrefix = ".rtreport"
	}
	return &NodeCollector{
		sampler:      sampler,
		store:        store,
		nodeID:       opts.NodeID,
		reportDir:    opts.ReportDir,
		reportPrefix: opts.ReportPrefix,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		now:          time.Now,
	}
}

// Collect never fails: a missing source leaves its section at the zero value.
func (c *NodeCollector) Collect(ctx context.Context) model.NodeSnapshot {
	started := time.Now()
	defer func() { c.metrics.ObserveScrape(time.Since(started)) }()

	hostname := c.sampler.SampleHostname()
	nodeID := c.nodeID
	if nodeID == "" {
		nodeID = hostname
	}

	uptime := c.sampler.SampleUptimeSeconds()
	load := c.sampler.SampleLoadAverage()

	snap := model.NodeSnapshot{
		NodeID:        nodeID,
		Hostname:      hostname,
		OS:            c.sampler.SampleKernel(),
		Timestamp:     c.now().UTC(),
		Uptime:        system.FormatUptime(uptime),
		UptimeSeconds: uptime,
		LoadAvg:       system.FormatLoad(load),
		Load:          load,
		Utilization:   c.store.Compute(ctx, c.sampler.SampleCPU()),
		Memory:        system.MemoryReportFrom(c.sampler.SampleMemory()),
		Domains:       model.DomainCounters{},
	}

	if c.reportDir != "" {
		rep, err := rtreport.ParseDir(c.reportDir, c.reportPrefix)
		if err != nil {
			c.logger.Warn("runtime report partially unreadable", zap.String("dir", c.reportDir), zap.Error(err))
		}
		snap.Domains = rep.Domains
		snap.Totals = rep.Totals
		snap.ReportGauges = rep.Gauges
	}
	return snap
}

func (c *NodeCollector) NodeID() string {
	if c.nodeID != "" {
		return c.nodeID
	}
	return c.sampler.SampleHostname()
}
