package agent

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"lsfleet-agent/internal/collector"
	"lsfleet-agent/internal/config"
	"lsfleet-agent/internal/delta"
	"lsfleet-agent/internal/fleet"
	"lsfleet-agent/internal/system"
	"lsfleet-agent/internal/telemetry"
)

// Components are the collection pieces shared by the long-running agent and
// the one-shot CLI commands.
type Components struct {
	Store     *delta.Store
	Collector *collector.NodeCollector
	Fleet     *fleet.Aggregator // nil unless role is master
}

func BuildComponents(cfg config.Config, metrics *telemetry.Metrics, logger *zap.Logger) (*Components, error) {
	storage, err := delta.OpenStorage(cfg.StateBackend, cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("open state backend: %w", err)
	}
	store := delta.NewStore(storage, logger.Named("delta"))

	nodeCollector := collector.NewNodeCollector(system.NewSampler(cfg.ProcRoot), store, collector.NodeCollectorOptions{
		NodeID:       cfg.NodeID,
		ReportDir:    cfg.ReportDir,
		ReportPrefix: cfg.ReportPrefix,
		Metrics:      metrics,
		Logger:       logger.Named("collector"),
	})

	c := &Components{Store: store, Collector: nodeCollector}
	if cfg.IsMaster() {
		fetcher := fleet.NewHTTPFetcher(cfg.ChildURLTemplate, &http.Client{Timeout: cfg.FetchTimeout})
		targets := fleet.FileTargets{Path: cfg.TargetsFile, MasterAddr: cfg.MasterAddr}
		c.Fleet = fleet.NewAggregator(nodeCollector, fetcher, targets, fleet.AggregatorOptions{
			Timeout: cfg.FetchTimeout,
			Metrics: metrics,
			Logger:  logger.Named("fleet"),
		})
	}
	return c, nil
}

func (c *Components) Close() error {
	return c.Store.Close()
}
