package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lsfleet-agent/internal/agent"
	"lsfleet-agent/internal/config"
	"lsfleet-agent/internal/fleet"
	"lsfleet-agent/internal/telemetry"
)

func newFleetCmd(opts *rootOptions) *cobra.Command {
	var (
		output   string
		domains  bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "fleet",
		Short: "Run one poll cycle against every configured child and print the result",
		Long: `Run one poll cycle against every configured child and print the result.
The local CPU baseline is sampled --interval before the cycle and kept in
memory. Children are scraped directly, so this advances their CPU baseline
the same way a master poll does.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadOneShot()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg.Role = config.RoleMaster
			logger := agent.BuildLogger(cfg)
			defer func() { _ = logger.Sync() }()

			components, err := agent.BuildComponents(cfg, telemetry.NewMetrics(), logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := components.Close(); err != nil {
					logger.Warn("state store close failed", zap.Error(err))
				}
			}()

			components.Collector.Collect(cmd.Context())
			if err := sleepContext(cmd.Context(), interval); err != nil {
				return err
			}
			view := components.Fleet.Poll(cmd.Context())
			logger.Info("poll cycle complete",
				zap.String("cycle_id", view.CycleID),
				zap.Int("nodes", len(view.Nodes)),
				zap.Int("failed", view.Failures()),
			)
			if domains {
				return render(cmd.OutOrStdout(), output, fleet.DomainMatrix(view))
			}
			return render(cmd.OutOrStdout(), output, view.Nodes)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "json", "json or yaml")
	cmd.Flags().BoolVar(&domains, "domains", false, "print the per-domain matrix instead of per-node snapshots")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "CPU sampling window for the local node")
	f := cmd.Flags()
	f.Duration("fetch-timeout", 0, "per-child request timeout")
	_ = opts.v.BindPFlag(snake("fetch-timeout"), f.Lookup("fetch-timeout"))
	return cmd
}
