package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"lsfleet-agent/internal/agent"
	"lsfleet-agent/internal/telemetry"
)

func newSnapshotCmd(opts *rootOptions) *cobra.Command {
	var (
		output   string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print this node's snapshot once",
		Long: `Print this node's snapshot once. CPU usage covers --interval: the
baseline is taken in memory, so a running agent's state file is left alone.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadOneShot()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
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
			return render(cmd.OutOrStdout(), output, components.Collector.Collect(cmd.Context()))
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "json", "json or yaml")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "CPU sampling window")
	return cmd
}

// render writes v as indented JSON or as YAML with the same key order.
func render(w io.Writer, format string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	switch format {
	case "json", "":
		_, err = fmt.Fprintln(w, string(raw))
		return err
	case "yaml", "yml":
		var doc yaml.Node
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("convert to yaml: %w", err)
		}
		blockStyle(&doc)
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(&doc); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// blockStyle drops the flow and quoting styles inherited from JSON input.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
