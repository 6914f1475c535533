package cmd

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lsfleet-agent/internal/agent"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := agent.BuildLogger(cfg)
			defer func() { _ = logger.Sync() }()
			gin.SetMode(ginMode(cfg.LogLevel))

			a, err := agent.New(cfg, logger)
			if err != nil {
				logger.Error("agent initialization failed", zap.Error(err))
				return err
			}
			if err := a.Run(cmd.Context()); err != nil {
				logger.Error("agent runtime failed", zap.Error(err))
				return err
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.String("listen-addr", "", "HTTP listen address")
	f.String("probe-addr", "", "raw TCP probe address (empty disables)")
	f.String("stream-mode", "", "none, grpc, websocket or nats")
	for _, name := range []string{"listen-addr", "probe-addr", "stream-mode"} {
		_ = opts.v.BindPFlag(snake(name), f.Lookup(name))
	}
	return cmd
}

// ginMode keeps gin's route dump and debug warnings to debug logging.
func ginMode(logLevel string) string {
	if logLevel == "debug" {
		return gin.DebugMode
	}
	return gin.ReleaseMode
}
