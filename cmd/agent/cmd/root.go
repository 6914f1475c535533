package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lsfleet-agent/internal/config"
)

type rootOptions struct {
	cfgFile string
	envFile string
	v       *viper.Viper
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "lsfleet-agent",
		Short: "Node and fleet metrics for OpenLiteSpeed servers",
		Long: `lsfleet-agent serves a per-node snapshot of CPU, memory, load and
OpenLiteSpeed request counters. On the master it also polls every child
listed in the targets file and serves the merged fleet view.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.initConfig()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.cfgFile, "config", "", "config file (yaml, toml or json)")
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading LSFLEET_ variables")
	pf.String("role", "", "child or master")
	pf.String("node-id", "", "identifier reported in snapshots (default hostname)")
	pf.String("log-level", "", "debug, info, warn or error")
	pf.String("proc-root", "", "procfs mount point")
	pf.String("report-dir", "", "directory holding .rtreport files")
	pf.String("targets-file", "", "child list read by the master")
	for _, name := range []string{"role", "node-id", "log-level", "proc-root", "report-dir", "targets-file"} {
		_ = opts.v.BindPFlag(snake(name), pf.Lookup(name))
	}

	root.AddCommand(newServeCmd(opts), newSnapshotCmd(opts), newFleetCmd(opts))
	return root
}

func (o *rootOptions) initConfig() error {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", o.envFile, err)
		}
	}
	if o.cfgFile != "" {
		o.v.SetConfigFile(o.cfgFile)
		if err := o.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", o.cfgFile, err)
		}
	}
	return nil
}

func (o *rootOptions) load() (config.Config, error) {
	return config.Load(o.v)
}

// loadOneShot is load for commands that run beside a live agent: the CPU
// baseline is kept in memory so the agent's state file is never touched.
func (o *rootOptions) loadOneShot() (config.Config, error) {
	cfg, err := o.load()
	if err != nil {
		return cfg, err
	}
	cfg.StateBackend = "memory"
	return cfg, nil
}

// snake maps a flag name to its viper key.
func snake(flag string) string {
	return strings.ReplaceAll(flag, "-", "_")
}

// sleepContext waits d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
