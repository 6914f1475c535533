package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"lsfleet-agent/internal/collector"
	"lsfleet-agent/internal/config"
	"lsfleet-agent/internal/model"
	"lsfleet-agent/internal/server"
	"lsfleet-agent/internal/stream"
	"lsfleet-agent/internal/telemetry"
)

type Agent struct {
	cfg        config.Config
	logger     *zap.Logger
	components *Components
	scheduler  *collector.Scheduler
	sink       stream.Sink
	health     *HealthStatus
	httpServer *http.Server
}

const healthLogInterval = 30 * time.Second

func New(cfg config.Config, logger *zap.Logger) (*Agent, error) {
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}

	sink, err := stream.NewSinkFromConfig(cfg, tlsCfg, logger.Named("stream"))
	if err != nil {
		return nil, fmt.Errorf("stream sink: %w", err)
	}

	metrics := telemetry.NewMetrics()
	components, err := BuildComponents(cfg, metrics, logger)
	if err != nil {
		_ = sink.Close(context.Background())
		return nil, err
	}

	health := NewHealthStatus()
	wrappedSink := &healthSink{sink: sink, health: health}
	hub := server.NewHub(cfg.StreamBufferSize)

	var scheduler *collector.Scheduler
	switch {
	case components.Fleet != nil:
		scheduler = collector.NewScheduler(logger.Named("scheduler"), components.Collector, components.Fleet,
			wrappedSink, cfg.PollInterval, cfg.CollectorErrorBackoff)
		scheduler.OnFleetView(hub.Publish)
		scheduler.OnFleetView(health.MarkFleetView)
	case cfg.StreamMode != config.StreamModeNone:
		// Children only push when a backend is configured; an idle push loop
		// would advance the CPU baseline between scrapes.
		scheduler = collector.NewScheduler(logger.Named("scheduler"), components.Collector, nil,
			wrappedSink, cfg.PollInterval, cfg.CollectorErrorBackoff)
	}

	srvOpts := server.Options{
		Node:    components.Collector,
		Hub:     hub,
		Health:  health,
		Metrics: metrics,
		Logger:  logger.Named("http"),
	}
	if components.Fleet != nil {
		srvOpts.Fleet = components.Fleet
	}
	api := server.New(srvOpts)

	return &Agent{
		cfg:        cfg,
		logger:     logger,
		components: components,
		scheduler:  scheduler,
		sink:       wrappedSink,
		health:     health,
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting lsfleet-agent",
		zap.String("node_id", a.cfg.NodeID),
		zap.String("role", string(a.cfg.Role)),
		zap.String("listen_addr", a.cfg.ListenAddr),
		zap.String("stream_mode", string(a.cfg.StreamMode)),
	)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- a.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received, starting graceful shutdown",
			zap.String("signal", sig.String()), zap.Duration("timeout", a.cfg.ShutdownTimeout))
		cancelRun()

		graceTimer := time.NewTimer(a.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			a.logger.Warn("second signal received, forcing immediate shutdown", zap.String("signal", sig2.String()))
			runErr = context.Canceled
		case <-graceTimer.C:
			a.logger.Warn("graceful shutdown timeout reached, forcing shutdown", zap.Duration("timeout", a.cfg.ShutdownTimeout))
			runErr = context.DeadlineExceeded
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancelShutdown()
	a.shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	a.logger.Info("lsfleet-agent stopped")
	return nil
}

func BuildLogger(cfg config.Config) *zap.Logger {
	level := zapcore.InfoLevel
	switch cfg.LogLevel {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	zcfg := zap.NewProductionConfig()
	if !cfg.LogJSON {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.Development = false
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger.With(zap.String("node_id", cfg.NodeID))
}

type healthSink struct {
	sink   stream.Sink
	health *HealthStatus
}

func (s *healthSink) SendNodeSnapshot(ctx context.Context, snap model.NodeSnapshot) error {
	err := s.sink.SendNodeSnapshot(ctx, snap)
	if err != nil {
		s.health.SetStreamConnected(false)
		return err
	}
	s.health.SetStreamConnected(true)
	s.health.MarkNodeSample(snap.Timestamp)
	return nil
}

func (s *healthSink) SendFleetView(ctx context.Context, nodeID string, v model.FleetView) error {
	err := s.sink.SendFleetView(ctx, nodeID, v)
	if err != nil {
		s.health.SetStreamConnected(false)
		return err
	}
	s.health.SetStreamConnected(true)
	return nil
}

func (s *healthSink) Close(ctx context.Context) error {
	return s.sink.Close(ctx)
}
