package stream

import (
	"crypto/tls"
	"fmt"

	"go.uber.org/zap"

	"lsfleet-agent/internal/config"
)

const defaultStreamMethod = "/lsfleet.metrics.v1.MetricsService/Push"

func NewSinkFromConfig(cfg config.Config, tlsCfg *tls.Config, logger *zap.Logger) (Sink, error) {
	switch cfg.StreamMode {
	case config.StreamModeNone, "":
		return NoopSink{}, nil
	case config.StreamModeGRPC:
		return NewGRPCClient(cfg.BackendGRPCAddr, tlsCfg, cfg.BackendToken, cfg.GRPCStreamMethod, logger), nil
	case config.StreamModeWebSocket:
		return NewWebSocketClient(cfg.BackendWSURL, cfg.BackendToken, tlsCfg, cfg.WebSocketWriteTimeout, cfg.WebSocketPingInterval, logger), nil
	case config.StreamModeNATS:
		return NewNATSSink(cfg.BackendNATSURL, cfg.NATSSubject, cfg.BackendToken, logger)
	default:
		return nil, fmt.Errorf("unsupported stream mode %q", cfg.StreamMode)
	}
}
