package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"lsfleet-agent/internal/model"
)

// NATSSink publishes envelopes to <subject>.node and <subject>.fleet.
type NATSSink struct {
	logger  *zap.Logger
	conn    *nats.Conn
	subject string
}

func NewNATSSink(url, subject, token string, logger *zap.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name("lsfleet-agent"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return &NATSSink{logger: logger, conn: nc, subject: subject}, nil
}

func (s *NATSSink) SendNodeSnapshot(_ context.Context, snap model.NodeSnapshot) error {
	return s.publish(s.subject+".node", model.NodeSnapshotEnvelope(snap))
}

func (s *NATSSink) SendFleetView(_ context.Context, nodeID string, v model.FleetView) error {
	return s.publish(s.subject+".fleet", model.FleetViewEnvelope(nodeID, v))
}

func (s *NATSSink) publish(subject string, env model.Envelope) error {
	payload, err := EncodeEnvelope(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := s.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

func (s *NATSSink) Close(context.Context) error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.FlushTimeout(2 * time.Second); err != nil {
		s.logger.Warn("nats flush on close failed", zap.Error(err))
	}
	s.conn.Close()
	return nil
}
