package stream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"

	"lsfleet-agent/internal/model"
)

type jsonCodec struct{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// GRPCClient pushes envelopes over a long-lived client stream using the JSON
// codec, so the backend needs no generated protobuf types.
type GRPCClient struct {
	mu sync.Mutex

	logger      *zap.Logger
	addr        string
	tlsConfig   *tls.Config
	token       string
	method      string
	conn        *grpc.ClientConn
	stream      grpc.ClientStream
	streamStop  context.CancelFunc
	dialTimeout time.Duration
}

func NewGRPCClient(addr string, tlsCfg *tls.Config, token, method string, logger *zap.Logger) *GRPCClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if method == "" {
		method = defaultStreamMethod
	}
	return &GRPCClient{
		logger:      logger,
		addr:        addr,
		tlsConfig:   tlsCfg,
		token:       token,
		method:      method,
		dialTimeout: 8 * time.Second,
	}
}

func (c *GRPCClient) SendNodeSnapshot(ctx context.Context, s model.NodeSnapshot) error {
	return c.send(ctx, model.NodeSnapshotEnvelope(s))
}

func (c *GRPCClient) SendFleetView(ctx context.Context, nodeID string, v model.FleetView) error {
	return c.send(ctx, model.FleetViewEnvelope(nodeID, v))
}

func (c *GRPCClient) send(ctx context.Context, env model.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnLocked(ctx); err != nil {
		return err
	}
	if c.stream == nil {
		if err := c.openStreamLocked(); err != nil {
			return err
		}
	}
	if err := c.stream.SendMsg(env); err != nil {
		c.logger.Warn("grpc send failed, reopening stream", zap.Error(err))
		c.resetStreamLocked()
		if err2 := c.openStreamLocked(); err2 != nil {
			return fmt.Errorf("reopen stream: %w", err2)
		}
		if err2 := c.stream.SendMsg(env); err2 != nil {
			return fmt.Errorf("send %s frame: %w", env.Type, err2)
		}
	}
	return nil
}

func (c *GRPCClient) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		_ = c.stream.CloseSend()
	}
	c.resetStreamLocked()
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *GRPCClient) ensureConnLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	var creds credentials.TransportCredentials
	if c.tlsConfig != nil {
		creds = credentials.NewTLS(c.tlsConfig)
	} else {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.DialContext(
		dialCtx,
		c.addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
	)
	if err != nil {
		return fmt.Errorf("grpc dial %s: %w", c.addr, err)
	}
	c.conn = conn
	c.logger.Info("grpc stream connected", zap.String("addr", c.addr))
	return nil
}

// openStreamLocked ties the stream to its own context; per-send deadlines
// would otherwise tear the stream down after the first frame.
func (c *GRPCClient) openStreamLocked() error {
	if c.conn == nil {
		return errors.New("grpc conn is nil")
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	if c.token != "" {
		streamCtx = metadata.AppendToOutgoingContext(streamCtx, "authorization", "Bearer "+c.token)
	}
	s, err := c.conn.NewStream(streamCtx, &grpc.StreamDesc{ClientStreams: true}, c.method)
	if err != nil {
		cancel()
		return fmt.Errorf("open stream %s: %w", c.method, err)
	}
	c.stream = s
	c.streamStop = cancel
	return nil
}

func (c *GRPCClient) resetStreamLocked() {
	if c.streamStop != nil {
		c.streamStop()
		c.streamStop = nil
	}
	c.stream = nil
}
