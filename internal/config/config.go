package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type StreamMode string

const (
	StreamModeNone      StreamMode = "none"
	StreamModeGRPC      StreamMode = "grpc"
	StreamModeWebSocket StreamMode = "websocket"
	StreamModeNATS      StreamMode = "nats"
)

type Role string

const (
	RoleChild  Role = "child"
	RoleMaster Role = "master"
)

const (
	EnvPrefix        = "LSFLEET"
	HardcodedVersion = "V0.3"
	addrPlaceholder  = "{addr}"
)

type Config struct {
	NodeID                string
	Hostname              string
	Role                  Role
	ListenAddr            string
	ProbeListenAddr       string
	ProcRoot              string
	ReportDir             string
	ReportPrefix          string
	StateBackend          string
	StatePath             string
	TargetsFile           string
	MasterAddr            string
	ChildURLTemplate      string
	FetchTimeout          time.Duration
	PollInterval          time.Duration
	ShutdownTimeout       time.Duration
	StreamMode            StreamMode
	BackendGRPCAddr       string
	BackendWSURL          string
	BackendNATSURL        string
	NATSSubject           string
	BackendToken          string
	GRPCStreamMethod      string
	AgentVersion          string
	TLSEnabled            bool
	TLSSkipVerify         bool
	TLSCAPath             string
	TLSCertPath           string
	TLSKeyPath            string
	LogJSON               bool
	LogLevel              string
	WebSocketWriteTimeout time.Duration
	WebSocketPingInterval time.Duration
	StreamBufferSize      int
	CollectorErrorBackoff time.Duration
}

// SetDefaults registers every key so AutomaticEnv can resolve LSFLEET_<KEY>.
func SetDefaults(v *viper.Viper) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	v.SetDefault("node_id", hostname)
	v.SetDefault("role", string(RoleChild))
	v.SetDefault("listen_addr", "0.0.0.0:8090")
	v.SetDefault("probe_addr", "")
	v.SetDefault("proc_root", "/proc")
	v.SetDefault("report_dir", "/tmp/lshttpd")
	v.SetDefault("report_prefix", ".rtreport")
	v.SetDefault("state_backend", "file")
	v.SetDefault("state_path", "/tmp/lsfleet_cpu_prev.json")
	v.SetDefault("targets_file", "/etc/lsyncd/targets.conf")
	v.SetDefault("master_addr", "127.0.0.1")
	v.SetDefault("child_url_template", "http://{addr}:8090/api/v1/node?json=1")
	v.SetDefault("fetch_timeout", 3*time.Second)
	v.SetDefault("poll_interval", 2*time.Second)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("stream_mode", string(StreamModeNone))
	v.SetDefault("backend_grpc_addr", "127.0.0.1:3001")
	v.SetDefault("backend_ws_url", "ws://127.0.0.1:3001/ws/metrics")
	v.SetDefault("backend_nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("nats_subject", "lsfleet.views")
	v.SetDefault("backend_token", "")
	v.SetDefault("grpc_stream_method", "/lsfleet.metrics.v1.MetricsService/Push")
	v.SetDefault("tls_enabled", false)
	v.SetDefault("tls_skip_verify", false)
	v.SetDefault("tls_ca_path", "")
	v.SetDefault("tls_cert_path", "")
	v.SetDefault("tls_key_path", "")
	v.SetDefault("log_json", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("ws_write_timeout", 5*time.Second)
	v.SetDefault("ws_ping_interval", 10*time.Second)
	v.SetDefault("stream_buffer_size", 64)
	v.SetDefault("collector_error_backoff", 1500*time.Millisecond)
}

// NewViper returns a viper instance with defaults and LSFLEET_ env binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = NewViper()
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	cfg := Config{
		NodeID:                strings.TrimSpace(v.GetString("node_id")),
		Hostname:              hostname,
		Role:                  Role(strings.ToLower(strings.TrimSpace(v.GetString("role")))),
		ListenAddr:            strings.TrimSpace(v.GetString("listen_addr")),
		ProbeListenAddr:       strings.TrimSpace(v.GetString("probe_addr")),
		ProcRoot:              v.GetString("proc_root"),
		ReportDir:             v.GetString("report_dir"),
		ReportPrefix:          v.GetString("report_prefix"),
		StateBackend:          strings.ToLower(strings.TrimSpace(v.GetString("state_backend"))),
		StatePath:             v.GetString("state_path"),
		TargetsFile:           v.GetString("targets_file"),
		MasterAddr:            strings.TrimSpace(v.GetString("master_addr")),
		ChildURLTemplate:      strings.TrimSpace(v.GetString("child_url_template")),
		FetchTimeout:          v.GetDuration("fetch_timeout"),
		PollInterval:          v.GetDuration("poll_interval"),
		ShutdownTimeout:       v.GetDuration("shutdown_timeout"),
		StreamMode:            StreamMode(strings.ToLower(strings.TrimSpace(v.GetString("stream_mode")))),
		BackendGRPCAddr:       v.GetString("backend_grpc_addr"),
		BackendWSURL:          v.GetString("backend_ws_url"),
		BackendNATSURL:        v.GetString("backend_nats_url"),
		NATSSubject:           v.GetString("nats_subject"),
		BackendToken:          v.GetString("backend_token"),
		GRPCStreamMethod:      v.GetString("grpc_stream_method"),
		AgentVersion:          HardcodedVersion,
		TLSEnabled:            v.GetBool("tls_enabled"),
		TLSSkipVerify:         v.GetBool("tls_skip_verify"),
		TLSCAPath:             v.GetString("tls_ca_path"),
		TLSCertPath:           v.GetString("tls_cert_path"),
		TLSKeyPath:            v.GetString("tls_key_path"),
		LogJSON:               v.GetBool("log_json"),
		LogLevel:              strings.ToLower(v.GetString("log_level")),
		WebSocketWriteTimeout: v.GetDuration("ws_write_timeout"),
		WebSocketPingInterval: v.GetDuration("ws_ping_interval"),
		StreamBufferSize:      v.GetInt("stream_buffer_size"),
		CollectorErrorBackoff: v.GetDuration("collector_error_backoff"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) IsMaster() bool {
	return c.Role == RoleMaster
}

func (c Config) Validate() error {
	if c.NodeID == "" {
		return errors.New("LSFLEET_NODE_ID is required")
	}
	if strings.TrimSpace(c.AgentVersion) == "" {
		return errors.New("agent version must not be empty")
	}
	switch c.Role {
	case RoleChild, RoleMaster:
	default:
		return fmt.Errorf("unsupported role %q", c.Role)
	}
	if c.ListenAddr == "" {
		return errors.New("LSFLEET_LISTEN_ADDR is required")
	}
	switch c.StateBackend {
	case "memory":
	case "file", "bolt":
		if strings.TrimSpace(c.StatePath) == "" {
			return fmt.Errorf("LSFLEET_STATE_PATH is required for %s state backend", c.StateBackend)
		}
	default:
		return fmt.Errorf("unsupported state backend %q", c.StateBackend)
	}
	if c.FetchTimeout <= 0 {
		return errors.New("LSFLEET_FETCH_TIMEOUT must be > 0")
	}
	if c.PollInterval <= 0 {
		return errors.New("LSFLEET_POLL_INTERVAL must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("LSFLEET_SHUTDOWN_TIMEOUT must be > 0")
	}
	if !strings.Contains(c.ChildURLTemplate, addrPlaceholder) {
		return fmt.Errorf("LSFLEET_CHILD_URL_TEMPLATE must contain %s", addrPlaceholder)
	}
	switch c.StreamMode {
	case StreamModeNone:
	case StreamModeGRPC:
		if strings.TrimSpace(c.BackendGRPCAddr) == "" {
			return errors.New("LSFLEET_BACKEND_GRPC_ADDR is required for grpc mode")
		}
		if strings.TrimSpace(c.GRPCStreamMethod) == "" {
			return errors.New("LSFLEET_GRPC_STREAM_METHOD is required for grpc mode")
		}
	case StreamModeWebSocket:
		if strings.TrimSpace(c.BackendWSURL) == "" {
			return errors.New("LSFLEET_BACKEND_WS_URL is required for websocket mode")
		}
	case StreamModeNATS:
		if strings.TrimSpace(c.BackendNATSURL) == "" {
			return errors.New("LSFLEET_BACKEND_NATS_URL is required for nats mode")
		}
		if strings.TrimSpace(c.NATSSubject) == "" {
			return errors.New("LSFLEET_NATS_SUBJECT is required for nats mode")
		}
	default:
		return fmt.Errorf("unsupported stream mode %q", c.StreamMode)
	}
	return nil
}

func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.TLSSkipVerify}
	if c.TLSCAPath != "" {
		caBytes, err := os.ReadFile(c.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	if c.TLSCertPath != "" || c.TLSKeyPath != "" {
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			return nil, errors.New("both TLS cert and key are required")
		}
		crt, err := tls.LoadX509KeyPair(c.TLSCertPath, c.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load mTLS cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{crt}
	}
	return tlsCfg, nil
}
