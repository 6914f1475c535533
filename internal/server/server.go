// Package server exposes node and fleet snapshots over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lsfleet-agent/internal/fleet"
	"lsfleet-agent/internal/model"
	"lsfleet-agent/internal/telemetry"
)

const pollCycleHeader = "X-Poll-Cycle"

type NodeSource interface {
	Collect(ctx context.Context) model.NodeSnapshot
}

type FleetSource interface {
	Poll(ctx context.Context) model.FleetView
	Latest() (model.FleetView, bool)
	FetchOne(ctx context.Context, node string) (model.NodeResult, error)
}

type HealthReporter interface {
	Snapshot() map[string]any
}

type Options struct {
	Node    NodeSource
	Fleet   FleetSource // nil on a child
	Hub     *Hub
	Health  HealthReporter
	Metrics *telemetry.Metrics
	Logger  *zap.Logger
}

type Server struct {
	router   *gin.Engine
	node     NodeSource
	fleet    FleetSource
	hub      *Hub
	health   HealthReporter
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(0)
	}
	s := &Server{
		node:   opts.Node,
		fleet:  opts.Fleet,
		hub:    opts.Hub,
		health: opts.Health,
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(opts.Logger))

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))

	api := r.Group("/api/v1")
	{
		api.GET("/node", s.handleNode)
		fl := api.Group("/fleet", s.requireMaster)
		fl.GET("", s.handleFleet)
		fl.GET("/nodes/:node", s.handleFleetNode)
		fl.GET("/domains", s.handleDomains)
		fl.GET("/ws", s.handleLiveFeed)
	}

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// handleNode serves this node's snapshot. A json=1 query parameter is
// accepted for old clients; JSON is the only format. The master answers
// from its latest poll cycle.
func (s *Server) handleNode(c *gin.Context) {
	if s.fleet != nil {
		if view, ok := s.fleet.Latest(); ok {
			if res, ok := view.Nodes[model.MasterNodeID]; ok && res.OK() {
				c.JSON(http.StatusOK, res.Snapshot)
				return
			}
		}
	}
	c.JSON(http.StatusOK, s.node.Collect(c.Request.Context()))
}

// currentView returns the scheduler's latest cycle, polling only when no
// cycle has completed yet.
func (s *Server) currentView(ctx context.Context) model.FleetView {
	if view, ok := s.fleet.Latest(); ok {
		return view
	}
	return s.fleet.Poll(ctx)
}

func (s *Server) handleFleet(c *gin.Context) {
	view := s.currentView(c.Request.Context())
	c.Header(pollCycleHeader, view.CycleID)
	c.JSON(http.StatusOK, view.Nodes)
}

func (s *Server) handleFleetNode(c *gin.Context) {
	res, err := s.fleet.FetchOne(c.Request.Context(), c.Param("node"))
	switch {
	case errors.Is(err, fleet.ErrUnknownNode):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case err != nil:
		s.logger.Warn("fetch node failed", zap.String("node", c.Param("node")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !res.OK() {
		c.JSON(http.StatusBadGateway, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleDomains(c *gin.Context) {
	view := s.currentView(c.Request.Context())
	c.Header(pollCycleHeader, view.CycleID)
	c.JSON(http.StatusOK, fleet.DomainMatrix(view))
}

func (s *Server) handleHealth(c *gin.Context) {
	out := gin.H{"status": "ok"}
	if s.health != nil {
		for k, v := range s.health.Snapshot() {
			out[k] = v
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) requireMaster(c *gin.Context) {
	if s.fleet == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "fleet endpoints are served by the master only"})
		return
	}
	c.Next()
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(started)),
			zap.String("remote", c.ClientIP()),
		)
	}
}
