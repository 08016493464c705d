// Package gateway exposes the orchestrator over HTTP: a small JSON API
// for sessions and events, a WebSocket event stream, and the Prometheus
// scrape endpoint.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/agentorch/ao/internal/common/config"
	"github.com/agentorch/ao/internal/common/logger"
	"github.com/agentorch/ao/internal/events"
	"github.com/agentorch/ao/internal/oerr"
	"github.com/agentorch/ao/internal/session"
)

// Server is the HTTP gateway. Construct with New, then Start; Shutdown
// drains in-flight requests and disconnects stream clients.
type Server struct {
	cfg     config.GatewayConfig
	manager *session.Manager
	rec     *events.Recorder
	hub     *hub
	httpSrv *http.Server
	log     *logger.Logger
}

// Options carries the gateway's optional collaborators.
type Options struct {
	// Bus feeds the live event stream; nil disables it.
	Bus events.Bus
	// Gatherer backs /metrics; nil falls back to the default registry.
	Gatherer prometheus.Gatherer
}

// New builds the gateway without binding the port.
func New(cfg config.GatewayConfig, manager *session.Manager, rec *events.Recorder, log *logger.Logger, opts Options) *Server {
	log = log.WithComponent("gateway")
	s := &Server{
		cfg:     cfg,
		manager: manager,
		rec:     rec,
		hub:     newHub(opts.Bus, rec, log),
		log:     log,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", s.handleHealth)

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		api.GET("/sessions", s.handleListSessions)
		api.GET("/sessions/:id", s.handleGetSession)
		api.GET("/events", s.handleListEvents)
		api.GET("/events/stream", s.handleEventStream)
	}

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeoutDuration(),
		WriteTimeout: cfg.WriteTimeoutDuration(),
	}
	return s
}

// Start binds the listener and serves until Shutdown. Blocks.
func (s *Server) Start(ctx context.Context) error {
	s.hub.start(ctx)
	s.log.Info("gateway listening", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return oerr.Wrap(oerr.KindTransient, err, "gateway serve")
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.stop()
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "streamClients": s.hub.clientCount()})
}

func (s *Server) handleListSessions(c *gin.Context) {
	sessions, err := s.manager.List(c.Query("project"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	out := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toView(sess))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.manager.Get(c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	if sess == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, toView(sess))
}

func (s *Server) handleListEvents(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	evts, err := s.rec.Tail(limit)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evts})
}

func (s *Server) handleEventStream(c *gin.Context) {
	s.hub.serve(c.Writer, c.Request)
}

func (s *Server) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch oerr.KindOf(err) {
	case oerr.KindNotFound:
		status = http.StatusNotFound
	case oerr.KindConflictingState, oerr.KindPolicyViolation:
		status = http.StatusConflict
	case oerr.KindDependencyUnresolved, oerr.KindConfig:
		status = http.StatusBadRequest
	}
	s.log.WithError(err).Warn("request failed", zap.String("path", c.Request.URL.Path))
	c.JSON(status, gin.H{"error": err.Error()})
}

// sessionView is the API projection of a session.
type sessionView struct {
	ID            string `json:"id"`
	ProjectID     string `json:"projectId"`
	Status        string `json:"status"`
	Activity      string `json:"activity,omitempty"`
	Branch        string `json:"branch,omitempty"`
	IssueID       string `json:"issueId,omitempty"`
	PRURL         string `json:"prUrl,omitempty"`
	WorkspacePath string `json:"workspacePath,omitempty"`
	CreatedAt     string `json:"createdAt,omitempty"`
}

func toView(s *session.Session) sessionView {
	v := sessionView{
		ID:            s.ID,
		ProjectID:     s.ProjectID,
		Status:        string(s.Status),
		Activity:      string(s.Activity),
		Branch:        s.Branch,
		IssueID:       s.IssueID,
		WorkspacePath: s.WorkspacePath,
	}
	if s.PR != nil {
		v.PRURL = s.PR.URL
	}
	if !s.CreatedAt.IsZero() {
		v.CreatedAt = s.CreatedAt.UTC().Format(time.RFC3339)
	}
	return v
}
