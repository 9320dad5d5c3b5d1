// Package api serves the local HTTP/WebSocket control surface: daemon
// status, cycle triggering, remediation history, a sanitized config echo,
// and a live event feed.
package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/goodnight-ai/goodnight/pkg/config"
	"github.com/goodnight-ai/goodnight/pkg/dreaming"
	"github.com/goodnight-ai/goodnight/pkg/events"
	"github.com/goodnight-ai/goodnight/pkg/storage"
)

// TriggerFunc runs one dreaming cycle with the request's filters applied.
// The daemon wires this to an orchestrator sharing the server's event
// stream.
type TriggerFunc func(ctx context.Context, req TriggerRequest) *dreaming.Result

// PIDProbe reports the daemon process id and whether it is alive.
type PIDProbe func() (pid int, running bool)

// Server is the HTTP control surface.
type Server struct {
	runtimeDir  string
	cfg         *config.Config
	stream      *events.Stream
	state       *storage.StateStore
	resolutions *storage.ResolutionStore
	trigger     TriggerFunc
	conns       *ConnectionManager
	pidProbe    PIDProbe
	cfgSource   func() *config.Config

	// busy single-flights POST /dream; concurrent triggers get 409.
	busy    atomic.Bool
	httpSrv *http.Server
}

// NewServer builds the control surface over a runtime directory. The
// stream must be the same one the orchestrator emits into, or the event
// feed and dream status will be blind.
func NewServer(runtimeDir string, cfg *config.Config, stream *events.Stream, trigger TriggerFunc) *Server {
	gin.SetMode(gin.ReleaseMode)
	if stream == nil {
		stream = events.NewStream(0)
	}
	s := &Server{
		runtimeDir:  runtimeDir,
		cfg:         cfg,
		stream:      stream,
		state:       storage.NewStateStore(runtimeDir),
		resolutions: storage.NewResolutionStore(runtimeDir),
		trigger:     trigger,
	}
	s.conns = NewConnectionManager(stream)
	return s
}

// SetPIDProbe injects the daemon liveness check. Without one the status
// endpoint reports the daemon as not running.
func (s *Server) SetPIDProbe(probe PIDProbe) { s.pidProbe = probe }

// SetConfigSource injects a live config getter so SIGHUP reloads show up
// in the status and config endpoints. Without one the construction-time
// config is served.
func (s *Server) SetConfigSource(source func() *config.Config) { s.cfgSource = source }

// config returns the active configuration.
func (s *Server) config() *config.Config {
	if s.cfgSource != nil {
		return s.cfgSource()
	}
	return s.cfg
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), corsHeaders())

	v1 := r.Group("/api/v1")
	v1.GET("/status", s.statusHandler)
	v1.POST("/dream", s.triggerDreamHandler)
	v1.GET("/dream/status", s.dreamStatusHandler)
	v1.GET("/history", s.historyHandler)
	v1.GET("/config", s.configHandler)
	v1.GET("/health", s.healthHandler)
	v1.GET("/ws/events", s.wsHandler)
	return r
}

// Start serves on addr. Blocks until Shutdown or a listener error;
// returns http.ErrServerClosed after a clean shutdown.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// corsHeaders returns middleware that lets local dashboards talk to the
// loopback API from any origin.
func corsHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
