// Package server exposes the standings dashboard and JSON API.
package server

import (
	"context"
	"errors"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"dkwatch/internal/scheduler"
	"dkwatch/internal/storage"
	"dkwatch/internal/winprob"
	logx "dkwatch/pkg/logx"
)

type Config struct {
	Enabled         bool
	Addr            string
	ReleaseMode     bool
	ShutdownTimeout time.Duration
}

const (
	defaultAddr            = "127.0.0.1:8610"
	defaultShutdownTimeout = 10 * time.Second
)

// gin mode is process-global; flip it at most once.
var releaseModeOnce sync.Once

// SchedulerInfo is the read-only view of the scheduler the API serves.
type SchedulerInfo interface {
	Snapshot() scheduler.Snapshot
}

type Server struct {
	cfg   Config
	log   logx.Logger
	store storage.Store
	sched SchedulerInfo
	wp    winprob.Config

	srv     *http.Server
	boundTo string
}

// Addr returns the listener address once Start has bound it.
func (s *Server) Addr() string { return s.boundTo }

func New(cfg Config, store storage.Store, sched SchedulerInfo, wp winprob.Config, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, log: log, store: store, sched: sched, wp: wp}
}

// Start binds the listener and serves in the background. A bind failure is
// returned synchronously so the caller can treat it as fatal.
func (s *Server) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	if s.cfg.ReleaseMode {
		releaseModeOnce.Do(func() { gin.SetMode(gin.ReleaseMode) })
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())
	router.SetHTMLTemplate(template.Must(template.New("index.html").Parse(indexHTML)))
	s.routes(router)

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.boundTo = ln.Addr().String()

	s.srv = &http.Server{
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.log.Info("http server listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", logx.Err(err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(sctx); err != nil {
		s.log.Warn("http server forced shutdown", logx.Err(err))
	}
	s.srv = nil
}

// requestLogger logs non-2xx and slow requests; health probes stay quiet.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/healthz" || path == "/readyz" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		dur := time.Since(start)

		if c.Writer.Status() >= 400 || dur > time.Second {
			s.log.Warn("http request",
				logx.String("method", c.Request.Method),
				logx.String("path", path),
				logx.Int("status", c.Writer.Status()),
				logx.Duration("dur", dur))
		} else {
			s.log.Debug("http request",
				logx.String("method", c.Request.Method),
				logx.String("path", path),
				logx.Int("status", c.Writer.Status()),
				logx.Duration("dur", dur))
		}
	}
}
