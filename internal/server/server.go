package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/urska/config"
	"github.com/mohammad-safakhou/urska/internal/admission"
	"github.com/mohammad-safakhou/urska/internal/progress"
	"github.com/mohammad-safakhou/urska/internal/service"
	"github.com/mohammad-safakhou/urska/internal/store"
	"github.com/mohammad-safakhou/urska/internal/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service is the part of service.Service the HTTP API needs.
type Service interface {
	Ask(ctx context.Context, req service.Request, sink progress.Sink) (service.Result, error)
	Run(ctx context.Context, id string) (store.RunRecord, error)
	Runs(ctx context.Context, limit int) ([]store.RunRecord, error)
	QueueStats() admission.Stats
}

// ToolLister exposes the tool catalogue.
type ToolLister interface {
	Tools() []tools.Tool
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithGatherer selects the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func WithTools(t ToolLister) Option {
	return func(s *Server) { s.tools = t }
}

// Server is the HTTP front of the engine.
type Server struct {
	e        *echo.Echo
	cfg      config.ServerConfig
	svc      Service
	tools    ToolLister
	gatherer prometheus.Gatherer
	logger   *log.Logger
}

// New builds the router. Call Start to listen.
func New(cfg config.ServerConfig, svc Service, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		svc:      svc,
		gatherer: prometheus.DefaultGatherer,
		logger:   log.New(log.Writer(), "[HTTP] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = s.handleError
	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := e.Group("/api")
	api.POST("/ask", s.ask)
	api.GET("/runs", s.listRuns)
	api.GET("/runs/:id", s.getRun)
	api.GET("/queue", s.queue)
	api.GET("/tools", s.listTools)

	s.e = e
	return s
}

// Handler returns the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Start listens on cfg.Address until Shutdown.
func (s *Server) Start() error {
	addr := s.cfg.Address
	if addr == "" {
		addr = ":10001"
	}
	s.logger.Printf("listening on %s", addr)
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func (s *Server) handleError(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	req := c.Request()
	s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]interface{}{"error": msg})
	}
}
