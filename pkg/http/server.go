package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"PatternEngine/pkg/http/middleware"
	applogger "PatternEngine/pkg/logger"
)

// Handler mounts its routes on the server's Echo instance.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// BodyLimit like "8M"; empty disables it.
	BodyLimit string
	CORS      bool
	// MetricsPath serves the scrape endpoint; empty disables request metrics too.
	MetricsPath   string
	Registerer    prometheus.Registerer
	Gatherer      prometheus.Gatherer
	Logger        *applogger.Logger
	SlowThreshold time.Duration
	// Per-client requests per second; zero disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int
}

type ServerOption func(*ServerConfig)

func defaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		BodyLimit:       "8M",
		CORS:            true,
		MetricsPath:     "/metrics",
		Registerer:      prometheus.DefaultRegisterer,
		Gatherer:        prometheus.DefaultGatherer,
		Logger:          applogger.Nop(),
		SlowThreshold:   time.Second,
	}
}

// Server is an Echo instance with the service middleware stack.
type Server struct {
	echo *echo.Echo
	cfg  *ServerConfig
	log  *applogger.Logger
	ln   net.Listener
}

// NewServer applies opts, installs middleware and mounts h. h may be nil.
func NewServer(h Handler, opts ...ServerOption) *Server {
	cfg := defaultServerConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	e := echo.New()
	e.HideBanner, e.HidePort = true, true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout
	e.Use(stack(cfg)...)

	if h != nil {
		h.RegisterRoutes(e)
	}
	if cfg.MetricsPath != "" {
		e.GET(cfg.MetricsPath, echo.WrapHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	return &Server{echo: e, cfg: cfg, log: cfg.Logger}
}

// stack lists middleware outermost first.
func stack(cfg *ServerConfig) []echo.MiddlewareFunc {
	l := cfg.Logger
	mws := []echo.MiddlewareFunc{
		middleware.Recover(l),
		echomw.RequestID(),
		middleware.RequestLogging(l),
	}
	if cfg.MetricsPath != "" {
		mws = append(mws, middleware.Metrics(middleware.NewHTTPMetrics(cfg.Registerer), l, cfg.SlowThreshold))
	}
	if cfg.BodyLimit != "" {
		mws = append(mws, echomw.BodyLimit(cfg.BodyLimit))
	}
	if cfg.RateLimitRPS > 0 {
		mws = append(mws, middleware.RateLimit(middleware.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)))
	}
	if cfg.CORS {
		mws = append(mws, echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}
	return mws
}

// Start binds the port and serves in the background. Bind errors are returned.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.ln = ln
	s.echo.Listener = ln

	go func() {
		s.log.Info("http server listening", applogger.String("addr", ln.Addr().String()))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", applogger.Error(err))
		}
	}()
	return nil
}

// Addr is the bound address once Start succeeded.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop drains in-flight requests within the shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if s.ln != nil {
		// closed already unless Stop won the race with Serve
		_ = s.ln.Close()
	}
	s.log.Info("http server stopped")
	return nil
}

func (s *Server) Echo() *echo.Echo { return s.echo }

func WithHost(host string) ServerOption { return func(c *ServerConfig) { c.Host = host } }

func WithPort(port int) ServerOption { return func(c *ServerConfig) { c.Port = port } }

func WithTimeouts(read, write, shutdown time.Duration) ServerOption {
	return func(c *ServerConfig) {
		c.ReadTimeout, c.WriteTimeout, c.ShutdownTimeout = read, write, shutdown
	}
}

func WithBodyLimit(limit string) ServerOption { return func(c *ServerConfig) { c.BodyLimit = limit } }

func WithCORS(enabled bool) ServerOption { return func(c *ServerConfig) { c.CORS = enabled } }

// WithMetrics sets the scrape path and registry. Nil reg or gatherer keep the defaults.
func WithMetrics(path string, reg prometheus.Registerer, gatherer prometheus.Gatherer) ServerOption {
	return func(c *ServerConfig) {
		c.MetricsPath = path
		if reg != nil {
			c.Registerer = reg
		}
		if gatherer != nil {
			c.Gatherer = gatherer
		}
	}
}

func WithLogger(l *applogger.Logger) ServerOption {
	return func(c *ServerConfig) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithRateLimit limits each client IP to rps requests per second.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(c *ServerConfig) { c.RateLimitRPS, c.RateLimitBurst = rps, burst }
}
