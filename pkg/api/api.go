package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ma12/companion-api/pkg/apiresponses"
	"github.com/ma12/companion-api/pkg/config"
	"github.com/ma12/companion-api/pkg/metrics"
	"github.com/ma12/companion-api/pkg/system"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 15 * time.Second
	healthCheckTimeout     = 2 * time.Second
)

type APIController interface {
	BasePath() string
	Register(rg *gin.RouterGroup) error
	Handlers() []gin.HandlerFunc
}

// HealthChecker reports whether a dependency is usable. store.Store satisfies it.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	gin    *gin.Engine
	config config.Server
	health HealthChecker
	log    *zap.SugaredLogger
}

func NewServer(log *zap.Logger, cfg config.Server, debug bool, health HealthChecker) (*Server, error) {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
		system.RequestLogger(log.Sugar()),
	)
	// nil trusts no proxy, so ClientIP is the peer address
	var proxies []string
	if len(cfg.TrustedProxies) > 0 {
		proxies = cfg.TrustedProxies
	}
	if err := engine.SetTrustedProxies(proxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	if debug {
		engine.Use(
			cors.New(cors.Config{
				AllowOrigins: []string{"http://localhost:5173", "http://127.0.0.1:8080"},
				AllowMethods: []string{"GET", "PUT", "POST", "OPTIONS"},
				AllowHeaders: []string{"Origin", "Authorization", "Content-Type", system.RequestIDHeader},
				MaxAge:       12 * time.Hour,
			}),
		)
	}

	s := &Server{
		gin:    engine,
		config: cfg,
		health: health,
		log:    log.Sugar().Named("api"),
	}

	engine.GET("healthz", s.healthz)
	engine.GET("metrics", gin.WrapH(metrics.MetricsHandler()))
	engine.NoRoute(func(c *gin.Context) {
		apiresponses.RespondNotFound(c, "Not Found")
	})

	return s, nil
}

// RegisterAll mounts every controller under /api and again under the bare prefix.
func (s *Server) RegisterAll(controllers []APIController) error {
	for _, prefix := range []string{"api", ""} {
		r := s.gin.Group(prefix)
		for _, c := range controllers {
			if err := c.Register(r.Group(c.BasePath(), c.Handlers()...)); err != nil {
				return fmt.Errorf("register %s controller: %w", c.BasePath(), err)
			}
		}
	}
	return nil
}

func (s *Server) Handler() http.Handler {
	return s.gin
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve handles requests on ln until ctx is cancelled, then drains in-flight
// requests for at most the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	readTimeout := config.MustDuration(s.config.ReadTimeout, defaultReadTimeout)
	srv := &http.Server{
		Handler:           s.gin,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      config.MustDuration(s.config.WriteTimeout, defaultWriteTimeout),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("HTTP server listening", "address", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	timeout := config.MustDuration(s.config.ShutdownTimeout, defaultShutdownTimeout)
	s.log.Infow("Shutting down HTTP server", "timeout", timeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	<-errCh
	s.log.Info("HTTP server stopped")
	return nil
}

func (s *Server) healthz(c *gin.Context) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			system.GetReqLogger(c, s.log).Warnw("Health check failed", "error", err)
			apiresponses.RespondServiceUnavailable(c, "database")
			return
		}
	}
	apiresponses.RespondSuccess(c, http.StatusOK, "ok", nil)
}
