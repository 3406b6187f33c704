// Package server wires the process together: store driver, realtime hub,
// streaming manager, quota limiter, provider stack and the HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/errgroup"

	"github.com/useparley/parley/plugin/aiprovider"
	"github.com/useparley/parley/plugin/quota"
	"github.com/useparley/parley/plugin/realtime"
	"github.com/useparley/parley/plugin/resilience"
	"github.com/useparley/parley/plugin/streaming"
	"github.com/useparley/parley/server/profile"
	apiv1 "github.com/useparley/parley/server/router/api/v1"
	"github.com/useparley/parley/store"
	"github.com/useparley/parley/store/db/mysql"
	"github.com/useparley/parley/store/db/postgres"
	"github.com/useparley/parley/store/db/sqlite"
)

const shutdownTimeout = 10 * time.Second

// Server is the assembled process.
type Server struct {
	Profile *profile.Profile
	Store   *store.Store
	Hub     *realtime.Hub
	Manager *streaming.Manager

	api        *apiv1.APIV1Service
	httpServer *http.Server
}

// NewServer builds every component from the profile and registers the API.
func NewServer(ctx context.Context, prof *profile.Profile) (*Server, error) {
	driver, err := newDriver(prof)
	if err != nil {
		return nil, err
	}
	st := store.New(driver)
	if err := st.Ping(ctx); err != nil {
		return nil, errors.Wrap(err, "ping store")
	}

	hub := realtime.NewHub()
	manager := streaming.NewManager(streaming.Config{
		MaxConcurrentSessions: prof.MaxConcurrentSessions,
		MaxChunkSize:          prof.MaxChunkSize,
		DebounceInterval:      prof.DebounceInterval,
		IdleTimeout:           prof.IdleTimeout,
		DisposalGrace:         prof.DisposalGrace,
	}, hub)
	limiter := quota.NewLimiter(st)

	provider, err := newProvider(prof)
	if err != nil {
		return nil, err
	}

	breakerCfg := resilience.DefaultBreakerConfig()
	if prof.BreakerFailureThreshold > 0 {
		breakerCfg.FailureThreshold = prof.BreakerFailureThreshold
	}
	if prof.BreakerRecoveryTimeout > 0 {
		breakerCfg.RecoveryTimeout = prof.BreakerRecoveryTimeout
	}
	breaker := resilience.NewBreaker(provider.Name(), breakerCfg)

	retryCfg := resilience.DefaultRetryConfig()
	if prof.RetryMaxAttempts > 0 {
		retryCfg.MaxAttempts = prof.RetryMaxAttempts
	}
	if prof.RetryBaseDelay > 0 {
		retryCfg.BaseDelay = prof.RetryBaseDelay
	}

	e := echo.New()
	e.Use(requestLogger())
	api := apiv1.NewAPIV1Service(prof, st, hub, manager, limiter, provider, breaker, retryCfg)
	api.RegisterRoutes(e)

	return &Server{
		Profile: prof,
		Store:   st,
		Hub:     hub,
		Manager: manager,
		api:     api,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", prof.Addr, prof.Port),
			Handler: e,
		},
	}, nil
}

// Start serves HTTP until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", s.httpServer.Addr, "driver", s.Profile.Driver, "mode", s.Profile.Mode)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serve http")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})
	return g.Wait()
}

// shutdown drains active stream sessions before closing the listener and the
// store, so clients receive terminal events instead of dropped connections.
func (s *Server) shutdown() {
	slog.Info("server shutting down")
	s.Manager.Drain("server shutting down")
	s.api.CancelGenerations()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("http shutdown failed", "err", err)
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("store close failed", "err", err)
	}
	slog.Info("server shutdown complete")
}

// newProvider builds the AI backend selected by the profile. Both backends
// translate the public model variants into upstream slugs.
func newProvider(prof *profile.Profile) (aiprovider.Provider, error) {
	models := map[string]string{
		quota.ModelGeneral:   prof.ModelGeneral,
		quota.ModelCoding:    prof.ModelCoding,
		quota.ModelAcademic:  prof.ModelAcademic,
		quota.ModelReasoning: prof.ModelReasoning,
		quota.ModelEconomy:   prof.ModelEconomy,
	}
	switch prof.Provider {
	case "openai":
		model, err := openai.New(openai.WithToken(prof.OpenAIAPIKey))
		if err != nil {
			return nil, errors.Wrap(err, "build openai client")
		}
		return aiprovider.NewLangChain("openai", model, models), nil
	default:
		return aiprovider.NewOpenRouter(prof.OpenRouterAPIKey, models), nil
	}
}

func newDriver(prof *profile.Profile) (store.Driver, error) {
	switch prof.Driver {
	case "sqlite":
		return sqlite.NewDB(prof.DSN)
	case "postgres":
		return postgres.NewDB(prof.DSN)
	case "mysql":
		return mysql.NewDB(prof.DSN)
	}
	return nil, errors.Errorf("unsupported store driver %q", prof.Driver)
}

// requestLogger logs one line per request with method, path, status class
// surrogate (the handler error) and latency.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			start := time.Now()
			err := next(c)
			attrs := []any{
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				attrs = append(attrs, "err", err)
				slog.Warn("http request", attrs...)
			} else {
				slog.Info("http request", attrs...)
			}
			return err
		}
	}
}
