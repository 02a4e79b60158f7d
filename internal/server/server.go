// Package server exposes the query engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/clinicalkb/medrag/config"
	"github.com/clinicalkb/medrag/internal/corpus"
	"github.com/clinicalkb/medrag/internal/provider"
	"github.com/clinicalkb/medrag/internal/rag"
	"github.com/clinicalkb/medrag/internal/rag/analyzer"
	"github.com/clinicalkb/medrag/internal/rag/cache"
	"github.com/clinicalkb/medrag/internal/rag/engine"
	"github.com/clinicalkb/medrag/internal/rag/retrieval"
	"github.com/clinicalkb/medrag/internal/telemetry"
)

// Run wires all dependencies from configuration and serves until the
// listener fails or ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	store, err := corpus.NewPostgres(ctx, dsn)
	if err != nil {
		return fmt.Errorf("corpus store: %w", err)
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr(),
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	defer rdb.Close()

	primary, enhancement, embedder, err := provider.BuildProviders(cfg.LLM, cfg.Embedding)
	if err != nil {
		return err
	}

	resultCache := cache.NewRedis(rdb)
	tele := telemetry.New(cfg.Telemetry)
	defer tele.Shutdown()

	retriever := retrieval.NewRetriever(embedder, store, cfg.Retrieval, resultCache, cfg.Cache.RetrievalTTL, nil)
	eng, err := engine.New(cfg, engine.Options{
		Analyzer:  analyzer.New(cfg.Analyzer.Keywords),
		Retriever: retriever,
		Primary:   primary, Enhancement: enhancement,
		Store:    store,
		Cache:    resultCache,
		Recorder: tele,
	})
	if err != nil {
		return err
	}

	var limiter RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = NewRedisRateLimiter(rdb, cfg.RateLimit)
	}
	var audit AuditSink = LogAuditSink{}
	if cfg.Audit.Enabled {
		audit = NewRedisAuditSink(rdb, cfg.Audit)
	}

	e := New(cfg, eng, tele, limiter, audit)
	go func() {
		<-ctx.Done()
		_ = e.Shutdown(context.Background())
	}()
	if err := e.Start(cfg.Server.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// New builds the echo instance with middleware, routes and error mapping.
// Collaborators are injected so tests can run against stubs.
func New(cfg *config.Config, eng *engine.Engine, tele *telemetry.Telemetry, limiter RateLimiter, audit AuditSink) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	httpLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code, msg := mapError(err)
		req := c.Request()
		httpLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if tele != nil {
		e.GET("/metrics", echo.WrapHandler(tele.Handler()))
	}

	api := e.Group("/api")
	if limiter != nil {
		api.Use(RateLimitMiddleware(limiter))
	}

	qh := &QueryHandler{Engine: eng, Audit: audit}
	qh.Register(api.Group("/query"))
	hh := &HealthHandler{Engine: eng, Telemetry: tele}
	hh.Register(api.Group("/health"))
	return e
}

// mapError translates pipeline errors into transport codes. Upstream
// collaborator failures are reported generically so provider internals do
// not leak to callers.
func mapError(err error) (int, string) {
	var (
		validationErr rag.ValidationError
		retrievalErr  rag.RetrievalError
		generationErr rag.GenerationError
		httpErr       *echo.HTTPError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, validationErr.Error()
	case errors.As(err, &retrievalErr), errors.As(err, &generationErr):
		return http.StatusBadGateway, "the knowledge service is temporarily unavailable, please retry"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "query processing exceeded the time limit"
	case errors.As(err, &httpErr):
		return httpErr.Code, fmt.Sprint(httpErr.Message)
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
