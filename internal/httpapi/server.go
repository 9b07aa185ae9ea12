// Package httpapi serves the worker's operational HTTP API: health and
// stats, provider diagnostics, and test helpers to publish and retract intents.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/skypol2113/magic-worker/internal/db"
	"github.com/skypol2113/magic-worker/internal/embedding"
	"github.com/skypol2113/magic-worker/internal/langdetect"
	"github.com/skypol2113/magic-worker/internal/logging"
	"github.com/skypol2113/magic-worker/internal/pipeline"
	"github.com/skypol2113/magic-worker/internal/translation"
	"github.com/skypol2113/magic-worker/internal/vectorindex"
)

type Options struct {
	Host             string
	Port             int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ShutdownTimeout  time.Duration
	CORSAllowOrigins []string
	CanonicalLang    string
}

type Store interface {
	Ping(ctx context.Context) error
	QueryStats(ctx context.Context) (db.MatchStats, error)
	CreateIntent(ctx context.Context, params db.CreateIntentParams) (db.Intent, error)
	GetIntent(ctx context.Context, id string) (db.Intent, error)
	SetIntentStatus(ctx context.Context, id, status string) (bool, error)
	ListMatchesForIntent(ctx context.Context, intentID string) ([]db.Match, error)
	GetMatch(ctx context.Context, pairKey string) (db.Match, error)
}

type Engine interface {
	Stats() pipeline.EngineStats
	ProcessIntent(ctx context.Context, id string) (pipeline.Outcome, error)
	OnIntentRetracted(ctx context.Context, intentID string) (pipeline.RetractResult, error)
}

type IndexStatus interface {
	Status() vectorindex.Status
}

// Dependencies are the server's collaborators. Store and Engine are required.
type Dependencies struct {
	Store        Store
	Engine       Engine
	Detector     langdetect.Detector
	Translations *translation.Registry
	Embedder     embedding.Provider
	Index        IndexStatus
	Logger       zerolog.Logger
}

type Server struct {
	deps   Dependencies
	logger zerolog.Logger
	opts   Options
}

const (
	defaultHost            = "0.0.0.0"
	defaultPort            = 8090
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultCanonicalLang   = "en"
	idleTimeout            = 60 * time.Second
)

// withDefaults fills every zero or blank option.
func (o Options) withDefaults() Options {
	o.Host = strings.TrimSpace(o.Host)
	if o.Host == "" {
		o.Host = defaultHost
	}
	if o.Port <= 0 {
		o.Port = defaultPort
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = defaultReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = defaultShutdownTimeout
	}
	o.CanonicalLang = strings.TrimSpace(o.CanonicalLang)
	if o.CanonicalLang == "" {
		o.CanonicalLang = defaultCanonicalLang
	}
	if len(o.CORSAllowOrigins) == 0 {
		o.CORSAllowOrigins = []string{"*"}
	}
	return o
}

func (o Options) addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

func NewServer(deps Dependencies, opts Options) *Server {
	return &Server{
		deps:   deps,
		logger: logging.Component(deps.Logger, "httpapi"),
		opts:   opts.withDefaults(),
	}
}

// Handler builds the echo router with middleware and every API route.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.opts.CORSAllowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:     true,
		LogURI:        true,
		LogMethod:     true,
		LogLatency:    true,
		LogRequestID:  true,
		LogError:      true,
		LogValuesFunc: s.logRequest,
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/index", s.handleIndex)
	api.POST("/detect", s.handleDetect)
	api.POST("/translate", s.handleTranslate)
	api.POST("/embeddings/selftest", s.handleEmbeddingSelftest)
	api.POST("/intents", s.handlePublishIntent)
	api.POST("/intents/:id/retract", s.handleRetractIntent)
	api.GET("/intents/:id/matches", s.handleIntentMatches)
	api.GET("/matches/:pair_key", s.handleGetMatch)

	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.deps.Store == nil || s.deps.Engine == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.Handler()
	addr := s.opts.addr()
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  idleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("magic-worker http server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("magic-worker http server stopped")
	return nil
}

// logRequest picks the level by outcome: server errors at error, client
// errors at warn, health probes at debug.
func (s *Server) logRequest(_ echo.Context, v middleware.RequestLoggerValues) error {
	var event *zerolog.Event
	switch {
	case v.Error != nil || v.Status >= http.StatusInternalServerError:
		event = s.logger.Error().Err(v.Error)
	case v.Status >= http.StatusBadRequest:
		event = s.logger.Warn()
	case strings.HasSuffix(v.URI, "/health"):
		event = s.logger.Debug()
	default:
		event = s.logger.Info()
	}
	event.
		Str("method", v.Method).
		Str("uri", v.URI).
		Int("status", v.Status).
		Dur("latency", v.Latency).
		Str("request_id", v.RequestID).
		Msg("http request")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := http.StatusText(status)
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		status = he.Code
		message = http.StatusText(status)
		if text, ok := he.Message.(string); ok && strings.TrimSpace(text) != "" {
			message = text
		}
	case err != nil:
		message = err.Error()
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", status).Msg("unhandled server error")
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}
