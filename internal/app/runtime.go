package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/skypol2113/magic-worker/internal/cli"
	"github.com/skypol2113/magic-worker/internal/config"
	"github.com/skypol2113/magic-worker/internal/db"
	"github.com/skypol2113/magic-worker/internal/embedding"
	"github.com/skypol2113/magic-worker/internal/langdetect"
	"github.com/skypol2113/magic-worker/internal/logging"
	"github.com/skypol2113/magic-worker/internal/notify"
	"github.com/skypol2113/magic-worker/internal/pipeline"
	"github.com/skypol2113/magic-worker/internal/translation"
	"github.com/skypol2113/magic-worker/internal/vectorindex"
)

const connectTimeout = 10 * time.Second

// runtime is everything a long-lived command needs, built from one config.
type runtime struct {
	cfg          *config.Config
	logger       zerolog.Logger
	pool         *db.Pool
	translations *translation.Registry
	detector     langdetect.Detector
	embedder     embedding.Provider
	index        *vectorindex.Index
	engine       *pipeline.Engine
}

func (r *runtime) Close() {
	if r == nil {
		return
	}
	if r.engine != nil {
		r.engine.Close()
	}
	if r.pool != nil {
		_ = r.pool.Close()
	}
}

// loadConfig loads the env file, config and logger, printing failures the
// way every command reports them. A non-zero code means the caller must exit.
func loadConfig(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, int) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, zerolog.Nop(), 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, zerolog.Nop(), 1
	}
	return cfg, logger, 0
}

func newRuntime(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*runtime, error) {
	dbCtx, dbCancel := context.WithTimeout(ctx, connectTimeout)
	defer dbCancel()

	pool, err := db.NewPool(dbCtx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	rt := &runtime{cfg: cfg, logger: logger, pool: pool}

	rt.translations, err = buildTranslations(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.detector, err = buildDetector(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if cfg.EmbeddingsEnabled {
		rt.embedder, err = embedding.New(embeddingOptions(cfg))
		if err != nil {
			rt.Close()
			return nil, err
		}
	}
	rt.index = vectorindex.New(pool, logger, vectorindex.Options{
		Enabled:  cfg.VectorIndexEnabled,
		EFSearch: cfg.VectorIndexEFSearch,
	})

	translator, err := rt.translations.Default()
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("resolve default translation provider: %w", err)
	}

	rt.engine, err = pipeline.NewEngine(pipeline.Dependencies{
		Store:      pool,
		Translator: translator,
		Detector:   rt.detector,
		Embedder:   rt.embedder,
		Index:      rt.index,
		Notifier:   buildNotifier(cfg, logger),
		Logger:     logger,
	}, engineOptions(cfg))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("create engine: %w", err)
	}
	if err := rt.engine.Init(ctx); err != nil {
		rt.Close()
		return nil, fmt.Errorf("init engine: %w", err)
	}

	logger.Info().
		Str("translation_provider", rt.translations.DefaultProvider()).
		Str("detector", rt.detector.Name()).
		Bool("embeddings", rt.embedder != nil).
		Bool("vector_index", cfg.VectorIndexEnabled).
		Str("worker_version", cfg.WorkerVersion).
		Msg("runtime initialized")
	return rt, nil
}

// buildTranslations registers the local provider always and Google when it
// has credentials or is the configured default.
func buildTranslations(ctx context.Context, cfg *config.Config) (*translation.Registry, error) {
	registry := translation.NewRegistry(cfg.TranslationProvider)
	if err := registry.Register(translation.NewLocalProvider(translation.LocalOptions{
		Endpoint: cfg.TranslationEndpoint,
		Model:    cfg.TranslationModel,
		APIKey:   cfg.TranslationAPIKey,
		Timeout:  cfg.TranslationTimeout,
	})); err != nil {
		return nil, fmt.Errorf("register local translation provider: %w", err)
	}

	wantGoogle := strings.EqualFold(strings.TrimSpace(cfg.TranslationProvider), "google")
	hasGoogleCredentials := strings.TrimSpace(cfg.GoogleAPIKey) != "" || strings.TrimSpace(cfg.GoogleCredentials) != ""
	if wantGoogle || hasGoogleCredentials {
		google, err := translation.NewGoogleProvider(ctx, translation.GoogleOptions{
			APIKey:          cfg.GoogleAPIKey,
			CredentialsFile: cfg.GoogleCredentials,
		})
		if err != nil {
			return nil, fmt.Errorf("create google translation provider: %w", err)
		}
		if err := registry.Register(google); err != nil {
			return nil, fmt.Errorf("register google translation provider: %w", err)
		}
	}

	if _, err := registry.Default(); err != nil {
		return nil, fmt.Errorf("resolve default translation provider %q: %w", registry.DefaultProvider(), err)
	}
	return registry, nil
}

func buildDetector(ctx context.Context, cfg *config.Config) (langdetect.Detector, error) {
	var next langdetect.Detector
	switch strings.ToLower(strings.TrimSpace(cfg.LangDetector)) {
	case "google":
		google, err := translation.NewGoogleProvider(ctx, translation.GoogleOptions{
			APIKey:          cfg.GoogleAPIKey,
			CredentialsFile: cfg.GoogleCredentials,
		})
		if err != nil {
			return nil, fmt.Errorf("create google language detector: %w", err)
		}
		next = google
	default:
		next = langdetect.NewLinguaDetector()
	}
	return langdetect.NewCachedDetector(next, cfg.LangDetectCacheTTL), nil
}

func buildNotifier(cfg *config.Config, logger zerolog.Logger) notify.Dispatcher {
	dispatchers := notify.Multi{notify.NewLogDispatcher(logger)}
	if url := strings.TrimSpace(cfg.PushWebhookURL); url != "" {
		dispatchers = append(dispatchers, notify.NewWebhookDispatcher(url, cfg.PushRatePerSec, cfg.PushBurst))
	}
	return dispatchers
}

func embeddingOptions(cfg *config.Config) embedding.Options {
	return embedding.Options{
		Provider:       cfg.EmbeddingsProvider,
		Endpoint:       cfg.EmbeddingsEndpoint,
		Model:          cfg.EmbeddingsModel,
		APIKey:         cfg.EmbeddingsAPIKey,
		Dimensions:     cfg.EmbeddingsDim,
		RequestTimeout: cfg.EmbeddingsTimeout,
	}
}

func engineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		WorkerVersion:     cfg.WorkerVersion,
		CanonicalLang:     cfg.CanonicalLang,
		EmbeddingsEnabled: cfg.EmbeddingsEnabled,
		EmbeddingTimeout:  cfg.EmbeddingsTimeout,
		Selector: pipeline.SelectorOptions{
			TopK:            cfg.EmbeddingsTopK,
			CandidateLimit:  cfg.EmbeddingsCandidateLimit,
			HeuristicWindow: cfg.HeuristicWindow,
			Limit:           cfg.MatchTopN,
			MinSimilarity:   cfg.EmbeddingsMinSim,
		},
		ReentrancyGrace:  cfg.ReentrancyGrace,
		InflightCapacity: cfg.InflightCapacity,
	}
}
