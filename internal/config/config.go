package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"8"`

	WorkerVersion string `envconfig:"WORKER_VERSION" default:"magic-worker-go-1"`
	CanonicalLang string `envconfig:"CANONICAL_LANG" default:"en"`

	TranslationProvider string        `envconfig:"TRANSLATION_PROVIDER" default:"local"`
	TranslationEndpoint string        `envconfig:"TRANSLATION_ENDPOINT" default:"http://127.0.0.1:8845/v1"`
	TranslationModel    string        `envconfig:"TRANSLATION_MODEL" default:"tencent/HY-MT1.5-7B"`
	TranslationAPIKey   string        `envconfig:"TRANSLATION_API_KEY" default:""`
	TranslationTimeout  time.Duration `envconfig:"TRANSLATION_TIMEOUT" default:"30s"`
	GoogleAPIKey        string        `envconfig:"GOOGLE_TRANSLATE_API_KEY" default:""`
	GoogleCredentials   string        `envconfig:"GOOGLE_APPLICATION_CREDENTIALS" default:""`

	LangDetector       string        `envconfig:"LANG_DETECTOR" default:"lingua"`
	LangDetectCacheTTL time.Duration `envconfig:"LANG_DETECT_CACHE_TTL" default:"30m"`

	EmbeddingsEnabled        bool          `envconfig:"EMBEDDINGS_ENABLED" default:"true"`
	EmbeddingsProvider       string        `envconfig:"EMBEDDINGS_PROVIDER" default:"http"`
	EmbeddingsEndpoint       string        `envconfig:"EMBEDDINGS_ENDPOINT" default:"http://127.0.0.1:8844/embed"`
	EmbeddingsModel          string        `envconfig:"EMBEDDINGS_MODEL" default:"multilingual-e5-base"`
	EmbeddingsAPIKey         string        `envconfig:"EMBEDDINGS_API_KEY" default:""`
	EmbeddingsDim            int           `envconfig:"EMBEDDINGS_DIM" default:"0"`
	EmbeddingsTimeout        time.Duration `envconfig:"EMBEDDINGS_TIMEOUT" default:"45s"`
	EmbeddingsTopK           int           `envconfig:"EMBEDDINGS_TOP_K" default:"5"`
	EmbeddingsCandidateLimit int           `envconfig:"EMBEDDINGS_CANDIDATE_LIMIT" default:"200"`
	EmbeddingsMinSim         float64       `envconfig:"EMBEDDINGS_MIN_SIM" default:"0.75"`
	HeuristicWindow          int           `envconfig:"HEURISTIC_WINDOW" default:"50"`
	MatchTopN                int           `envconfig:"MATCH_TOP_N" default:"1"`

	VectorIndexEnabled  bool `envconfig:"VECTOR_INDEX_ENABLED" default:"true"`
	VectorIndexEFSearch int  `envconfig:"VECTOR_INDEX_EF_SEARCH" default:"64"`

	ReentrancyGrace  time.Duration `envconfig:"REENTRANCY_GRACE" default:"5s"`
	InflightCapacity int           `envconfig:"INFLIGHT_CAPACITY" default:"1024"`

	PushWebhookURL   string  `envconfig:"PUSH_WEBHOOK_URL" default:""`
	PushRatePerSec   float64 `envconfig:"PUSH_RATE_PER_SEC" default:"10"`
	PushBurst        int     `envconfig:"PUSH_BURST" default:"5"`
	CORSAllowOrigins string  `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) cannot exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if strings.TrimSpace(c.CanonicalLang) == "" {
		return fmt.Errorf("CANONICAL_LANG is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.LangDetector)) {
	case "lingua", "google":
	default:
		return fmt.Errorf("LANG_DETECTOR must be one of lingua, google (got %q)", c.LangDetector)
	}
	switch strings.ToLower(strings.TrimSpace(c.EmbeddingsProvider)) {
	case "http", "openai":
	default:
		return fmt.Errorf("EMBEDDINGS_PROVIDER must be one of http, openai (got %q)", c.EmbeddingsProvider)
	}
	if c.EmbeddingsDim < 0 {
		return fmt.Errorf("EMBEDDINGS_DIM must be >= 0")
	}
	if c.EmbeddingsMinSim < 0 || c.EmbeddingsMinSim > 1 {
		return fmt.Errorf("EMBEDDINGS_MIN_SIM must be within [0,1]")
	}
	if c.EmbeddingsTopK < 1 {
		return fmt.Errorf("EMBEDDINGS_TOP_K must be >= 1")
	}
	if c.EmbeddingsCandidateLimit < 1 {
		return fmt.Errorf("EMBEDDINGS_CANDIDATE_LIMIT must be >= 1")
	}
	if c.HeuristicWindow < 1 {
		return fmt.Errorf("HEURISTIC_WINDOW must be >= 1")
	}
	if c.MatchTopN < 1 {
		return fmt.Errorf("MATCH_TOP_N must be >= 1")
	}
	if c.VectorIndexEFSearch < 1 {
		return fmt.Errorf("VECTOR_INDEX_EF_SEARCH must be >= 1")
	}
	if c.ReentrancyGrace < 0 {
		return fmt.Errorf("REENTRANCY_GRACE must be >= 0")
	}
	if c.InflightCapacity < 1 {
		return fmt.Errorf("INFLIGHT_CAPACITY must be >= 1")
	}
	if c.PushRatePerSec <= 0 {
		return fmt.Errorf("PUSH_RATE_PER_SEC must be > 0")
	}
	return nil
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
