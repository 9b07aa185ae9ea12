package app

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/skypol2113/magic-worker/internal/config"
	"github.com/skypol2113/magic-worker/internal/notify"
	"github.com/skypol2113/magic-worker/internal/pipeline"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment:              "test",
		LogLevel:                 "info",
		DatabaseURL:              "postgres://localhost/magic",
		DBMaxConns:               8,
		WorkerVersion:            "magic-worker-go-1",
		CanonicalLang:            "en",
		TranslationProvider:      "local",
		TranslationEndpoint:      "http://127.0.0.1:8845/v1",
		LangDetector:             "lingua",
		LangDetectCacheTTL:       time.Minute,
		EmbeddingsEnabled:        true,
		EmbeddingsProvider:       "http",
		EmbeddingsTopK:           7,
		EmbeddingsCandidateLimit: 150,
		EmbeddingsMinSim:         0.8,
		HeuristicWindow:          40,
		MatchTopN:                2,
		VectorIndexEFSearch:      64,
		ReentrancyGrace:          3 * time.Second,
		InflightCapacity:         64,
		PushRatePerSec:           10,
		PushBurst:                5,
	}
}

func TestBuildTranslationsLocalDefault(t *testing.T) {
	t.Parallel()

	registry, err := buildTranslations(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("buildTranslations failed: %v", err)
	}
	provider, err := registry.Default()
	if err != nil {
		t.Fatalf("default provider: %v", err)
	}
	if provider.Name() != "local" {
		t.Fatalf("unexpected default provider: got %s want local", provider.Name())
	}
	if names := registry.ProviderNames(); len(names) != 1 {
		t.Fatalf("unexpected providers without google credentials: %v", names)
	}
}

func TestBuildTranslationsGoogleRequiresCredentials(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TranslationProvider = "google"
	if _, err := buildTranslations(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for google without credentials")
	}
}

func TestBuildDetectorDefaultsToLingua(t *testing.T) {
	t.Parallel()

	detector, err := buildDetector(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("buildDetector failed: %v", err)
	}
	if detector.Name() != "lingua" {
		t.Fatalf("unexpected detector: got %s want lingua", detector.Name())
	}
}

func TestBuildNotifier(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	multi, ok := buildNotifier(cfg, zerolog.Nop()).(notify.Multi)
	if !ok || len(multi) != 1 {
		t.Fatalf("expected log-only dispatcher, got %#v", multi)
	}

	cfg.PushWebhookURL = "http://127.0.0.1:9/push"
	multi, ok = buildNotifier(cfg, zerolog.Nop()).(notify.Multi)
	if !ok || len(multi) != 2 {
		t.Fatalf("expected log and webhook dispatchers, got %#v", multi)
	}
}

func TestEngineOptionsFromConfig(t *testing.T) {
	t.Parallel()

	opts := engineOptions(testConfig())
	if opts.Selector.TopK != 7 || opts.Selector.CandidateLimit != 150 || opts.Selector.HeuristicWindow != 40 {
		t.Fatalf("unexpected selector sizes: %+v", opts.Selector)
	}
	if opts.Selector.Limit != 2 || opts.Selector.MinSimilarity != 0.8 {
		t.Fatalf("unexpected selector thresholds: %+v", opts.Selector)
	}
	if opts.ReentrancyGrace != 3*time.Second || opts.InflightCapacity != 64 || !opts.EmbeddingsEnabled {
		t.Fatalf("unexpected engine options: %+v", opts)
	}
}

func TestSummarizeOutcomes(t *testing.T) {
	t.Parallel()

	summary := summarizeOutcomes([]pipeline.Outcome{
		{Created: []string{"a", "b"}, Duplicates: 1},
		{Skipped: true, SkipReason: "already_processed"},
		{Created: nil},
	})
	if summary.processed != 2 || summary.skipped != 1 || summary.created != 2 || summary.duplicates != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	t.Parallel()

	if code := Run([]string{"frobnicate"}); code != 2 {
		t.Fatalf("unexpected exit code: got %d want 2", code)
	}
	if code := Run(nil); code != 2 {
		t.Fatalf("unexpected exit code without args: got %d want 2", code)
	}
	if code := Run([]string{"help"}); code != 0 {
		t.Fatalf("unexpected exit code for help: got %d want 0", code)
	}
}
