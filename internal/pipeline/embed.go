package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"github.com/skypol2113/magic-worker/internal/db"
	"github.com/skypol2113/magic-worker/internal/embedding"
	"github.com/skypol2113/magic-worker/internal/globaltime"
)

type EmbeddingWriter interface {
	SaveEmbedding(ctx context.Context, id string, update db.EmbeddingUpdate) error
}

type Embedder struct {
	store    EmbeddingWriter
	provider embedding.Provider
	enabled  bool
	timeout  time.Duration
	logger   zerolog.Logger
}

func NewEmbedder(store EmbeddingWriter, provider embedding.Provider, enabled bool, timeout time.Duration, logger zerolog.Logger) *Embedder {
	return &Embedder{
		store:    store,
		provider: provider,
		enabled:  enabled,
		timeout:  timeout,
		logger:   logger,
	}
}

// Embed returns a vector for the normalized text, or nil when none is
// available. Provider failures are logged, never returned.
func (e *Embedder) Embed(ctx context.Context, intent *db.Intent, normalized Normalized) []float32 {
	if intent == nil || normalized.Empty() {
		return nil
	}

	if cached := intent.EmbeddingVector(); len(cached) > 0 && intent.EmbeddingFingerprint == normalized.Fingerprint && e.currentModel(intent) {
		return cached
	}
	if !e.enabled || e.provider == nil {
		return nil
	}

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	result, err := e.provider.Embed(callCtx, normalized.Text)
	if err != nil {
		e.logger.Warn().Err(err).Str("intent_id", intent.ID).Str("provider", e.provider.Name()).Msg("embedding failed")
		return nil
	}
	if result == nil || !usableVector(result.Vector) {
		e.logger.Warn().Str("intent_id", intent.ID).Str("provider", e.provider.Name()).Msg("embedding provider returned an unusable vector")
		return nil
	}

	now := globaltime.UTC()
	update := db.EmbeddingUpdate{
		Vector:      result.Vector,
		Model:       result.Model,
		Provider:    result.Provider,
		Fingerprint: normalized.Fingerprint,
		UpdatedAt:   now,
	}
	if e.store != nil {
		if err := e.store.SaveEmbedding(ctx, intent.ID, update); err != nil {
			e.logger.Warn().Err(err).Str("intent_id", intent.ID).Msg("persist embedding failed")
		}
	}

	stored := pgvector.NewVector(result.Vector)
	intent.Embedding = &stored
	intent.EmbeddingDim = len(result.Vector)
	intent.EmbeddingModel = result.Model
	intent.EmbeddingProvider = result.Provider
	intent.EmbeddingFingerprint = normalized.Fingerprint
	intent.EmbeddedAt = &now

	e.logger.Debug().
		Str("intent_id", intent.ID).
		Int("dim", len(result.Vector)).
		Int64("elapsed_ms", result.ElapsedMs).
		Msg("intent embedded")
	return result.Vector
}

// currentModel reports whether the stored vector came from the configured
// model. Without a usable provider the stored vector is the best available.
func (e *Embedder) currentModel(intent *db.Intent) bool {
	if !e.enabled || e.provider == nil {
		return true
	}
	model := e.provider.Model()
	return model == "" || intent.EmbeddingModel == model
}

func usableVector(vector []float32) bool {
	if len(vector) == 0 {
		return false
	}
	for _, value := range vector {
		f := float64(value)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// cosine returns the cosine similarity of a and b, or ok=false when the
// dimensions differ or either vector has zero norm.
func cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
