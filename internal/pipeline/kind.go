package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/skypol2113/magic-worker/internal/db"
)

// Kind distinguishes the document families sharing the intents table.
type Kind string

const (
	KindIntent Kind = db.KindIntent
	KindWish   Kind = db.KindWish
)

func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case "", KindIntent:
		return KindIntent, nil
	case KindWish:
		return KindWish, nil
	default:
		return "", fmt.Errorf("unknown intent kind %q", raw)
	}
}

// Processor is the per-kind set of pipeline stages.
type Processor interface {
	Normalize(ctx context.Context, intent *db.Intent) Normalized
	Embed(ctx context.Context, intent *db.Intent, normalized Normalized) []float32
	SelectCandidates(ctx context.Context, intent *db.Intent, vector []float32) Selection
	Materialize(ctx context.Context, intent *db.Intent, candidates []Candidate) (MaterializeResult, error)
}

// intentProcessor runs the full matching pipeline.
type intentProcessor struct {
	normalizer   *Normalizer
	embedder     *Embedder
	selector     *Selector
	materializer *Materializer
	index        VectorIndex
}

func (p *intentProcessor) Normalize(ctx context.Context, intent *db.Intent) Normalized {
	return p.normalizer.Normalize(ctx, intent)
}

// Embed also mirrors the vector into the index so later intents can find this one.
func (p *intentProcessor) Embed(ctx context.Context, intent *db.Intent, normalized Normalized) []float32 {
	vector := p.embedder.Embed(ctx, intent, normalized)
	if len(vector) > 0 && p.index != nil && p.index.EnsureIndex(ctx, len(vector)) {
		p.index.Upsert(ctx, intent.ID, intent.OwnerID, vector, intent.RawText)
	}
	return vector
}

func (p *intentProcessor) SelectCandidates(ctx context.Context, intent *db.Intent, vector []float32) Selection {
	return p.selector.Select(ctx, intent, vector)
}

func (p *intentProcessor) Materialize(ctx context.Context, intent *db.Intent, candidates []Candidate) (MaterializeResult, error) {
	return p.materializer.Materialize(ctx, intent, candidates)
}

// wishProcessor keeps wishes normalized and embedded but never pairs them;
// it only records them as processed with zero matches.
type wishProcessor struct {
	normalizer   *Normalizer
	embedder     *Embedder
	materializer *Materializer
}

func (p *wishProcessor) Normalize(ctx context.Context, intent *db.Intent) Normalized {
	return p.normalizer.Normalize(ctx, intent)
}

func (p *wishProcessor) Embed(ctx context.Context, intent *db.Intent, normalized Normalized) []float32 {
	return p.embedder.Embed(ctx, intent, normalized)
}

func (p *wishProcessor) SelectCandidates(_ context.Context, _ *db.Intent, _ []float32) Selection {
	return Selection{Tier: TierNone}
}

func (p *wishProcessor) Materialize(ctx context.Context, intent *db.Intent, _ []Candidate) (MaterializeResult, error) {
	return p.materializer.Materialize(ctx, intent, nil)
}
