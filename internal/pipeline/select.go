package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/skypol2113/magic-worker/internal/db"
	"github.com/skypol2113/magic-worker/internal/vectorindex"
)

const (
	DefaultTopK            = 5
	DefaultCandidateLimit  = 200
	DefaultHeuristicWindow = 50
	DefaultMatchTopN       = 1
	DefaultMinSimilarity   = 0.75

	containmentScore = 0.9
	sharedStemScore  = 0.78
	sharedTokenScore = 0.75

	MatchTypeSemantic = "semantic"
	MatchTypeKeyword  = "keyword"
)

// keywordStems score sharedStemScore when a word in each text starts with one.
var keywordStems = []string{"машин", "авто", "car"}

type Tier string

const (
	TierNone      Tier = "none"
	TierANN       Tier = "ann"
	TierWindow    Tier = "window"
	TierHeuristic Tier = "heuristic"
)

// Candidate is a counterpart intent proposed for matching.
type Candidate struct {
	IntentID  string
	OwnerID   string
	Text      string
	Score     float64
	MatchType string
}

// Selection is the outcome of one candidate search.
type Selection struct {
	Tier       Tier
	Candidates []Candidate
}

type CandidateStore interface {
	ListRecentPublished(ctx context.Context, query db.RecentIntentsQuery) ([]db.Intent, error)
	PublishedIntentIDs(ctx context.Context, kind string, ids []string) (map[string]bool, error)
}

type VectorIndex interface {
	EnsureIndex(ctx context.Context, dim int) bool
	Upsert(ctx context.Context, id, ownerID string, vector []float32, text string)
	QueryTopK(ctx context.Context, vector []float32, excludeOwnerID string, k int) []vectorindex.Hit
	Remove(ctx context.Context, id string)
}

type SelectorOptions struct {
	TopK            int
	CandidateLimit  int
	HeuristicWindow int
	Limit           int
	MinSimilarity   float64
}

func (o SelectorOptions) withDefaults() SelectorOptions {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.CandidateLimit <= 0 {
		o.CandidateLimit = DefaultCandidateLimit
	}
	if o.HeuristicWindow <= 0 {
		o.HeuristicWindow = DefaultHeuristicWindow
	}
	if o.Limit <= 0 {
		o.Limit = DefaultMatchTopN
	}
	if o.MinSimilarity < 0 || o.MinSimilarity > 1 {
		o.MinSimilarity = DefaultMinSimilarity
	}
	return o
}

// Selector runs the tiered candidate search: vector index, then a bounded
// brute-force window, then keyword heuristics. The first tier with results wins.
type Selector struct {
	store  CandidateStore
	index  VectorIndex
	opts   SelectorOptions
	logger zerolog.Logger
}

func NewSelector(store CandidateStore, index VectorIndex, opts SelectorOptions, logger zerolog.Logger) *Selector {
	return &Selector{
		store:  store,
		index:  index,
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

func (s *Selector) Select(ctx context.Context, source *db.Intent, vector []float32) Selection {
	if source == nil {
		return Selection{Tier: TierNone}
	}

	if len(vector) > 0 {
		if found := s.runTier(TierANN, source, func() ([]Candidate, error) {
			return s.selectANN(ctx, source, vector)
		}); len(found) > 0 {
			return Selection{Tier: TierANN, Candidates: found}
		}
		if found := s.runTier(TierWindow, source, func() ([]Candidate, error) {
			return s.selectWindow(ctx, source, vector)
		}); len(found) > 0 {
			return Selection{Tier: TierWindow, Candidates: found}
		}
	}

	if found := s.runTier(TierHeuristic, source, func() ([]Candidate, error) {
		return s.selectHeuristic(ctx, source)
	}); len(found) > 0 {
		return Selection{Tier: TierHeuristic, Candidates: found}
	}
	return Selection{Tier: TierNone}
}

// runTier turns a tier's error or panic into zero results.
func (s *Selector) runTier(tier Tier, source *db.Intent, fn func() ([]Candidate, error)) (found []Candidate) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Warn().
				Str("tier", string(tier)).
				Str("intent_id", source.ID).
				Str("panic", fmt.Sprint(recovered)).
				Msg("candidate tier panicked")
			found = nil
		}
	}()

	found, err := fn()
	if err != nil {
		s.logger.Warn().Err(err).Str("tier", string(tier)).Str("intent_id", source.ID).Msg("candidate tier failed")
		return nil
	}
	return found
}

func (s *Selector) selectANN(ctx context.Context, source *db.Intent, vector []float32) ([]Candidate, error) {
	if s.index == nil || !s.index.EnsureIndex(ctx, len(vector)) {
		return nil, nil
	}

	k := max(s.opts.Limit, s.opts.TopK)
	hits := s.index.QueryTopK(ctx, vector, source.OwnerID, k)
	if len(hits) == 0 {
		return nil, nil
	}
	published, err := s.publishedHits(ctx, hits)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(hits))
	for _, hit := range hits {
		if !published[hit.ID] || !s.acceptCounterpart(source, hit.ID, hit.OwnerID) {
			continue
		}
		if hit.Similarity < s.opts.MinSimilarity {
			continue
		}
		out = append(out, Candidate{
			IntentID:  hit.ID,
			OwnerID:   hit.OwnerID,
			Text:      hit.Text,
			Score:     hit.Similarity,
			MatchType: MatchTypeSemantic,
		})
	}
	return s.top(out), nil
}

// publishedHits checks index hits against the intents table. The index can
// lag behind a retraction it never saw.
func (s *Selector) publishedHits(ctx context.Context, hits []vectorindex.Hit) (map[string]bool, error) {
	if s.store == nil {
		return nil, fmt.Errorf("candidate store is required to verify index hits")
	}
	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		ids = append(ids, hit.ID)
	}
	published, err := s.store.PublishedIntentIDs(ctx, db.KindIntent, ids)
	if err != nil {
		return nil, fmt.Errorf("verify index hits: %w", err)
	}
	return published, nil
}

func (s *Selector) selectWindow(ctx context.Context, source *db.Intent, vector []float32) ([]Candidate, error) {
	if s.store == nil {
		return nil, nil
	}
	recent, err := s.store.ListRecentPublished(ctx, db.RecentIntentsQuery{
		Kind:          db.KindIntent,
		Limit:         s.opts.CandidateLimit,
		WithEmbedding: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list embedding window: %w", err)
	}

	out := make([]Candidate, 0, len(recent))
	for _, candidate := range recent {
		if !s.acceptCounterpart(source, candidate.ID, candidate.OwnerID) {
			continue
		}
		similarity, ok := cosine(vector, candidate.EmbeddingVector())
		if !ok || similarity < s.opts.MinSimilarity {
			continue
		}
		out = append(out, Candidate{
			IntentID:  candidate.ID,
			OwnerID:   candidate.OwnerID,
			Text:      candidate.RawText,
			Score:     clampScore(similarity),
			MatchType: MatchTypeSemantic,
		})
	}
	return s.top(out), nil
}

func (s *Selector) selectHeuristic(ctx context.Context, source *db.Intent) ([]Candidate, error) {
	text := strings.ToLower(strings.TrimSpace(source.RawText))
	if text == "" || s.store == nil {
		return nil, nil
	}
	recent, err := s.store.ListRecentPublished(ctx, db.RecentIntentsQuery{
		Kind:  db.KindIntent,
		Limit: s.opts.HeuristicWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("list heuristic window: %w", err)
	}

	out := make([]Candidate, 0, len(recent))
	for _, candidate := range recent {
		if !s.acceptCounterpart(source, candidate.ID, candidate.OwnerID) {
			continue
		}
		score := keywordScore(text, strings.ToLower(strings.TrimSpace(candidate.RawText)))
		if score == 0 {
			continue
		}
		out = append(out, Candidate{
			IntentID:  candidate.ID,
			OwnerID:   candidate.OwnerID,
			Text:      candidate.RawText,
			Score:     score,
			MatchType: MatchTypeKeyword,
		})
	}
	return s.top(out), nil
}

// acceptCounterpart drops the source itself and anything without a distinct owner.
func (s *Selector) acceptCounterpart(source *db.Intent, id, ownerID string) bool {
	if id == "" || id == source.ID {
		return false
	}
	ownerID = strings.TrimSpace(ownerID)
	return ownerID != "" && ownerID != source.OwnerID
}

func (s *Selector) top(candidates []Candidate) []Candidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > s.opts.Limit {
		candidates = candidates[:s.opts.Limit]
	}
	return candidates
}

// keywordScore compares two lowercased texts.
func keywordScore(source, candidate string) float64 {
	if source == "" || candidate == "" {
		return 0
	}
	if strings.Contains(candidate, source) || strings.Contains(source, candidate) {
		return containmentScore
	}
	sourceWords, candidateWords := words(source), words(candidate)
	for _, stem := range keywordStems {
		if hasWordWithPrefix(sourceWords, stem) && hasWordWithPrefix(candidateWords, stem) {
			return sharedStemScore
		}
	}

	seen := make(map[string]struct{}, len(sourceWords))
	for _, word := range sourceWords {
		seen[word] = struct{}{}
	}
	for _, word := range candidateWords {
		if _, ok := seen[word]; ok {
			return sharedTokenScore
		}
	}
	return 0
}

func words(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// hasWordWithPrefix matches stem at a word start. The short Latin stem "car"
// must be the whole word or its plural, so "card" and "scar" do not count.
func hasWordWithPrefix(words []string, stem string) bool {
	for _, word := range words {
		if !strings.HasPrefix(word, stem) {
			continue
		}
		if stem != "car" || word == "car" || word == "cars" {
			return true
		}
	}
	return false
}

func clampScore(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}
