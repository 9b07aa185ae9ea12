package pipeline

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/skypol2113/magic-worker/internal/db"
	"github.com/skypol2113/magic-worker/internal/embedding"
	"github.com/skypol2113/magic-worker/internal/notify"
	"github.com/skypol2113/magic-worker/internal/translation"
	"github.com/skypol2113/magic-worker/internal/vectorindex"
)

// memStore is an in-memory Store keyed like the SQL tables.
type memStore struct {
	mu        sync.Mutex
	intents   map[string]*db.Intent
	matches   map[string]db.Match
	clock     time.Time
	commitErr error
	listErr   error
	verifyErr error

	normalizedWrites int
	embeddingWrites  int
	listCalls        int
	verifyCalls      int
}

func newMemStore() *memStore {
	return &memStore{
		intents: make(map[string]*db.Intent),
		matches: make(map[string]db.Match),
		clock:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) add(id, owner, text string, vector []float32) *db.Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = s.clock.Add(time.Minute)
	intent := &db.Intent{
		ID:        id,
		Kind:      db.KindIntent,
		OwnerID:   owner,
		RawText:   text,
		Status:    db.StatusPublished,
		CreatedAt: s.clock,
		UpdatedAt: s.clock,
	}
	if len(vector) > 0 {
		value := pgvector.NewVector(vector)
		intent.Embedding = &value
		intent.EmbeddingDim = len(vector)
		intent.EmbeddingModel = stubEmbeddingModel
		intent.EmbeddingFingerprint = Fingerprint(text)
	}
	s.intents[id] = intent
	return intent
}

func (s *memStore) snapshot(id string) db.Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.intents[id]
}

func (s *memStore) matchList() []db.Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]db.Match, 0, len(s.matches))
	for _, match := range s.matches {
		out = append(out, match)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PairKey < out[j].PairKey })
	return out
}

func (s *memStore) GetIntent(_ context.Context, id string) (db.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[id]
	if !ok {
		return db.Intent{}, db.ErrNoRows
	}
	return *intent, nil
}

func (s *memStore) SaveNormalized(_ context.Context, id string, update db.NormalizedUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.normalizedWrites++
	intent, ok := s.intents[id]
	if !ok {
		return db.ErrNoRows
	}
	intent.NormalizedLang = update.Lang
	intent.NormalizedText = update.Text
	intent.DetectedLang = update.Detected
	intent.Translated = update.Translated
	intent.TranslationProvider = update.Provider
	intent.NormalizedFingerprint = update.Fingerprint
	return nil
}

func (s *memStore) SaveEmbedding(_ context.Context, id string, update db.EmbeddingUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddingWrites++
	intent, ok := s.intents[id]
	if !ok {
		return db.ErrNoRows
	}
	value := pgvector.NewVector(update.Vector)
	intent.Embedding = &value
	intent.EmbeddingDim = len(update.Vector)
	intent.EmbeddingModel = update.Model
	intent.EmbeddingFingerprint = update.Fingerprint
	return nil
}

func (s *memStore) ListRecentPublished(_ context.Context, query db.RecentIntentsQuery) ([]db.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}

	out := make([]db.Intent, 0, len(s.intents))
	for _, intent := range s.intents {
		if intent.Kind != query.Kind || intent.Status != db.StatusPublished {
			continue
		}
		if query.WithEmbedding && intent.Embedding == nil {
			continue
		}
		out = append(out, *intent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (s *memStore) PublishedIntentIDs(_ context.Context, kind string, ids []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyCalls++
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if intent, ok := s.intents[id]; ok && intent.Kind == kind && intent.Status == db.StatusPublished {
			out[id] = true
		}
	}
	return out, nil
}

func (s *memStore) ListPendingPublished(_ context.Context, kind string, limit int) ([]db.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]db.Intent, 0, len(s.intents))
	for _, intent := range s.intents {
		if (kind == "" || intent.Kind == kind) && intent.Status == db.StatusPublished && !intent.Processed {
			out = append(out, *intent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) MatchExists(_ context.Context, pairKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.matches[pairKey]
	return ok, nil
}

func (s *memStore) CommitMatches(_ context.Context, intentID string, matches []db.Match, processed db.ProcessedUpdate) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return nil, s.commitErr
	}
	intent, ok := s.intents[intentID]
	if !ok {
		return nil, db.ErrNoRows
	}

	inserted := make([]string, 0, len(matches))
	for _, match := range matches {
		if _, exists := s.matches[match.PairKey]; exists {
			continue
		}
		s.matches[match.PairKey] = match
		inserted = append(inserted, match.PairKey)
	}
	at := processed.ProcessedAt
	intent.Processed = true
	intent.ProcessedAt = &at
	intent.MatchCount += len(inserted)
	intent.WorkerVersion = processed.WorkerVersion
	return inserted, nil
}

func (s *memStore) MarkDelivered(_ context.Context, pairKey string, owners []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	match, ok := s.matches[pairKey]
	if !ok {
		return db.ErrNoRows
	}
	set := make(map[string]struct{})
	for _, owner := range append(match.DeliveredTo, owners...) {
		set[owner] = struct{}{}
	}
	match.DeliveredTo = match.DeliveredTo[:0:0]
	for owner := range set {
		match.DeliveredTo = append(match.DeliveredTo, owner)
	}
	sort.Strings(match.DeliveredTo)
	match.DeliveredAt = &at
	s.matches[pairKey] = match
	return nil
}

func (s *memStore) ListMatchesBySide(_ context.Context, side, intentID, afterKey string, limit int) ([]db.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]db.Match, 0)
	for _, match := range s.matches {
		ref := match.IntentA
		if side == db.MatchSideB {
			ref = match.IntentB
		}
		if ref == intentID && match.PairKey > afterKey {
			out = append(out, match)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PairKey < out[j].PairKey })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) VoidMatches(_ context.Context, params []db.VoidMatchParams) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	voided := 0
	for _, item := range params {
		match, ok := s.matches[item.PairKey]
		if !ok || match.Status == db.MatchStatusVoid {
			continue
		}
		at := item.ArchivedAt
		match.Status = db.MatchStatusVoid
		match.ClosedReason = item.Reason
		match.ClosedBySide = item.ClosedBySide
		match.ClosedByOwner = item.ClosedByOwner
		match.ArchivedAt = &at
		s.matches[item.PairKey] = match
		voided++
	}
	return voided, nil
}

type stubDetector struct {
	code  string
	err   error
	calls int
}

func (d *stubDetector) Name() string { return "stub-detector" }

func (d *stubDetector) DetectLanguage(_ context.Context, _ string) (string, error) {
	d.calls++
	return d.code, d.err
}

type stubTranslator struct {
	mu       sync.Mutex
	text     string
	err      error
	requests []translation.TranslateRequest
}

func (p *stubTranslator) Name() string { return "stub-translator" }

func (p *stubTranslator) SupportedLanguages() []string { return []string{"en", "ru"} }

func (p *stubTranslator) Translate(_ context.Context, req translation.TranslateRequest) (*translation.TranslateResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	return &translation.TranslateResponse{Text: p.text, TargetLang: req.TargetLang, ProviderName: p.Name(), LatencyMs: 3}, nil
}

// stubEmbedder returns fixed vectors by text.
const stubEmbeddingModel = "stub-model"

type stubEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   int
}

func (p *stubEmbedder) Name() string { return "stub-embedder" }

func (p *stubEmbedder) Model() string { return stubEmbeddingModel }

func (p *stubEmbedder) Embed(_ context.Context, text string) (*embedding.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	vector, ok := p.vectors[text]
	if !ok {
		return nil, errors.New("no vector for text")
	}
	return &embedding.Result{Vector: vector, Dim: len(vector), Model: p.Model(), Provider: p.Name()}, nil
}

type stubIndex struct {
	mu       sync.Mutex
	ready    bool
	hits     []vectorindex.Hit
	panicMsg string
	queries  int
	upserts  []string
	removed  []string
}

func (x *stubIndex) EnsureIndex(_ context.Context, dim int) bool {
	return x.ready && dim > 0
}

func (x *stubIndex) Upsert(_ context.Context, id, _ string, _ []float32, _ string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.upserts = append(x.upserts, id)
}

func (x *stubIndex) QueryTopK(_ context.Context, _ []float32, excludeOwnerID string, _ int) []vectorindex.Hit {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.queries++
	if x.panicMsg != "" {
		panic(x.panicMsg)
	}
	out := make([]vectorindex.Hit, 0, len(x.hits))
	for _, hit := range x.hits {
		if hit.OwnerID != excludeOwnerID {
			out = append(out, hit)
		}
	}
	return out
}

func (x *stubIndex) Remove(_ context.Context, id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.removed = append(x.removed, id)
}

type recordedPush struct {
	ownerID string
	push    notify.Push
}

type recordingNotifier struct {
	mu     sync.Mutex
	pushes []recordedPush
	err    error
}

func (n *recordingNotifier) SendPush(_ context.Context, ownerID string, push notify.Push) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pushes = append(n.pushes, recordedPush{ownerID: ownerID, push: push})
	return n.err
}

func (n *recordingNotifier) owners() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.pushes))
	for _, p := range n.pushes {
		out = append(out, p.ownerID)
	}
	return out
}

func joined(values []string) string {
	return strings.Join(values, ",")
}
