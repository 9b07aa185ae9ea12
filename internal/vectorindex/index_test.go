package vectorindex

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/skypol2113/magic-worker/internal/db"
)

type recordingStore struct {
	mu      sync.Mutex
	execs   []string
	queries []string
	execErr error
	txErr   error
	txCalls int
	runTx   bool
}

func (s *recordingStore) Exec(_ context.Context, query string, _ ...any) (db.CommandTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs = append(s.execs, query)
	return db.CommandTag{}, s.execErr
}

func (s *recordingStore) InTx(_ context.Context, fn func(tx db.Tx) error) error {
	s.mu.Lock()
	s.txCalls++
	run, txErr := s.runTx, s.txErr
	s.mu.Unlock()
	if txErr != nil || !run {
		return txErr
	}
	return fn(recordingTx{store: s})
}

// recordingTx records statements and fails every query, so callers see
// their SQL without needing a database.
type recordingTx struct {
	store *recordingStore
}

func (tx recordingTx) QueryRow(_ context.Context, query string, _ ...any) *db.Row {
	tx.record(query)
	return &db.Row{}
}

func (tx recordingTx) Query(_ context.Context, query string, _ ...any) (*db.Rows, error) {
	tx.record(query)
	return nil, errors.New("no database")
}

func (tx recordingTx) Exec(_ context.Context, query string, _ ...any) (db.CommandTag, error) {
	tx.record(query)
	return db.CommandTag{}, nil
}

func (tx recordingTx) record(query string) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	tx.store.queries = append(tx.store.queries, query)
}

func (s *recordingStore) count(fragment string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.execs {
		if strings.Contains(q, fragment) {
			n++
		}
	}
	return n
}

func TestEnsureIndexMemoizesReadyDimension(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	index := newIndex(store, zerolog.Nop(), Options{Enabled: true})

	if !index.EnsureIndex(context.Background(), 768) {
		t.Fatalf("expected first ensure to succeed")
	}
	if !index.EnsureIndex(context.Background(), 768) {
		t.Fatalf("expected second ensure to succeed")
	}

	if got := store.count("intent_vectors_hnsw_768"); got != 1 {
		t.Fatalf("unexpected hnsw create count: got %d want 1", got)
	}
	if got := store.count("vector_cosine_ops"); got != 1 {
		t.Fatalf("unexpected cosine opclass count: got %d want 1", got)
	}

	status := index.Status()
	if !status.Enabled || status.Metric != Metric || len(status.ReadyDims) != 1 || status.ReadyDims[0] != 768 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestEnsureIndexRejectsUnusableInput(t *testing.T) {
	t.Parallel()

	disabled := newIndex(&recordingStore{}, zerolog.Nop(), Options{Enabled: false})
	if disabled.EnsureIndex(context.Background(), 384) {
		t.Fatalf("expected disabled index to refuse")
	}

	enabled := newIndex(&recordingStore{}, zerolog.Nop(), Options{Enabled: true})
	if enabled.EnsureIndex(context.Background(), 0) {
		t.Fatalf("expected zero dimension to refuse")
	}

	failing := newIndex(&recordingStore{execErr: errors.New("permission denied")}, zerolog.Nop(), Options{Enabled: true})
	if failing.EnsureIndex(context.Background(), 384) {
		t.Fatalf("expected ddl failure to refuse")
	}
	if got := len(failing.Status().ReadyDims); got != 0 {
		t.Fatalf("unexpected ready dims after failure: got %d want 0", got)
	}
}

func TestQueryTopKDegradesToEmpty(t *testing.T) {
	t.Parallel()

	store := &recordingStore{txErr: errors.New("connection reset")}
	index := newIndex(store, zerolog.Nop(), Options{Enabled: true})

	vector := []float32{0.1, 0.2, 0.3}
	if hits := index.QueryTopK(context.Background(), vector, "owner-1", 5); len(hits) != 0 {
		t.Fatalf("expected no hits before ensure, got %d", len(hits))
	}
	if store.txCalls != 0 {
		t.Fatalf("unexpected query before ensure: got %d calls", store.txCalls)
	}

	if !index.EnsureIndex(context.Background(), len(vector)) {
		t.Fatalf("expected ensure to succeed")
	}
	if hits := index.QueryTopK(context.Background(), vector, "owner-1", 5); len(hits) != 0 {
		t.Fatalf("expected no hits on query failure, got %d", len(hits))
	}
	if store.txCalls != 1 {
		t.Fatalf("unexpected tx calls: got %d want 1", store.txCalls)
	}
}

func TestUpsertEnsuresDimensionFirst(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	index := newIndex(store, zerolog.Nop(), Options{Enabled: true})

	index.Upsert(context.Background(), "intent-1", "owner-1", []float32{1, 0}, "sell my car")
	index.Upsert(context.Background(), "intent-2", "owner-2", []float32{0, 1}, "buy a car")

	if got := store.count("intent_vectors_hnsw_2"); got != 1 {
		t.Fatalf("unexpected hnsw create count: got %d want 1", got)
	}
	if got := store.count("ON CONFLICT (intent_id) DO UPDATE"); got != 2 {
		t.Fatalf("unexpected upsert count: got %d want 2", got)
	}

	index.Remove(context.Background(), "intent-1")
	if got := store.count("DELETE FROM intent_vectors"); got != 1 {
		t.Fatalf("unexpected delete count: got %d want 1", got)
	}
}

func TestRemoveWithoutEnsuredDimension(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	index := newIndex(store, zerolog.Nop(), Options{Enabled: true})

	index.Remove(context.Background(), "intent-1")
	if got := store.count("DELETE FROM intent_vectors"); got != 1 {
		t.Fatalf("unexpected delete count: got %d want 1", got)
	}
	if got := len(index.Status().ReadyDims); got != 0 {
		t.Fatalf("remove must not mark dimensions ready, got %d", got)
	}

	failing := newIndex(&recordingStore{execErr: errors.New("relation does not exist")}, zerolog.Nop(), Options{Enabled: true})
	failing.Remove(context.Background(), "intent-1")
}

func TestQueryTopKOnlyReturnsPublishedIntents(t *testing.T) {
	t.Parallel()

	store := &recordingStore{runTx: true}
	index := newIndex(store, zerolog.Nop(), Options{Enabled: true})
	vector := []float32{0.6, 0.8}
	if !index.EnsureIndex(context.Background(), len(vector)) {
		t.Fatalf("expected ensure to succeed")
	}

	if hits := index.QueryTopK(context.Background(), vector, "owner-1", 2); len(hits) != 0 {
		t.Fatalf("expected no hits from a failing query, got %d", len(hits))
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.queries) != 2 || !strings.Contains(store.queries[0], "hnsw.ef_search") {
		t.Fatalf("unexpected tx statements: %q", store.queries)
	}
	knn := store.queries[1]
	for _, fragment := range []string{"JOIN intents i", "i.status = 'published'", "i.kind = 'intent'", "v.owner_id <> $2"} {
		if !strings.Contains(knn, fragment) {
			t.Fatalf("nearest-neighbour query is missing %q:\n%s", fragment, knn)
		}
	}
}

func TestSimilarityFromDistance(t *testing.T) {
	t.Parallel()

	cases := []struct {
		distance float64
		want     float64
	}{
		{distance: 0, want: 1},
		{distance: 0.19, want: 0.81},
		{distance: 1.4, want: 0},
		{distance: -0.01, want: 1},
	}
	for _, tc := range cases {
		got := SimilarityFromDistance(tc.distance)
		if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("unexpected similarity for %v: got %v want %v", tc.distance, got, tc.want)
		}
	}
}
