// Package vectorindex keeps an approximate nearest-neighbour mirror of intent
// embeddings in Postgres using pgvector HNSW indexes.
//
// All vectors live in one table with an untyped vector column. Each embedding
// dimension gets its own partial expression index, so mixed models can share
// the table while every query still hits an index of a single dimension.
package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"github.com/skypol2113/magic-worker/internal/db"
	"github.com/skypol2113/magic-worker/internal/logging"
)

// Metric is the distance the HNSW indexes are built with. With cosine
// distance, similarity = 1 - distance is exact rather than an approximation.
const Metric = "cosine"

const (
	DefaultEFSearch     = 64
	DefaultM            = 16
	DefaultEFConstruct  = 64
	overFetchMultiplier = 3
	maxDimensions       = 16000
)

// Hit is one ranked neighbour.
type Hit struct {
	ID         string  `json:"id"`
	OwnerID    string  `json:"owner_id"`
	Text       string  `json:"text"`
	Distance   float64 `json:"distance"`
	Similarity float64 `json:"similarity"`
}

// Options configure the index.
type Options struct {
	Enabled  bool
	EFSearch int
	M        int
}

// Status describes index readiness.
type Status struct {
	Enabled   bool   `json:"enabled"`
	Metric    string `json:"metric"`
	ReadyDims []int  `json:"ready_dims"`
	EFSearch  int    `json:"ef_search"`
}

type store interface {
	Exec(ctx context.Context, query string, args ...any) (db.CommandTag, error)
	InTx(ctx context.Context, fn func(tx db.Tx) error) error
}

type Index struct {
	store  store
	logger zerolog.Logger
	opts   Options

	mu    sync.Mutex
	ready map[int]bool
}

func New(pool *db.Pool, logger zerolog.Logger, opts Options) *Index {
	return newIndex(pool, logger, opts)
}

func newIndex(s store, logger zerolog.Logger, opts Options) *Index {
	if opts.EFSearch <= 0 {
		opts.EFSearch = DefaultEFSearch
	}
	if opts.M <= 0 {
		opts.M = DefaultM
	}
	return &Index{
		store:  s,
		logger: logging.Component(logger, "vectorindex"),
		opts:   opts,
		ready:  make(map[int]bool),
	}
}

// EnsureIndex creates the table and the HNSW index for dim on first use.
// It never returns an error: false means the ANN path must be skipped.
func (x *Index) EnsureIndex(ctx context.Context, dim int) bool {
	if x == nil || !x.opts.Enabled || x.store == nil {
		return false
	}
	if dim <= 0 || dim > maxDimensions {
		return false
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.ready[dim] {
		return true
	}

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS intent_vectors (
	intent_id text PRIMARY KEY,
	owner_id text NOT NULL,
	text text NOT NULL DEFAULT '',
	dim integer NOT NULL,
	embedding vector NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS intent_vectors_owner_idx ON intent_vectors (owner_id)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS intent_vectors_hnsw_%[1]d
	ON intent_vectors USING hnsw ((embedding::vector(%[1]d)) vector_cosine_ops)
	WITH (m = %[2]d, ef_construction = %[3]d)
	WHERE dim = %[1]d`, dim, x.opts.M, DefaultEFConstruct),
	}
	for _, statement := range statements {
		if _, err := x.store.Exec(ctx, statement); err != nil {
			x.logger.Warn().Err(err).Int("dim", dim).Msg("vector index unavailable")
			return false
		}
	}

	x.ready[dim] = true
	x.logger.Info().Int("dim", dim).Str("metric", Metric).Msg("vector index ready")
	return true
}

// Upsert replaces the entry for id. Failures are logged and swallowed.
func (x *Index) Upsert(ctx context.Context, id, ownerID string, vector []float32, text string) {
	if x == nil || len(vector) == 0 || id == "" {
		return
	}
	dim := len(vector)
	if !x.EnsureIndex(ctx, dim) {
		return
	}

	const q = `
INSERT INTO intent_vectors (intent_id, owner_id, text, dim, embedding, updated_at)
VALUES ($1, $2, $3, $4, $5::vector, now())
ON CONFLICT (intent_id) DO UPDATE
SET owner_id = EXCLUDED.owner_id,
	text = EXCLUDED.text,
	dim = EXCLUDED.dim,
	embedding = EXCLUDED.embedding,
	updated_at = now()
`
	if _, err := x.store.Exec(ctx, q, id, ownerID, text, dim, pgvector.NewVector(vector)); err != nil {
		x.logger.Warn().Err(err).Str("intent_id", id).Int("dim", dim).Msg("vector upsert failed")
	}
}

// Remove drops the entry for id whether or not any dimension has been
// ensured in this process. Failures are logged and swallowed.
func (x *Index) Remove(ctx context.Context, id string) {
	if x == nil || x.store == nil || !x.opts.Enabled || id == "" {
		return
	}
	if _, err := x.store.Exec(ctx, `DELETE FROM intent_vectors WHERE intent_id = $1`, id); err != nil {
		x.logger.Warn().Err(err).Str("intent_id", id).Msg("vector remove failed")
	}
}

// QueryTopK returns up to 3*k published intents owned by someone other than
// excludeOwnerID, nearest first. Any failure yields an empty list.
func (x *Index) QueryTopK(ctx context.Context, vector []float32, excludeOwnerID string, k int) []Hit {
	if x == nil || x.store == nil || len(vector) == 0 {
		return nil
	}
	dim := len(vector)
	x.mu.Lock()
	ready := x.ready[dim]
	x.mu.Unlock()
	if !ready {
		return nil
	}

	fetch := max(1, k) * overFetchMultiplier
	efSearch := max(x.opts.EFSearch, fetch)

	q := fmt.Sprintf(`
SELECT
	v.intent_id,
	v.owner_id,
	v.text,
	(v.embedding::vector(%[1]d) <=> $1::vector(%[1]d))::double precision AS distance
FROM intent_vectors v
JOIN intents i ON i.intent_id = v.intent_id
	AND i.status = 'published'
	AND i.kind = 'intent'
WHERE v.dim = %[1]d
  AND v.owner_id <> $2
ORDER BY v.embedding::vector(%[1]d) <=> $1::vector(%[1]d)
LIMIT $3
`, dim)

	hits := make([]Hit, 0, fetch)
	err := x.store.InTx(ctx, func(tx db.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", efSearch)); err != nil {
			return fmt.Errorf("set hnsw.ef_search: %w", err)
		}

		rows, err := tx.Query(ctx, q, pgvector.NewVector(vector), excludeOwnerID, fetch)
		if err != nil {
			return fmt.Errorf("query nearest intents: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var hit Hit
			if err := rows.Scan(&hit.ID, &hit.OwnerID, &hit.Text, &hit.Distance); err != nil {
				return fmt.Errorf("scan nearest intent: %w", err)
			}
			hit.Similarity = SimilarityFromDistance(hit.Distance)
			hits = append(hits, hit)
		}
		return rows.Err()
	})
	if err != nil {
		x.logger.Warn().Err(err).Int("dim", dim).Int("k", k).Msg("vector query failed")
		return nil
	}
	return hits
}

// Status reports whether the index is enabled and which dimensions are ready.
func (x *Index) Status() Status {
	if x == nil {
		return Status{Metric: Metric}
	}
	x.mu.Lock()
	dims := make([]int, 0, len(x.ready))
	for dim := range x.ready {
		dims = append(dims, dim)
	}
	x.mu.Unlock()
	sort.Ints(dims)

	return Status{
		Enabled:   x.opts.Enabled,
		Metric:    Metric,
		ReadyDims: dims,
		EFSearch:  x.opts.EFSearch,
	}
}

// SimilarityFromDistance maps pgvector cosine distance (0..2) to similarity in [0,1].
func SimilarityFromDistance(distance float64) float64 {
	similarity := 1 - distance
	switch {
	case similarity < 0:
		return 0
	case similarity > 1:
		return 1
	default:
		return similarity
	}
}
