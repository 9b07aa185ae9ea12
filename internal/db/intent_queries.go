package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
)

const intentColumns = `
	i.intent_id,
	i.kind,
	i.owner_id,
	i.raw_text,
	i.declared_lang,
	i.status,
	i.normalized_lang,
	i.normalized_text,
	i.detected_lang,
	i.translated,
	i.translation_provider,
	i.translation_ms,
	i.normalized_fingerprint,
	i.normalized_at,
	i.embedding,
	i.embedding_dim,
	i.embedding_model,
	i.embedding_provider,
	i.embedding_fingerprint,
	i.embedded_at,
	i.processed,
	i.processed_at,
	i.match_count,
	i.worker_version,
	i.created_at,
	i.updated_at`

// CreateIntentParams describes one intent insert.
type CreateIntentParams struct {
	ID           string
	Kind         string
	OwnerID      string
	RawText      string
	DeclaredLang string
	Status       string
}

// NormalizedUpdate is the normalization cache written back to an intent.
type NormalizedUpdate struct {
	Lang        string
	Text        string
	Detected    string
	Translated  bool
	Provider    string
	ProviderMs  int64
	Fingerprint string
	UpdatedAt   time.Time
}

// EmbeddingUpdate is the embedding cache written back to an intent.
type EmbeddingUpdate struct {
	Vector      []float32
	Model       string
	Provider    string
	Fingerprint string
	UpdatedAt   time.Time
}

// RecentIntentsQuery selects the newest published intents of one kind.
type RecentIntentsQuery struct {
	Kind          string
	Limit         int
	WithEmbedding bool
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (Intent, error) {
	var item Intent
	err := row.Scan(
		&item.ID,
		&item.Kind,
		&item.OwnerID,
		&item.RawText,
		&item.DeclaredLang,
		&item.Status,
		&item.NormalizedLang,
		&item.NormalizedText,
		&item.DetectedLang,
		&item.Translated,
		&item.TranslationProvider,
		&item.TranslationMs,
		&item.NormalizedFingerprint,
		&item.NormalizedAt,
		&item.Embedding,
		&item.EmbeddingDim,
		&item.EmbeddingModel,
		&item.EmbeddingProvider,
		&item.EmbeddingFingerprint,
		&item.EmbeddedAt,
		&item.Processed,
		&item.ProcessedAt,
		&item.MatchCount,
		&item.WorkerVersion,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (p *Pool) CreateIntent(ctx context.Context, params CreateIntentParams) (Intent, error) {
	kind := strings.TrimSpace(params.Kind)
	if kind == "" {
		kind = KindIntent
	}
	status := strings.TrimSpace(params.Status)
	if status == "" {
		status = StatusPublished
	}

	q := `
INSERT INTO intents AS i (intent_id, kind, owner_id, raw_text, declared_lang, status)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING` + intentColumns

	item, err := scanIntent(p.QueryRow(ctx, q,
		strings.TrimSpace(params.ID),
		kind,
		strings.TrimSpace(params.OwnerID),
		params.RawText,
		strings.TrimSpace(params.DeclaredLang),
		status,
	))
	if err != nil {
		return Intent{}, fmt.Errorf("insert intent %s: %w", params.ID, err)
	}
	return item, nil
}

func (p *Pool) GetIntent(ctx context.Context, id string) (Intent, error) {
	q := `SELECT` + intentColumns + `
FROM intents i
WHERE i.intent_id = $1
LIMIT 1
`
	item, err := scanIntent(p.QueryRow(ctx, q, strings.TrimSpace(id)))
	if err != nil {
		if IsNoRows(err) {
			return Intent{}, ErrNoRows
		}
		return Intent{}, fmt.Errorf("query intent %s: %w", id, err)
	}
	return item, nil
}

// SetIntentStatus moves an intent between draft, published and unpublished.
func (p *Pool) SetIntentStatus(ctx context.Context, id, status string) (bool, error) {
	const q = `
UPDATE intents
SET status = $2
WHERE intent_id = $1
  AND status IS DISTINCT FROM $2
`
	tag, err := p.Exec(ctx, q, strings.TrimSpace(id), status)
	if err != nil {
		return false, fmt.Errorf("update intent %s status: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Pool) SaveNormalized(ctx context.Context, id string, update NormalizedUpdate) error {
	const q = `
UPDATE intents
SET normalized_lang = $2,
	normalized_text = $3,
	detected_lang = $4,
	translated = $5,
	translation_provider = $6,
	translation_ms = $7,
	normalized_fingerprint = $8,
	normalized_at = $9
WHERE intent_id = $1
`
	_, err := p.Exec(ctx, q,
		id,
		update.Lang,
		update.Text,
		update.Detected,
		update.Translated,
		update.Provider,
		update.ProviderMs,
		update.Fingerprint,
		update.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save normalized intent %s: %w", id, err)
	}
	return nil
}

func (p *Pool) SaveEmbedding(ctx context.Context, id string, update EmbeddingUpdate) error {
	if len(update.Vector) == 0 {
		return fmt.Errorf("save embedding intent %s: empty vector", id)
	}

	const q = `
UPDATE intents
SET embedding = $2::vector,
	embedding_dim = $3,
	embedding_model = $4,
	embedding_provider = $5,
	embedding_fingerprint = $6,
	embedded_at = $7
WHERE intent_id = $1
`
	_, err := p.Exec(ctx, q,
		id,
		pgvector.NewVector(update.Vector),
		len(update.Vector),
		update.Model,
		update.Provider,
		update.Fingerprint,
		update.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save embedding intent %s: %w", id, err)
	}
	return nil
}

// ListRecentPublished returns the newest published intents, newest first.
func (p *Pool) ListRecentPublished(ctx context.Context, query RecentIntentsQuery) ([]Intent, error) {
	kind := strings.TrimSpace(query.Kind)
	if kind == "" {
		kind = KindIntent
	}
	limit := query.Limit
	if limit <= 0 {
		return nil, nil
	}

	q := `SELECT` + intentColumns + `
FROM intents i
WHERE i.kind = $1
  AND i.status = 'published'
  AND ($2 = false OR (i.embedding IS NOT NULL AND i.embedding_dim > 0))
ORDER BY i.created_at DESC, i.intent_id DESC
LIMIT $3
`
	return p.listIntents(ctx, "recent published", q, kind, query.WithEmbedding, limit)
}

// ListPendingPublished returns published intents that were never processed, oldest first.
func (p *Pool) ListPendingPublished(ctx context.Context, kind string, limit int) ([]Intent, error) {
	if limit <= 0 {
		return nil, nil
	}

	q := `SELECT` + intentColumns + `
FROM intents i
WHERE ($1 = '' OR i.kind = $1)
  AND i.status = 'published'
  AND i.processed = false
ORDER BY i.created_at ASC, i.intent_id ASC
LIMIT $2
`
	return p.listIntents(ctx, "pending published", q, strings.TrimSpace(kind), limit)
}

func (p *Pool) listIntents(ctx context.Context, label, q string, args ...any) ([]Intent, error) {
	rows, err := p.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s intents: %w", label, err)
	}
	defer rows.Close()

	items := make([]Intent, 0, 64)
	for rows.Next() {
		item, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s intent: %w", label, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s intents: %w", label, err)
	}
	return items, nil
}

// PublishedIntentIDs returns the subset of ids that are currently published
// intents of kind.
func (p *Pool) PublishedIntentIDs(ctx context.Context, kind string, ids []string) (map[string]bool, error) {
	published := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return published, nil
	}

	const q = `
SELECT i.intent_id
FROM intents i
WHERE i.intent_id = ANY($1::text[])
  AND i.kind = $2
  AND i.status = 'published'
`
	rows, err := p.Query(ctx, q, textArrayLiteral(ids), kind)
	if err != nil {
		return nil, fmt.Errorf("query published intent ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan published intent id: %w", err)
		}
		published[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate published intent ids: %w", err)
	}
	return published, nil
}

// RetractedIntent is an intent that is gone or no longer published but still
// holds open matches or an index entry.
type RetractedIntent struct {
	ID      string
	Kind    string
	OwnerID string
}

// ListUnsweptRetractions finds intents of kind intent whose retraction was
// never applied: rows deleted or unpublished while some match on either side
// is not void, or while a vector is still indexed for them.
func (p *Pool) ListUnsweptRetractions(ctx context.Context, limit int) ([]RetractedIntent, error) {
	if limit <= 0 {
		return nil, nil
	}

	const q = `
SELECT refs.intent_id,
	COALESCE(i.kind, 'intent'),
	COALESCE(i.owner_id, refs.owner_id)
FROM (
	SELECT m.intent_a AS intent_id, m.owner_a AS owner_id FROM matches m WHERE m.status <> 'void'
	UNION
	SELECT m.intent_b, m.owner_b FROM matches m WHERE m.status <> 'void'
	UNION
	SELECT v.intent_id, v.owner_id FROM intent_vectors v
) refs
LEFT JOIN intents i ON i.intent_id = refs.intent_id
WHERE (i.intent_id IS NULL OR i.status <> 'published')
  AND COALESCE(i.kind, 'intent') = 'intent'
ORDER BY refs.intent_id
LIMIT $1
`
	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query unswept retractions: %w", err)
	}
	defer rows.Close()

	items := make([]RetractedIntent, 0, 16)
	seen := make(map[string]bool)
	for rows.Next() {
		var item RetractedIntent
		if err := rows.Scan(&item.ID, &item.Kind, &item.OwnerID); err != nil {
			return nil, fmt.Errorf("scan unswept retraction: %w", err)
		}
		if seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unswept retractions: %w", err)
	}
	return items, nil
}
