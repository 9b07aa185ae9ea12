package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	MatchSideA = "a"
	MatchSideB = "b"
)

const matchColumns = `
	m.pair_key,
	m.intent_a,
	m.intent_b,
	m.owner_a,
	m.owner_b,
	m.text_a,
	m.text_b,
	m.score,
	m.confidence,
	m.match_type,
	m.category,
	m.label,
	m.matched_text,
	m.source,
	m.status,
	COALESCE(array_to_json(m.delivered_to)::text, '[]'),
	m.delivered_at,
	m.closed_reason,
	m.closed_by_side,
	m.closed_by_owner,
	m.archived_at,
	m.created_at,
	m.updated_at`

// ProcessedUpdate marks a source intent processed in the same transaction as its matches.
type ProcessedUpdate struct {
	ProcessedAt   time.Time
	WorkerVersion string
}

// VoidMatchParams closes one match on behalf of a retracted side.
type VoidMatchParams struct {
	PairKey       string
	Reason        string
	ClosedBySide  string
	ClosedByOwner string
	ArchivedAt    time.Time
}

// MatchStats aggregates matches by status.
type MatchStats struct {
	Intents         int64            `json:"intents"`
	PublishedIntent int64            `json:"published_intents"`
	PendingIntents  int64            `json:"pending_intents"`
	Matches         int64            `json:"matches"`
	MatchesByStatus map[string]int64 `json:"matches_by_status"`
	MatchesByType   map[string]int64 `json:"matches_by_type"`
}

func scanMatch(row rowScanner) (Match, error) {
	var (
		item        Match
		deliveredTo string
	)
	err := row.Scan(
		&item.PairKey,
		&item.IntentA,
		&item.IntentB,
		&item.OwnerA,
		&item.OwnerB,
		&item.TextA,
		&item.TextB,
		&item.Score,
		&item.Confidence,
		&item.MatchType,
		&item.Category,
		&item.Label,
		&item.MatchedText,
		&item.Source,
		&item.Status,
		&deliveredTo,
		&item.DeliveredAt,
		&item.ClosedReason,
		&item.ClosedBySide,
		&item.ClosedByOwner,
		&item.ArchivedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Match{}, err
	}
	item.DeliveredTo, err = decodeTextArrayJSON(deliveredTo)
	if err != nil {
		return Match{}, err
	}
	return item, nil
}

func (p *Pool) MatchExists(ctx context.Context, pairKey string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM matches WHERE pair_key = $1)`

	var exists bool
	if err := p.QueryRow(ctx, q, pairKey).Scan(&exists); err != nil {
		return false, fmt.Errorf("check match %s exists: %w", pairKey, err)
	}
	return exists, nil
}

// CommitMatches inserts matches and marks the source intent processed in one
// transaction. Rows whose pair key already exists are skipped; the returned
// keys cover only rows that were actually inserted.
func (p *Pool) CommitMatches(ctx context.Context, intentID string, matches []Match, processed ProcessedUpdate) ([]string, error) {
	inserted := make([]string, 0, len(matches))
	err := p.InTx(ctx, func(tx Tx) error {
		for _, match := range matches {
			ok, err := insertMatch(ctx, tx, match)
			if err != nil {
				return err
			}
			if ok {
				inserted = append(inserted, match.PairKey)
			}
		}

		const q = `
UPDATE intents
SET processed = true,
	processed_at = $2,
	match_count = match_count + $3,
	worker_version = $4
WHERE intent_id = $1
`
		tag, err := tx.Exec(ctx, q, intentID, processed.ProcessedAt, len(inserted), processed.WorkerVersion)
		if err != nil {
			return fmt.Errorf("mark intent %s processed: %w", intentID, err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("mark intent %s processed: %w", intentID, ErrNoRows)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

func insertMatch(ctx context.Context, tx Querier, match Match) (bool, error) {
	const q = `
INSERT INTO matches (
	pair_key,
	intent_a,
	intent_b,
	owner_a,
	owner_b,
	text_a,
	text_b,
	score,
	confidence,
	match_type,
	category,
	label,
	matched_text,
	source,
	status,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
ON CONFLICT (pair_key) DO NOTHING
`
	status := match.Status
	if status == "" {
		status = MatchStatusNew
	}
	tag, err := tx.Exec(ctx, q,
		match.PairKey,
		match.IntentA,
		match.IntentB,
		match.OwnerA,
		match.OwnerB,
		match.TextA,
		match.TextB,
		match.Score,
		match.Confidence,
		match.MatchType,
		match.Category,
		match.Label,
		match.MatchedText,
		match.Source,
		status,
		match.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert match %s: %w", match.PairKey, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkDelivered unions owners into delivered_to. Repeating the call is a no-op.
func (p *Pool) MarkDelivered(ctx context.Context, pairKey string, owners []string, at time.Time) error {
	const q = `
UPDATE matches m
SET delivered_to = ARRAY(
		SELECT DISTINCT owner
		FROM unnest(m.delivered_to || $2::text[]) AS owner
		WHERE owner <> ''
		ORDER BY owner
	),
	delivered_at = COALESCE(m.delivered_at, $3),
	updated_at = $3
WHERE m.pair_key = $1
`
	if _, err := p.Exec(ctx, q, pairKey, textArrayLiteral(owners), at); err != nil {
		return fmt.Errorf("mark match %s delivered: %w", pairKey, err)
	}
	return nil
}

// ListMatchesBySide pages through matches referencing intentID on one side,
// ordered by pair key and starting after afterKey.
func (p *Pool) ListMatchesBySide(ctx context.Context, side, intentID, afterKey string, limit int) ([]Match, error) {
	column := "intent_a"
	switch side {
	case MatchSideA:
	case MatchSideB:
		column = "intent_b"
	default:
		return nil, fmt.Errorf("unknown match side %q", side)
	}
	if limit <= 0 {
		return nil, nil
	}

	q := `SELECT` + matchColumns + `
FROM matches m
WHERE m.` + column + ` = $1
  AND m.pair_key > $2
ORDER BY m.pair_key
LIMIT $3
`
	return p.listMatches(ctx, "side "+side, q, intentID, afterKey, limit)
}

// ListMatchesForIntent returns every match that references intentID on either side.
func (p *Pool) ListMatchesForIntent(ctx context.Context, intentID string) ([]Match, error) {
	q := `SELECT` + matchColumns + `
FROM matches m
WHERE m.intent_a = $1 OR m.intent_b = $1
ORDER BY m.created_at DESC, m.pair_key
`
	return p.listMatches(ctx, "intent", q, strings.TrimSpace(intentID))
}

func (p *Pool) GetMatch(ctx context.Context, pairKey string) (Match, error) {
	q := `SELECT` + matchColumns + `
FROM matches m
WHERE m.pair_key = $1
`
	item, err := scanMatch(p.QueryRow(ctx, q, pairKey))
	if err != nil {
		if IsNoRows(err) {
			return Match{}, ErrNoRows
		}
		return Match{}, fmt.Errorf("query match %s: %w", pairKey, err)
	}
	return item, nil
}

// VoidMatches closes a page of matches in one transaction. Matches that are
// already void keep their original closing audit fields.
func (p *Pool) VoidMatches(ctx context.Context, params []VoidMatchParams) (int, error) {
	if len(params) == 0 {
		return 0, nil
	}

	const q = `
UPDATE matches
SET status = 'void',
	closed_reason = $2,
	closed_by_side = $3,
	closed_by_owner = $4,
	archived_at = $5,
	updated_at = $5
WHERE pair_key = $1
  AND status <> 'void'
`
	voided := 0
	err := p.InTx(ctx, func(tx Tx) error {
		for _, item := range params {
			tag, err := tx.Exec(ctx, q, item.PairKey, item.Reason, item.ClosedBySide, item.ClosedByOwner, item.ArchivedAt)
			if err != nil {
				return fmt.Errorf("void match %s: %w", item.PairKey, err)
			}
			voided += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return voided, nil
}

func (p *Pool) listMatches(ctx context.Context, label, q string, args ...any) ([]Match, error) {
	rows, err := p.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s matches: %w", label, err)
	}
	defer rows.Close()

	items := make([]Match, 0, 16)
	for rows.Next() {
		item, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s match: %w", label, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s matches: %w", label, err)
	}
	return items, nil
}

func (p *Pool) QueryStats(ctx context.Context) (MatchStats, error) {
	stats := MatchStats{
		MatchesByStatus: map[string]int64{},
		MatchesByType:   map[string]int64{},
	}

	const intentsQ = `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE status = 'published'),
	COUNT(*) FILTER (WHERE status = 'published' AND processed = false)
FROM intents
`
	if err := p.QueryRow(ctx, intentsQ).Scan(&stats.Intents, &stats.PublishedIntent, &stats.PendingIntents); err != nil {
		return MatchStats{}, fmt.Errorf("query intent stats: %w", err)
	}

	const matchesQ = `
SELECT status, match_type, COUNT(*)
FROM matches
GROUP BY status, match_type
`
	rows, err := p.Query(ctx, matchesQ)
	if err != nil {
		return MatchStats{}, fmt.Errorf("query match stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status    string
			matchType string
			count     int64
		)
		if err := rows.Scan(&status, &matchType, &count); err != nil {
			return MatchStats{}, fmt.Errorf("scan match stats row: %w", err)
		}
		stats.Matches += count
		stats.MatchesByStatus[status] += count
		stats.MatchesByType[matchType] += count
	}
	if err := rows.Err(); err != nil {
		return MatchStats{}, fmt.Errorf("iterate match stats rows: %w", err)
	}
	return stats, nil
}
