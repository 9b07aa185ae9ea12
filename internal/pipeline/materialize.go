package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/skypol2113/magic-worker/internal/db"
	"github.com/skypol2113/magic-worker/internal/globaltime"
	"github.com/skypol2113/magic-worker/internal/notify"
)

const (
	maxConfidence   = 0.95
	confidenceBoost = 0.05
	matchSource     = "intent"
)

type MatchStore interface {
	MatchExists(ctx context.Context, pairKey string) (bool, error)
	CommitMatches(ctx context.Context, intentID string, matches []db.Match, processed db.ProcessedUpdate) ([]string, error)
	MarkDelivered(ctx context.Context, pairKey string, owners []string, at time.Time) error
}

// MaterializeResult reports what one commit created.
type MaterializeResult struct {
	Created    []string
	Duplicates int
}

type Materializer struct {
	store         MatchStore
	notifier      notify.Dispatcher
	workerVersion string
	logger        zerolog.Logger
}

func NewMaterializer(store MatchStore, notifier notify.Dispatcher, workerVersion string, logger zerolog.Logger) *Materializer {
	return &Materializer{
		store:         store,
		notifier:      notifier,
		workerVersion: workerVersion,
		logger:        logger,
	}
}

// Materialize commits new matches for source together with its processed
// marker. A commit error is the only failure surfaced; the intent then stays
// unprocessed. Notifications run only after a successful commit.
func (m *Materializer) Materialize(ctx context.Context, source *db.Intent, candidates []Candidate) (MaterializeResult, error) {
	if m == nil || m.store == nil {
		return MaterializeResult{}, fmt.Errorf("materializer is not initialized")
	}
	if source == nil {
		return MaterializeResult{}, fmt.Errorf("source intent is nil")
	}

	now := globaltime.UTC()
	result := MaterializeResult{}
	pending := make([]db.Match, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))

	for _, candidate := range sortedByScore(candidates) {
		key := PairKey(source.OwnerID, candidate.OwnerID, source.ID, candidate.IntentID)
		if _, dup := seen[key]; dup {
			result.Duplicates++
			continue
		}
		seen[key] = struct{}{}

		exists, err := m.store.MatchExists(ctx, key)
		if err != nil {
			// The insert is conflict-safe, so an unknown answer still proceeds.
			m.logger.Warn().Err(err).Str("pair_key", key).Msg("match existence check failed")
		}
		if exists {
			m.logger.Debug().Str("pair_key", key).Str("intent_id", source.ID).Msg("match already exists")
			result.Duplicates++
			continue
		}

		pending = append(pending, buildMatch(source, candidate, key, now))
	}

	created, err := m.store.CommitMatches(ctx, source.ID, pending, db.ProcessedUpdate{
		ProcessedAt:   now,
		WorkerVersion: m.workerVersion,
	})
	if err != nil {
		return result, fmt.Errorf("commit matches for intent %s: %w", source.ID, err)
	}
	result.Created = created
	result.Duplicates += len(pending) - len(created)

	if len(created) > 0 {
		m.deliver(ctx, source, pending, created)
	}
	return result, nil
}

func buildMatch(source *db.Intent, candidate Candidate, pairKey string, now time.Time) db.Match {
	category := PrimaryCategory(source.RawText)
	score := clampScore(candidate.Score)
	return db.Match{
		PairKey:     pairKey,
		IntentA:     source.ID,
		IntentB:     candidate.IntentID,
		OwnerA:      source.OwnerID,
		OwnerB:      candidate.OwnerID,
		TextA:       source.RawText,
		TextB:       candidate.Text,
		Score:       score,
		Confidence:  math.Min(maxConfidence, score+confidenceBoost),
		MatchType:   candidate.MatchType,
		Category:    category,
		Label:       Label(category),
		MatchedText: MatchedText(source.RawText, category),
		Source:      matchSource,
		Status:      db.MatchStatusNew,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// deliver pushes to both sides and records delivery. Failures are logged only.
func (m *Materializer) deliver(ctx context.Context, source *db.Intent, pending []db.Match, created []string) {
	createdSet := make(map[string]struct{}, len(created))
	for _, key := range created {
		createdSet[key] = struct{}{}
	}

	m.push(ctx, source.OwnerID, notify.Push{
		Title: "Match found",
		Body:  "You have a new match",
		Data:  map[string]string{"type": notify.TypeMatchNew, "intent_id": source.ID},
	})

	notified := make(map[string]struct{})
	for _, match := range pending {
		if _, ok := createdSet[match.PairKey]; !ok {
			continue
		}
		if _, done := notified[match.OwnerB]; !done {
			notified[match.OwnerB] = struct{}{}
			m.push(ctx, match.OwnerB, notify.Push{
				Title: "Someone found you",
				Body:  "You have a new match",
				Data:  map[string]string{"type": notify.TypeMatchNew, "intent_id": match.IntentB},
			})
		}

		owners := []string{match.OwnerA, match.OwnerB}
		if err := m.store.MarkDelivered(ctx, match.PairKey, owners, globaltime.UTC()); err != nil {
			m.logger.Warn().Err(err).Str("pair_key", match.PairKey).Msg("mark match delivered failed")
		}
	}
}

func (m *Materializer) push(ctx context.Context, ownerID string, push notify.Push) {
	if m.notifier == nil || strings.TrimSpace(ownerID) == "" {
		return
	}
	if err := m.notifier.SendPush(ctx, ownerID, push); err != nil {
		m.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("push delivery failed")
	}
}

func sortedByScore(candidates []Candidate) []Candidate {
	out := append([]Candidate(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
