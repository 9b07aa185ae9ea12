package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/skypol2113/magic-worker/internal/db"
	"github.com/skypol2113/magic-worker/internal/globaltime"
)

const (
	RetractReason   = "intent_unpublished_or_deleted"
	retractPageSize = 300
)

type RetractStore interface {
	ListMatchesBySide(ctx context.Context, side, intentID, afterKey string, limit int) ([]db.Match, error)
	VoidMatches(ctx context.Context, params []db.VoidMatchParams) (int, error)
}

type RetractResult struct {
	Scanned int
	Voided  int
}

type Retractor struct {
	store  RetractStore
	index  VectorIndex
	logger zerolog.Logger
}

func NewRetractor(store RetractStore, index VectorIndex, logger zerolog.Logger) *Retractor {
	return &Retractor{store: store, index: index, logger: logger}
}

// Retract voids every match that references intentID on either side. Rows
// are never deleted and already-void rows keep their original audit fields.
func (r *Retractor) Retract(ctx context.Context, intentID string) (RetractResult, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return RetractResult{}, fmt.Errorf("intent id is required")
	}
	if r == nil || r.store == nil {
		return RetractResult{}, fmt.Errorf("retractor is not initialized")
	}

	var total RetractResult
	for _, side := range []string{db.MatchSideA, db.MatchSideB} {
		result, err := r.retractSide(ctx, side, intentID)
		total.Scanned += result.Scanned
		total.Voided += result.Voided
		if err != nil {
			return total, err
		}
	}

	if r.index != nil {
		r.index.Remove(ctx, intentID)
	}

	r.logger.Info().
		Str("intent_id", intentID).
		Int("scanned", total.Scanned).
		Int("voided", total.Voided).
		Msg("intent retracted")
	return total, nil
}

func (r *Retractor) retractSide(ctx context.Context, side, intentID string) (RetractResult, error) {
	var (
		result   RetractResult
		afterKey string
	)
	for {
		page, err := r.store.ListMatchesBySide(ctx, side, intentID, afterKey, retractPageSize)
		if err != nil {
			return result, fmt.Errorf("list side %s matches for intent %s: %w", side, intentID, err)
		}
		if len(page) == 0 {
			return result, nil
		}
		result.Scanned += len(page)

		now := globaltime.UTC()
		params := make([]db.VoidMatchParams, 0, len(page))
		for _, match := range page {
			if match.Status == db.MatchStatusVoid {
				continue
			}
			owner := match.OwnerA
			if side == db.MatchSideB {
				owner = match.OwnerB
			}
			params = append(params, db.VoidMatchParams{
				PairKey:       match.PairKey,
				Reason:        RetractReason,
				ClosedBySide:  side,
				ClosedByOwner: owner,
				ArchivedAt:    now,
			})
		}

		voided, err := r.store.VoidMatches(ctx, params)
		if err != nil {
			return result, fmt.Errorf("void side %s matches for intent %s: %w", side, intentID, err)
		}
		result.Voided += voided

		afterKey = page[len(page)-1].PairKey
		if len(page) < retractPageSize {
			return result, nil
		}
	}
}
