package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestMaterializeDedupesWithinBatch(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	source := store.add("intent-a", "u1", "learn to surf", nil)
	store.add("intent-b", "u2", "surf lessons", nil)
	notifier := &recordingNotifier{err: errors.New("push gateway offline")}
	materializer := NewMaterializer(store, notifier, "test-version", zerolog.Nop())

	result, err := materializer.Materialize(context.Background(), source, []Candidate{
		{IntentID: "intent-b", OwnerID: "u2", Text: "surf lessons", Score: 0.8, MatchType: MatchTypeSemantic},
		{IntentID: "intent-b", OwnerID: "u2", Text: "surf lessons", Score: 0.9, MatchType: MatchTypeSemantic},
	})
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if len(result.Created) != 1 || result.Duplicates != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	matches := store.matchList()
	if len(matches) != 1 || matches[0].Score != 0.9 {
		t.Fatalf("expected the best-scoring duplicate to win, got %+v", matches)
	}
	if matches[0].Category != CategoryLearning || matches[0].MatchedText != "I also want to learn: learn to" {
		t.Fatalf("unexpected match text: category=%s text=%q", matches[0].Category, matches[0].MatchedText)
	}
	if got := joined(matches[0].DeliveredTo); got != "u1,u2" {
		t.Fatalf("expected delivery bookkeeping despite push errors, got %q", got)
	}
	if got := store.snapshot("intent-a").WorkerVersion; got != "test-version" {
		t.Fatalf("unexpected worker version: got %q want test-version", got)
	}
}

func TestMaterializeClampsScores(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	source := store.add("intent-a", "u1", "quiet evening", nil)
	materializer := NewMaterializer(store, nil, "", zerolog.Nop())

	if _, err := materializer.Materialize(context.Background(), source, []Candidate{
		{IntentID: "intent-b", OwnerID: "u2", Text: "quiet evening", Score: 1.3, MatchType: MatchTypeKeyword},
	}); err != nil {
		t.Fatalf("materialize: %v", err)
	}

	match := store.matchList()[0]
	if match.Score != 1 || match.Confidence != 0.95 {
		t.Fatalf("unexpected clamped values: score=%v confidence=%v", match.Score, match.Confidence)
	}
	if match.Label != "magic" || match.Source != "intent" {
		t.Fatalf("unexpected labels: %+v", match)
	}
}
