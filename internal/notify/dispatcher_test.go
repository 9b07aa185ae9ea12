package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type failingDispatcher struct {
	err error
}

func (d failingDispatcher) SendPush(_ context.Context, _ string, _ Push) error {
	return d.err
}

func TestMultiJoinsErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	multi := Multi{NewLogDispatcher(zerolog.Nop()), nil, failingDispatcher{err: boom}}

	err := multi.SendPush(context.Background(), "owner-1", Push{Title: "Match found"})
	if !errors.Is(err, boom) {
		t.Fatalf("unexpected error: got %v want %v", err, boom)
	}
	if err := (Multi{NewLogDispatcher(zerolog.Nop())}).SendPush(context.Background(), "owner-1", Push{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLogDispatcherRequiresOwner(t *testing.T) {
	t.Parallel()

	if err := NewLogDispatcher(zerolog.Nop()).SendPush(context.Background(), " ", Push{}); err == nil {
		t.Fatalf("expected error for empty owner")
	}
}

func TestWebhookDispatcherPostsJSON(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		received []webhookPayload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: got %s want POST", r.Method)
		}
		var payload webhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		mu.Lock()
		received = append(received, payload)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	dispatcher := NewWebhookDispatcher(srv.URL, 100, 2)
	push := Push{Title: "Match found", Body: "You have a new match", Data: map[string]string{"type": TypeMatchNew}}
	if err := dispatcher.SendPush(context.Background(), "owner-1", push); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("unexpected request count: got %d want 1", len(received))
	}
	if received[0].OwnerID != "owner-1" || received[0].Data["type"] != TypeMatchNew {
		t.Fatalf("unexpected payload: %+v", received[0])
	}
}

func TestWebhookDispatcherSurfacesStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	err := NewWebhookDispatcher(srv.URL, 100, 1).SendPush(context.Background(), "owner-1", Push{})
	if err == nil || !strings.Contains(err.Error(), "410") {
		t.Fatalf("unexpected error: got %v want status 410", err)
	}
}
