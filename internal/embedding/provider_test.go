package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizeEmbeddingEndpoint(t *testing.T) {
	t.Parallel()

	if got := normalizeEmbeddingEndpoint("http://127.0.0.1:8844"); got != "http://127.0.0.1:8844/embed" {
		t.Fatalf("unexpected endpoint normalization: %q", got)
	}
	if got := normalizeEmbeddingEndpoint("http://127.0.0.1:8844/v1/embeddings"); got != "http://127.0.0.1:8844/v1/embeddings" {
		t.Fatalf("unexpected endpoint normalization for explicit path: %q", got)
	}
	if got := normalizeEmbeddingEndpoint(" "); got != DefaultEndpoint {
		t.Fatalf("unexpected default endpoint: %q", got)
	}
}

func TestToFloat32Validation(t *testing.T) {
	t.Parallel()

	if _, err := toFloat32(nil, 0); err == nil {
		t.Fatalf("expected empty vector to fail")
	}
	if _, err := toFloat32([]float64{0.1, 0.2}, 3); err == nil {
		t.Fatalf("expected dimension mismatch to fail")
	}
	got, err := toFloat32([]float64{0.5, -0.25}, 0)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(got) != 2 || got[0] != 0.5 || got[1] != -0.25 {
		t.Fatalf("unexpected vector: %v", got)
	}
}

func TestHTTPProviderEmbedShortShape(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]],"elapsed_ms":3.5}`))
	}))
	defer srv.Close()

	provider := NewHTTPProvider(Options{Endpoint: srv.URL + "/embed", Model: "e5"})
	result, err := provider.Embed(context.Background(), "sell my car")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if result.Dim != 3 || result.Model != "e5" || result.Provider != "http" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if _, ok := gotBody["texts"]; !ok {
		t.Fatalf("expected texts payload, got %v", gotBody)
	}
}

func TestHTTPProviderEmbedOpenAIShape(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	provider := NewHTTPProvider(Options{Endpoint: srv.URL + "/v1/embeddings"})
	result, err := provider.Embed(context.Background(), "buy a car")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if result.Dim != 2 {
		t.Fatalf("unexpected dim: %d", result.Dim)
	}
	if _, ok := gotBody["input"]; !ok {
		t.Fatalf("expected input payload, got %v", gotBody)
	}
}

func TestHTTPProviderSurfacesStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	provider := NewHTTPProvider(Options{Endpoint: srv.URL})
	if _, err := provider.Embed(context.Background(), "anything"); err == nil {
		t.Fatalf("expected non-2xx status to fail")
	}
}

func TestOpenAIProviderEmbed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":[{"object":"embedding","index":0,"embedding":[0.6,0.8]}]}`))
	}))
	defer srv.Close()

	provider := NewOpenAIProvider(Options{Endpoint: srv.URL + "/v1", Model: "text-embedding-3-small", APIKey: "sk-test"})
	result, err := provider.Embed(context.Background(), "Looking to buy a car")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if result.Dim != 2 || result.Provider != "openai" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{Provider: "bogus"}); err == nil {
		t.Fatalf("expected unknown provider to fail")
	}
	provider, err := New(Options{})
	if err != nil {
		t.Fatalf("default provider: %v", err)
	}
	if provider.Name() != "http" {
		t.Fatalf("unexpected default provider: %q", provider.Name())
	}
}
