package translation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/api/option"
)

func newFakeGoogle(t *testing.T, handler http.HandlerFunc) *GoogleProvider {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	provider, err := NewGoogleProvider(context.Background(), GoogleOptions{
		ClientOptions: []option.ClientOption{
			option.WithEndpoint(srv.URL + "/"),
			option.WithHTTPClient(srv.Client()),
		},
	})
	if err != nil {
		t.Fatalf("new google provider: %v", err)
	}
	return provider
}

func TestGoogleProviderTranslateAndDetect(t *testing.T) {
	t.Parallel()

	provider := newFakeGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/detect") {
			_, _ = w.Write([]byte(`{"data":{"detections":[[{"language":"ka","confidence":0.4},{"language":"ru","confidence":0.9}]]}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"translations":[{"translatedText":"Looking to buy a car &amp; more","detectedSourceLanguage":"ru"}]}}`))
	})

	resp, err := provider.Translate(context.Background(), TranslateRequest{Text: "Ищу машину", TargetLang: "en"})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if resp.Text != "Looking to buy a car & more" {
		t.Fatalf("unexpected translation: %q", resp.Text)
	}
	if resp.SourceLang != "ru" {
		t.Fatalf("unexpected detected source: %q", resp.SourceLang)
	}

	code, err := provider.DetectLanguage(context.Background(), "Ищу машину")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if code != "ru" {
		t.Fatalf("unexpected detection: got %q want ru", code)
	}
}

func TestGoogleProviderRequiresCredentials(t *testing.T) {
	t.Parallel()

	if _, err := NewGoogleProvider(context.Background(), GoogleOptions{}); err == nil {
		t.Fatalf("expected missing credentials to fail")
	}
}

func TestGoogleProviderSurfacesHTTPErrors(t *testing.T) {
	t.Parallel()

	provider := newFakeGoogle(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota"}}`))
	})

	if _, err := provider.Translate(context.Background(), TranslateRequest{Text: "hola", TargetLang: "en"}); err == nil {
		t.Fatalf("expected quota error")
	}
}
