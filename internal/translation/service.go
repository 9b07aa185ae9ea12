package translation

import (
	"context"

	"github.com/skypol2113/magic-worker/internal/language"
)

// Provider translates free-form text between languages.
type Provider interface {
	Translate(ctx context.Context, req TranslateRequest) (*TranslateResponse, error)
	Name() string
	SupportedLanguages() []string
}

// TranslateRequest describes one translation request.
type TranslateRequest struct {
	Text       string
	SourceLang string // ISO 639-1; empty lets the provider auto-detect
	TargetLang string
}

// TranslateResponse contains translated text and provider metadata.
type TranslateResponse struct {
	Text         string
	SourceLang   string
	TargetLang   string
	ProviderName string
	LatencyMs    int64
}

// ShouldSkip reports whether text in sourceLang already is in targetLang.
// An undetermined source is never skipped.
func ShouldSkip(sourceLang, targetLang string) bool {
	return language.SameLanguage(sourceLang, targetLang)
}

func normalizeLangCode(raw string) string {
	return language.NormalizeCode(raw)
}

// sourceLangCode is normalizeLangCode with "und" and "auto" mapped to "" (auto-detect).
func sourceLangCode(raw string) string {
	if language.IsUndetermined(raw) {
		return ""
	}
	return normalizeLangCode(raw)
}
