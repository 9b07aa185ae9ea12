package pipeline

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/skypol2113/magic-worker/internal/db"
	"github.com/skypol2113/magic-worker/internal/globaltime"
	"github.com/skypol2113/magic-worker/internal/langdetect"
	"github.com/skypol2113/magic-worker/internal/language"
	"github.com/skypol2113/magic-worker/internal/translation"
)

// Normalized is the canonical-language form of an intent's text.
type Normalized struct {
	Lang         string
	Text         string
	DetectedLang string
	Translated   bool
	Provider     string
	ProviderMs   int64
	Fingerprint  string
	Cached       bool
}

// Empty reports whether there is no text to embed or compare.
func (n Normalized) Empty() bool {
	return strings.TrimSpace(n.Text) == ""
}

type NormalizedWriter interface {
	SaveNormalized(ctx context.Context, id string, update db.NormalizedUpdate) error
}

type Normalizer struct {
	store      NormalizedWriter
	translator translation.Provider
	detector   langdetect.Detector
	target     string
	logger     zerolog.Logger
}

func NewNormalizer(store NormalizedWriter, translator translation.Provider, detector langdetect.Detector, targetLang string, logger zerolog.Logger) *Normalizer {
	target := language.NormalizeCode(targetLang)
	if target == "" {
		target = "en"
	}
	return &Normalizer{
		store:      store,
		translator: translator,
		detector:   detector,
		target:     target,
		logger:     logger,
	}
}

func (n *Normalizer) TargetLang() string {
	return n.target
}

// Normalize returns the cached normalization when the raw text is unchanged
// and otherwise detects, translates and persists a fresh one. It never fails:
// detection and translation problems degrade to the original text.
func (n *Normalizer) Normalize(ctx context.Context, intent *db.Intent) Normalized {
	if intent == nil || strings.TrimSpace(intent.RawText) == "" {
		return Normalized{}
	}

	fingerprint := Fingerprint(intent.RawText)
	if intent.NormalizedFingerprint == fingerprint && strings.TrimSpace(intent.NormalizedText) != "" {
		return Normalized{
			Lang:         intent.NormalizedLang,
			Text:         intent.NormalizedText,
			DetectedLang: intent.DetectedLang,
			Translated:   intent.Translated,
			Provider:     intent.TranslationProvider,
			ProviderMs:   intent.TranslationMs,
			Fingerprint:  fingerprint,
			Cached:       true,
		}
	}

	detected := n.detect(ctx, intent)
	result := Normalized{
		Lang:         n.target,
		Text:         intent.RawText,
		DetectedLang: detected,
		Fingerprint:  fingerprint,
	}

	if !translation.ShouldSkip(detected, n.target) {
		if translated, ok := n.translate(ctx, intent, detected); ok {
			result.Text = translated.Text
			result.Translated = true
			result.Provider = translated.ProviderName
			result.ProviderMs = translated.LatencyMs
		}
	}

	now := globaltime.UTC()
	update := db.NormalizedUpdate{
		Lang:        result.Lang,
		Text:        result.Text,
		Detected:    result.DetectedLang,
		Translated:  result.Translated,
		Provider:    result.Provider,
		ProviderMs:  result.ProviderMs,
		Fingerprint: result.Fingerprint,
		UpdatedAt:   now,
	}
	if n.store != nil {
		if err := n.store.SaveNormalized(ctx, intent.ID, update); err != nil {
			n.logger.Warn().Err(err).Str("intent_id", intent.ID).Msg("persist normalized text failed")
		}
	}

	intent.NormalizedLang = result.Lang
	intent.NormalizedText = result.Text
	intent.DetectedLang = result.DetectedLang
	intent.Translated = result.Translated
	intent.TranslationProvider = result.Provider
	intent.TranslationMs = result.ProviderMs
	intent.NormalizedFingerprint = result.Fingerprint
	intent.NormalizedAt = &now

	return result
}

func (n *Normalizer) detect(ctx context.Context, intent *db.Intent) string {
	if declared := language.Declared(intent.DeclaredLang); declared != "" {
		return declared
	}
	if n.detector == nil {
		return language.Undetermined
	}

	code, err := n.detector.DetectLanguage(ctx, intent.RawText)
	if err != nil {
		n.logger.Warn().Err(err).Str("intent_id", intent.ID).Str("detector", n.detector.Name()).Msg("language detection failed")
		return language.Undetermined
	}
	return language.OrUndetermined(code)
}

func (n *Normalizer) translate(ctx context.Context, intent *db.Intent, detected string) (*translation.TranslateResponse, bool) {
	if n.translator == nil {
		return nil, false
	}

	resp, err := n.translator.Translate(ctx, translation.TranslateRequest{
		Text:       intent.RawText,
		SourceLang: detected,
		TargetLang: n.target,
	})
	if err != nil {
		n.logger.Warn().
			Err(err).
			Str("intent_id", intent.ID).
			Str("provider", n.translator.Name()).
			Str("source_lang", detected).
			Msg("translation failed, keeping original text")
		return nil, false
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		n.logger.Warn().Str("intent_id", intent.ID).Str("provider", n.translator.Name()).Msg("translation returned empty text")
		return nil, false
	}
	if resp.ProviderName == "" {
		resp.ProviderName = n.translator.Name()
	}
	return resp, true
}
