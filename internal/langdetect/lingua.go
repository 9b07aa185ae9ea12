package langdetect

import (
	"context"
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"

	"github.com/skypol2113/magic-worker/internal/language"
)

const minLetters = 6

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// Detector resolves the language of free text to an ISO 639-1 code.
// Implementations return language.Undetermined rather than guessing.
type Detector interface {
	DetectLanguage(ctx context.Context, text string) (string, error)
	Name() string
}

// LinguaDetector runs offline detection with preloaded lingua models.
type LinguaDetector struct{}

func NewLinguaDetector() *LinguaDetector {
	return &LinguaDetector{}
}

func (d *LinguaDetector) Name() string {
	return "lingua"
}

func (d *LinguaDetector) DetectLanguage(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return language.Undetermined, err
	}
	return language.OrUndetermined(DetectISO6391(text)), nil
}

func DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < minLetters {
		return ""
	}

	detected, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(detected.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			WithPreloadedLanguageModels().
			Build()
	})
	return detector
}
