package translation

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	translate "google.golang.org/api/translate/v2"

	"github.com/skypol2113/magic-worker/internal/globaltime"
	"github.com/skypol2113/magic-worker/internal/language"
)

// GoogleOptions configures the Cloud Translation v2 client.
type GoogleOptions struct {
	APIKey          string
	CredentialsFile string
	// ClientOptions are appended last, mainly to point tests at a fake endpoint.
	ClientOptions []option.ClientOption
}

// GoogleProvider translates and detects through Cloud Translation v2.
type GoogleProvider struct {
	svc *translate.Service
}

func NewGoogleProvider(ctx context.Context, opts GoogleOptions) (*GoogleProvider, error) {
	clientOpts := make([]option.ClientOption, 0, 2+len(opts.ClientOptions))
	switch {
	case strings.TrimSpace(opts.APIKey) != "":
		clientOpts = append(clientOpts, option.WithAPIKey(strings.TrimSpace(opts.APIKey)))
	case strings.TrimSpace(opts.CredentialsFile) != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(strings.TrimSpace(opts.CredentialsFile)))
	case len(opts.ClientOptions) == 0:
		return nil, fmt.Errorf("google translation requires an API key or credentials file")
	}
	clientOpts = append(clientOpts, opts.ClientOptions...)

	svc, err := translate.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create google translate service: %w", err)
	}
	return &GoogleProvider{svc: svc}, nil
}

func (p *GoogleProvider) Name() string {
	return "google"
}

func (p *GoogleProvider) SupportedLanguages() []string {
	return SupportedTranslationLanguageCodes()
}

func (p *GoogleProvider) Translate(ctx context.Context, req TranslateRequest) (*TranslateResponse, error) {
	if p == nil || p.svc == nil {
		return nil, fmt.Errorf("google provider is not initialized")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}
	targetLang := normalizeLangCode(req.TargetLang)
	if targetLang == "" {
		return nil, fmt.Errorf("target language is required")
	}
	sourceLang := sourceLangCode(req.SourceLang)

	started := globaltime.Now()
	call := p.svc.Translations.List([]string{text}, targetLang).Format("text").Context(ctx)
	if sourceLang != "" {
		call = call.Source(sourceLang)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("google translate: %w", describeGoogleError(err))
	}
	if resp == nil || len(resp.Translations) == 0 || resp.Translations[0] == nil {
		return nil, fmt.Errorf("google translate returned no translations")
	}

	first := resp.Translations[0]
	translated := strings.TrimSpace(html.UnescapeString(first.TranslatedText))
	if translated == "" {
		return nil, fmt.Errorf("google translate returned empty text")
	}
	if sourceLang == "" {
		sourceLang = normalizeLangCode(first.DetectedSourceLanguage)
	}

	return &TranslateResponse{
		Text:         translated,
		SourceLang:   sourceLang,
		TargetLang:   targetLang,
		ProviderName: p.Name(),
		LatencyMs:    globaltime.SinceMs(started),
	}, nil
}

// DetectLanguage returns the most confident detection, or language.Undetermined.
func (p *GoogleProvider) DetectLanguage(ctx context.Context, text string) (string, error) {
	if p == nil || p.svc == nil {
		return language.Undetermined, fmt.Errorf("google provider is not initialized")
	}
	sample := strings.TrimSpace(text)
	if sample == "" {
		return language.Undetermined, nil
	}

	resp, err := p.svc.Detections.List([]string{sample}).Context(ctx).Do()
	if err != nil {
		return language.Undetermined, fmt.Errorf("google detect: %w", describeGoogleError(err))
	}

	best := ""
	bestConfidence := -1.0
	if resp != nil {
		for _, group := range resp.Detections {
			for _, item := range group {
				if item == nil {
					continue
				}
				if item.Confidence > bestConfidence {
					best = item.Language
					bestConfidence = item.Confidence
				}
			}
		}
	}
	return language.OrUndetermined(best), nil
}

var errGoogleQuota = errors.New("google translate quota exceeded")

func describeGoogleError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", errGoogleQuota, gerr.Message)
		case http.StatusForbidden, http.StatusUnauthorized:
			return fmt.Errorf("google translate rejected credentials (%d): %s", gerr.Code, gerr.Message)
		}
	}
	return err
}
