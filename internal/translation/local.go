package translation

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/skypol2113/magic-worker/internal/globaltime"
)

const (
	DefaultLocalEndpoint = "http://127.0.0.1:8845/v1"
	DefaultLocalModel    = "tencent/HY-MT1.5-7B"
	DefaultLocalTimeout  = 30 * time.Second
)

// LocalOptions configure a self-hosted OpenAI-compatible translation model.
// APIKey may be empty.
type LocalOptions struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// LocalProvider asks a chat completions model to translate intent text.
type LocalProvider struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewLocalProvider(opts LocalOptions) *LocalProvider {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultLocalModel
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultLocalTimeout
	}

	clientConfig := openai.DefaultConfig(strings.TrimSpace(opts.APIKey))
	clientConfig.BaseURL = localBaseURL(opts.Endpoint)

	return &LocalProvider{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   model,
		timeout: timeout,
	}
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) ModelName() string {
	if p == nil {
		return ""
	}
	return p.model
}

func (p *LocalProvider) SupportedLanguages() []string {
	return SupportedTranslationLanguageCodes()
}

// Translate sends one completion request with greedy sampling.
func (p *LocalProvider) Translate(ctx context.Context, req TranslateRequest) (*TranslateResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("local provider is nil")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}
	source := sourceLangCode(req.SourceLang)
	target := normalizeLangCode(req.TargetLang)
	if target == "" {
		return nil, fmt.Errorf("target language is required")
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	started := globaltime.Now()
	resp, err := p.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    translationMessages(text, source, target),
		Temperature: 0,
		TopP:        1,
	})
	if err != nil {
		return nil, fmt.Errorf("local translate %s->%s: %w", orAuto(source), target, err)
	}

	var translated string
	if len(resp.Choices) > 0 {
		translated = strings.TrimSpace(resp.Choices[0].Message.Content)
	}
	if translated == "" {
		return nil, fmt.Errorf("local translate %s->%s: empty completion", orAuto(source), target)
	}

	return &TranslateResponse{
		Text:         translated,
		SourceLang:   source,
		TargetLang:   target,
		ProviderName: p.Name(),
		LatencyMs:    globaltime.SinceMs(started),
	}, nil
}

func translationMessages(text, source, target string) []openai.ChatCompletionMessage {
	instruction := "Translate the user's message into " + LanguageName(target)
	if source != "" {
		instruction = "Translate the user's message from " + LanguageName(source) + " into " + LanguageName(target)
	}
	instruction += ". It is a short request to buy, sell, find or offer something. Reply with the translation only."

	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: instruction},
		{Role: openai.ChatMessageRoleUser, Content: text},
	}
}

func orAuto(code string) string {
	if code == "" {
		return "auto"
	}
	return code
}

// localBaseURL accepts host, host:port or a full URL and returns a base URL
// ending in /v1.
func localBaseURL(raw string) string {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		return DefaultLocalEndpoint
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}

	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return DefaultLocalEndpoint
	}
	path := strings.TrimSuffix(strings.TrimRight(parsed.Path, "/"), "/chat/completions")
	if !strings.HasSuffix(path, "/v1") {
		path += "/v1"
	}
	parsed.Path = path
	return parsed.String()
}
