package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/skypol2113/magic-worker/internal/globaltime"
)

// OpenAIProvider embeds through any OpenAI-compatible embeddings API.
type OpenAIProvider struct {
	client *openai.Client
	opts   Options
}

func NewOpenAIProvider(opts Options) *OpenAIProvider {
	normalized := normalizeOptions(opts)

	clientConfig := openai.DefaultConfig(strings.TrimSpace(normalized.APIKey))
	if base := strings.TrimRight(strings.TrimSpace(normalized.Endpoint), "/"); base != "" && base != DefaultEndpoint {
		clientConfig.BaseURL = strings.TrimSuffix(base, "/embeddings")
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		opts:   normalized,
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Model() string {
	return p.opts.Model
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) (*Result, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("text is required")
	}

	requestCtx, cancel := context.WithTimeout(ctx, p.opts.RequestTimeout)
	defer cancel()

	started := globaltime.Now()
	resp, err := p.client.CreateEmbeddings(requestCtx, openai.EmbeddingRequest{
		Input:      []string{trimmed},
		Model:      openai.EmbeddingModel(p.opts.Model),
		Dimensions: p.opts.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}

	raw := resp.Data[0].Embedding
	values := make([]float64, len(raw))
	for i, value := range raw {
		values[i] = float64(value)
	}
	vector, err := toFloat32(values, p.opts.Dimensions)
	if err != nil {
		return nil, err
	}

	return &Result{
		Vector:    vector,
		Dim:       len(vector),
		Model:     p.opts.Model,
		Provider:  p.Name(),
		ElapsedMs: globaltime.SinceMs(started),
	}, nil
}
