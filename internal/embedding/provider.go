package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	DefaultEndpoint       = "http://127.0.0.1:8844/embed"
	DefaultModelName      = "multilingual-e5-base"
	DefaultMaxLength      = 512
	DefaultRequestTimeout = 45 * time.Second
)

// Provider turns one canonical text into a fixed-dimension vector.
type Provider interface {
	Embed(ctx context.Context, text string) (*Result, error)
	Name() string
	Model() string
}

// Result is one embedding call outcome.
type Result struct {
	Vector    []float32
	Dim       int
	Model     string
	Provider  string
	ElapsedMs int64
}

// Options select and configure a provider.
type Options struct {
	Provider       string
	Endpoint       string
	Model          string
	APIKey         string
	Dimensions     int
	MaxLength      int
	RequestTimeout time.Duration
}

// New builds the provider named by opts.Provider ("http" or "openai").
func New(opts Options) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", "http":
		return NewHTTPProvider(opts), nil
	case "openai":
		return NewOpenAIProvider(opts), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", opts.Provider)
	}
}

func normalizeOptions(opts Options) Options {
	normalized := opts
	if strings.TrimSpace(normalized.Model) == "" {
		normalized.Model = DefaultModelName
	}
	if normalized.MaxLength <= 0 {
		normalized.MaxLength = DefaultMaxLength
	}
	if normalized.RequestTimeout <= 0 {
		normalized.RequestTimeout = DefaultRequestTimeout
	}
	if normalized.Dimensions < 0 {
		normalized.Dimensions = 0
	}
	return normalized
}

// toFloat32 validates a provider vector and narrows it to float32.
func toFloat32(values []float64, wantDim int) ([]float32, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("embedding vector is empty")
	}
	if wantDim > 0 && len(values) != wantDim {
		return nil, fmt.Errorf("expected %d dimensions, got %d", wantDim, len(values))
	}
	out := make([]float32, len(values))
	for i, value := range values {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, fmt.Errorf("vector has non-finite value at index %d", i)
		}
		out[i] = float32(value)
	}
	return out, nil
}
