// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// Request is one structured-extraction call.
type Request struct {
	// DocumentText is the page-marked text of the document or of one chunk.
	DocumentText string

	Schema     types.ExtractionSchema
	SourceRefs bool

	// Prompt is the rendered instruction text, DocumentText included.
	Prompt string

	// ResponseSchema is the JSON schema of the expected response, for
	// providers that support constrained output.
	ResponseSchema map[string]any
}

// Provider is an LLM backend that answers extraction requests with JSON.
// The engine never inspects a provider beyond Name and Model.
type Provider interface {
	Name() string
	Model() string
	GenerateStructured(ctx context.Context, req Request) ([]byte, error)
}

// TransientError marks a provider failure worth retrying on the same
// provider: rate limiting, overload, or a server error.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient provider error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err, or anything it wraps, is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// transientStatus reports whether an HTTP status should be retried.
func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// KeySource looks up API keys by service name.
type KeySource interface {
	APIKey(service string) string
}

// Provider names accepted in llm.providers.
const (
	ProviderClaude = "claude"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// NewProvider builds the provider a config entry names. An explicit api_key
// in the entry wins over keys.
func NewProvider(ctx context.Context, pc types.ProviderConfig, gc types.GeminiConfig, keys KeySource, client *http.Client) (Provider, error) {
	apiKey := pc.APIKey
	if apiKey == "" && keys != nil {
		apiKey = keys.APIKey(pc.Name)
	}

	switch pc.Name {
	case ProviderClaude:
		if apiKey == "" {
			return nil, fmt.Errorf("claude: no API key (set ANTHROPIC_API_KEY or .secrets/claude-api-key)")
		}
		return NewClaude(pc, apiKey, client), nil
	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("openai: no API key (set OPENAI_API_KEY or .secrets/openai-api-key)")
		}
		return NewOpenAI(pc, apiKey, client), nil
	case ProviderGemini:
		return NewGemini(ctx, pc, gc)
	default:
		return nil, fmt.Errorf("unknown provider %q", pc.Name)
	}
}

// NewProviders builds every configured provider in priority order.
func NewProviders(ctx context.Context, cfg []types.ProviderConfig, gc types.GeminiConfig, keys KeySource, client *http.Client) ([]Provider, error) {
	providers := make([]Provider, 0, len(cfg))
	for i, pc := range cfg {
		p, err := NewProvider(ctx, pc, gc, keys, client)
		if err != nil {
			return nil, fmt.Errorf("llm.providers[%d]: %w", i, err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}
