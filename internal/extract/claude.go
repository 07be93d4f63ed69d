// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// claudeAPIURL is the Claude API endpoint. Package-level var for test substitution.
var claudeAPIURL = "https://api.anthropic.com/v1/messages"

// Claude calls the Anthropic Messages API.
type Claude struct {
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

// NewClaude returns a Claude provider. A nil client uses http.DefaultClient.
func NewClaude(pc types.ProviderConfig, apiKey string, client *http.Client) *Claude {
	if client == nil {
		client = http.DefaultClient
	}
	return &Claude{
		apiKey:      apiKey,
		model:       pc.Model,
		temperature: pc.Temperature,
		maxTokens:   pc.MaxTokens,
		client:      client,
	}
}

func (c *Claude) Name() string  { return ProviderClaude }
func (c *Claude) Model() string { return c.model }

// claudeRequest is the request body for the Claude Messages API.
type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content    []claudeContent `json:"content"`
	StopReason string          `json:"stop_reason"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const claudeSystemPrompt = "You extract structured data from scientific papers. You answer with JSON only."

// GenerateStructured implements Provider. The Messages API has no schema
// constraint, so the response shape is carried by the prompt alone.
func (c *Claude) GenerateStructured(ctx context.Context, req Request) ([]byte, error) {
	body, err := json.Marshal(claudeRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		System:      claudeSystemPrompt,
		Messages:    []claudeMessage{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, claudeAPIURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("calling Claude API: %w", err)
		}
		return nil, &TransientError{Err: fmt.Errorf("calling Claude API: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("Claude API returned %d: %s", resp.StatusCode, string(msg))
		if transientStatus(resp.StatusCode) {
			return nil, &TransientError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, err
	}

	var cResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return nil, fmt.Errorf("decoding Claude response: %w", err)
	}

	var text bytes.Buffer
	for _, block := range cResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("no text content in Claude API response")
	}
	return text.Bytes(), nil
}
