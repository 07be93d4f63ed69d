// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

var testProviderConfig = types.ProviderConfig{Name: ProviderClaude, Model: "test-model", Temperature: 0.1, MaxTokens: 1000}

func TestClaude_GenerateStructured(t *testing.T) {
	var got claudeRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"content": [{"type": "text", "text": "{\"records\": []}"}], "stop_reason": "end_turn"}`)
	}))
	defer ts.Close()

	old := claudeAPIURL
	claudeAPIURL = ts.URL
	defer func() { claudeAPIURL = old }()

	c := NewClaude(testProviderConfig, "test-key", ts.Client())
	out, err := c.GenerateStructured(context.Background(), Request{Prompt: "extract things"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"records": []}`, string(out))

	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, 1000, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "extract things", got.Messages[0].Content)
}

func TestClaude_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{529, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			io.WriteString(w, `{"error": "nope"}`)
		}))
		old := claudeAPIURL
		claudeAPIURL = ts.URL

		c := NewClaude(testProviderConfig, "k", ts.Client())
		_, err := c.GenerateStructured(context.Background(), Request{Prompt: "p"})
		if err == nil {
			t.Errorf("status %d: expected error", tt.status)
		} else if IsTransient(err) != tt.transient {
			t.Errorf("status %d: IsTransient = %v, want %v", tt.status, IsTransient(err), tt.transient)
		}

		claudeAPIURL = old
		ts.Close()
	}
}

func TestOpenAI_GenerateStructured(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/responses"), r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
		  "id": "resp_1", "object": "response", "status": "completed", "model": "test-model",
		  "output": [{"type": "message", "id": "msg_1", "role": "assistant", "status": "completed",
		    "content": [{"type": "output_text", "text": "{\"records\": []}", "annotations": []}]}]
		}`)
	}))
	defer ts.Close()

	old := openAIBaseURL
	openAIBaseURL = ts.URL + "/v1/"
	defer func() { openAIBaseURL = old }()

	o := NewOpenAI(testProviderConfig, "test-key", ts.Client())
	out, err := o.GenerateStructured(context.Background(), Request{
		Prompt:         "extract things",
		ResponseSchema: responseSchema(siteSchema, true),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"records": []}`, string(out))
	assert.Equal(t, "test-model", body["model"])
	assert.Contains(t, body, "text", "a JSON schema format is requested")
}

func TestOpenAI_RateLimitIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error": {"message": "slow down", "type": "rate_limit"}}`)
	}))
	defer ts.Close()

	old := openAIBaseURL
	openAIBaseURL = ts.URL + "/v1/"
	defer func() { openAIBaseURL = old }()

	o := NewOpenAI(testProviderConfig, "test-key", ts.Client())
	_, err := o.GenerateStructured(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestNewProvider(t *testing.T) {
	keys := staticKeys{"claude": "ck", "openai": "ok"}

	p, err := NewProvider(context.Background(), types.ProviderConfig{Name: "claude", Model: "m"}, types.GeminiConfig{}, keys, nil)
	require.NoError(t, err)
	assert.Equal(t, "claude", p.Name())

	p, err = NewProvider(context.Background(), types.ProviderConfig{Name: "openai", Model: "m"}, types.GeminiConfig{}, keys, nil)
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	_, err = NewProvider(context.Background(), types.ProviderConfig{Name: "claude"}, types.GeminiConfig{}, staticKeys{}, nil)
	assert.Error(t, err, "missing key")

	_, err = NewProvider(context.Background(), types.ProviderConfig{Name: "gemini"}, types.GeminiConfig{}, keys, nil)
	assert.Error(t, err, "gemini needs a project")

	_, err = NewProvider(context.Background(), types.ProviderConfig{Name: "llama"}, types.GeminiConfig{}, keys, nil)
	assert.Error(t, err)
}

type staticKeys map[string]string

func (s staticKeys) APIKey(service string) string { return s[service] }

func TestGeminiSchema(t *testing.T) {
	s := geminiSchema(siteSchema, true)
	require.Contains(t, s.Properties, "records")
	rec := s.Properties["records"].Items
	require.NotNil(t, rec)
	assert.Equal(t, []string{"site_name", "latitude"}, rec.Required)
	assert.Contains(t, rec.Properties["latitude"].Properties, "source_text")
}
