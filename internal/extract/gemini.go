// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// Gemini calls a Vertex AI generative model in JSON mode.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewGemini connects to Vertex AI using application default credentials.
func NewGemini(ctx context.Context, pc types.ProviderConfig, gc types.GeminiConfig) (*Gemini, error) {
	if gc.ProjectID == "" || gc.Region == "" {
		return nil, fmt.Errorf("gemini: gemini.project_id and gemini.region are required")
	}
	client, err := genai.NewClient(ctx, gc.ProjectID, gc.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &Gemini{
		client:      client,
		model:       pc.Model,
		temperature: pc.Temperature,
		maxTokens:   pc.MaxTokens,
	}, nil
}

func (g *Gemini) Name() string  { return ProviderGemini }
func (g *Gemini) Model() string { return g.model }

// Close releases the Vertex AI connection.
func (g *Gemini) Close() error { return g.client.Close() }

// GenerateStructured implements Provider. A model handle is built per call
// because its generation config depends on the request's schema.
func (g *Gemini) GenerateStructured(ctx context.Context, req Request) ([]byte, error) {
	model := g.client.GenerativeModel(g.model)
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](float32(g.temperature)),
		MaxOutputTokens:  genai.Ptr[int32](int32(g.maxTokens)),
		ResponseSchema:   geminiSchema(req.Schema, req.SourceRefs),
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		switch status.Code(err) {
		case codes.ResourceExhausted, codes.Unavailable, codes.Internal:
			return nil, &TransientError{Err: fmt.Errorf("calling Gemini: %w", err)}
		}
		return nil, fmt.Errorf("calling Gemini: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("Gemini returned no candidates")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	if b.Len() == 0 {
		return nil, fmt.Errorf("Gemini returned no text parts")
	}
	return []byte(b.String()), nil
}

// geminiSchema mirrors responseSchema in Vertex AI's schema type. Values are
// requested as strings so a value like "39.49N" survives for coercion.
func geminiSchema(schema types.ExtractionSchema, sourceRefs bool) *genai.Schema {
	record := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(schema)),
	}
	for _, f := range schema {
		value := &genai.Schema{Type: genai.TypeString, Nullable: true, Description: f.Description}
		if f.Type == types.FieldArray {
			value = &genai.Schema{Type: genai.TypeArray, Nullable: true, Items: &genai.Schema{Type: genai.TypeString}}
		}
		entry := &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"value":      value,
				"confidence": {Type: genai.TypeNumber},
			},
			Required: []string{"value", "confidence"},
		}
		if sourceRefs {
			entry.Properties["source_text"] = &genai.Schema{Type: genai.TypeString, Nullable: true}
			entry.Properties["page"] = &genai.Schema{Type: genai.TypeInteger, Nullable: true}
		}
		record.Properties[f.Name] = entry
		record.Required = append(record.Required, f.Name)
	}
	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: map[string]*genai.Schema{"records": {Type: genai.TypeArray, Items: record}},
		Required:   []string{"records"},
	}
}
