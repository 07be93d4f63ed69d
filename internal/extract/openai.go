// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// openAIBaseURL overrides the SDK's endpoint when non-empty. Package-level
// var for test substitution.
var openAIBaseURL = ""

// OpenAI calls the OpenAI Responses API with a JSON-schema text format.
type OpenAI struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewOpenAI returns an OpenAI provider. SDK retries are disabled; the
// engine owns the retry budget.
func NewOpenAI(pc types.ProviderConfig, apiKey string, client *http.Client) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if client != nil {
		opts = append(opts, option.WithHTTPClient(client))
	}
	if openAIBaseURL != "" {
		opts = append(opts, option.WithBaseURL(openAIBaseURL))
	}
	return &OpenAI{
		client:      openai.NewClient(opts...),
		model:       pc.Model,
		temperature: pc.Temperature,
		maxTokens:   pc.MaxTokens,
	}
}

func (o *OpenAI) Name() string  { return ProviderOpenAI }
func (o *OpenAI) Model() string { return o.model }

// GenerateStructured implements Provider.
func (o *OpenAI) GenerateStructured(ctx context.Context, req Request) ([]byte, error) {
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(o.model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: responses.ResponseInputParam{
				responses.ResponseInputItemParamOfMessage(
					responses.ResponseInputMessageContentListParam{
						responses.ResponseInputContentParamOfInputText(req.Prompt),
					},
					"user",
				),
			},
		},
		Temperature:     openai.Float(o.temperature),
		MaxOutputTokens: openai.Int(int64(o.maxTokens)),
	}
	if req.ResponseSchema != nil {
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigParamOfJSONSchema("extraction", req.ResponseSchema),
		}
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	out := resp.OutputText()
	if out == "" {
		return nil, fmt.Errorf("OpenAI response has no output text")
	}
	return []byte(out), nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		wrapped := fmt.Errorf("OpenAI API returned %d: %w", apiErr.StatusCode, err)
		if transientStatus(apiErr.StatusCode) {
			return &TransientError{StatusCode: apiErr.StatusCode, Err: wrapped}
		}
		return wrapped
	}
	return fmt.Errorf("calling OpenAI API: %w", err)
}
