// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// responseSchema is the JSON schema providers are asked to answer with:
// {"records": [{<field>: {"value", "confidence", "source_text", "page"}}]}.
// Values accept any scalar so that text-typed numbers reach coercion.
func responseSchema(schema types.ExtractionSchema, sourceRefs bool) map[string]any {
	props := make(map[string]any, len(schema))
	required := make([]string, 0, len(schema))
	for _, f := range schema {
		value := map[string]any{"type": []string{"string", "number", "boolean", "null"}}
		if f.Type == types.FieldArray {
			value = map[string]any{
				"type":  []string{"array", "null"},
				"items": map[string]any{"type": []string{"string", "number", "boolean"}},
			}
		}
		entryProps := map[string]any{
			"value":      value,
			"confidence": map[string]any{"type": "number"},
		}
		entryRequired := []string{"value", "confidence"}
		if sourceRefs {
			entryProps["source_text"] = map[string]any{"type": []string{"string", "null"}}
			entryProps["page"] = map[string]any{"type": []string{"integer", "null"}}
			entryRequired = append(entryRequired, "source_text", "page")
		}
		props[f.Name] = map[string]any{
			"type":                 "object",
			"description":          f.Description,
			"properties":           entryProps,
			"required":             entryRequired,
			"additionalProperties": false,
		}
		required = append(required, f.Name)
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"records": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"properties":           props,
					"required":             required,
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"records"},
		"additionalProperties": false,
	}
}

// recordSchema is the lenient shape every parsed record must satisfy. A
// field may be a bare value or an entry object carrying "value". Missing
// fields and unknown keys are allowed.
func recordSchema(schema types.ExtractionSchema) map[string]any {
	entry := map[string]any{
		"anyOf": []any{
			map[string]any{"type": []string{"string", "number", "boolean", "array", "null"}},
			map[string]any{
				"type":     "object",
				"required": []string{"value"},
				"properties": map[string]any{
					"confidence":  map[string]any{"type": []string{"number", "string", "null"}},
					"source_text": map[string]any{"type": []string{"string", "null"}},
					"page":        map[string]any{"type": []string{"integer", "number", "string", "null"}},
				},
			},
		},
	}
	props := make(map[string]any, len(schema))
	for _, f := range schema {
		props[f.Name] = entry
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
	}
}

// compileRecordSchema compiles recordSchema for validation.
func compileRecordSchema(schema types.ExtractionSchema) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(recordSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("marshaling record schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("record.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("loading record schema: %w", err)
	}
	compiled, err := compiler.Compile("record.json")
	if err != nil {
		return nil, fmt.Errorf("compiling record schema: %w", err)
	}
	return compiled, nil
}
