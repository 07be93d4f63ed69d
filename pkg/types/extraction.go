// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// FieldType is the declared type of an extraction field.
type FieldType string

const (
	FieldText    FieldType = "text"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldArray   FieldType = "array"
)

// validFieldTypes is the set of accepted FieldType values.
var validFieldTypes = map[FieldType]bool{
	FieldText:    true,
	FieldNumber:  true,
	FieldBoolean: true,
	FieldArray:   true,
}

// FieldDef defines one field the provider is asked to extract.
type FieldDef struct {
	Name        string    `json:"field" yaml:"field"`
	Type        FieldType `json:"type" yaml:"type"`
	Description string    `json:"description" yaml:"description"`
}

// ExtractionSchema is the ordered list of fields to extract.
type ExtractionSchema []FieldDef

// Hash returns the hex SHA-256 of the schema's JSON encoding. Any change to
// a field name, type, description, or order produces a different hash.
func (s ExtractionSchema) Hash() string {
	data, err := json.Marshal(s)
	if err != nil {
		// FieldDef holds only strings; Marshal cannot fail.
		panic(fmt.Sprintf("marshaling schema: %v", err))
	}
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Validate checks names are present and unique and types are known.
func (s ExtractionSchema) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("extraction schema is empty")
	}
	seen := make(map[string]bool, len(s))
	for i, f := range s {
		if f.Name == "" {
			return fmt.Errorf("field %d: empty name", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("field %d: duplicate name %q", i, f.Name)
		}
		seen[f.Name] = true
		if !validFieldTypes[f.Type] {
			return fmt.Errorf("field %q: invalid type %q", f.Name, f.Type)
		}
	}
	return nil
}

// Names returns the field names in schema order.
func (s ExtractionSchema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// SourceSpan locates the text that substantiates an extracted value.
type SourceSpan struct {
	// Page is 1-based; 0 when the provider did not say.
	Page int `json:"page" yaml:"page"`

	// Box is nil until the span has been located in the page layout.
	Box *BoundingBox `json:"box,omitempty" yaml:"box,omitempty"`

	QuotedText string `json:"quoted_text" yaml:"quoted_text"`
}

// FieldResult is one extracted value.
type FieldResult struct {
	FieldName string `json:"field_name" yaml:"field_name"`

	// Value is typed per the schema (string, float64, bool, []any) or nil.
	Value any `json:"value" yaml:"value"`

	// Confidence is in [0,1]; always 0 when Value is nil.
	Confidence float64 `json:"confidence" yaml:"confidence"`

	SourceSpan   *SourceSpan `json:"source_span,omitempty" yaml:"source_span,omitempty"`
	ProviderUsed string      `json:"provider_used" yaml:"provider_used"`

	// Coerced records that the raw provider value needed type conversion.
	Coerced bool `json:"coerced,omitempty" yaml:"coerced,omitempty"`
}

// Attempt is one entry of an operation's audit history.
type Attempt struct {
	// Target is what was tried: a URL, a provider name, or an API endpoint.
	Target string `json:"target" yaml:"target"`

	// Reason is the failure classification, empty on success.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`

	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	// Tries counts the calls made for this target, including retries.
	Tries int `json:"tries" yaml:"tries"`

	At           time.Time `json:"at" yaml:"at"`
	NextEligible time.Time `json:"next_eligible,omitzero" yaml:"next_eligible,omitempty"`
}

// ExtractionResult is the set of field values for one record in a document.
type ExtractionResult struct {
	// RecordIndex distinguishes multiple records extracted from one paper.
	RecordIndex int `json:"record_index" yaml:"record_index"`

	Fields []FieldResult `json:"fields" yaml:"fields"`

	// AggregateConfidence is the mean of all field confidences.
	AggregateConfidence float64 `json:"aggregate_confidence" yaml:"aggregate_confidence"`

	// AttemptCount counts provider calls across all providers.
	AttemptCount   int      `json:"attempt_count" yaml:"attempt_count"`
	ProvidersTried []string `json:"providers_tried" yaml:"providers_tried"`
	ProviderUsed   string   `json:"provider_used" yaml:"provider_used"`

	// LowConfidence is set when no attempt reached the acceptance threshold.
	LowConfidence bool `json:"low_confidence" yaml:"low_confidence"`

	FromCache bool      `json:"from_cache" yaml:"from_cache"`
	Attempts  []Attempt `json:"attempts,omitempty" yaml:"attempts,omitempty"`
}

// Field returns the result for name, or nil if absent.
func (r *ExtractionResult) Field(name string) *FieldResult {
	for i := range r.Fields {
		if r.Fields[i].FieldName == name {
			return &r.Fields[i]
		}
	}
	return nil
}

// Values returns the extracted values keyed by field name.
func (r *ExtractionResult) Values() map[string]any {
	out := make(map[string]any, len(r.Fields))
	for _, f := range r.Fields {
		out[f.FieldName] = f.Value
	}
	return out
}
