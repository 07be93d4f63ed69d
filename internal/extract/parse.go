// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// errMalformed marks a response that could not be read as extraction records.
var errMalformed = errors.New("malformed response")

// rawField is one field as the provider reported it, before coercion.
type rawField struct {
	Value      any
	Quote      string
	Page       int
	Confidence *float64
}

// parseResponse reads provider output into one map per record. It accepts
// {"records": [...]}, a bare array of records, or a single record object,
// optionally wrapped in a Markdown code fence or surrounded by prose.
func parseResponse(raw []byte, validator *jsonschema.Schema) ([]map[string]any, error) {
	text := stripFences(string(raw))
	js, ok := firstJSON(text)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON value in output", errMalformed)
	}

	var doc any
	if err := json.Unmarshal([]byte(js), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}

	var items []any
	switch v := doc.(type) {
	case []any:
		items = v
	case map[string]any:
		if recs, ok := v["records"].([]any); ok {
			items = recs
		} else {
			items = []any{v}
		}
	default:
		return nil, fmt.Errorf("%w: expected object or array, got %T", errMalformed, doc)
	}

	records := make([]map[string]any, 0, len(items))
	for i, item := range items {
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: record %d is %T, not an object", errMalformed, i, item)
		}
		if validator != nil {
			if err := validator.Validate(rec); err != nil {
				return nil, fmt.Errorf("%w: record %d: %v", errMalformed, i, err)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// fieldOf reads a field from a parsed record. A field may be a bare value
// or an object with value, confidence, source_text, and page.
func fieldOf(rec map[string]any, name string) rawField {
	v, ok := rec[name]
	if !ok {
		return rawField{}
	}
	entry, ok := v.(map[string]any)
	if !ok {
		return rawField{Value: v}
	}
	if _, hasValue := entry["value"]; !hasValue {
		return rawField{Value: v}
	}

	f := rawField{Value: entry["value"]}
	if q, ok := entry["source_text"].(string); ok {
		f.Quote = strings.TrimSpace(q)
	}
	switch p := entry["page"].(type) {
	case float64:
		f.Page = int(p)
	case string:
		f.Page, _ = strconv.Atoi(strings.TrimSpace(p))
	}
	switch c := entry["confidence"].(type) {
	case float64:
		f.Confidence = &c
	case string:
		if n, err := strconv.ParseFloat(strings.TrimSpace(c), 64); err == nil {
			f.Confidence = &n
		}
	}
	return f
}

// stripFences removes a surrounding ```json ... ``` block.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	if end := strings.LastIndex(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// firstJSON returns the first balanced JSON object or array in s.
func firstJSON(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	var (
		depth    int
		inString bool
		escaped  bool
	)
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
