// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

var (
	numberToken = regexp.MustCompile(`[-+−]?(?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?(?:[eE][-+]?\d+)?`)

	// hemisphere matches a compass suffix after a coordinate, e.g. "12.5° S".
	hemisphere = regexp.MustCompile(`^\s*[°º]?\s*['′"″]?\s*([NSEW])\b`)
)

// nullWords are answers that mean the paper does not report the value.
var nullWords = map[string]bool{
	"":             true,
	"null":         true,
	"none":         true,
	"n/a":          true,
	"na":           true,
	"unknown":      true,
	"not reported": true,
	"not stated":   true,
	"not found":    true,
}

// coerce converts a provider value to the schema type. It returns the
// converted value and whether conversion changed its representation. A
// value that cannot be converted is an error; a null-like answer is nil.
func coerce(t types.FieldType, v any) (any, bool, error) {
	if s, ok := v.(string); ok && nullWords[strings.ToLower(strings.TrimSpace(s))] {
		return nil, false, nil
	}
	if v == nil {
		return nil, false, nil
	}

	switch t {
	case types.FieldNumber:
		return coerceNumber(v)
	case types.FieldBoolean:
		return coerceBool(v)
	case types.FieldArray:
		if arr, ok := v.([]any); ok {
			return arr, false, nil
		}
		return []any{v}, true, nil
	default:
		return coerceText(v)
	}
}

func coerceNumber(v any) (any, bool, error) {
	switch n := v.(type) {
	case float64:
		return n, false, nil
	case string:
		return parseNumber(n)
	case []any:
		if len(n) == 1 {
			out, _, err := coerceNumber(n[0])
			return out, true, err
		}
	}
	return nil, false, fmt.Errorf("cannot read %v as a number", v)
}

// parseNumber takes the first numeric token in s. A compass suffix of S or
// W negates it, so "39.49N" is 39.49 and "12.5° W" is -12.5.
func parseNumber(s string) (any, bool, error) {
	loc := numberToken.FindStringIndex(s)
	if loc == nil {
		return nil, false, fmt.Errorf("no number in %q", s)
	}
	tok := strings.ReplaceAll(strings.Replace(s[loc[0]:loc[1]], "−", "-", 1), ",", "")
	n, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return nil, false, fmt.Errorf("parsing %q: %w", tok, err)
	}
	if m := hemisphere.FindStringSubmatch(s[loc[1]:]); m != nil {
		switch m[1] {
		case "S", "W":
			if n > 0 {
				n = -n
			}
		}
	}
	return n, true, nil
}

func coerceBool(v any) (any, bool, error) {
	switch b := v.(type) {
	case bool:
		return b, false, nil
	case float64:
		switch b {
		case 1:
			return true, true, nil
		case 0:
			return false, true, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "yes", "y", "true", "1":
			return true, true, nil
		case "no", "n", "false", "0":
			return false, true, nil
		}
	}
	return nil, false, fmt.Errorf("cannot read %v as a boolean", v)
}

func coerceText(v any) (any, bool, error) {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s), false, nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true, nil
	case bool:
		return strconv.FormatBool(s), true, nil
	case []any:
		parts := make([]string, 0, len(s))
		for _, item := range s {
			out, _, err := coerceText(item)
			if err != nil {
				return nil, false, err
			}
			parts = append(parts, out.(string))
		}
		return strings.Join(parts, "; "), true, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, false, fmt.Errorf("cannot read %v as text: %w", v, err)
		}
		return string(data), true, nil
	}
}
