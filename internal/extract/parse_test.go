// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse(t *testing.T) {
	validator, err := compileRecordSchema(siteSchema)
	require.NoError(t, err)

	tests := []struct {
		name    string
		raw     string
		records int
		wantErr bool
	}{
		{"records wrapper", `{"records": [{"site_name": "A"}, {"site_name": "B"}]}`, 2, false},
		{"bare array", `[{"site_name": "A"}]`, 1, false},
		{"single object", `{"site_name": {"value": "A", "confidence": 0.5}}`, 1, false},
		{"fenced", "```json\n{\"site_name\": \"A\"}\n```", 1, false},
		{"prose around", "Here is the data:\n{\"site_name\": \"A\"}\nLet me know.", 1, false},
		{"braces inside strings", `{"site_name": "A {weird} ]name"}`, 1, false},
		{"empty records", `{"records": []}`, 0, false},
		{"no json", "Sorry, I cannot help.", 0, true},
		{"truncated", `{"site_name": "A"`, 0, true},
		{"scalar records", `[1, 2]`, 0, true},
		{"entry missing value", `{"site_name": {"confidence": 0.9, "page": {}}}`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := parseResponse([]byte(tt.raw), validator)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errMalformed))
				return
			}
			require.NoError(t, err)
			assert.Len(t, recs, tt.records)
		})
	}
}

func TestFieldOf(t *testing.T) {
	rec := map[string]any{
		"site_name": map[string]any{"value": "U1425", "source_text": " Site U1425 ", "page": "3", "confidence": "0.75"},
		"latitude":  "39.49N",
		"depth":     map[string]any{"min": 1.0, "max": 2.0},
	}

	f := fieldOf(rec, "site_name")
	assert.Equal(t, "U1425", f.Value)
	assert.Equal(t, "Site U1425", f.Quote)
	assert.Equal(t, 3, f.Page)
	require.NotNil(t, f.Confidence)
	assert.Equal(t, 0.75, *f.Confidence)

	f = fieldOf(rec, "latitude")
	assert.Equal(t, "39.49N", f.Value)
	assert.Nil(t, f.Confidence)

	f = fieldOf(rec, "depth")
	assert.Equal(t, rec["depth"], f.Value, "objects without a value key are the value")

	assert.Nil(t, fieldOf(rec, "missing").Value)
}

func TestChunkPages(t *testing.T) {
	pages := []string{
		"<!-- page 1 -->\n" + strings.Repeat("a", 20) + "\n",
		"<!-- page 2 -->\n" + strings.Repeat("b", 20) + "\n",
		"<!-- page 3 -->\n" + strings.Repeat("c", 100) + "\n",
	}

	one := chunkPages(pages, 0)
	require.Len(t, one, 1)

	chunks := chunkPages(pages, 80)
	require.GreaterOrEqual(t, len(chunks), 3)
	assert.Contains(t, chunks[0], "<!-- page 1 -->")
	assert.Contains(t, chunks[0], "<!-- page 2 -->")
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 80)
	}
	var cs int
	for _, c := range chunks[1:] {
		assert.True(t, strings.HasPrefix(c, "<!-- page 3 -->\n"), "split pieces repeat the page marker")
		cs += strings.Count(c, "c")
	}
	assert.Equal(t, 100, cs, "no text is lost when a page is split")
}

func TestParsePageMarker(t *testing.T) {
	tests := []struct {
		line string
		want int
		ok   bool
	}{
		{"<!-- page 3 -->", 3, true},
		{"<!-- page 12 -->", 12, true},
		{"<!-- pages 3 -->", 0, false},
		{"page 3", 0, false},
	}
	for _, tt := range tests {
		got, ok := parsePageMarker(tt.line)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parsePageMarker(%q) = %d, %v; want %d, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestPageOf(t *testing.T) {
	chunk := "<!-- page 4 -->\nIntroduction text\n\n<!-- page 5 -->\nCores were recovered\nat Site U1425.\n"
	assert.Equal(t, 5, pageOf(chunk, "Site U1425"))
	assert.Equal(t, 5, pageOf(chunk, "recovered at Site"))
	assert.Equal(t, 4, pageOf(chunk, "Introduction"))
	assert.Equal(t, 0, pageOf(chunk, "not present"))
}
