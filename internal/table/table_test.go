// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package table

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

var testColumns = types.ColumnConfig{
	Identifier:      "Sample_ID",
	PaperRefs:       []string{"Primary_Reference", "Supporting_Ref"},
	PreserveColumns: []string{"Notes"},
}

var testSchema = types.ExtractionSchema{
	{Name: "site_name", Type: types.FieldText},
	{Name: "latitude", Type: types.FieldNumber},
	{Name: "cored", Type: types.FieldBoolean},
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadReferences_CSV(t *testing.T) {
	path := writeFile(t, "refs.csv", "\ufeffSample_ID,Primary_Reference,Supporting_Ref,Notes\n"+
		"U1425,10.1234/example,,first\n"+
		",,,\n"+
		"U1430, https://doi.org/10.5/x ,\"Smith et al., 2020\",\n")

	refs, err := ReadReferences(path, testColumns)
	require.NoError(t, err)
	require.Len(t, refs, 2, "blank rows are skipped")

	assert.Equal(t, 0, refs[0].Index)
	assert.Equal(t, "U1425", refs[0].Identifier)
	assert.Equal(t, []string{"10.1234/example"}, refs[0].Refs)
	assert.Equal(t, "first", refs[0].Extra["Notes"])

	assert.Equal(t, 1, refs[1].Index)
	assert.Equal(t, []string{"https://doi.org/10.5/x", "Smith et al., 2020"}, refs[1].Refs)
	assert.Equal(t, "Smith et al., 2020", refs[1].Extra["Supporting_Ref"])
}

func TestReadReferences_YAML(t *testing.T) {
	path := writeFile(t, "refs.yaml", `
- Sample_ID: U1425
  Primary_Reference: 10.1234/example
  Supporting_Ref: null
- Sample_ID: 42
  Primary_Reference: "Tada et al. (2015) Japan Sea cores"
  Supporting_Ref: ""
`)
	refs, err := ReadReferences(path, testColumns)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, []string{"10.1234/example"}, refs[0].Refs)
	assert.Equal(t, "42", refs[1].Identifier)
	assert.Equal(t, []string{"Tada et al. (2015) Japan Sea cores"}, refs[1].Refs)
}

func TestReadReferences_MissingColumn(t *testing.T) {
	path := writeFile(t, "refs.csv", "Sample_ID,Reference\nU1425,10.1/x\n")
	_, err := ReadReferences(path, testColumns)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Primary_Reference, Supporting_Ref")
	assert.Contains(t, err.Error(), "available: Sample_ID, Reference")
}

func TestReadReferences_Empty(t *testing.T) {
	path := writeFile(t, "refs.csv", "")
	_, err := ReadReferences(path, testColumns)
	assert.ErrorContains(t, err, "empty file")
}

func TestHeader(t *testing.T) {
	cols := types.ColumnConfig{Identifier: "id", PaperRefs: []string{"ref"}, PreserveColumns: []string{"site_name"}}
	h := Header(cols, testSchema)
	assert.Equal(t, []string{"id", "ref", "site_name", "latitude", "cored"}, h[:5])
	assert.Equal(t, "extraction_timestamp", h[5])
	assert.Equal(t, "annotation_path", h[len(h)-1])
}

func TestWriteResults(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	done := &types.PipelineRecord{
		Reference: types.PaperReference{
			Index: 0, Identifier: "U1425", Refs: []string{"10.1/x"},
			Extra: map[string]string{"Primary_Reference": "10.1/x", "Supporting_Ref": "", "Notes": "keep"},
		},
		Stage:      types.StageDone,
		Timestamps: map[types.Stage]time.Time{types.StageExtracted: at},
		Results: []types.ExtractionResult{
			{Fields: []types.FieldResult{
				{FieldName: "site_name", Value: "U1425A", Confidence: 1},
				{FieldName: "latitude", Value: 39.49, Confidence: 0.9},
				{FieldName: "cored", Value: true, Confidence: 1},
			}, AggregateConfidence: 0.9667, ProviderUsed: "claude"},
			{Fields: []types.FieldResult{
				{FieldName: "site_name", Value: "U1425B", Confidence: 1},
				{FieldName: "latitude", Value: nil},
			}, AggregateConfidence: 0.5, ProviderUsed: "claude", LowConfidence: true, FromCache: true},
		},
		AnnotatedPath: "annotations/U1425.annotations.json",
	}
	failed := &types.PipelineRecord{
		Reference: types.PaperReference{Index: 1, Identifier: "U1430", Extra: map[string]string{"Primary_Reference": "10.1234/example"}},
		Stage:     types.StageAcquisitionFailed,
		Failure:   &types.Failure{Stage: types.StageAcquisitionFailed, Reason: "AllSourcesFailed"},
	}

	path := filepath.Join(t.TempDir(), "out", "results.csv")
	require.NoError(t, WriteResults(path, testColumns, testSchema, []*types.PipelineRecord{done, failed}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)

	col := func(name string) int {
		for i, h := range rows[0] {
			if h == name {
				return i
			}
		}
		t.Fatalf("column %q missing", name)
		return -1
	}

	first, second, third := rows[1], rows[2], rows[3]
	assert.Equal(t, "U1425_1", first[col("Sample_ID")])
	assert.Equal(t, "U1425_2", second[col("Sample_ID")])
	assert.Equal(t, "keep", second[col("Notes")])
	assert.Equal(t, "39.49", first[col("latitude")])
	assert.Equal(t, "true", first[col("cored")])
	assert.Equal(t, "", second[col("latitude")])
	assert.Equal(t, "0.97", first[col("confidence")])
	assert.Equal(t, "2026-03-01T12:00:00Z", first[col("extraction_timestamp")])
	assert.Equal(t, "claude (cached)", second[col("extraction_source")])
	assert.Equal(t, "true", second[col("low_confidence")])
	assert.Equal(t, "done", first[col("status")])
	assert.Equal(t, "annotations/U1425.annotations.json", first[col("annotation_path")])

	assert.Equal(t, "U1430", third[col("Sample_ID")])
	assert.Equal(t, "10.1234/example", third[col("Primary_Reference")])
	assert.Equal(t, "", third[col("site_name")])
	assert.Equal(t, "acquisition_failed", third[col("failure_stage")])
	assert.Equal(t, "AllSourcesFailed", third[col("failure_reason")])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"clay", "clay"},
		{1909.0, "1909"},
		{-0.25, "-0.25"},
		{false, "false"},
		{[]any{"a", 2.5, nil}, "a; 2.5; "},
		{3, "3"},
	}
	for _, tt := range tests {
		if got := FormatValue(tt.in); got != tt.want {
			t.Errorf("FormatValue(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteTemplate(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTemplate(&buf, testColumns, testSchema))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Sample_ID", rows[0][0])
	assert.Equal(t, "EXAMPLE_ID", rows[1][0])
	assert.Contains(t, rows[1], "<number>")
}
