// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package table reads the input reference table and writes the extracted
// values back out as one row per extracted record.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// Metadata columns appended after the schema fields.
var metaColumns = []string{
	"extraction_timestamp",
	"extraction_source",
	"confidence",
	"low_confidence",
	"status",
	"failure_stage",
	"failure_reason",
	"annotation_path",
}

// ReadReferences loads the input table at path. Files ending in .yaml or
// .yml hold a list of row mappings; anything else is read as CSV with a
// header row. Empty reference cells are dropped.
func ReadReferences(path string, cols types.ColumnConfig) ([]types.PaperReference, error) {
	var (
		header []string
		rows   []map[string]string
		err    error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		header, rows, err = readYAML(path)
	default:
		header, rows, err = readCSV(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var missing []string
	for _, c := range append([]string{cols.Identifier}, cols.PaperRefs...) {
		if !slices.Contains(header, c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s: required columns not found: %s (available: %s)",
			path, strings.Join(missing, ", "), strings.Join(header, ", "))
	}

	refs := make([]types.PaperReference, 0, len(rows))
	for i, row := range rows {
		ref := types.PaperReference{
			Index:      i,
			Identifier: strings.TrimSpace(row[cols.Identifier]),
			Extra:      make(map[string]string),
		}
		for _, c := range cols.PaperRefs {
			v := strings.TrimSpace(row[c])
			ref.Extra[c] = v
			if v != "" {
				ref.Refs = append(ref.Refs, v)
			}
		}
		for _, c := range cols.PreserveColumns {
			ref.Extra[c] = row[c]
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func readCSV(path string) ([]string, []map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, errors.New("empty file")
	}
	if err != nil {
		return nil, nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []map[string]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if blank(rec) {
			continue
		}
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

func readYAML(path string) ([]string, []map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var raw []map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("parsing YAML rows: %w", err)
	}

	var header []string
	rows := make([]map[string]string, 0, len(raw))
	for _, m := range raw {
		row := make(map[string]string, len(m))
		for k, v := range m {
			if !slices.Contains(header, k) {
				header = append(header, k)
			}
			if v != nil {
				row[k] = fmt.Sprint(v)
			}
		}
		rows = append(rows, row)
	}
	slices.Sort(header)
	return header, rows, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Header returns the output column order: identifier, reference columns,
// preserved columns, schema fields not already present, then metadata.
func Header(cols types.ColumnConfig, schema types.ExtractionSchema) []string {
	h := []string{cols.Identifier}
	add := func(names ...string) {
		for _, n := range names {
			if !slices.Contains(h, n) {
				h = append(h, n)
			}
		}
	}
	add(cols.PaperRefs...)
	add(cols.PreserveColumns...)
	add(schema.Names()...)
	add(metaColumns...)
	return h
}

// WriteResults writes one CSV row per extracted record. A paper with
// several records yields several rows with the identifier suffixed _1, _2,
// and so on; a failed or unfinished record yields one row with empty
// field values. The file is replaced atomically.
func WriteResults(path string, cols types.ColumnConfig, schema types.ExtractionSchema, records []*types.PipelineRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".results-*")
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := writeRows(tmp, cols, schema, records); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeRows(w io.Writer, cols types.ColumnConfig, schema types.ExtractionSchema, records []*types.PipelineRecord) error {
	header := Header(cols, schema)
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, rec := range records {
		for _, row := range rowsFor(cols, schema, rec) {
			line := make([]string, len(header))
			for i, h := range header {
				line[i] = row[h]
			}
			if err := cw.Write(line); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// rowsFor expands one pipeline record into output rows keyed by column.
func rowsFor(cols types.ColumnConfig, schema types.ExtractionSchema, rec *types.PipelineRecord) []map[string]string {
	base := map[string]string{cols.Identifier: rec.Reference.Identifier}
	for k, v := range rec.Reference.Extra {
		base[k] = v
	}
	base["status"] = string(rec.Stage)
	base["annotation_path"] = rec.AnnotatedPath
	if rec.Failure != nil {
		base["failure_stage"] = string(rec.Failure.Stage)
		base["failure_reason"] = rec.Failure.Reason
	}
	if len(rec.Results) == 0 {
		return []map[string]string{base}
	}

	var ts string
	if t, ok := rec.Timestamps[types.StageExtracted]; ok {
		ts = t.UTC().Format(time.RFC3339)
	}
	rows := make([]map[string]string, 0, len(rec.Results))
	for i, res := range rec.Results {
		row := make(map[string]string, len(base)+len(schema)+len(metaColumns))
		for k, v := range base {
			row[k] = v
		}
		if len(rec.Results) > 1 {
			row[cols.Identifier] = fmt.Sprintf("%s_%d", rec.Reference.Identifier, i+1)
		}
		for _, f := range schema {
			if fr := res.Field(f.Name); fr != nil && fr.Value != nil {
				row[f.Name] = FormatValue(fr.Value)
			}
		}
		row["extraction_timestamp"] = ts
		row["extraction_source"] = res.ProviderUsed
		if res.FromCache {
			row["extraction_source"] += " (cached)"
		}
		row["confidence"] = strconv.FormatFloat(res.AggregateConfidence, 'f', 2, 64)
		row["low_confidence"] = strconv.FormatBool(res.LowConfidence)
		rows = append(rows, row)
	}
	return rows
}

// FormatValue renders an extracted value as a table cell.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = FormatValue(e)
		}
		return strings.Join(parts, "; ")
	default:
		return fmt.Sprint(x)
	}
}

// WriteTemplate writes an empty input table for schema with one example
// row, so a new project starts from the right columns.
func WriteTemplate(w io.Writer, cols types.ColumnConfig, schema types.ExtractionSchema) error {
	header := Header(cols, schema)
	example := make([]string, len(header))
	for i, h := range header {
		switch {
		case h == cols.Identifier:
			example[i] = "EXAMPLE_ID"
		case len(cols.PaperRefs) > 0 && h == cols.PaperRefs[0]:
			example[i] = "https://doi.org/10.xxxx/xxxxx OR Smith et al., 2020"
		}
		for _, f := range schema {
			if f.Name == h {
				example[i] = "<" + string(f.Type) + ">"
			}
		}
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.Write(example); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}
