// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package annotate maps extracted values back onto the source PDF layout
// and writes a highlighted copy of the PDF with a JSON overlay beside it.
// The source PDF and the extraction results are never modified.
package annotate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// Overlay constants.
const (
	highlightOpacity = 0.35
	maxBoxesPerQuote = 5

	legendWidth   = 220
	legendMargin  = 10
	legendRowSize = 15
	legendPadding = 25
)

// ReasonNoMatchableSpans is why an annotation was skipped.
const ReasonNoMatchableSpans = "NoMatchableSpans"

// Skipped reports that there was nothing to highlight. It is not a
// failure: annotation is best-effort.
type Skipped struct {
	Reason  string
	Message string
}

// ErrSkipped matches any Skipped with errors.Is.
var ErrSkipped = &Skipped{Reason: ReasonNoMatchableSpans}

func (s *Skipped) Error() string {
	if s.Message == "" {
		return "annotation skipped: " + s.Reason
	}
	return fmt.Sprintf("annotation skipped: %s: %s", s.Reason, s.Message)
}

// Is matches any Skipped with the same reason.
func (s *Skipped) Is(target error) bool {
	t, ok := target.(*Skipped)
	return ok && t.Reason == s.Reason
}

// IsSkip marks the error as a non-failure for the pipeline.
func (s *Skipped) IsSkip() bool { return true }

// Highlight is one located quote.
type Highlight struct {
	Field       string              `json:"field"`
	RecordIndex int                 `json:"record_index"`
	Page        int                 `json:"page"`
	Rects       []types.BoundingBox `json:"rects"`
	Category    Category            `json:"category"`
	Color       Color               `json:"color"`
	Opacity     float64             `json:"opacity"`
	Tooltip     Tooltip             `json:"tooltip"`
	Quote       string              `json:"quote"`
	Match       MatchKind           `json:"match"`
	Score       float64             `json:"score"`
}

// Tooltip is the hover payload of a highlight.
type Tooltip struct {
	FieldName        string `json:"field_name"`
	RecordIdentifier string `json:"record_identifier"`
	Text             string `json:"text"`
}

// Unmatched is a quote that could not be located.
type Unmatched struct {
	Field       string `json:"field"`
	RecordIndex int    `json:"record_index"`
	Page        int    `json:"page,omitempty"`
	Quote       string `json:"quote"`
}

// LegendEntry maps one color to the fields drawn in it.
type LegendEntry struct {
	Category Category `json:"category"`
	Label    string   `json:"label"`
	Color    Color    `json:"color"`
	Fields   []string `json:"fields"`
}

// Legend is drawn on the first page.
type Legend struct {
	Page    int               `json:"page"`
	Box     types.BoundingBox `json:"box"`
	Title   string            `json:"title"`
	Entries []LegendEntry     `json:"entries"`
}

// Overlay is the annotation artifact written next to the source PDF.
type Overlay struct {
	RecordID    string      `json:"record_id"`
	SourcePDF   string      `json:"source_pdf,omitempty"`
	ContentHash string      `json:"content_hash"`
	PageCount   int         `json:"page_count"`
	Highlights  []Highlight `json:"highlights"`
	Unmatched   []Unmatched `json:"unmatched,omitempty"`
	Legend      *Legend     `json:"legend,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// AnnotatedDocument is the result of a successful annotation.
type AnnotatedDocument struct {
	// Path is the highlighted PDF.
	Path string

	// OverlayPath is the JSON record of what was highlighted and why.
	OverlayPath string
	Overlay     *Overlay
}

// Annotator builds and writes overlays.
type Annotator struct {
	cfg    types.ExtractionConfig
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Annotator.
type Option func(*Annotator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(a *Annotator) { a.logger = l } }

// New creates an Annotator writing under cfg.AnnotationDir.
func New(cfg types.ExtractionConfig, opts ...Option) *Annotator {
	a := &Annotator{cfg: cfg, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Annotate locates every quoted source span of results in doc, writes the
// highlighted PDF to <annotation_dir>/<record>_annotated.pdf and the overlay
// to <annotation_dir>/<record>.annotations.json. It returns a *Skipped error
// when no quote could be located.
func (a *Annotator) Annotate(ctx context.Context, doc *types.AcquiredDocument, results []types.ExtractionResult, recordID string) (*AnnotatedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	overlay := a.Build(doc, results, recordID)
	if len(overlay.Highlights) == 0 {
		msg := "no quoted source spans"
		if len(overlay.Unmatched) > 0 {
			msg = fmt.Sprintf("%d quotes not found in the document text", len(overlay.Unmatched))
		}
		return nil, &Skipped{Reason: ReasonNoMatchableSpans, Message: msg}
	}

	annotated, err := RenderPDF(doc.Bytes, overlay)
	if err != nil {
		return nil, err
	}

	slug := fileSlug(recordID)
	pdfPath := filepath.Join(a.cfg.AnnotationDir, slug+"_annotated.pdf")
	if err := writeAtomic(pdfPath, annotated); err != nil {
		return nil, fmt.Errorf("writing annotated PDF: %w", err)
	}
	overlayPath := filepath.Join(a.cfg.AnnotationDir, slug+".annotations.json")
	if err := writeJSON(overlayPath, overlay); err != nil {
		return nil, fmt.Errorf("writing overlay: %w", err)
	}
	a.logger.Info("annotated", "record", recordID, "highlights", len(overlay.Highlights), "unmatched", len(overlay.Unmatched), "path", pdfPath)
	return &AnnotatedDocument{Path: pdfPath, OverlayPath: overlayPath, Overlay: overlay}, nil
}

// Build computes the overlay without writing it.
func (a *Annotator) Build(doc *types.AcquiredDocument, results []types.ExtractionResult, recordID string) *Overlay {
	overlay := &Overlay{
		RecordID:    recordID,
		SourcePDF:   doc.Path,
		ContentHash: doc.ContentHash,
		PageCount:   len(doc.Pages),
		CreatedAt:   a.now().UTC(),
	}

	var all []types.TextBlock
	byPage := make(map[int][]types.TextBlock, len(doc.Pages))
	for _, p := range doc.Pages {
		all = append(all, p.Blocks...)
		byPage[p.Index] = p.Blocks
	}

	used := make(map[Category][]string)
	for _, r := range results {
		for _, f := range r.Fields {
			if f.SourceSpan == nil || strings.TrimSpace(f.SourceSpan.QuotedText) == "" {
				continue
			}
			quote := f.SourceSpan.QuotedText

			var m *Match
			if blocks, ok := byPage[f.SourceSpan.Page]; ok {
				m = LocateField(blocks, f.FieldName, quote, a.cfg.FuzzyFloor)
			}
			if m == nil {
				m = LocateField(all, f.FieldName, quote, a.cfg.FuzzyFloor)
			}
			if m == nil {
				overlay.Unmatched = append(overlay.Unmatched, Unmatched{
					Field: f.FieldName, RecordIndex: r.RecordIndex, Page: f.SourceSpan.Page, Quote: quote,
				})
				a.logger.Debug("quote not located", "record", recordID, "field", f.FieldName, "quote", quote)
				continue
			}

			cat, color := Classify(f.FieldName)
			rects := m.Boxes
			if len(rects) > maxBoxesPerQuote {
				rects = rects[:maxBoxesPerQuote]
			}
			overlay.Highlights = append(overlay.Highlights, Highlight{
				Field:       f.FieldName,
				RecordIndex: r.RecordIndex,
				Page:        m.Page,
				Rects:       append([]types.BoundingBox(nil), rects...),
				Category:    cat,
				Color:       color,
				Opacity:     highlightOpacity,
				Tooltip: Tooltip{
					FieldName:        f.FieldName,
					RecordIdentifier: recordID,
					Text:             fmt.Sprintf("[%s] %s", f.FieldName, recordID),
				},
				Quote: quote,
				Match: m.Kind,
				Score: m.Score,
			})
			if !slices.Contains(used[cat], f.FieldName) {
				used[cat] = append(used[cat], f.FieldName)
			}
		}
	}

	if a.cfg.IncludeLegend && len(overlay.Highlights) > 0 {
		overlay.Legend = buildLegend(doc, used)
	}
	return overlay
}

// buildLegend lists the categories in use, in palette order, in a box at
// the top right of the first page.
func buildLegend(doc *types.AcquiredDocument, used map[Category][]string) *Legend {
	legend := &Legend{Page: 1, Title: "Extraction Legend"}
	for _, e := range palette {
		if fields, ok := used[e.category]; ok {
			legend.Entries = append(legend.Entries, LegendEntry{
				Category: e.category, Label: e.label, Color: e.color, Fields: fields,
			})
		}
	}

	width, height := 612.0, 792.0
	if len(doc.Pages) > 0 && doc.Pages[0].Width > 0 {
		width, height = doc.Pages[0].Width, doc.Pages[0].Height
	}
	h := float64(len(legend.Entries)*legendRowSize + legendPadding)
	legend.Box = types.BoundingBox{
		X:      width - legendWidth - legendMargin,
		Y:      height - legendMargin - h,
		Width:  legendWidth,
		Height: h,
	}
	return legend
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// fileSlug turns a record identifier into a file name.
func fileSlug(id string) string {
	s := strings.Trim(unsafeName.ReplaceAllString(id, "-"), "-.")
	if s == "" {
		return "record"
	}
	return s
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(path, append(data, '\n'))
}

// writeAtomic writes data to path through a temporary file so readers
// never see a partial artifact.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".annotation-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
