// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// Parser validates PDF bytes and extracts their text layout.
type Parser interface {
	// PageCount returns the number of pages, failing on malformed input.
	PageCount(data []byte) (int, error)

	// Pages returns one entry per page with its text grouped into lines.
	Pages(data []byte) ([]types.Page, error)
}

// PDFParser counts pages with pdfcpu and reads glyph positions with
// ledongthuc/pdf.
type PDFParser struct{}

// PageCount implements Parser.
func (PDFParser) PageCount(data []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reading PDF structure: %v", r)
		}
	}()
	n, err = api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return 0, fmt.Errorf("reading PDF structure: %w", err)
	}
	return n, nil
}

// Pages implements Parser. ledongthuc/pdf panics on some malformed
// streams, so panics are converted to errors.
func (PDFParser) Pages(data []byte) (pages []types.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extracting PDF text: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}

	for i := 1; i <= r.NumPage(); i++ {
		page := types.Page{Index: i}
		p := r.Page(i)
		if !p.V.IsNull() {
			page.Width, page.Height = mediaBox(p)
			page.Blocks = groupLines(i, p.Content().Text)
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// mediaBox returns the page size, looking at the parent page tree node
// when the page does not carry its own MediaBox.
func mediaBox(p pdf.Page) (width, height float64) {
	box := p.V.Key("MediaBox")
	for parent := p.V.Key("Parent"); box.Len() < 4 && !parent.IsNull(); parent = parent.Key("Parent") {
		box = parent.Key("MediaBox")
	}
	if box.Len() < 4 {
		return 612, 792
	}
	return box.Index(2).Float64() - box.Index(0).Float64(), box.Index(3).Float64() - box.Index(1).Float64()
}

// groupLines merges glyph runs that share a baseline into text blocks.
// A new block starts when the baseline moves by more than half the font
// size or the pen jumps backwards.
func groupLines(page int, texts []pdf.Text) []types.TextBlock {
	var (
		blocks []types.TextBlock
		b      strings.Builder
		box    types.BoundingBox
		lastX  float64
		lastY  float64
		lastFS float64
		open   bool
	)

	flush := func() {
		if !open {
			return
		}
		if s := strings.TrimSpace(b.String()); s != "" {
			blocks = append(blocks, types.TextBlock{Page: page, Text: s, Box: box})
		}
		b.Reset()
		box = types.BoundingBox{}
		open = false
	}

	for _, t := range texts {
		if t.S == "" {
			continue
		}
		fs := t.FontSize
		if fs <= 0 {
			fs = 10
		}
		if open && (math.Abs(t.Y-lastY) > max(fs, lastFS)/2 || t.X < lastX-fs) {
			flush()
		}
		if open && t.X-lastX > fs*0.25 && !strings.HasSuffix(b.String(), " ") && t.S != " " {
			b.WriteByte(' ')
		}
		b.WriteString(t.S)

		glyph := types.BoundingBox{X: t.X, Y: t.Y - fs*0.2, Width: math.Max(t.W, 0.01), Height: fs}
		box = box.Union(glyph)
		lastX = t.X + t.W
		lastY = t.Y
		lastFS = fs
		open = true
	}
	flush()
	return blocks
}
