// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package annotate

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	pdftypes "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// Annotation flag bit for printing (PDF 32000-1, 12.5.3).
const annotPrint = 4

// legendFont is the default appearance of legend text.
const legendFont = "/Helv 8 Tf"

// RenderPDF returns a copy of src with the overlay's highlights and legend
// added as PDF annotations. src is not modified.
func RenderPDF(src []byte, ov *Overlay) (out []byte, err error) {
	if len(src) == 0 {
		return nil, errors.New("no PDF bytes to annotate")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rendering annotated PDF: %v", r)
		}
	}()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(bytes.Clone(src)), conf)
	if err != nil {
		return nil, fmt.Errorf("reading PDF: %w", err)
	}

	for i, h := range ov.Highlights {
		if len(h.Rects) == 0 {
			continue
		}
		if err := addAnnotation(ctx, h.Page, highlightDict(h, i)); err != nil {
			return nil, fmt.Errorf("highlight %s: %w", h.Field, err)
		}
	}
	if ov.Legend != nil {
		for _, d := range legendDicts(ov.Legend) {
			if err := addAnnotation(ctx, ov.Legend.Page, d); err != nil {
				return nil, fmt.Errorf("legend: %w", err)
			}
		}
	}

	var buf bytes.Buffer
	if err := api.WriteContext(ctx, &buf); err != nil {
		return nil, fmt.Errorf("writing PDF: %w", err)
	}
	return buf.Bytes(), nil
}

// addAnnotation stores d as a new object and appends it to the page's
// Annots array.
func addAnnotation(ctx *model.Context, page int, d pdftypes.Dict) error {
	if page < 1 || page > ctx.PageCount {
		return fmt.Errorf("page %d out of range 1..%d", page, ctx.PageCount)
	}
	pageDict, pageRef, _, err := ctx.PageDict(page, false)
	if err != nil {
		return err
	}
	if pageDict == nil {
		return fmt.Errorf("page %d not found", page)
	}
	if pageRef != nil {
		d["P"] = *pageRef
	}

	ref, err := ctx.IndRefForNewObject(d)
	if err != nil {
		return err
	}

	var annots pdftypes.Array
	if o, ok := pageDict["Annots"]; ok && o != nil {
		if annots, err = ctx.DereferenceArray(o); err != nil {
			return err
		}
	}
	pageDict["Annots"] = append(annots, *ref)
	return nil
}

func highlightDict(h Highlight, n int) pdftypes.Dict {
	union := h.Rects[0]
	quads := make(pdftypes.Array, 0, 8*len(h.Rects))
	for _, r := range h.Rects {
		union = union.Union(r)
		x1, y1, x2, y2 := r.X, r.Y, r.X+r.Width, r.Y+r.Height
		// Upper left, upper right, lower left, lower right.
		quads = append(quads, floats(x1, y2, x2, y2, x1, y1, x2, y1)...)
	}
	return pdftypes.Dict{
		"Type":       pdftypes.Name("Annot"),
		"Subtype":    pdftypes.Name("Highlight"),
		"Rect":       rect(union),
		"QuadPoints": quads,
		"C":          colorArray(h.Color),
		"CA":         pdftypes.Float(h.Opacity),
		"F":          pdftypes.Integer(annotPrint),
		"T":          pdfText(h.Tooltip.RecordIdentifier),
		"Subj":       pdfText(h.Field),
		"Contents":   pdfText(h.Tooltip.Text),
		"NM":         pdfText(fmt.Sprintf("extraction-%d-%s", n, h.Field)),
	}
}

// legendDicts draws the legend as a framed box with one colored text row
// per category under the title.
func legendDicts(l *Legend) []pdftypes.Dict {
	top := l.Box.Y + l.Box.Height
	dicts := []pdftypes.Dict{
		{
			"Type":    pdftypes.Name("Annot"),
			"Subtype": pdftypes.Name("Square"),
			"Rect":    rect(l.Box),
			"C":       colorArray(Color{0, 0, 0}),
			"IC":      colorArray(Color{1, 1, 1}),
			"F":       pdftypes.Integer(annotPrint),
			"NM":      pdfText("extraction-legend"),
		},
		freeText(types.BoundingBox{X: l.Box.X + 5, Y: top - 20, Width: l.Box.Width - 10, Height: 15},
			l.Title, Color{0, 0, 0}, "extraction-legend-title"),
	}
	for i, e := range l.Entries {
		row := types.BoundingBox{
			X:      l.Box.X + 5,
			Y:      top - 20 - float64(i+1)*legendRowSize,
			Width:  l.Box.Width - 10,
			Height: legendRowSize,
		}
		dicts = append(dicts, freeText(row, "■ "+e.Label, e.Color, fmt.Sprintf("extraction-legend-%d", i)))
	}
	return dicts
}

func freeText(box types.BoundingBox, text string, c Color, name string) pdftypes.Dict {
	return pdftypes.Dict{
		"Type":     pdftypes.Name("Annot"),
		"Subtype":  pdftypes.Name("FreeText"),
		"Rect":     rect(box),
		"Contents": pdfText(text),
		"DA":       pdftypes.StringLiteral(fmt.Sprintf("%s %.3f %.3f %.3f rg", legendFont, c[0], c[1], c[2])),
		"F":        pdftypes.Integer(annotPrint),
		"NM":       pdfText(name),
	}
}

func rect(b types.BoundingBox) pdftypes.Array {
	return floats(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

func colorArray(c Color) pdftypes.Array {
	return floats(c[0], c[1], c[2])
}

func floats(vs ...float64) pdftypes.Array {
	a := make(pdftypes.Array, len(vs))
	for i, v := range vs {
		a[i] = pdftypes.Float(v)
	}
	return a
}

// pdfText encodes s as a PDF text string: an escaped literal when it is
// plain ASCII, UTF-16BE with a byte order mark otherwise.
func pdfText(s string) pdftypes.Object {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return pdftypes.StringLiteral(strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`).Replace(s))
	}
	units := utf16.Encode([]rune(s))
	b := make([]byte, 2, 2+2*len(units))
	b[0], b[1] = 0xfe, 0xff
	for _, u := range units {
		b = append(b, byte(u>>8), byte(u))
	}
	return pdftypes.HexLiteral(hex.EncodeToString(b))
}
