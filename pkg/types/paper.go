// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

// PaperReference is one row of input: an identifier plus one or more
// reference strings (DOI, URL, or free-text citation). It is never modified
// after the table reader produces it.
type PaperReference struct {
	// Index is the zero-based position in the input; reports are sorted by it.
	Index int `json:"index" yaml:"index"`

	// Identifier is the caller-supplied record ID (e.g. a sample or core name).
	Identifier string `json:"identifier" yaml:"identifier"`

	// Refs holds the non-empty reference strings in column order.
	Refs []string `json:"refs" yaml:"refs"`

	// Extra carries the raw reference and preserved input columns, keyed by
	// column name, through to the output table.
	Extra map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// SourceCandidate is one place a PDF might be downloaded from.
type SourceCandidate struct {
	URL string `json:"url" yaml:"url"`

	// Strategy names the source that proposed the URL
	// (e.g. "semantic_scholar", "unpaywall", "openalex", "arxiv", "publisher").
	Strategy string `json:"strategy" yaml:"strategy"`

	// Rank is the preference order; lower is tried first.
	Rank int `json:"rank" yaml:"rank"`
}

// PaperIdentity is the canonical identity a reference resolves to.
type PaperIdentity struct {
	Title   string   `json:"title" yaml:"title"`
	Authors []string `json:"authors" yaml:"authors"`
	Year    int      `json:"year,omitempty" yaml:"year,omitempty"`
	DOI     string   `json:"doi,omitempty" yaml:"doi,omitempty"`
	ArxivID string   `json:"arxiv_id,omitempty" yaml:"arxiv_id,omitempty"`

	// Candidates are PDF source URLs ranked by preference.
	Candidates []SourceCandidate `json:"candidates" yaml:"candidates"`

	// MatchScore is the resolver's similarity in [0,1]; 1 for direct DOI lookups.
	MatchScore float64 `json:"match_score" yaml:"match_score"`

	// Source identifies how the identity was found ("doi" or "search").
	Source string `json:"source" yaml:"source"`
}

// Key returns a stable identity key: the lower-cased DOI when known,
// otherwise a hash of the normalized title, otherwise a hash of the first
// candidate URL (identities built from a bare PDF link).
func (p PaperIdentity) Key() string {
	if p.DOI != "" {
		return "doi:" + strings.ToLower(p.DOI)
	}
	if t := NormalizeTitle(p.Title); t != "" {
		h := sha256.Sum256([]byte(t))
		return "title:" + hex.EncodeToString(h[:])
	}
	var u string
	if len(p.Candidates) > 0 {
		u = p.Candidates[0].URL
	}
	h := sha256.Sum256([]byte(u))
	return "url:" + hex.EncodeToString(h[:])
}

// Slug returns a filesystem-safe filename stem for the identity.
func (p PaperIdentity) Slug() string {
	if p.DOI != "" {
		return strings.NewReplacer("/", "-", ":", "-").Replace(strings.ToLower(p.DOI))
	}
	kind, hash, _ := strings.Cut(p.Key(), ":")
	return fmt.Sprintf("%s-%s", kind, hash[:16])
}

// NormalizeTitle returns a lowercased, punctuation-stripped version of the title.
func NormalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// BoundingBox is a rectangle in PDF user space (points, origin bottom-left).
type BoundingBox struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Union returns the smallest box containing both b and o. A zero box is
// treated as empty.
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	if b.IsZero() {
		return o
	}
	if o.IsZero() {
		return b
	}
	x0 := min(b.X, o.X)
	y0 := min(b.Y, o.Y)
	x1 := max(b.X+b.Width, o.X+o.Width)
	y1 := max(b.Y+b.Height, o.Y+o.Height)
	return BoundingBox{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// IsZero reports whether the box has no area and no position.
func (b BoundingBox) IsZero() bool {
	return b == BoundingBox{}
}

// TextBlock is a line of text on a page together with its layout box.
type TextBlock struct {
	Page int         `json:"page" yaml:"page"`
	Text string      `json:"text" yaml:"text"`
	Box  BoundingBox `json:"box" yaml:"box"`
}

// Page holds the ordered text blocks of one PDF page.
type Page struct {
	// Index is 1-based, matching how papers and providers cite pages.
	Index  int         `json:"index" yaml:"index"`
	Width  float64     `json:"width" yaml:"width"`
	Height float64     `json:"height" yaml:"height"`
	Blocks []TextBlock `json:"blocks" yaml:"blocks"`
}

// Text joins the page's blocks with newlines.
func (p Page) Text() string {
	lines := make([]string, len(p.Blocks))
	for i, b := range p.Blocks {
		lines[i] = b.Text
	}
	return strings.Join(lines, "\n")
}

// AcquiredDocument owns downloaded PDF bytes and their page layout.
// It is never mutated after the acquirer creates it.
type AcquiredDocument struct {
	// ContentHash is the hex SHA-256 of Bytes.
	ContentHash string `json:"content_hash" yaml:"content_hash"`

	Bytes     []byte `json:"bytes" yaml:"-"`
	PageCount int    `json:"page_count" yaml:"page_count"`
	Pages     []Page `json:"pages" yaml:"pages"`

	SourceURL string `json:"source_url" yaml:"source_url"`
	Strategy  string `json:"strategy" yaml:"strategy"`

	// Path is where the PDF was written on disk, if anywhere.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// ContentHash returns the hex SHA-256 of data.
func ContentHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
