// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// extractionPromptTmpl is the instruction sent with every document or chunk.
var extractionPromptTmpl = template.Must(template.New("extraction").Parse(`You are a scientific data extraction system. Read the paper below and extract the following fields.

Fields:
{{range .Fields}}- {{.Name}} ({{.Type}}): {{.Description}}
{{end}}
For every field return an object with:
- value: the extracted value, or null if the paper does not report it
{{- if .SourceRefs}}
- source_text: a verbatim quote of 5 to 30 words from the paper that supports the value, copied exactly as written
- page: the page number of the quote, taken from the nearest preceding <!-- page N --> marker
{{- end}}
- confidence: a number between 0.0 and 1.0 for how certain you are of the value

Respond with a JSON object of the form {"records": [ ... ]} where each record maps every field name to its object.
If the paper describes several distinct records (for example several sampling sites or cores), return one record per site. Otherwise return exactly one record.
Do not include any text outside the JSON object.
{{if .Chunked}}
This is part {{.Part}} of {{.Parts}} of the paper. Extract only what this part supports and use null for the rest.
{{end}}
Paper text:
{{.Document}}
`))

type promptData struct {
	Fields     types.ExtractionSchema
	SourceRefs bool
	Chunked    bool
	Part       int
	Parts      int
	Document   string
}

// renderPrompt executes the extraction prompt for one chunk.
func renderPrompt(schema types.ExtractionSchema, sourceRefs bool, chunk string, part, parts int) (string, error) {
	var buf bytes.Buffer
	err := extractionPromptTmpl.Execute(&buf, promptData{
		Fields:     schema,
		SourceRefs: sourceRefs,
		Chunked:    parts > 1,
		Part:       part,
		Parts:      parts,
		Document:   chunk,
	})
	if err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	return buf.String(), nil
}

// renderPages writes each page's text under a <!-- page N --> marker.
func renderPages(pages []types.Page) []string {
	out := make([]string, 0, len(pages))
	for _, p := range pages {
		out = append(out, fmt.Sprintf("<!-- page %d -->\n%s\n", p.Index, p.Text()))
	}
	return out
}

// chunkPages joins rendered pages into chunks of at most maxChars. Pages
// are never merged across a chunk boundary; a page longer than maxChars is
// split into pieces that each repeat its page marker. maxChars <= 0
// disables chunking.
func chunkPages(pages []string, maxChars int) []string {
	if maxChars <= 0 {
		return []string{strings.Join(pages, "\n")}
	}
	var (
		chunks []string
		cur    strings.Builder
	)
	for _, page := range pages {
		for _, p := range splitPage(page, maxChars) {
			if cur.Len() > 0 && cur.Len()+1+len(p) > maxChars {
				chunks = append(chunks, cur.String())
				cur.Reset()
			}
			if cur.Len() > 0 {
				cur.WriteByte('\n')
			}
			cur.WriteString(p)
		}
	}
	if cur.Len() > 0 || len(chunks) == 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// splitPage cuts a rendered page into pieces of at most maxChars bytes,
// each starting with the page's marker line.
func splitPage(page string, maxChars int) []string {
	if len(page) <= maxChars {
		return []string{page}
	}
	marker, body, _ := strings.Cut(page, "\n")
	marker += "\n"
	room := maxChars - len(marker)
	if room <= 0 {
		return []string{truncateRunes(page, maxChars)}
	}
	var pieces []string
	for body != "" {
		piece := truncateRunes(body, room)
		if piece == "" {
			break
		}
		pieces = append(pieces, marker+piece)
		body = body[len(piece):]
	}
	return pieces
}

// truncateRunes cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// parsePageMarker extracts the page number from an HTML comment like <!-- page 3 -->.
func parsePageMarker(line string) (int, bool) {
	if !strings.HasPrefix(line, "<!-- page ") || !strings.HasSuffix(line, " -->") {
		return 0, false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(line, "<!-- page "), " -->")
	var page int
	if _, err := fmt.Sscanf(inner, "%d", &page); err != nil {
		return 0, false
	}
	return page, true
}

// pageOf finds the page whose text contains quote, following the page
// markers in chunk. It returns 0 when the quote does not occur verbatim.
func pageOf(chunk, quote string) int {
	quote = strings.TrimSpace(quote)
	if quote == "" {
		return 0
	}
	page := 0
	var text strings.Builder
	found := func() bool {
		return page > 0 && strings.Contains(text.String(), quote)
	}
	for _, line := range strings.Split(chunk, "\n") {
		if p, ok := parsePageMarker(strings.TrimSpace(line)); ok {
			if found() {
				return page
			}
			page = p
			text.Reset()
			continue
		}
		text.WriteString(line)
		text.WriteByte(' ')
	}
	if found() {
		return page
	}
	return 0
}
