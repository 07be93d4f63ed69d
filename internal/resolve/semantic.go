// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// semanticAPIBase is the Semantic Scholar Graph API root. Declared as a var
// so tests can substitute an httptest server.
var semanticAPIBase = "https://api.semanticscholar.org/graph/v1"

const semanticFields = "title,year,authors,externalIds,openAccessPdf"

// maxQueryLen caps the search query; long citations only add noise.
const maxQueryLen = 300

// Semantic Scholar API JSON structures.
type semanticSearchResponse struct {
	Total int             `json:"total"`
	Data  []semanticPaper `json:"data"`
}

type semanticPaper struct {
	PaperID       string              `json:"paperId"`
	Title         string              `json:"title"`
	Year          int                 `json:"year"`
	Authors       []semanticAuthor    `json:"authors"`
	ExternalIDs   semanticExternalIDs `json:"externalIds"`
	OpenAccessPDF *semanticOAPDF      `json:"openAccessPdf"`
}

type semanticAuthor struct {
	Name string `json:"name"`
}

type semanticExternalIDs struct {
	DOI   string `json:"DOI"`
	ArXiv string `json:"ArXiv"`
}

type semanticOAPDF struct {
	URL string `json:"url"`
}

// fill copies bibliographic fields into id without overwriting known IDs.
func (p *semanticPaper) fill(id *types.PaperIdentity) {
	id.Title = p.Title
	id.Year = p.Year
	id.Authors = id.Authors[:0]
	for _, a := range p.Authors {
		id.Authors = append(id.Authors, a.Name)
	}
	if id.DOI == "" {
		id.DOI = p.ExternalIDs.DOI
	}
	if id.ArxivID == "" {
		id.ArxivID = p.ExternalIDs.ArXiv
	}
}

// semanticLookup fetches one paper by external ID ("DOI:..." or
// "arXiv:..."). It returns nil, nil when the paper is unknown.
func (r *Resolver) semanticLookup(ctx context.Context, extID string, t *trace) (*semanticPaper, error) {
	reqURL := semanticAPIBase + "/paper/" + extID + "?fields=" + semanticFields

	var p semanticPaper
	err := r.getJSON(ctx, "semantic_scholar", "semantic_scholar /paper/"+extID, reqURL, r.semanticHeader(), &p, t)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// semanticSearch runs a free-text paper search.
func (r *Resolver) semanticSearch(ctx context.Context, query string, t *trace) ([]semanticPaper, error) {
	if query == "" {
		return nil, &Failure{Reason: ReasonNotFound, Message: "empty citation"}
	}
	limit := r.cfg.SemanticScholar.MaxResults
	if limit <= 0 {
		limit = 5
	}
	params := url.Values{
		"query":  {query},
		"limit":  {fmt.Sprintf("%d", limit)},
		"fields": {semanticFields},
	}
	reqURL := semanticAPIBase + "/paper/search?" + params.Encode()

	var sr semanticSearchResponse
	err := r.getJSON(ctx, "semantic_scholar", "semantic_scholar /paper/search", reqURL, r.semanticHeader(), &sr, t)
	if errors.Is(err, errNotFound) {
		return nil, &Failure{Reason: ReasonNotFound, Message: "no search results"}
	}
	if err != nil {
		return nil, err
	}
	return sr.Data, nil
}

func (r *Resolver) semanticHeader() http.Header {
	h := http.Header{}
	if r.apiKey != "" {
		h.Set("x-api-key", r.apiKey)
	}
	return h
}

// searchQuery trims a citation to a reasonable search string.
func searchQuery(citation string) string {
	q := strings.Join(strings.Fields(citation), " ")
	if len(q) > maxQueryLen {
		q = q[:maxQueryLen]
		if i := strings.LastIndexByte(q, ' '); i > 0 {
			q = q[:i]
		}
	}
	return q
}
