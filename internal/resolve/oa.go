// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package resolve

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// Open-access index endpoints. Declared as vars so tests can substitute
// httptest servers.
var (
	unpaywallAPIBase = "https://api.unpaywall.org/v2/"
	openAlexAPIBase  = "https://api.openalex.org/works/"
)

// unpaywallResponse captures the fields we need from an Unpaywall record.
type unpaywallResponse struct {
	Title          string              `json:"title"`
	Year           int                 `json:"year"`
	ZAuthors       []unpaywallAuthor   `json:"z_authors"`
	BestOALocation *unpaywallLocation  `json:"best_oa_location"`
	OALocations    []unpaywallLocation `json:"oa_locations"`
}

type unpaywallAuthor struct {
	Given  string `json:"given"`
	Family string `json:"family"`
}

type unpaywallLocation struct {
	URLForPDF string `json:"url_for_pdf"`
}

// pdfURLs lists the best location first, then the rest in response order.
func (u *unpaywallResponse) pdfURLs() []string {
	var urls []string
	if u.BestOALocation != nil && u.BestOALocation.URLForPDF != "" {
		urls = append(urls, u.BestOALocation.URLForPDF)
	}
	for _, loc := range u.OALocations {
		if loc.URLForPDF != "" {
			urls = append(urls, loc.URLForPDF)
		}
	}
	return urls
}

// fill supplies bibliographic fields Semantic Scholar did not provide.
func (u *unpaywallResponse) fill(id *types.PaperIdentity) {
	if id.Title == "" {
		id.Title = u.Title
	}
	if id.Year == 0 {
		id.Year = u.Year
	}
	if len(id.Authors) == 0 {
		for _, a := range u.ZAuthors {
			id.Authors = append(id.Authors, strings.TrimSpace(a.Given+" "+a.Family))
		}
	}
}

// unpaywall queries Unpaywall for a DOI. It returns nil, nil when the DOI is
// unknown.
func (r *Resolver) unpaywall(ctx context.Context, doi string, t *trace) (*unpaywallResponse, error) {
	reqURL := unpaywallAPIBase + doi + "?email=" + url.QueryEscape(r.cfg.UnpaywallEmail)

	var up unpaywallResponse
	if err := r.getJSON(ctx, "unpaywall", "unpaywall "+doi, reqURL, nil, &up, t); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &up, nil
}

// openAlexResponse captures the fields we need from an OpenAlex work record.
type openAlexResponse struct {
	BestOALocation *openAlexLocation `json:"best_oa_location"`
}

// openAlexLocation represents an open-access location in the OpenAlex response.
type openAlexLocation struct {
	PDFURL     string `json:"pdf_url"`
	LandingURL string `json:"landing_page_url"`
}

// openAlex queries the OpenAlex API for a DOI and returns the open-access
// PDF URL if one exists. It returns an empty string when the paper is not
// available or has no open-access PDF.
func (r *Resolver) openAlex(ctx context.Context, doi string, t *trace) (string, error) {
	reqURL := openAlexAPIBase + "https://doi.org/" + doi
	if r.cfg.UnpaywallEmail != "" {
		reqURL += "?mailto=" + url.QueryEscape(r.cfg.UnpaywallEmail)
	}

	var oa openAlexResponse
	if err := r.getJSON(ctx, "openalex", "openalex "+doi, reqURL, nil, &oa, t); err != nil {
		if errors.Is(err, errNotFound) {
			return "", nil
		}
		return "", err
	}
	if oa.BestOALocation == nil {
		return "", nil
	}
	return oa.BestOALocation.PDFURL, nil
}
