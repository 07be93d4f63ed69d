// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package resolve

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// Candidate strategies, in rank order.
const (
	StrategySemanticScholar = "semantic_scholar"
	StrategyUnpaywall       = "unpaywall"
	StrategyOpenAlex        = "openalex"
	StrategyArxiv           = "arxiv"
	StrategyPublisher       = "publisher"
	StrategyURL             = "url"
)

// arxivPDFBase is the arXiv PDF endpoint. Declared as a var so tests can
// substitute an httptest server.
var arxivPDFBase = "https://arxiv.org/pdf/"

// paywalledDomains are publisher hosts that rarely serve PDFs to scripted
// clients even when an OA index lists them.
var paywalledDomains = []string{
	"wiley",
	"sciencedirect",
	"tandfonline",
	"springer",
	"sagepub",
	"oup",
}

// copernicusPattern splits a Copernicus DOI into journal, volume, page, year.
var copernicusPattern = regexp.MustCompile(`^10\.5194/(cp|cpd|sd|se|bg)-(\d+)-(\d+)-(\d+)$`)

// publisherURLs derives direct PDF links from well-known DOI prefixes.
func publisherURLs(doi string) []string {
	doi = strings.ToLower(doi)
	if m := copernicusPattern.FindStringSubmatch(doi); m != nil {
		j, vol, page, year := m[1], m[2], m[3], m[4]
		return []string{fmt.Sprintf("https://%s.copernicus.org/articles/%s/%s/%s/%s-%s-%s-%s.pdf",
			j, vol, page, year, j, vol, page, year)}
	}

	prefix, _, _ := strings.Cut(doi, "/")
	switch prefix {
	case "10.1029":
		return []string{"https://agupubs.onlinelibrary.wiley.com/doi/pdfdirect/" + doi}
	case "10.1002", "10.1111":
		return []string{"https://onlinelibrary.wiley.com/doi/pdfdirect/" + doi}
	case "10.1038":
		last := doi[strings.LastIndex(doi, "/")+1:]
		return []string{"https://www.nature.com/articles/" + last + ".pdf"}
	case "10.1007":
		return []string{"https://link.springer.com/content/pdf/" + doi + ".pdf"}
	case "10.3390":
		return []string{"https://www.mdpi.com/" + doi + "/pdf"}
	}
	return nil
}

// isPaywalled reports whether rawURL points at a known paywalled host.
func isPaywalled(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, d := range paywalledDomains {
		if strings.Contains(host, d) {
			return true
		}
	}
	return false
}

// candidateList accumulates ranked, de-duplicated source candidates.
type candidateList struct {
	seen  map[string]bool
	items []types.SourceCandidate
}

func (c *candidateList) add(rawURL, strategy string) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return
	}
	if strategy != StrategyPublisher && isPaywalled(rawURL) {
		return
	}
	if c.seen == nil {
		c.seen = make(map[string]bool)
	}
	if c.seen[rawURL] {
		return
	}
	c.seen[rawURL] = true
	c.items = append(c.items, types.SourceCandidate{URL: rawURL, Strategy: strategy, Rank: len(c.items)})
}

// addAll appends candidates gathered by one source.
func (c *candidateList) addAll(urls []string, strategy string) {
	for _, u := range urls {
		c.add(u, strategy)
	}
}

func (c *candidateList) list() []types.SourceCandidate {
	return c.items
}
