// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package resolve

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// Scoring weights for search candidates.
const (
	surnameWeight   = 60.0
	yearWeight      = 40.0
	nearYearWeight  = 15.0
	titleWeight     = 50.0
	surnameMinSimil = 0.8
)

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// surnamePattern accepts the leading token as a surname only when it is
// followed by something that looks like an author list separator.
var surnamePattern = regexp.MustCompile(`^\s*([\p{L}][\p{L}'\-]+)(?:,|\s+et\s+al|\s+and\s|\s*&|\s*\(|\s+(?:19|20)\d{2}\b|\s*$)`)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"into": true, "that": true, "this": true, "are": true, "was": true,
	"were": true, "its": true, "their": true, "his": true, "her": true,
	"our": true, "via": true, "using": true, "based": true, "between": true,
	"journal": true, "vol": true, "pp": true, "doi": true, "et": true, "al": true,
}

// citation is a free-text reference broken into scoring cues.
type citation struct {
	Surname     string
	Year        int
	TitleTokens map[string]bool
}

// parseCitation extracts the first-author surname, year, and content
// tokens from a citation string.
func parseCitation(text string) citation {
	var c citation
	if m := surnamePattern.FindStringSubmatch(text); m != nil {
		c.Surname = strings.ToLower(m[1])
	}
	if m := yearPattern.FindString(text); m != "" {
		c.Year, _ = strconv.Atoi(m)
	}
	c.TitleTokens = make(map[string]bool)
	for _, tok := range tokenize(text) {
		if tok == c.Surname {
			continue
		}
		c.TitleTokens[tok] = true
	}
	return c
}

// tokenize lowercases s and returns the words of length >= 3 that are not
// stopwords or numbers.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var out []string
	for _, f := range fields {
		if len([]rune(f)) < 3 || stopwords[f] {
			continue
		}
		if _, err := strconv.Atoi(f); err == nil {
			continue
		}
		out = append(out, f)
	}
	return out
}

// levenshtein returns the edit distance between a and b.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// nameSimilarity is 1 - distance/longer length.
func nameSimilarity(a, b string) float64 {
	n := max(len([]rune(a)), len([]rune(b)))
	if n == 0 {
		return 0
	}
	return 1 - float64(levenshtein(a, b))/float64(n)
}

// surnameOf returns the last word of an author name, lowercased.
func surnameOf(name string) string {
	f := strings.Fields(name)
	if len(f) == 0 {
		return ""
	}
	return strings.ToLower(strings.Trim(f[len(f)-1], ".,"))
}

// scorePaper rates how well p matches c. The result is in [0,1]; ok is
// false when the citation names a surname no author matches or when the
// citation has no usable cues.
func scorePaper(c citation, p semanticPaper) (sim float64, ok bool) {
	var score, maxScore float64

	if c.Surname != "" {
		maxScore += surnameWeight
		matched := false
		for _, a := range p.Authors {
			if nameSimilarity(c.Surname, surnameOf(a.Name)) > surnameMinSimil {
				matched = true
				break
			}
		}
		if !matched {
			return 0, false
		}
		score += surnameWeight
	}

	if c.Year != 0 {
		maxScore += yearWeight
		switch d := c.Year - p.Year; {
		case p.Year == 0:
		case d == 0:
			score += yearWeight
		case d == 1 || d == -1:
			score += nearYearWeight
		}
	}

	title := tokenize(p.Title)
	if len(c.TitleTokens) > 0 && len(title) > 0 {
		maxScore += titleWeight
		hit := 0
		for _, tok := range title {
			if c.TitleTokens[tok] {
				hit++
			}
		}
		score += titleWeight * float64(hit) / float64(len(title))
	}

	if maxScore == 0 {
		return 0, false
	}
	return score / maxScore, true
}

type scoredPaper struct {
	paper      semanticPaper
	similarity float64
}

// pickMatch ranks papers against c and returns the best one. It fails with
// NotFound when nothing clears threshold and with AmbiguousMatch when a
// different paper scores within margin of the best.
func pickMatch(c citation, papers []semanticPaper, threshold, margin float64) (scoredPaper, error) {
	var ranked []scoredPaper
	for _, p := range papers {
		if sim, ok := scorePaper(c, p); ok {
			ranked = append(ranked, scoredPaper{paper: p, similarity: sim})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].similarity > ranked[j].similarity
	})

	if len(ranked) == 0 || ranked[0].similarity < threshold {
		best := 0.0
		if len(ranked) > 0 {
			best = ranked[0].similarity
		}
		return scoredPaper{}, &Failure{
			Reason:  ReasonNotFound,
			Message: fmt.Sprintf("best search match %.2f below threshold %.2f", best, threshold),
		}
	}

	top := ranked[0]
	for _, other := range ranked[1:] {
		if top.similarity-other.similarity > margin {
			break
		}
		if !samePaper(top.paper, other.paper) {
			return scoredPaper{}, &Failure{
				Reason: ReasonAmbiguousMatch,
				Message: fmt.Sprintf("%q (%.2f) and %q (%.2f) match equally well",
					top.paper.Title, top.similarity, other.paper.Title, other.similarity),
			}
		}
	}
	return top, nil
}

// samePaper treats records with one DOI or one normalized title as the same
// work; search often returns a preprint next to the published version.
func samePaper(a, b semanticPaper) bool {
	if a.ExternalIDs.DOI != "" && strings.EqualFold(a.ExternalIDs.DOI, b.ExternalIDs.DOI) {
		return true
	}
	return types.NormalizeTitle(a.Title) == types.NormalizeTitle(b.Title)
}
