// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package resolve

import (
	"net/url"
	"regexp"
	"strings"
)

// RefKind classifies a reference string.
type RefKind int

const (
	KindCitation RefKind = iota
	KindDOI
	KindArxiv
	KindURL
)

func (k RefKind) String() string {
	switch k {
	case KindDOI:
		return "doi"
	case KindArxiv:
		return "arxiv"
	case KindURL:
		return "url"
	default:
		return "citation"
	}
}

// doiPattern finds a DOI anywhere in a string, including inside doi.org URLs.
var doiPattern = regexp.MustCompile(`(?i)10\.\d{4,9}/[-._;()/:A-Z0-9]+`)

// arxivPattern matches arXiv IDs: "2301.07041", "arXiv:2301.07041", "2301.07041v2".
var arxivPattern = regexp.MustCompile(`^(?i:arXiv:)?(\d{4}\.\d{4,5}(?:v\d+)?)$`)

// arxivURLPattern matches arxiv.org abs and pdf URLs.
var arxivURLPattern = regexp.MustCompile(`arxiv\.org/(?:abs|pdf)/(\d{4}\.\d{4,5}(?:v\d+)?)`)

// ParseDOI extracts a DOI from a bare DOI, a "doi:" string, or a DOI-bearing
// URL. Trailing sentence punctuation is trimmed. It returns "" when the
// reference holds no DOI.
func ParseDOI(ref string) string {
	m := doiPattern.FindString(strings.TrimSpace(ref))
	if m == "" {
		return ""
	}
	m = strings.TrimRight(m, ".,;:)")
	// Balanced parentheses are part of some DOIs; an unbalanced trailing
	// one came from the surrounding text.
	if strings.Count(m, "(") > strings.Count(m, ")") {
		m = strings.TrimRight(m, "(")
	}
	return m
}

// Classify determines the reference kind and returns the normalized form.
// DOIs win over URLs so that https://doi.org/10.x/y is treated as a DOI.
func Classify(ref string) (RefKind, string) {
	ref = strings.TrimSpace(ref)

	if m := arxivPattern.FindStringSubmatch(ref); m != nil {
		return KindArxiv, m[1]
	}
	if m := arxivURLPattern.FindStringSubmatch(ref); m != nil {
		return KindArxiv, m[1]
	}

	if u, err := url.Parse(ref); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		if doi := ParseDOI(u.Path); doi != "" {
			return KindDOI, doi
		}
		return KindURL, ref
	}

	// A citation that mentions a DOI is resolved by that DOI.
	if doi := ParseDOI(ref); doi != "" {
		return KindDOI, doi
	}

	return KindCitation, ref
}

// normalizeRef lowercases and collapses whitespace for cache keys.
func normalizeRef(ref string) string {
	return strings.Join(strings.Fields(strings.ToLower(ref)), " ")
}
