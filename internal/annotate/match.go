// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package annotate

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// MatchKind records which strategy located a quote.
type MatchKind string

const (
	MatchExact      MatchKind = "exact"
	MatchNormalized MatchKind = "normalized"
	MatchNumeric    MatchKind = "numeric"
	MatchPartial    MatchKind = "partial"
	MatchFuzzy      MatchKind = "fuzzy"
)

// partialLen is the prefix or suffix length tried for long quotes.
const partialLen = 30

// maxWindow bounds how many consecutive lines a fuzzy window may span.
const maxWindow = 8

// Match is a located quote.
type Match struct {
	Page int

	// Box is the union of Boxes.
	Box types.BoundingBox

	// Boxes holds one box per matched line, in reading order.
	Boxes []types.BoundingBox

	Kind  MatchKind
	Score float64
}

// pageText is one page's lines joined by single spaces, with the byte
// range each line occupies.
type pageText struct {
	page   int
	text   string
	blocks []types.TextBlock
	starts []int
	ends   []int
}

func buildPageText(page int, blocks []types.TextBlock, fold func(string) string) pageText {
	pt := pageText{page: page, blocks: blocks}
	var b strings.Builder
	for i, blk := range blocks {
		if i > 0 {
			b.WriteByte(' ')
		}
		pt.starts = append(pt.starts, b.Len())
		b.WriteString(fold(blk.Text))
		pt.ends = append(pt.ends, b.Len())
	}
	pt.text = b.String()
	return pt
}

// boxes returns the boxes of lines overlapping [start, end).
func (pt pageText) boxes(start, end int) []types.BoundingBox {
	var out []types.BoundingBox
	for i := range pt.blocks {
		if pt.starts[i] < end && pt.ends[i] > start {
			out = append(out, pt.blocks[i].Box)
		}
	}
	return out
}

func (pt pageText) match(start, end int, kind MatchKind, score float64) *Match {
	boxes := pt.boxes(start, end)
	if len(boxes) == 0 {
		return nil
	}
	return newMatch(pt.page, boxes, kind, score)
}

func newMatch(page int, boxes []types.BoundingBox, kind MatchKind, score float64) *Match {
	m := &Match{Page: page, Boxes: boxes, Kind: kind, Score: score}
	for _, b := range boxes {
		m.Box = m.Box.Union(b)
	}
	return m
}

// groupByPage splits blocks into pages, keeping first-seen page order.
func groupByPage(blocks []types.TextBlock) ([]int, map[int][]types.TextBlock) {
	var order []int
	byPage := make(map[int][]types.TextBlock)
	for _, b := range blocks {
		if _, ok := byPage[b.Page]; !ok {
			order = append(order, b.Page)
		}
		byPage[b.Page] = append(byPage[b.Page], b)
	}
	return order, byPage
}

// numericFields are field name fragments whose quotes are often
// reformatted by the model; their numbers are searched on their own.
var numericFields = []string{"lat", "lon", "coord", "depth", "length", "temperature"}

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// Locate finds quote among blocks. It tries an exact substring match, then
// a match after Unicode and whitespace normalization, then the first or
// last 30 characters of a long quote, and finally the window of
// consecutive lines with the highest character-trigram similarity, which
// must reach floor. It returns nil when nothing qualifies.
func Locate(blocks []types.TextBlock, quote string, floor float64) *Match {
	return LocateField(blocks, "", quote, floor)
}

// LocateField is Locate for a quote backing the named field. For
// coordinate and measurement fields, the numbers of the quote are searched
// after the normalized match and before the partial one.
func LocateField(blocks []types.TextBlock, field, quote string, floor float64) *Match {
	quote = strings.TrimSpace(quote)
	if quote == "" || len(blocks) == 0 {
		return nil
	}
	order, byPage := groupByPage(blocks)

	raw := make([]pageText, len(order))
	folded := make([]pageText, len(order))
	for i, p := range order {
		raw[i] = buildPageText(p, byPage[p], collapseSpace)
		folded[i] = buildPageText(p, byPage[p], normalize)
	}

	exact := collapseSpace(quote)
	for _, pt := range raw {
		if i := strings.Index(pt.text, exact); i >= 0 {
			if m := pt.match(i, i+len(exact), MatchExact, 1); m != nil {
				return m
			}
		}
	}

	nq := normalize(quote)
	if nq == "" {
		return nil
	}
	for _, pt := range folded {
		if i := strings.Index(pt.text, nq); i >= 0 {
			if m := pt.match(i, i+len(nq), MatchNormalized, 1); m != nil {
				return m
			}
		}
	}

	if isNumericField(field) {
		if m := numeric(raw, quote); m != nil {
			return m
		}
	}

	if len([]rune(nq)) > partialLen {
		r := []rune(nq)
		for _, part := range []string{string(r[:partialLen]), string(r[len(r)-partialLen:])} {
			part = strings.TrimSpace(part)
			for _, pt := range folded {
				if i := strings.Index(pt.text, part); i >= 0 {
					score := float64(len(part)) / float64(len(nq))
					if m := pt.match(i, i+len(part), MatchPartial, score); m != nil {
						return m
					}
				}
			}
		}
	}

	return fuzzy(folded, nq, floor)
}

func isNumericField(field string) bool {
	lower := strings.ToLower(field)
	for _, kw := range numericFields {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// numeric looks for the numbers of quote, in order, as whole numbers in
// the page text. Single digits are skipped; they match page furniture.
func numeric(pages []pageText, quote string) *Match {
	for _, num := range numberPattern.FindAllString(quote, -1) {
		if len(num) < 2 {
			continue
		}
		for _, pt := range pages {
			if i := indexNumber(pt.text, num); i >= 0 {
				score := float64(len(num)) / float64(len(quote))
				if m := pt.match(i, i+len(num), MatchNumeric, score); m != nil {
					return m
				}
			}
		}
	}
	return nil
}

// indexNumber returns the first index of num in s that is not part of a
// longer number, or -1.
func indexNumber(s, num string) int {
	isNum := func(b byte) bool { return b >= '0' && b <= '9' || b == '.' }
	for off := 0; off < len(s); {
		i := strings.Index(s[off:], num)
		if i < 0 {
			return -1
		}
		i += off
		end := i + len(num)
		before := i == 0 || !isNum(s[i-1])
		after := end == len(s) || !isNum(s[end]) || (s[end] == '.' && (end+1 == len(s) || !isNum(s[end+1])))
		if before && after {
			return i
		}
		off = i + 1
	}
	return -1
}

// fuzzy scores every window of up to maxWindow consecutive lines against
// the normalized quote.
func fuzzy(pages []pageText, nq string, floor float64) *Match {
	qgrams := trigrams(nq)
	var (
		best      float64
		bestPage  pageText
		bestStart = -1
		bestEnd   int
	)
	for _, pt := range pages {
		for i := range pt.blocks {
			for j := i; j < len(pt.blocks) && j < i+maxWindow; j++ {
				window := pt.text[pt.starts[i]:pt.ends[j]]
				s := dice(qgrams, trigrams(window))
				if s > best {
					best, bestPage, bestStart, bestEnd = s, pt, i, j
				}
				if len(window) > 2*len(nq) {
					break
				}
			}
		}
	}
	if bestStart < 0 || best < floor {
		return nil
	}
	boxes := make([]types.BoundingBox, 0, bestEnd-bestStart+1)
	for k := bestStart; k <= bestEnd; k++ {
		boxes = append(boxes, bestPage.blocks[k].Box)
	}
	return newMatch(bestPage.page, boxes, MatchFuzzy, best)
}

// trigrams returns the multiset of rune trigrams in s. Strings shorter
// than three runes count as a single gram.
func trigrams(s string) map[string]int {
	r := []rune(s)
	grams := make(map[string]int)
	if len(r) < 3 {
		if len(r) > 0 {
			grams[s]++
		}
		return grams
	}
	for i := 0; i+3 <= len(r); i++ {
		grams[string(r[i:i+3])]++
	}
	return grams
}

// dice is the Dice coefficient of two trigram multisets.
func dice(a, b map[string]int) float64 {
	var na, nb, shared int
	for g, n := range a {
		na += n
		shared += min(n, b[g])
	}
	for _, n := range b {
		nb += n
	}
	if na+nb == 0 {
		return 0
	}
	return 2 * float64(shared) / float64(na+nb)
}

var foldReplacer = strings.NewReplacer(
	"°", " ",
	"º", " ",
	"±", "+/-",
	"−", "-",
	"–", "-",
	"—", "-",
	"‐", "-",
	"“", `"`,
	"”", `"`,
	"‘", "'",
	"’", "'",
	"′", "'",
	"″", `"`,
)

// normalize folds s for matching: NFKD with combining marks dropped,
// typographic symbols replaced, lower case, whitespace collapsed.
func normalize(s string) string {
	s = norm.NFKD.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Mn, r) {
			return -1
		}
		return r
	}, s)
	s = foldReplacer.Replace(s)
	return collapseSpace(strings.ToLower(s))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
