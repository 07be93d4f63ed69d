// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package resolve

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCitation(t *testing.T) {
	c := parseCitation("Smith, J. and Doe, A. (2020) Deep sea sediment cores of the North Atlantic.")
	assert.Equal(t, "smith", c.Surname)
	assert.Equal(t, 2020, c.Year)
	assert.True(t, c.TitleTokens["sediment"])
	assert.True(t, c.TitleTokens["atlantic"])
	assert.False(t, c.TitleTokens["the"], "stopwords are dropped")
	assert.False(t, c.TitleTokens["smith"], "the surname is not a title token")
}

func TestParseCitation_SurnameNeedsSeparator(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Smith et al. 2019, Cores", "smith"},
		{"Smith 2019 Cores", "smith"},
		{"Smith & Jones (2019)", "smith"},
		{"O'Brien (2001) Peat", "o'brien"},
		{"Deep sea cores from somewhere", ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, parseCitation(tt.text).Surname)
		})
	}
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("smith", "smith"))
	assert.Equal(t, 1, levenshtein("smith", "smyth"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
	assert.Equal(t, 5, levenshtein("", "smith"))
	assert.InDelta(t, 0.8, nameSimilarity("smith", "smyth"), 1e-9)
}

func TestScorePaper(t *testing.T) {
	c := parseCitation("Smith, J. (2020) Deep sea sediment cores.")

	exact := semanticPaper{
		Title:   "Deep sea sediment cores",
		Year:    2020,
		Authors: []semanticAuthor{{Name: "John Smith"}},
	}
	sim, ok := scorePaper(c, exact)
	require.True(t, ok)
	assert.InDelta(t, 1.0, sim, 1e-9)

	nearYear := exact
	nearYear.Year = 2021
	sim, ok = scorePaper(c, nearYear)
	require.True(t, ok)
	assert.InDelta(t, (60.0+15+50)/150, sim, 1e-9)

	wrongAuthor := exact
	wrongAuthor.Authors = []semanticAuthor{{Name: "Jane Miller"}}
	_, ok = scorePaper(c, wrongAuthor)
	assert.False(t, ok)
}

func TestPickMatch_Ambiguous(t *testing.T) {
	c := parseCitation("Smith 2020 sediment cores")
	papers := []semanticPaper{
		{Title: "Sediment cores", Year: 2020, Authors: []semanticAuthor{{Name: "A. Smith"}}},
		{Title: "Cores of sediment", Year: 2020, Authors: []semanticAuthor{{Name: "B. Smith"}}},
	}
	_, err := pickMatch(c, papers, 0.5, 0.05)
	assert.True(t, errors.Is(err, ErrAmbiguousMatch), "got %v", err)
}

func TestPickMatch_SamePaperTwiceIsNotAmbiguous(t *testing.T) {
	c := parseCitation("Smith 2020 sediment cores")
	papers := []semanticPaper{
		{Title: "Sediment cores", Year: 2020, Authors: []semanticAuthor{{Name: "A. Smith"}}},
		{Title: "Sediment Cores.", Year: 2020, Authors: []semanticAuthor{{Name: "A. Smith"}}},
	}
	got, err := pickMatch(c, papers, 0.5, 0.05)
	require.NoError(t, err)
	assert.Equal(t, "Sediment cores", got.paper.Title)
}

func TestPickMatch_BelowThreshold(t *testing.T) {
	c := parseCitation("Smith 2020 sediment cores of the north atlantic margin")
	papers := []semanticPaper{
		{Title: "Glacial tills of Patagonia", Year: 1990, Authors: []semanticAuthor{{Name: "A. Smith"}}},
	}
	_, err := pickMatch(c, papers, 0.9, 0.05)
	assert.ErrorIs(t, err, ErrNotFound)
}
