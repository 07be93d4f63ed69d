// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package annotate

import "strings"

// Category groups fields for coloring.
type Category string

const (
	CategoryLocation    Category = "location"
	CategoryEnvironment Category = "environment"
	CategoryMeasurement Category = "measurement"
	CategoryMethod      Category = "method"
	CategoryInstrument  Category = "instrument"
	CategoryStatistical Category = "statistical"
	CategoryOther       Category = "other"
)

// Color is an RGB triple with components in [0,1].
type Color [3]float64

type paletteEntry struct {
	category Category
	color    Color
	label    string
	keywords []string
}

// palette is checked in order; the first category with a keyword contained
// in the field name wins.
var palette = []paletteEntry{
	{CategoryLocation, Color{0, 0.4, 1}, "Location (lat/lon, coordinates)",
		[]string{"lat", "lon", "coord", "location", "address"}},
	{CategoryEnvironment, Color{0, 0.7, 0.3}, "Environment (marine, terrestrial, etc.)",
		[]string{"marine", "terrestrial", "environment", "climate", "sediment", "rock"}},
	{CategoryMeasurement, Color{1, 0.5, 0}, "Measurements (depth, length, size)",
		[]string{"depth", "length", "size", "temperature", "weight", "volume"}},
	{CategoryMethod, Color{0.6, 0, 0.8}, "Methods (analysis, techniques)",
		[]string{"method", "technique", "procedure", "analysis", "application"}},
	{CategoryInstrument, Color{1, 0, 0}, "Instruments (machines, equipment)",
		[]string{"machine", "instrument", "equipment", "device", "tool"}},
	{CategoryStatistical, Color{0.8, 0.7, 0}, "Statistical (counts, p-values)",
		[]string{"count", "amount", "number", "sample", "data", "p_value", "statistical"}},
	{CategoryOther, Color{0.5, 0.5, 0.5}, "Other information", nil},
}

// Classify returns the category and color for a field name.
func Classify(field string) (Category, Color) {
	e := entryFor(field)
	return e.category, e.color
}

func entryFor(field string) paletteEntry {
	lower := strings.ToLower(field)
	for _, e := range palette[:len(palette)-1] {
		for _, kw := range e.keywords {
			if strings.Contains(lower, kw) {
				return e
			}
		}
	}
	return palette[len(palette)-1]
}
