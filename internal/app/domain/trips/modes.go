package trips

import (
	"strings"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
)

// modeSynonyms maps the words generators use for a mode onto the canonical mode.
var modeSynonyms = map[string]models.TravelMode{
	"walk":             models.ModeWalking,
	"walking":          models.ModeWalking,
	"on foot":          models.ModeWalking,
	"foot":             models.ModeWalking,
	"stroll":           models.ModeWalking,
	"hike":             models.ModeHiking,
	"hiking":           models.ModeHiking,
	"trek":             models.ModeHiking,
	"trekking":         models.ModeHiking,
	"trail":            models.ModeHiking,
	"bike":             models.ModeCycling,
	"biking":           models.ModeCycling,
	"bicycle":          models.ModeCycling,
	"cycle":            models.ModeCycling,
	"cycling":          models.ModeCycling,
	"mountain bike":    models.ModeCycling,
	"car":              models.ModeDriving,
	"drive":            models.ModeDriving,
	"driving":          models.ModeDriving,
	"road trip":        models.ModeDriving,
	"taxi":             models.ModeDriving,
	"bus":              models.ModeTransit,
	"train":            models.ModeTransit,
	"tram":             models.ModeTransit,
	"ferry":            models.ModeTransit,
	"metro":            models.ModeTransit,
	"subway":           models.ModeTransit,
	"shuttle":          models.ModeTransit,
	"transit":          models.ModeTransit,
	"public transport": models.ModeTransit,
}

// ModeMatcher canonicalizes free-form travel modes.
type ModeMatcher struct {
	ac       ahocorasick.AhoCorasick
	patterns []string
}

// NewModeMatcher builds the synonym automaton.
func NewModeMatcher() *ModeMatcher {
	patterns := make([]string, 0, len(modeSynonyms))
	for p := range modeSynonyms {
		patterns = append(patterns, p)
	}
	builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
		AsciiCaseInsensitive: true,
		MatchOnlyWholeWords:  true,
		MatchKind:            ahocorasick.LeftMostLongestMatch,
		DFA:                  true,
	})
	return &ModeMatcher{ac: builder.Build(patterns), patterns: patterns}
}

// Canonical returns the canonical mode for raw. Canonical names pass through, the leftmost
// known synonym wins, and unknown modes are kept lower-cased.
func (m *ModeMatcher) Canonical(raw models.TravelMode) models.TravelMode {
	s := strings.ToLower(strings.TrimSpace(string(raw)))
	switch mode := models.TravelMode(s); mode {
	case models.ModeWalking, models.ModeDriving, models.ModeCycling, models.ModeTransit, models.ModeHiking:
		return mode
	}
	if matches := m.ac.FindAll(s); len(matches) > 0 {
		return modeSynonyms[m.patterns[matches[0].Pattern()]]
	}
	return models.TravelMode(s)
}
