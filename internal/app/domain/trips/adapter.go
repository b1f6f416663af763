package trips

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
)

// maxUnwrap bounds nested {trip}/{data}/[...] wrappers.
const maxUnwrap = 4

const untitledTrip = "Untitled trip"

var defaultModes = NewModeMatcher()

// Adapt turns a trip document in any of the shapes generators produce (an array of trips,
// {"trip": ...}, {"data": ...} or a bare trip object) into the canonical trip.
// Missing optional text is replaced by placeholders.
func Adapt(raw []byte) (*models.Trip, error) {
	body, err := unwrap(bytes.TrimSpace(raw), 0)
	if err != nil {
		return nil, err
	}
	var trip models.Trip
	if err := json.Unmarshal(body, &trip); err != nil {
		return nil, fmt.Errorf("%w: decoding trip document: %v", models.ErrProtocol, err)
	}
	if trip.Title == "" && len(trip.Itinerary) == 0 && len(trip.Journey.Segments) == 0 && len(trip.Markers) == 0 {
		return nil, fmt.Errorf("%w: document has no trip content", models.ErrProtocol)
	}
	Normalize(&trip)
	return &trip, nil
}

func unwrap(body []byte, depth int) ([]byte, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty trip document", models.ErrProtocol)
	}
	if depth > maxUnwrap {
		return nil, fmt.Errorf("%w: trip document nested too deeply", models.ErrProtocol)
	}
	switch body[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("%w: decoding trip array: %v", models.ErrProtocol, err)
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("%w: empty trip array", models.ErrProtocol)
		}
		return unwrap(bytes.TrimSpace(items[0]), depth+1)
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("%w: decoding trip object: %v", models.ErrProtocol, err)
		}
		for _, key := range []string{"trip", "data"} {
			if inner, ok := fields[key]; ok && isContainer(inner) {
				return unwrap(bytes.TrimSpace(inner), depth+1)
			}
		}
		return body, nil
	default:
		return nil, fmt.Errorf("%w: trip document is not an object", models.ErrProtocol)
	}
}

func isContainer(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && (raw[0] == '{' || raw[0] == '[')
}

// Normalize fills placeholders and canonicalizes modes in place.
func Normalize(trip *models.Trip) {
	trip.Title = strings.TrimSpace(trip.Title)
	if trip.Title == "" {
		trip.Title = untitledTrip
	}
	trip.Description = orPlaceholder(trip.Description)

	for i := range trip.Markers {
		trip.Markers[i].Description = orPlaceholder(trip.Markers[i].Description)
	}
	for i := range trip.Journey.Segments {
		seg := &trip.Journey.Segments[i]
		seg.Mode = defaultModes.Canonical(seg.Mode)
	}
	for i := range trip.Itinerary {
		day := &trip.Itinerary[i]
		if day.Day <= 0 {
			day.Day = i + 1
		}
		day.Description = orPlaceholder(day.Description)
		for j := range day.Activities {
			day.Activities[j].Description = orPlaceholder(day.Activities[j].Description)
		}
	}
	if trip.MapCenter == (models.LngLat{}) {
		if c, ok := inferCenter(trip); ok {
			trip.MapCenter = c
		}
	}
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return models.PlaceholderDescription
	}
	return s
}

func inferCenter(trip *models.Trip) (models.LngLat, bool) {
	for _, m := range trip.Markers {
		if validLngLat(m.Coordinates.Lng, m.Coordinates.Lat) {
			return m.Coordinates, true
		}
	}
	for _, seg := range trip.Journey.Segments {
		for _, p := range seg.Geometry.Coordinates {
			if len(p) == 2 && validLngLat(p[0], p[1]) {
				return models.LngLat{Lng: p[0], Lat: p[1]}, true
			}
		}
	}
	return models.LngLat{}, false
}

func validLngLat(lng, lat float64) bool {
	if math.IsNaN(lng) || math.IsNaN(lat) {
		return false
	}
	return lng >= -180 && lng <= 180 && lat >= -90 && lat <= 90 && (lng != 0 || lat != 0)
}
