package models

import (
	"encoding/json"
)

// TravelMode is the mode of a journey segment. Unknown modes are kept as-is.
type TravelMode string

const (
	ModeWalking TravelMode = "walking"
	ModeDriving TravelMode = "driving"
	ModeCycling TravelMode = "cycling"
	ModeTransit TravelMode = "transit"
	ModeHiking  TravelMode = "hiking"
)

// LngLatList is a list of [lng, lat] pairs decoded leniently: an element that is not a
// numeric array decodes as nil so that validation can drop it later instead of failing
// the whole trip document.
type LngLatList [][]float64

// UnmarshalJSON implements json.Unmarshaler.
func (l *LngLatList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		*l = nil
		return nil
	}
	out := make(LngLatList, 0, len(raw))
	for _, item := range raw {
		var pair []float64
		if err := json.Unmarshal(item, &pair); err != nil {
			out = append(out, nil)
			continue
		}
		out = append(out, pair)
	}
	*l = out
	return nil
}

// Geometry is a GeoJSON-like line geometry.
type Geometry struct {
	Type        string     `json:"type,omitempty"`
	Coordinates LngLatList `json:"coordinates"`
}

// Segment is one mode-homogeneous leg of a journey.
type Segment struct {
	Mode          TravelMode `json:"mode"`
	From          string     `json:"from"`
	To            string     `json:"to"`
	Distance      float64    `json:"distance"`
	Duration      float64    `json:"duration"`
	Geometry      Geometry   `json:"geometry"`
	ElevationGain *float64   `json:"elevationGain,omitempty"`
	Terrain       string     `json:"terrain,omitempty"`
	Description   string     `json:"description,omitempty"`
}

// Journey is an ordered multi-modal route.
// TotalDistance and TotalDuration are taken from upstream as supplied and never recomputed.
type Journey struct {
	Segments      []Segment  `json:"segments"`
	TotalDistance float64    `json:"totalDistance"`
	TotalDuration float64    `json:"totalDuration"`
	Bounds        LngLatList `json:"bounds,omitempty"`
}

// DerivedTotals sums distance and duration over the segments.
func (j Journey) DerivedTotals() (distance, duration float64) {
	for _, s := range j.Segments {
		distance += s.Distance
		duration += s.Duration
	}
	return distance, duration
}
