package models

import "time"

// PlaceholderDescription is shown when the generator omitted a description.
const PlaceholderDescription = "No description available"

// LngLat is a single map coordinate.
type LngLat struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// MapMarker is a point of interest shown on the trip map.
type MapMarker struct {
	Name        string   `json:"name"`
	Coordinates LngLat   `json:"coordinates"`
	Description string   `json:"description,omitempty"`
	Elevation   *float64 `json:"elevation,omitempty"`
	Details     string   `json:"details,omitempty"`
}

// Outfitter is a local guide or rental service suggested for an activity.
type Outfitter struct {
	Name    string `json:"name"`
	Website string `json:"website,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// Activity is one planned activity within an itinerary day.
type Activity struct {
	Name           string      `json:"name"`
	Type           string      `json:"type"`
	Duration       string      `json:"duration"`
	Description    string      `json:"description"`
	PermitRequired bool        `json:"permitRequired"`
	PermitDetails  string      `json:"permitDetails,omitempty"`
	Outfitters     []Outfitter `json:"outfitters,omitempty"`
}

// ItineraryDay is a single day of a trip.
type ItineraryDay struct {
	Day         int        `json:"day"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Activities  []Activity `json:"activities"`
}

// Trip is the canonical trip document consumed by every internal component.
type Trip struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	DifficultyLevel string         `json:"difficultyLevel"`
	PriceEstimate   string         `json:"priceEstimate"`
	Duration        string         `json:"duration"`
	Location        string         `json:"location"`
	MapCenter       LngLat         `json:"mapCenter"`
	Markers         []MapMarker    `json:"markers"`
	Journey         Journey        `json:"journey"`
	Itinerary       []ItineraryDay `json:"itinerary"`
	UpdatedAt       time.Time      `json:"updatedAt,omitempty"`
}

// Companion is a person invited to a saved trip.
type Companion struct {
	ID        string    `json:"id"`
	TripID    string    `json:"tripId"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}
