package routemap

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
)

// LineStyle is the paint of a route line.
type LineStyle struct {
	Color     string
	Width     float64
	Opacity   float64
	Dasharray []float64
}

var modeStyles = map[models.TravelMode]LineStyle{
	models.ModeWalking: {Color: "#4caf50", Width: 4, Opacity: 0.9, Dasharray: []float64{2, 1}},
	models.ModeCycling: {Color: "#2196f3", Width: 4, Opacity: 0.9, Dasharray: []float64{4, 2}},
	models.ModeDriving: {Color: "#ff5722", Width: 5, Opacity: 0.85},
	models.ModeTransit: {Color: "#9c27b0", Width: 5, Opacity: 0.85, Dasharray: []float64{1, 1}},
	models.ModeHiking:  {Color: "#8d6e63", Width: 4, Opacity: 0.9, Dasharray: []float64{2, 2}},
}

var defaultStyle = LineStyle{Color: "#607d8b", Width: 4, Opacity: 0.8}

const (
	glowExtraWidth = 4
	glowOpacity    = 0.4
	glowBrighten   = 0.4
)

// StyleFor returns the line style for a mode, falling back to the default style.
func StyleFor(mode models.TravelMode) LineStyle {
	if s, ok := modeStyles[mode]; ok {
		s.Dasharray = append([]float64(nil), s.Dasharray...)
		return s
	}
	return defaultStyle
}

// GlowStyle derives the wide translucent halo drawn beneath a route line.
func GlowStyle(base LineStyle) LineStyle {
	return LineStyle{
		Color:   Brighten(base.Color, glowBrighten),
		Width:   base.Width + glowExtraWidth,
		Opacity: glowOpacity,
	}
}

// Brighten mixes a #rrggbb color towards white by amount in [0, 1].
// Unparseable colors are returned unchanged.
func Brighten(hex string, amount float64) string {
	h := strings.TrimPrefix(hex, "#")
	if len(h) != 6 {
		return hex
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return hex
	}
	if amount < 0 {
		amount = 0
	} else if amount > 1 {
		amount = 1
	}
	mix := func(c uint64) uint64 {
		return c + uint64(float64(255-c)*amount+0.5)
	}
	r, g, b := mix(v>>16&0xff), mix(v>>8&0xff), mix(v&0xff)
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

// RouteType is the user-facing route filter.
type RouteType string

const (
	RouteAll     RouteType = "all"
	RouteWalk    RouteType = "walk"
	RouteBike    RouteType = "bike"
	RouteDrive   RouteType = "drive"
	RouteTransit RouteType = "transit"
)

var routeTypeModes = map[RouteType][]models.TravelMode{
	RouteWalk:    {models.ModeWalking, models.ModeHiking},
	RouteBike:    {models.ModeCycling},
	RouteDrive:   {models.ModeDriving},
	RouteTransit: {models.ModeTransit},
}

// ParseRouteType parses a filter value. The empty string means all.
func ParseRouteType(s string) (RouteType, bool) {
	rt := RouteType(strings.ToLower(strings.TrimSpace(s)))
	if rt == "" || rt == RouteAll {
		return RouteAll, true
	}
	_, ok := routeTypeModes[rt]
	return rt, ok
}

// Matches reports whether a segment mode passes the filter.
func (r RouteType) Matches(mode models.TravelMode) bool {
	modes, ok := routeTypeModes[r]
	if !ok {
		return true
	}
	for _, m := range modes {
		if m == mode {
			return true
		}
	}
	return false
}
