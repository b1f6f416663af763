package routemap

import (
	"fmt"
	"math"
)

// FormatDistance renders meters as whole meters below 1 km and km to one decimal otherwise.
func FormatDistance(meters float64) string {
	m := math.Round(meters)
	if m < 1000 {
		return fmt.Sprintf("%d m", int(m))
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}

// FormatDuration renders seconds as "Hh Mm", or "M minutes" under an hour.
func FormatDuration(seconds float64) string {
	total := int(math.Round(seconds / 60))
	if total < 60 {
		return fmt.Sprintf("%d minutes", total)
	}
	return fmt.Sprintf("%dh %dm", total/60, total%60)
}

// FormatElevation renders an elevation gain in meters.
func FormatElevation(meters float64) string {
	return fmt.Sprintf("%d m", int(math.Round(meters)))
}
