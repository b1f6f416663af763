package routemap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
)

func TestFormatDistance(t *testing.T) {
	assert.Equal(t, "0 m", FormatDistance(0))
	assert.Equal(t, "999 m", FormatDistance(999.4))
	assert.Equal(t, "1.0 km", FormatDistance(999.6))
	assert.Equal(t, "1.0 km", FormatDistance(1000))
	assert.Equal(t, "12.3 km", FormatDistance(12345))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0 minutes", FormatDuration(0))
	assert.Equal(t, "45 minutes", FormatDuration(45*60))
	assert.Equal(t, "1h 0m", FormatDuration(3600))
	assert.Equal(t, "2h 15m", FormatDuration(2*3600+15*60))
}

func TestStyles(t *testing.T) {
	assert.Equal(t, "#ff5722", StyleFor(models.ModeDriving).Color)
	assert.Equal(t, defaultStyle, StyleFor("teleport"))

	s := StyleFor(models.ModeWalking)
	s.Dasharray[0] = 100
	assert.Equal(t, 2.0, StyleFor(models.ModeWalking).Dasharray[0])

	glow := GlowStyle(StyleFor(models.ModeDriving))
	assert.Equal(t, 9.0, glow.Width)
	assert.Equal(t, 0.4, glow.Opacity)
	assert.NotEqual(t, "#ff5722", glow.Color)

	assert.Equal(t, "#ffffff", Brighten("#000000", 1))
	assert.Equal(t, "#000000", Brighten("#000000", 0))
	assert.Equal(t, "not-a-color", Brighten("not-a-color", 0.5))
}

func TestRouteType(t *testing.T) {
	rt, ok := ParseRouteType("")
	assert.True(t, ok)
	assert.Equal(t, RouteAll, rt)

	rt, ok = ParseRouteType("Walk")
	assert.True(t, ok)
	assert.True(t, rt.Matches(models.ModeWalking))
	assert.True(t, rt.Matches(models.ModeHiking))
	assert.False(t, rt.Matches(models.ModeDriving))

	_, ok = ParseRouteType("hovercraft")
	assert.False(t, ok)
	assert.True(t, RouteAll.Matches(models.ModeTransit))
}
