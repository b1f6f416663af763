package routemap

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
)

const (
	// Segments with fewer points than this are densified before rendering.
	sparsePointThreshold = 5
	// Interpolated points inserted between each original pair, at ratio j/10.
	interpolatedPerPair = 8
	interpolationDivisor = 10.0
)

// Normalizer validates and repairs journey geometry before it reaches the map.
type Normalizer struct {
	logger *zap.Logger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger}
}

// ValidPosition reports whether p is a well-formed [lng, lat] pair within WGS84 ranges.
func ValidPosition(p []float64) bool {
	if len(p) != 2 {
		return false
	}
	lng, lat := p[0], p[1]
	if math.IsNaN(lng) || math.IsNaN(lat) || math.IsInf(lng, 0) || math.IsInf(lat, 0) {
		return false
	}
	return lng >= -180 && lng <= 180 && lat >= -90 && lat <= 90
}

// ValidBounds converts a [southwest, northeast] pair into an orb.Bound. ok is false when
// either corner is malformed, out of range, or southwest exceeds northeast on an axis.
func ValidBounds(b models.LngLatList) (orb.Bound, bool) {
	if len(b) != 2 || !ValidPosition(b[0]) || !ValidPosition(b[1]) {
		return orb.Bound{}, false
	}
	sw, ne := b[0], b[1]
	if sw[0] > ne[0] || sw[1] > ne[1] {
		return orb.Bound{}, false
	}
	return orb.Bound{Min: orb.Point{sw[0], sw[1]}, Max: orb.Point{ne[0], ne[1]}}, true
}

// NormalizeSegment validates a segment and densifies sparse geometry.
// The returned segment never aliases the input coordinates.
func (n *Normalizer) NormalizeSegment(seg models.Segment) (models.Segment, error) {
	coords := seg.Geometry.Coordinates
	if len(coords) < 2 {
		return models.Segment{}, fmt.Errorf("%w: segment has %d points, need at least 2", models.ErrGeometry, len(coords))
	}
	for i, c := range coords {
		if !ValidPosition(c) {
			return models.Segment{}, fmt.Errorf("%w: coordinate %d is not a valid [lng, lat] pair", models.ErrGeometry, i)
		}
	}
	if seg.Distance < 0 || seg.Duration < 0 {
		return models.Segment{}, fmt.Errorf("%w: negative distance or duration", models.ErrGeometry)
	}

	line := toLineString(coords)
	if len(line) < sparsePointThreshold {
		line = Densify(line)
	}
	out := seg
	out.Geometry.Coordinates = fromLineString(line)
	if out.Geometry.Type == "" {
		out.Geometry.Type = "LineString"
	}
	return out, nil
}

// NormalizeJourney normalizes every segment, dropping malformed ones with a warning.
// It returns the cleaned journey and the number of dropped segments. Totals and bounds are
// passed through untouched.
func (n *Normalizer) NormalizeJourney(j models.Journey) (models.Journey, int) {
	out := j
	out.Segments = make([]models.Segment, 0, len(j.Segments))
	dropped := 0
	for i, seg := range j.Segments {
		normalized, err := n.NormalizeSegment(seg)
		if err != nil {
			dropped++
			n.logger.Warn("Dropping malformed segment",
				zap.Int("index", i),
				zap.String("mode", string(seg.Mode)),
				zap.String("from", seg.From),
				zap.String("to", seg.To),
				zap.Error(err))
			continue
		}
		out.Segments = append(out.Segments, normalized)
	}
	return out, dropped
}

// Densify inserts interpolated points between every consecutive pair of line so that a
// sparse path draws as a smoother polyline. This is purely a visual approximation: the
// inserted points lie on straight lines and do not follow real trails or terrain.
// The result has 1 + 9*(len(line)-1) points and keeps the original endpoints exactly.
func Densify(line orb.LineString) orb.LineString {
	if len(line) < 2 {
		return append(orb.LineString(nil), line...)
	}
	out := make(orb.LineString, 0, 1+(interpolatedPerPair+1)*(len(line)-1))
	out = append(out, line[0])
	for i := 0; i < len(line)-1; i++ {
		a, b := line[i], line[i+1]
		for j := 1; j <= interpolatedPerPair; j++ {
			ratio := float64(j) / interpolationDivisor
			out = append(out, orb.Point{
				a[0] + (b[0]-a[0])*ratio,
				a[1] + (b[1]-a[1])*ratio,
			})
		}
		out = append(out, b)
	}
	return out
}

func toLineString(coords [][]float64) orb.LineString {
	line := make(orb.LineString, len(coords))
	for i, c := range coords {
		line[i] = orb.Point{c[0], c[1]}
	}
	return line
}

func fromLineString(line orb.LineString) [][]float64 {
	out := make([][]float64, len(line))
	for i, p := range line {
		out[i] = []float64{p[0], p[1]}
	}
	return out
}
