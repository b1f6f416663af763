package routemap

import (
	"context"
	"sync"

	"github.com/paulmach/orb/geojson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
	"github.com/FACorreiaa/outdoor-explorer/internal/app/observability/metrics"
)

// NoticeNoRoutes is reported when nothing is left to draw after filtering.
const NoticeNoRoutes = "no routes available"

var markerStyles = map[MarkerKind]struct {
	color string
	scale float64
}{
	MarkerStart:    {color: "#22c55e", scale: 1},
	MarkerEnd:      {color: "#ef4444", scale: 1.3},
	MarkerWaypoint: {color: "#f59e0b", scale: 0.8},
	MarkerPOI:      {color: "#3b82f6", scale: 1},
}

// RenderOptions control a render pass.
type RenderOptions struct {
	RouteType RouteType
	Fit       FitOptions
	// POIs are extra point-of-interest markers owned by the same layer set.
	POIs []models.MapMarker
}

// RenderResult summarizes a render pass.
type RenderResult struct {
	Segments int    `json:"segments"`
	Dropped  int    `json:"dropped"`
	Filtered int    `json:"filtered"`
	Errors   int    `json:"errors"`
	Fitted   bool   `json:"fitted"`
	Notice   string `json:"notice,omitempty"`
}

// Renderer draws journeys onto maps. It owns at most one live LayerSet per map and tears
// the previous one down completely before installing the next.
type Renderer struct {
	logger      *zap.Logger
	normalizer  *Normalizer
	interaction *Interaction

	mu   sync.Mutex
	sets map[Map]*LayerSet
}

// NewRenderer creates a Renderer.
func NewRenderer(logger *zap.Logger, normalizer *Normalizer, interaction *Interaction) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if normalizer == nil {
		normalizer = NewNormalizer(logger)
	}
	if interaction == nil {
		interaction = NewInteraction(logger)
	}
	return &Renderer{
		logger:      logger,
		normalizer:  normalizer,
		interaction: interaction,
		sets:        make(map[Map]*LayerSet),
	}
}

// Render replaces whatever this renderer previously drew on m with journey.
// Individual map operation failures are logged and counted; the pass always completes.
func (r *Renderer) Render(ctx context.Context, m Map, journey models.Journey, opts RenderOptions) RenderResult {
	ctx, span := otel.Tracer("RouteRenderer").Start(ctx, "Render")
	defer span.End()

	l := r.logger.With(zap.String("method", "Render"))

	r.mu.Lock()
	defer r.mu.Unlock()

	var res RenderResult
	set, failures := r.teardown(m, l)
	res.Errors += failures

	normalized, dropped := r.normalizer.NormalizeJourney(journey)
	res.Dropped = dropped

	routeType := opts.RouteType
	if routeType == "" {
		routeType = RouteAll
	}
	segments := make([]models.Segment, 0, len(normalized.Segments))
	for _, seg := range normalized.Segments {
		if routeType.Matches(seg.Mode) {
			segments = append(segments, seg)
		}
	}
	res.Filtered = len(normalized.Segments) - len(segments)

	r.sets[m] = set

	for i, seg := range segments {
		rendered, failures := r.addSegment(m, set, i, seg, l)
		if rendered {
			res.Segments++
		}
		res.Errors += failures
	}
	res.Errors += r.addRouteMarkers(m, set, segments, l)
	res.Errors += r.addPOIMarkers(m, set, opts.POIs, l)

	if len(segments) == 0 {
		res.Notice = NoticeNoRoutes
		l.Info("No routes to render", zap.String("route_type", string(routeType)))
	}

	if bounds, ok := ValidBounds(normalized.Bounds); ok {
		if err := m.FitBounds(bounds, opts.Fit); err != nil {
			res.Errors++
			l.Warn("Fit to bounds failed", zap.Error(err))
		} else {
			res.Fitted = true
		}
	} else {
		l.Debug("Skipping fit to bounds, bounds invalid or missing", zap.Any("bounds", normalized.Bounds))
	}

	m1 := metrics.Get()
	m1.RenderPassesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("route_type", string(routeType))))
	if res.Dropped > 0 {
		m1.SegmentsDroppedTotal.Add(ctx, int64(res.Dropped))
	}
	if res.Errors > 0 {
		m1.RenderOperationErrors.Add(ctx, int64(res.Errors))
		span.SetStatus(codes.Error, "render pass had failing operations")
	} else {
		span.SetStatus(codes.Ok, "rendered")
	}
	span.SetAttributes(
		attribute.Int("segments.rendered", res.Segments),
		attribute.Int("segments.dropped", res.Dropped),
		attribute.Int("segments.filtered", res.Filtered),
	)
	l.Info("Render pass complete",
		zap.Int("rendered", res.Segments),
		zap.Int("dropped", res.Dropped),
		zap.Int("filtered", res.Filtered),
		zap.Int("errors", res.Errors))
	return res
}

// Clear removes everything this renderer drew on m and forgets the map.
func (r *Renderer) Clear(m Map) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, failures := r.teardown(m, r.logger.With(zap.String("method", "Clear")))
	delete(r.sets, m)
	return failures
}

// Installed returns a copy of the layer set currently tracked for m.
func (r *Renderer) Installed(m Map) LayerSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sets[m].clone()
}

// teardown unbinds interactions, then removes layers, sources and markers in that order.
// Layers must go before the sources they reference. Anything that failed to go away is
// returned as the new tracked set so the next teardown retries it.
func (r *Renderer) teardown(m Map, l *zap.Logger) (*LayerSet, int) {
	set := r.sets[m]
	kept := &LayerSet{}
	if set == nil || set.Empty() {
		r.sets[m] = kept
		return kept, 0
	}
	failures := 0
	for _, id := range set.Layers {
		r.interaction.Unbind(m, id)
	}
	for _, id := range set.Layers {
		if err := m.RemoveLayer(id); err != nil {
			failures++
			kept.Layers = append(kept.Layers, id)
			l.Warn("Failed to remove layer", zap.String("layer", id), zap.Error(err))
		}
	}
	for _, id := range set.Sources {
		if err := m.RemoveSource(id); err != nil {
			failures++
			kept.Sources = append(kept.Sources, id)
			l.Warn("Failed to remove source", zap.String("source", id), zap.Error(err))
		}
	}
	for _, h := range set.Markers {
		if err := h.Remove(); err != nil {
			failures++
			kept.Markers = append(kept.Markers, h)
			l.Warn("Failed to remove marker", zap.String("marker", h.ID()), zap.Error(err))
		}
	}
	r.sets[m] = kept
	return kept, failures
}

// addSegment installs the source, glow layer and primary layer of segment i. rendered is true
// when the primary layer made it onto the map.
func (r *Renderer) addSegment(m Map, set *LayerSet, i int, seg models.Segment, l *zap.Logger) (rendered bool, failures int) {
	sourceID, layerID := SourceID(i), LayerID(i)
	glowID := GlowLayerID(layerID)

	line := toLineString(seg.Geometry.Coordinates)
	feature := geojson.NewFeature(line)
	feature.Properties["mode"] = string(seg.Mode)
	feature.Properties["from"] = seg.From
	feature.Properties["to"] = seg.To
	feature.Properties["index"] = i
	fc := geojson.NewFeatureCollection().Append(feature)

	if err := m.AddSource(sourceID, fc); err != nil {
		l.Warn("Failed to add route source", zap.String("source", sourceID), zap.Error(err))
		return false, 1
	}
	set.Sources = append(set.Sources, sourceID)

	base := StyleFor(seg.Mode)
	glow := GlowStyle(base)
	if err := m.AddLayer(Layer{
		ID:     glowID,
		Type:   "line",
		Source: sourceID,
		Paint: Paint{
			LineColor:   glow.Color,
			LineWidth:   glow.Width,
			LineOpacity: glow.Opacity,
			LineBlur:    2,
		},
	}); err != nil {
		failures++
		l.Warn("Failed to add glow layer", zap.String("layer", glowID), zap.Error(err))
	} else {
		set.Layers = append(set.Layers, glowID)
	}

	if err := m.AddLayer(Layer{
		ID:     layerID,
		Type:   "line",
		Source: sourceID,
		Paint: Paint{
			LineColor:     base.Color,
			LineWidth:     base.Width,
			LineOpacity:   base.Opacity,
			LineDasharray: base.Dasharray,
		},
	}); err != nil {
		l.Warn("Failed to add route layer", zap.String("layer", layerID), zap.Error(err))
		return false, failures + 1
	}
	set.Layers = append(set.Layers, layerID)

	if err := r.interaction.Bind(m, seg, layerID); err != nil {
		failures++
		l.Warn("Failed to bind route interactions", zap.String("layer", layerID), zap.Error(err))
	}
	return true, failures
}

func (r *Renderer) addRouteMarkers(m Map, set *LayerSet, segments []models.Segment, l *zap.Logger) int {
	if len(segments) == 0 {
		return 0
	}
	failures := 0
	add := func(kind MarkerKind, p []float64, label string) {
		style := markerStyles[kind]
		h, err := m.AddMarker(Marker{
			Kind:   kind,
			LngLat: models.LngLat{Lng: p[0], Lat: p[1]},
			Color:  style.color,
			Scale:  style.scale,
			Label:  label,
		})
		if err != nil {
			failures++
			l.Warn("Failed to add marker", zap.String("kind", string(kind)), zap.Error(err))
			return
		}
		set.Markers = append(set.Markers, h)
	}

	first := segments[0].Geometry.Coordinates
	add(MarkerStart, first[0], segments[0].From)
	for _, seg := range segments[1:] {
		add(MarkerWaypoint, seg.Geometry.Coordinates[0], seg.From)
	}
	lastSeg := segments[len(segments)-1]
	last := lastSeg.Geometry.Coordinates
	add(MarkerEnd, last[len(last)-1], lastSeg.To)
	return failures
}

func (r *Renderer) addPOIMarkers(m Map, set *LayerSet, pois []models.MapMarker, l *zap.Logger) int {
	failures := 0
	style := markerStyles[MarkerPOI]
	for _, poi := range pois {
		if !ValidPosition([]float64{poi.Coordinates.Lng, poi.Coordinates.Lat}) {
			l.Warn("Skipping marker with invalid coordinates", zap.String("name", poi.Name))
			continue
		}
		h, err := m.AddMarker(Marker{
			Kind:        MarkerPOI,
			LngLat:      poi.Coordinates,
			Color:       style.color,
			Scale:       style.scale,
			Label:       poi.Name,
			Description: poi.Description,
		})
		if err != nil {
			failures++
			l.Warn("Failed to add point of interest marker", zap.String("name", poi.Name), zap.Error(err))
			continue
		}
		set.Markers = append(set.Markers, h)
	}
	return failures
}
