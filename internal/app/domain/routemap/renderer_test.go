package routemap

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
)

func newTestRenderer() *Renderer {
	logger := zap.NewNop()
	return NewRenderer(logger, NewNormalizer(logger), NewInteraction(logger))
}

func journeyA() models.Journey {
	return models.Journey{
		Segments: []models.Segment{
			seg(models.ModeWalking, []float64{-120.0, 39.0}, []float64{-120.01, 39.01}),
			seg(models.ModeDriving, []float64{-120.01, 39.01}, []float64{-120.1, 39.1}, []float64{-120.2, 39.2}),
			seg(models.ModeHiking, []float64{-120.2, 39.2}, []float64{-120.25, 39.25}),
		},
		Bounds: models.LngLatList{{-120.25, 39.0}, {-120.0, 39.25}},
	}
}

func journeyB() models.Journey {
	return models.Journey{
		Segments: []models.Segment{
			seg(models.ModeCycling, []float64{10, 45}, []float64{10.1, 45.1}),
		},
	}
}

func TestRenderInstallsLayersInOrder(t *testing.T) {
	r := newTestRenderer()
	scene := NewScene()

	res := r.Render(context.Background(), scene, journeyA(), RenderOptions{
		Fit: FitOptions{Padding: 50, MaxZoom: 14, Duration: time.Second},
	})

	assert.Equal(t, 3, res.Segments)
	assert.Zero(t, res.Errors)
	assert.True(t, res.Fitted)
	assert.Empty(t, res.Notice)

	assert.Equal(t, []string{
		"route-layer-0-glow", "route-layer-0",
		"route-layer-1-glow", "route-layer-1",
		"route-layer-2-glow", "route-layer-2",
	}, scene.LayerIDs())
	assert.Equal(t, []string{"route-source-0", "route-source-1", "route-source-2"}, scene.SourceIDs())

	glow, ok := scene.Layer("route-layer-1-glow")
	require.True(t, ok)
	assert.Equal(t, 9.0, glow.Paint.LineWidth)
	assert.Equal(t, 0.4, glow.Paint.LineOpacity)
	primary, _ := scene.Layer("route-layer-1")
	assert.Equal(t, "#ff5722", primary.Paint.LineColor)

	markers := scene.Markers()
	require.Len(t, markers, 4)
	assert.Equal(t, MarkerStart, markers[0].Kind)
	assert.Equal(t, models.LngLat{Lng: -120.0, Lat: 39.0}, markers[0].LngLat)
	assert.Equal(t, MarkerWaypoint, markers[1].Kind)
	assert.Equal(t, models.LngLat{Lng: -120.01, Lat: 39.01}, markers[1].LngLat)
	assert.Equal(t, MarkerWaypoint, markers[2].Kind)
	assert.Equal(t, MarkerEnd, markers[3].Kind)
	assert.Equal(t, models.LngLat{Lng: -120.25, Lat: 39.25}, markers[3].LngLat)
	assert.Greater(t, markers[3].Scale, markers[0].Scale)

	vp := scene.Viewport()
	require.NotNil(t, vp)
	assert.Equal(t, [2][2]float64{{-120.25, 39.0}, {-120.0, 39.25}}, vp.Bounds)
	assert.Equal(t, int64(1000), vp.DurationMs)

	for _, id := range []string{"route-layer-0", "route-layer-1", "route-layer-2"} {
		assert.True(t, r.interaction.Bound(scene, id), id)
	}
}

func TestRenderReplacesPreviousLayerSet(t *testing.T) {
	r := newTestRenderer()
	scene := NewScene()
	ctx := context.Background()

	r.Render(ctx, scene, journeyA(), RenderOptions{})
	scene.Fire(EventClick, "route-layer-0", models.LngLat{Lng: -120, Lat: 39})
	require.Len(t, scene.Popups(), 1)

	res := r.Render(ctx, scene, journeyB(), RenderOptions{})
	assert.Zero(t, res.Errors)

	assert.Equal(t, []string{"route-layer-0-glow", "route-layer-0"}, scene.LayerIDs())
	assert.Equal(t, []string{"route-source-0"}, scene.SourceIDs())
	assert.Len(t, scene.Markers(), 2)
	assert.Empty(t, scene.Popups(), "popups must not survive a re-render")

	installed := r.Installed(scene)
	assert.Equal(t, []string{"route-source-0"}, installed.Sources)
	assert.Len(t, installed.Markers, 2)

	// Rebinding happened for the new layer.
	assert.True(t, scene.Fire(EventMouseEnter, "route-layer-0", models.LngLat{}))
	assert.False(t, scene.Fire(EventMouseEnter, "route-layer-1", models.LngLat{}))
}

func TestRenderIsIdempotent(t *testing.T) {
	r := newTestRenderer()
	scene := NewScene()
	ctx := context.Background()

	first := r.Render(ctx, scene, journeyA(), RenderOptions{})
	layers := scene.LayerIDs()
	second := r.Render(ctx, scene, journeyA(), RenderOptions{})

	assert.Equal(t, first, second)
	assert.Equal(t, layers, scene.LayerIDs())
	assert.Len(t, scene.Markers(), 4)
}

func TestRenderInvalidBoundsKeepsViewport(t *testing.T) {
	r := newTestRenderer()
	scene := NewScene()
	prior := orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{2, 2}}
	require.NoError(t, scene.FitBounds(prior, FitOptions{Padding: 10}))

	j := journeyB()
	j.Bounds = models.LngLatList{{200, 95}, {0, 0}}
	res := r.Render(context.Background(), scene, j, RenderOptions{Fit: FitOptions{Padding: 50}})

	assert.False(t, res.Fitted)
	assert.Equal(t, &Viewport{Bounds: [2][2]float64{{1, 1}, {2, 2}}, Padding: 10}, scene.Viewport())
}

func TestRenderFilterAndNotice(t *testing.T) {
	r := newTestRenderer()
	scene := NewScene()
	ctx := context.Background()

	res := r.Render(ctx, scene, journeyA(), RenderOptions{RouteType: RouteWalk})
	assert.Equal(t, 2, res.Segments)
	assert.Equal(t, 1, res.Filtered)
	for _, id := range scene.LayerIDs() {
		assert.NotContains(t, id, "route-layer-2")
	}

	res = r.Render(ctx, scene, journeyA(), RenderOptions{RouteType: RouteTransit})
	assert.Equal(t, 0, res.Segments)
	assert.Equal(t, NoticeNoRoutes, res.Notice)
	assert.Empty(t, scene.LayerIDs())
	assert.Empty(t, scene.SourceIDs())
	assert.Empty(t, scene.Markers())
}

func TestRenderDropsMalformedSegments(t *testing.T) {
	r := newTestRenderer()
	scene := NewScene()
	j := journeyB()
	j.Segments = append(j.Segments, seg(models.ModeWalking, []float64{0, 0}, []float64{0, 100}))

	res := r.Render(context.Background(), scene, j, RenderOptions{})
	assert.Equal(t, 1, res.Segments)
	assert.Equal(t, 1, res.Dropped)
	assert.Len(t, scene.LayerIDs(), 2)
}

func TestRenderAddsPointsOfInterest(t *testing.T) {
	r := newTestRenderer()
	scene := NewScene()

	r.Render(context.Background(), scene, journeyB(), RenderOptions{POIs: []models.MapMarker{
		{Name: "Emerald Bay", Coordinates: models.LngLat{Lng: -120.1, Lat: 38.95}},
		{Name: "Nowhere", Coordinates: models.LngLat{Lng: 500, Lat: 0}},
	}})

	markers := scene.Markers()
	require.Len(t, markers, 3)
	assert.Equal(t, MarkerPOI, markers[2].Kind)
	assert.Equal(t, "Emerald Bay", markers[2].Label)
}

func TestClearRemovesEverything(t *testing.T) {
	r := newTestRenderer()
	scene := NewScene()
	r.Render(context.Background(), scene, journeyA(), RenderOptions{})

	assert.Zero(t, r.Clear(scene))
	assert.Empty(t, scene.LayerIDs())
	assert.Empty(t, scene.SourceIDs())
	assert.Empty(t, scene.Markers())
	assert.True(t, r.Installed(scene).Empty())
}

// failingMap wraps a Scene and fails AddLayer for one ID.
type failingMap struct {
	*Scene
	failLayer string
}

func (f *failingMap) AddLayer(layer Layer) error {
	if layer.ID == f.failLayer {
		return models.ErrRender
	}
	return f.Scene.AddLayer(layer)
}

func TestRenderContinuesAfterOperationFailure(t *testing.T) {
	r := newTestRenderer()
	m := &failingMap{Scene: NewScene(), failLayer: "route-layer-1-glow"}

	res := r.Render(context.Background(), m, journeyA(), RenderOptions{})
	assert.Equal(t, 3, res.Segments)
	assert.Equal(t, 1, res.Errors)
	assert.Contains(t, m.LayerIDs(), "route-layer-1")
	assert.NotContains(t, m.LayerIDs(), "route-layer-1-glow")

	// teardown only removes what was actually installed
	assert.Zero(t, r.Clear(m))
	assert.Empty(t, m.LayerIDs())
	assert.Empty(t, m.SourceIDs())
}

// flakyRemoveMap wraps a Scene and fails the first RemoveLayer of one ID.
type flakyRemoveMap struct {
	*Scene
	failLayer string
	failed    bool
}

func (f *flakyRemoveMap) RemoveLayer(id string) error {
	if id == f.failLayer && !f.failed {
		f.failed = true
		return models.ErrRender
	}
	return f.Scene.RemoveLayer(id)
}

func TestTeardownRetriesFailedRemovals(t *testing.T) {
	r := newTestRenderer()
	m := &flakyRemoveMap{Scene: NewScene(), failLayer: "route-layer-0"}

	r.Render(context.Background(), m, journeyA(), RenderOptions{})

	// the stuck layer pins its source, both stay tracked
	first := r.Render(context.Background(), m, journeyB(), RenderOptions{})
	assert.Positive(t, first.Errors)
	tracked := r.Installed(m)
	assert.Contains(t, tracked.Layers, "route-layer-0")
	assert.Contains(t, tracked.Sources, "route-source-0")
	for _, id := range m.LayerIDs() {
		assert.Contains(t, tracked.Layers, id)
	}
	for _, id := range m.SourceIDs() {
		assert.Contains(t, tracked.Sources, id)
	}

	second := r.Render(context.Background(), m, journeyB(), RenderOptions{})
	assert.Zero(t, second.Errors)
	assert.Equal(t, 1, second.Segments)
	assert.Equal(t, []string{"route-layer-0-glow", "route-layer-0"}, m.LayerIDs())
	assert.Equal(t, []string{"route-source-0"}, m.SourceIDs())

	assert.Zero(t, r.Clear(m))
	assert.Empty(t, m.LayerIDs())
	assert.Empty(t, m.SourceIDs())
}

func TestSceneIsStrict(t *testing.T) {
	s := NewScene()
	require.NoError(t, s.AddSource("src", geojson.NewFeatureCollection()))
	assert.ErrorIs(t, s.AddSource("src", nil), models.ErrRender)
	assert.ErrorIs(t, s.AddLayer(Layer{ID: "l", Source: "missing"}), models.ErrRender)
	require.NoError(t, s.AddLayer(Layer{ID: "l", Source: "src"}))
	assert.ErrorIs(t, s.RemoveSource("src"), models.ErrRender)
	require.NoError(t, s.RemoveLayer("l"))
	require.NoError(t, s.RemoveSource("src"))

	h, err := s.AddMarker(Marker{Kind: MarkerStart})
	require.NoError(t, err)
	require.NoError(t, h.Remove())
	assert.ErrorIs(t, h.Remove(), models.ErrRender)
}

func TestSceneDocumentEncodesSources(t *testing.T) {
	r := newTestRenderer()
	scene := NewScene()
	r.Render(context.Background(), scene, journeyB(), RenderOptions{})

	doc, err := scene.Document()
	require.NoError(t, err)
	raw, ok := doc.Sources["route-source-0"]
	require.True(t, ok)

	fc, err := geojson.UnmarshalFeatureCollection(raw)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "cycling", fc.Features[0].Properties.MustString("mode"))
	line, ok := fc.Features[0].Geometry.(orb.LineString)
	require.True(t, ok)
	assert.Len(t, line, 10)

	assert.ElementsMatch(t, []EventType{EventClick, EventMouseEnter, EventMouseLeave}, doc.Bindings["route-layer-0"])

	_, err = json.Marshal(doc)
	assert.NoError(t, err)
}
