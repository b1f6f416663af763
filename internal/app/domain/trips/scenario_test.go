package trips

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/domain/routemap"
	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
)

func primaryLayers(scene *routemap.Scene) []string {
	var out []string
	for _, id := range scene.LayerIDs() {
		if !strings.HasSuffix(id, "-glow") {
			out = append(out, id)
		}
	}
	return out
}

func TestLakeTahoePromptToWalkingRoutes(t *testing.T) {
	srv, _ := newBackend(t, http.StatusOK, loadFixture(t))
	logger := zap.NewNop()
	svc := newTestService(t, NewHTTPGenerator(srv.URL, srv.Client(), logger), newMemStorage())

	trip, err := svc.Plan(context.Background(), "3-day moderate hike near Lake Tahoe")
	require.NoError(t, err)
	require.Len(t, trip.Itinerary, 3)

	normalizer := routemap.NewNormalizer(logger)
	want := 0
	for _, seg := range trip.Journey.Segments {
		if seg.Mode != models.ModeWalking && seg.Mode != models.ModeHiking {
			continue
		}
		if _, err := normalizer.NormalizeSegment(seg); err == nil {
			want++
		}
	}
	require.Equal(t, 2, want)

	loaded, err := svc.GetTrip(context.Background(), trip.ID)
	require.NoError(t, err)

	renderer := routemap.NewRenderer(logger, normalizer, nil)
	scene := routemap.NewScene()
	res := renderer.Render(context.Background(), scene, loaded.Journey, routemap.RenderOptions{
		RouteType: routemap.RouteWalk,
		POIs:      loaded.Markers,
	})

	assert.Equal(t, want, res.Segments)
	assert.Len(t, primaryLayers(scene), want)
	assert.Empty(t, res.Notice)
	assert.True(t, res.Fitted)
	assert.Len(t, renderer.Installed(scene).Layers, 2*want, "primary plus glow per segment")
}

func TestLakeTahoeDriveOnlyTripShowsNotice(t *testing.T) {
	trip, err := Adapt(loadFixture(t))
	require.NoError(t, err)

	var driveOnly models.Journey
	for _, seg := range trip.Journey.Segments {
		if seg.Mode == models.ModeDriving {
			driveOnly.Segments = append(driveOnly.Segments, seg)
		}
	}
	driveOnly.Bounds = trip.Journey.Bounds

	renderer := routemap.NewRenderer(zap.NewNop(), nil, nil)
	scene := routemap.NewScene()
	res := renderer.Render(context.Background(), scene, driveOnly, routemap.RenderOptions{RouteType: routemap.RouteWalk})

	assert.Equal(t, 0, res.Segments)
	assert.Empty(t, primaryLayers(scene))
	assert.Equal(t, routemap.NoticeNoRoutes, res.Notice)
}
