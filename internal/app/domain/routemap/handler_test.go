package routemap

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
)

type stubTrips map[string]*models.Trip

func (s stubTrips) GetTrip(_ context.Context, id string) (*models.Trip, error) {
	if t, ok := s[id]; ok {
		return t, nil
	}
	return nil, models.ErrNotFound
}

func setupMapRouter(t *testing.T) (*gin.Engine, *SceneRegistry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	renderer := NewRenderer(logger, nil, nil)
	views := NewSceneRegistry(renderer, time.Minute)
	h := NewHandler(stubTrips{
		"tahoe": {ID: "tahoe", MapCenter: models.LngLat{Lng: -120.04, Lat: 39.09}, Journey: journeyA()},
	}, renderer, views, MapSettings{Style: "mapbox://styles/mapbox/outdoors-v12", DefaultZoom: 10}, logger)

	r := gin.New()
	r.GET("/api/trips/:id/map", h.RenderTripMap)
	r.POST("/api/maps/:view/events", h.HandleMapEvent)
	r.DELETE("/api/maps/:view", h.ReleaseView)
	return r, views
}

func getMap(t *testing.T, r *gin.Engine, url string) (*httptest.ResponseRecorder, MapResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	r.ServeHTTP(w, req)
	var resp MapResponse
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestRenderTripMapHandler(t *testing.T) {
	r, views := setupMapRouter(t)

	w, resp := getMap(t, r, "/api/trips/tahoe/map?routeType=walk")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, resp.ViewID)
	assert.Equal(t, "tahoe", resp.TripID)
	assert.Len(t, resp.Scene.Layers, 4)
	require.NotNil(t, resp.Result)
	assert.Equal(t, 2, resp.Result.Segments)

	// Same view, new filter: previous layers are gone.
	w, resp2 := getMap(t, r, "/api/trips/tahoe/map?routeType=drive&view="+resp.ViewID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, resp.ViewID, resp2.ViewID)
	require.Len(t, resp2.Scene.Layers, 2)
	assert.Equal(t, "route-layer-0-glow", resp2.Scene.Layers[0].ID)
	assert.Equal(t, "#ff5722", resp2.Scene.Layers[1].Paint.LineColor)
	assert.Equal(t, 1, views.Len())
}

func TestRenderTripMapUnknownRouteType(t *testing.T) {
	r, _ := setupMapRouter(t)
	w, resp := getMap(t, r, "/api/trips/tahoe/map?routeType=hovercraft")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, resp.Result.Segments)
}

func TestRenderTripMapNotFound(t *testing.T) {
	r, _ := setupMapRouter(t)
	w, _ := getMap(t, r, "/api/trips/missing/map")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleMapEvent(t *testing.T) {
	r, views := setupMapRouter(t)
	_, resp := getMap(t, r, "/api/trips/tahoe/map")

	body, _ := json.Marshal(EventRequest{Type: EventClick, LayerID: "route-layer-0", Lng: -120, Lat: 39})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/maps/"+resp.ViewID+"/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var doc SceneDocument
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.Len(t, doc.Popups, 1)
	assert.Equal(t, "Walking", doc.Popups[0].Title)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/maps/"+resp.ViewID, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, views.Len())

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/maps/"+resp.ViewID+"/events", bytes.NewReader(body))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSceneRegistryEvictionClearsRenderer(t *testing.T) {
	renderer := NewRenderer(zap.NewNop(), nil, nil)
	views := NewSceneRegistry(renderer, time.Minute)
	id, scene := views.Acquire("")
	renderer.Render(context.Background(), scene, journeyB(), RenderOptions{})
	require.NotEmpty(t, scene.LayerIDs())

	views.Release(id)
	assert.Empty(t, scene.LayerIDs())
	assert.True(t, renderer.Installed(scene).Empty())

	id2, _ := views.Acquire(id)
	assert.NotEqual(t, id, id2)
}
