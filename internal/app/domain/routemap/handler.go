package routemap

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
)

// TripLoader fetches a trip by ID.
type TripLoader interface {
	GetTrip(ctx context.Context, id string) (*models.Trip, error)
}

// MapSettings are the map client settings echoed to the browser.
type MapSettings struct {
	AccessToken string
	Style       string
	DefaultZoom float64
	Fit         FitOptions
}

// MapResponse is the payload of the trip map endpoint.
type MapResponse struct {
	ViewID      string        `json:"viewId"`
	TripID      string        `json:"tripId"`
	Style       string        `json:"style"`
	AccessToken string        `json:"accessToken,omitempty"`
	Center      models.LngLat `json:"center"`
	Zoom        float64       `json:"zoom"`
	Scene       SceneDocument `json:"scene"`
	Result      *RenderResult `json:"result,omitempty"`
}

// EventRequest is a pointer event forwarded from the browser map.
type EventRequest struct {
	Type    EventType `json:"type" binding:"required"`
	LayerID string    `json:"layerId" binding:"required"`
	Lng     float64   `json:"lng"`
	Lat     float64   `json:"lat"`
}

type Handler struct {
	trips    TripLoader
	renderer *Renderer
	views    *SceneRegistry
	settings MapSettings
	logger   *zap.Logger
}

func NewHandler(trips TripLoader, renderer *Renderer, views *SceneRegistry, settings MapSettings, logger *zap.Logger) *Handler {
	return &Handler{
		trips:    trips,
		renderer: renderer,
		views:    views,
		settings: settings,
		logger:   logger,
	}
}

// RenderTripMap godoc
// @Summary Render a trip's routes
// @Description Tear down and redraw the trip journey on a map view, optionally filtered by route type
// @Tags maps
// @Produce json
// @Param id path string true "Trip ID"
// @Param routeType query string false "all, walk, bike, drive or transit"
// @Param view query string false "Existing map view ID"
// @Success 200 {object} MapResponse
// @Failure 404 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /api/trips/{id}/map [get]
func (h *Handler) RenderTripMap(c *gin.Context) {
	tripID := c.Param("id")
	l := h.logger.With(zap.String("method", "RenderTripMap"), zap.String("tripID", tripID))

	routeType, ok := ParseRouteType(c.Query("routeType"))
	if !ok {
		l.Warn("Unknown route type, rendering all routes", zap.String("routeType", c.Query("routeType")))
		routeType = RouteAll
	}

	trip, err := h.trips.GetTrip(c.Request.Context(), tripID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Trip not found"})
			return
		}
		l.Error("Failed to load trip", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load trip"})
		return
	}

	viewID, scene := h.views.Acquire(c.Query("view"))
	res := h.renderer.Render(c.Request.Context(), scene, trip.Journey, RenderOptions{
		RouteType: routeType,
		Fit:       h.settings.Fit,
		POIs:      trip.Markers,
	})
	h.respond(c, viewID, trip, scene, &res)
}

// HandleMapEvent godoc
// @Summary Forward a pointer event
// @Description Dispatch a hover or click on a route layer and return the updated scene
// @Tags maps
// @Accept json
// @Produce json
// @Param view path string true "Map view ID"
// @Param event body EventRequest true "Event"
// @Success 200 {object} SceneDocument
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /api/maps/{view}/events [post]
func (h *Handler) HandleMapEvent(c *gin.Context) {
	viewID := c.Param("view")
	scene, ok := h.views.Lookup(viewID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Map view not found"})
		return
	}

	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	switch req.Type {
	case EventMouseEnter, EventMouseLeave, EventClick:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported event type"})
		return
	}

	scene.Fire(req.Type, req.LayerID, models.LngLat{Lng: req.Lng, Lat: req.Lat})
	doc, err := scene.Document()
	if err != nil {
		h.logger.Error("Failed to snapshot scene", zap.String("view", viewID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render map"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// ReleaseView godoc
// @Summary Release a map view
// @Tags maps
// @Param view path string true "Map view ID"
// @Success 204
// @Router /api/maps/{view} [delete]
func (h *Handler) ReleaseView(c *gin.Context) {
	h.views.Release(c.Param("view"))
	c.Status(http.StatusNoContent)
}

func (h *Handler) respond(c *gin.Context, viewID string, trip *models.Trip, scene *Scene, res *RenderResult) {
	doc, err := scene.Document()
	if err != nil {
		h.logger.Error("Failed to snapshot scene", zap.String("view", viewID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render map"})
		return
	}
	c.JSON(http.StatusOK, MapResponse{
		ViewID:      viewID,
		TripID:      trip.ID,
		Style:       h.settings.Style,
		AccessToken: h.settings.AccessToken,
		Center:      trip.MapCenter,
		Zoom:        h.settings.DefaultZoom,
		Scene:       doc,
		Result:      res,
	})
}
