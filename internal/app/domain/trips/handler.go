package trips

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
)

const maxDocumentBytes = 1 << 20

type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type PlanRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

type ShareRequest struct {
	TTLHours int `json:"ttlHours"`
}

type ShareResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

type CompanionRequest struct {
	Email string `json:"email" binding:"required"`
	Role  string `json:"role"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConnection), errors.Is(err, models.ErrProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, method string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("method", method), zap.Error(err))
	} else {
		h.logger.Debug("Request rejected", zap.String("method", method), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// PlanItinerary godoc
// @Summary Generate a trip from a natural-language prompt
// @Tags trips
// @Accept json
// @Produce json
// @Param request body PlanRequest true "Prompt"
// @Success 201 {object} models.Trip
// @Router /api/itinerary [post]
func (h *Handler) PlanItinerary(c *gin.Context) {
	var req PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}
	trip, err := h.service.Plan(c.Request.Context(), req.Prompt)
	if err != nil {
		h.fail(c, "PlanItinerary", err)
		return
	}
	c.JSON(http.StatusCreated, trip)
}

// GetTrip godoc
// @Summary Get a saved trip
// @Tags trips
// @Produce json
// @Param id path string true "Trip ID"
// @Success 200 {object} models.Trip
// @Router /api/trips/{id} [get]
func (h *Handler) GetTrip(c *gin.Context) {
	trip, err := h.service.GetTrip(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "GetTrip", err)
		return
	}
	c.JSON(http.StatusOK, trip)
}

// UpdateTrip godoc
// @Summary Replace a saved trip document
// @Tags trips
// @Accept json
// @Produce json
// @Param id path string true "Trip ID"
// @Success 200 {object} models.Trip
// @Router /api/trips/{id} [put]
func (h *Handler) UpdateTrip(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDocumentBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read body"})
		return
	}
	trip, err := Adapt(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, err := h.service.UpdateTrip(c.Request.Context(), c.Param("id"), trip)
	if err != nil {
		h.fail(c, "UpdateTrip", err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// ShareTrip godoc
// @Summary Create a share link for a trip
// @Tags trips
// @Accept json
// @Produce json
// @Param id path string true "Trip ID"
// @Success 201 {object} ShareResponse
// @Router /api/trips/{id}/share [post]
func (h *Handler) ShareTrip(c *gin.Context) {
	var req ShareRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid share request"})
			return
		}
	}
	token, err := h.service.ShareTrip(c.Request.Context(), c.Param("id"), time.Duration(req.TTLHours)*time.Hour)
	if err != nil {
		h.fail(c, "ShareTrip", err)
		return
	}
	c.JSON(http.StatusCreated, ShareResponse{Token: token, URL: "/api/shared/" + token})
}

// SharedTrip godoc
// @Summary Open a shared trip
// @Tags trips
// @Produce json
// @Param token path string true "Share token"
// @Success 200 {object} models.Trip
// @Router /api/shared/{token} [get]
func (h *Handler) SharedTrip(c *gin.Context) {
	trip, err := h.service.SharedTrip(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.fail(c, "SharedTrip", err)
		return
	}
	c.JSON(http.StatusOK, trip)
}

// InviteCompanion godoc
// @Summary Invite a companion to a trip
// @Tags trips
// @Accept json
// @Produce json
// @Param id path string true "Trip ID"
// @Param request body CompanionRequest true "Companion"
// @Success 201 {object} models.Companion
// @Router /api/trips/{id}/companions [post]
func (h *Handler) InviteCompanion(c *gin.Context) {
	var req CompanionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}
	companion, err := h.service.InviteCompanion(c.Request.Context(), c.Param("id"), req.Email, req.Role)
	if err != nil {
		h.fail(c, "InviteCompanion", err)
		return
	}
	c.JSON(http.StatusCreated, companion)
}

// ListCompanions godoc
// @Summary List the companions of a trip
// @Tags trips
// @Produce json
// @Param id path string true "Trip ID"
// @Success 200 {array} models.Companion
// @Router /api/trips/{id}/companions [get]
func (h *Handler) ListCompanions(c *gin.Context) {
	companions, err := h.service.Companions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "ListCompanions", err)
		return
	}
	if companions == nil {
		companions = []models.Companion{}
	}
	c.JSON(http.StatusOK, companions)
}
