package voice

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/domain/realtime"
	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
)

// CredentialIssuer mints ephemeral realtime credentials.
type CredentialIssuer interface {
	Issue(ctx context.Context) (realtime.SessionCredential, error)
}

var _ CredentialIssuer = (*realtime.Issuer)(nil)

type Handler struct {
	issuer CredentialIssuer
	logger *zap.Logger
}

func NewHandler(issuer CredentialIssuer, logger *zap.Logger) *Handler {
	return &Handler{issuer: issuer, logger: logger}
}

// CreateSession godoc
// @Summary Issue an ephemeral realtime session credential
// @Tags realtime
// @Produce json
// @Success 200 {object} realtime.SessionCredential
// @Failure 502 {object} map[string]string
// @Router /api/realtime/sessions [post]
func (h *Handler) CreateSession(c *gin.Context) {
	ctx, span := otel.Tracer("VoiceHandler").Start(c.Request.Context(), "CreateSession")
	defer span.End()

	l := h.logger.With(zap.String("method", "CreateSession"))

	cred, err := h.issuer.Issue(ctx)
	if err != nil {
		l.Error("Failed to issue realtime session", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "issue failed")
		status := http.StatusBadGateway
		if errors.Is(err, models.ErrBadRequest) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": "could not create realtime session"})
		return
	}

	span.SetStatus(codes.Ok, "issued")
	c.JSON(http.StatusOK, cred)
}
