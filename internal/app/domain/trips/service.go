package trips

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
	"github.com/FACorreiaa/outdoor-explorer/internal/app/observability/metrics"
)

const maxPromptLength = 2000

// Companion roles.
const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
)

// Service plans, stores and shares trips.
type Service struct {
	gen    Generator
	cache  *Cache
	shares ShareStore
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a Service. shares may be nil when no database is configured.
func NewService(gen Generator, cache *Cache, shares ShareStore, logger *zap.Logger) *Service {
	return &Service{gen: gen, cache: cache, shares: shares, logger: logger, now: time.Now}
}

// Plan generates a trip for prompt and saves it. A trip that could only be kept in memory
// is still returned.
func (s *Service) Plan(ctx context.Context, prompt string) (*models.Trip, error) {
	ctx, span := otel.Tracer("TripService").Start(ctx, "Plan")
	defer span.End()

	l := s.logger.With(zap.String("method", "Plan"))

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", models.ErrValidation)
	}
	if len(prompt) > maxPromptLength {
		return nil, fmt.Errorf("%w: prompt longer than %d characters", models.ErrValidation, maxPromptLength)
	}

	started := time.Now()
	trip, err := s.gen.Generate(ctx, prompt)
	status := "ok"
	if err != nil {
		status = "error"
	}
	m := metrics.Get()
	m.ItineraryGenerations.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.ItineraryGenerationDur.Record(ctx, time.Since(started).Seconds())
	if err != nil {
		l.Error("Itinerary generation failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return nil, err
	}

	if trip.ID == "" {
		trip.ID = uuid.NewString()
	}
	trip.UpdatedAt = s.now().UTC()
	if err := s.cache.Put(ctx, trip); err != nil {
		if errors.Is(err, models.ErrValidation) {
			return nil, err
		}
		l.Warn("Generated trip not persisted", zap.String("trip_id", trip.ID), zap.Error(err))
	}

	span.SetAttributes(
		attribute.String("trip.id", trip.ID),
		attribute.Int("trip.days", len(trip.Itinerary)),
		attribute.Int("trip.segments", len(trip.Journey.Segments)),
	)
	span.SetStatus(codes.Ok, "planned")
	l.Info("Trip planned", zap.String("trip_id", trip.ID), zap.Int("days", len(trip.Itinerary)))
	return trip, nil
}

// GetTrip returns a saved trip.
func (s *Service) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	ctx, span := otel.Tracer("TripService").Start(ctx, "GetTrip")
	defer span.End()
	span.SetAttributes(attribute.String("trip.id", id))

	trip, err := s.cache.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, err
	}
	return trip, nil
}

// UpdateTrip replaces the document of an existing trip.
func (s *Service) UpdateTrip(ctx context.Context, id string, trip *models.Trip) (*models.Trip, error) {
	ctx, span := otel.Tracer("TripService").Start(ctx, "UpdateTrip")
	defer span.End()

	if _, err := s.GetTrip(ctx, id); err != nil {
		return nil, err
	}
	trip.ID = id
	Normalize(trip)
	trip.UpdatedAt = s.now().UTC()
	if err := s.cache.Put(ctx, trip); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		return nil, err
	}
	return trip, nil
}

// ShareTrip creates a share token for a saved trip.
func (s *Service) ShareTrip(ctx context.Context, id string, ttl time.Duration) (string, error) {
	ctx, span := otel.Tracer("TripService").Start(ctx, "ShareTrip")
	defer span.End()

	if s.shares == nil {
		return "", fmt.Errorf("%w: sharing needs a database", models.ErrConnection)
	}
	if ttl < 0 {
		return "", fmt.Errorf("%w: negative share lifetime", models.ErrValidation)
	}
	if _, err := s.GetTrip(ctx, id); err != nil {
		return "", err
	}
	token, err := s.shares.CreateShare(ctx, id, ttl)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return token, nil
}

// SharedTrip returns the trip behind a share token.
func (s *Service) SharedTrip(ctx context.Context, token string) (*models.Trip, error) {
	ctx, span := otel.Tracer("TripService").Start(ctx, "SharedTrip")
	defer span.End()

	if s.shares == nil {
		return nil, fmt.Errorf("%w: sharing needs a database", models.ErrConnection)
	}
	id, err := s.shares.ResolveShare(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.GetTrip(ctx, id)
}

// InviteCompanion adds a companion to a saved trip. role defaults to viewer.
func (s *Service) InviteCompanion(ctx context.Context, tripID, email, role string) (models.Companion, error) {
	ctx, span := otel.Tracer("TripService").Start(ctx, "InviteCompanion")
	defer span.End()

	if s.shares == nil {
		return models.Companion{}, fmt.Errorf("%w: companions need a database", models.ErrConnection)
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return models.Companion{}, fmt.Errorf("%w: invalid email %q", models.ErrValidation, email)
	}
	switch role = strings.ToLower(strings.TrimSpace(role)); role {
	case "":
		role = RoleViewer
	case RoleViewer, RoleEditor:
	default:
		return models.Companion{}, fmt.Errorf("%w: unknown role %q", models.ErrValidation, role)
	}
	if _, err := s.GetTrip(ctx, tripID); err != nil {
		return models.Companion{}, err
	}
	c, err := s.shares.AddCompanion(ctx, tripID, strings.ToLower(addr.Address), role)
	if err != nil {
		span.RecordError(err)
		return models.Companion{}, err
	}
	return c, nil
}

// Companions lists the companions of a saved trip.
func (s *Service) Companions(ctx context.Context, tripID string) ([]models.Companion, error) {
	if s.shares == nil {
		return nil, fmt.Errorf("%w: companions need a database", models.ErrConnection)
	}
	if _, err := s.GetTrip(ctx, tripID); err != nil {
		return nil, err
	}
	return s.shares.ListCompanions(ctx, tripID)
}
