package trips

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
)

// Querier is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ShareStore keeps share links and companions of saved trips.
type ShareStore interface {
	CreateShare(ctx context.Context, tripID string, ttl time.Duration) (string, error)
	ResolveShare(ctx context.Context, token string) (string, error)
	AddCompanion(ctx context.Context, tripID, email, role string) (models.Companion, error)
	ListCompanions(ctx context.Context, tripID string) ([]models.Companion, error)
}

var (
	_ Storage    = (*PostgresStore)(nil)
	_ ShareStore = (*PostgresStore)(nil)
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresStore keeps trip documents as JSONB.
type PostgresStore struct {
	db     Querier
	logger *zap.Logger
	now    func() time.Time
}

func NewPostgresStore(db Querier, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger, now: time.Now}
}

func dbSpan(ctx context.Context, name, op, table string) (context.Context, trace.Span) {
	return otel.Tracer("TripRepository").Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", op),
		attribute.String("db.sql.table", table),
	))
}

// Load reads the trip with id.
func (r *PostgresStore) Load(ctx context.Context, id string) (*models.Trip, error) {
	ctx, span := dbSpan(ctx, "Load", "SELECT", "trips")
	defer span.End()

	query, args, err := psql.Select("document", "updated_at").
		From("trips").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building trip query: %w", err)
	}

	var (
		doc       []byte
		updatedAt time.Time
	)
	if err := r.db.QueryRow(ctx, query, args...).Scan(&doc, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: trip %s", models.ErrNotFound, id)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, fmt.Errorf("failed to scan trip row: %w", err)
	}

	var trip models.Trip
	if err := json.Unmarshal(doc, &trip); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decoding stored trip %s: %w", id, err)
	}
	trip.ID = id
	trip.UpdatedAt = updatedAt
	return &trip, nil
}

// Save upserts trip.
func (r *PostgresStore) Save(ctx context.Context, trip *models.Trip) error {
	ctx, span := dbSpan(ctx, "Save", "INSERT", "trips")
	defer span.End()

	doc, err := json.Marshal(trip)
	if err != nil {
		return fmt.Errorf("encoding trip: %w", err)
	}
	updatedAt := trip.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = r.now().UTC()
	}

	query, args, err := psql.Insert("trips").
		Columns("id", "title", "location", "document", "updated_at").
		Values(trip.ID, trip.Title, trip.Location, doc, updatedAt).
		Suffix("ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, location = EXCLUDED.location, " +
			"document = EXCLUDED.document, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building trip upsert: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		r.logger.Error("Failed to save trip", zap.String("method", "Save"), zap.String("trip_id", trip.ID), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return fmt.Errorf("failed to save trip: %w", err)
	}
	return nil
}

// CreateShare issues a share token for tripID. A zero ttl never expires.
func (r *PostgresStore) CreateShare(ctx context.Context, tripID string, ttl time.Duration) (string, error) {
	ctx, span := dbSpan(ctx, "CreateShare", "INSERT", "trip_shares")
	defer span.End()

	token := uuid.New()
	var expiresAt *time.Time
	if ttl > 0 {
		t := r.now().UTC().Add(ttl)
		expiresAt = &t
	}

	query, args, err := psql.Insert("trip_shares").
		Columns("token", "trip_id", "expires_at").
		Values(token.String(), tripID, expiresAt).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("building share insert: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return "", fmt.Errorf("failed to create share: %w", err)
	}
	return token.String(), nil
}

// ResolveShare returns the trip ID behind a live share token.
func (r *PostgresStore) ResolveShare(ctx context.Context, token string) (string, error) {
	ctx, span := dbSpan(ctx, "ResolveShare", "SELECT", "trip_shares")
	defer span.End()

	parsed, err := uuid.Parse(token)
	if err != nil {
		return "", fmt.Errorf("%w: share %s", models.ErrNotFound, token)
	}

	query, args, err := psql.Select("trip_id").
		From("trip_shares").
		Where(sq.Eq{"token": parsed.String()}).
		Where(sq.Or{sq.Eq{"expires_at": nil}, sq.Gt{"expires_at": r.now().UTC()}}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("building share query: %w", err)
	}

	var tripID string
	if err := r.db.QueryRow(ctx, query, args...).Scan(&tripID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: share %s", models.ErrNotFound, token)
		}
		span.RecordError(err)
		return "", fmt.Errorf("failed to resolve share: %w", err)
	}
	return tripID, nil
}

// AddCompanion invites email to tripID.
func (r *PostgresStore) AddCompanion(ctx context.Context, tripID, email, role string) (models.Companion, error) {
	ctx, span := dbSpan(ctx, "AddCompanion", "INSERT", "trip_companions")
	defer span.End()

	id := uuid.New()
	query, args, err := psql.Insert("trip_companions").
		Columns("id", "trip_id", "email", "role").
		Values(id.String(), tripID, email, role).
		Suffix("ON CONFLICT (trip_id, email) DO UPDATE SET role = EXCLUDED.role RETURNING id, created_at").
		ToSql()
	if err != nil {
		return models.Companion{}, fmt.Errorf("building companion insert: %w", err)
	}

	c := models.Companion{TripID: tripID, Email: email, Role: role}
	var storedID uuid.UUID
	if err := r.db.QueryRow(ctx, query, args...).Scan(&storedID, &c.CreatedAt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return models.Companion{}, fmt.Errorf("failed to add companion: %w", err)
	}
	c.ID = storedID.String()
	return c, nil
}

// ListCompanions returns the companions of tripID, oldest first.
func (r *PostgresStore) ListCompanions(ctx context.Context, tripID string) ([]models.Companion, error) {
	ctx, span := dbSpan(ctx, "ListCompanions", "SELECT", "trip_companions")
	defer span.End()

	query, args, err := psql.Select("id", "email", "role", "created_at").
		From("trip_companions").
		Where(sq.Eq{"trip_id": tripID}).
		OrderBy("created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building companion query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query companions: %w", err)
	}
	defer rows.Close()

	var out []models.Companion
	for rows.Next() {
		var (
			id uuid.UUID
			c  = models.Companion{TripID: tripID}
		)
		if err := rows.Scan(&id, &c.Email, &c.Role, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan companion row: %w", err)
		}
		c.ID = id.String()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating companions: %w", err)
	}
	return out, nil
}
