package trips

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/domain/realtime"
	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
	"github.com/FACorreiaa/outdoor-explorer/internal/pkg/cache"
)

// Generator turns a natural-language prompt into a trip.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*models.Trip, error)
}

var (
	_ Generator = (*HTTPGenerator)(nil)
	_ Generator = (*GeminiGenerator)(nil)
	_ Generator = (*MemoGenerator)(nil)
)

const maxBackendError = 256

// HTTPGenerator calls the itinerary backend: POST {"prompt": ...} returning a trip document.
type HTTPGenerator struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewHTTPGenerator creates an HTTPGenerator. A nil client gets an otelhttp-instrumented default.
func NewHTTPGenerator(url string, client *http.Client, logger *zap.Logger) *HTTPGenerator {
	if client == nil {
		client = &http.Client{
			Timeout:   2 * time.Minute,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &HTTPGenerator{url: url, client: client, logger: logger}
}

func (g *HTTPGenerator) Generate(ctx context.Context, prompt string) (*models.Trip, error) {
	ctx, span := otel.Tracer("HTTPGenerator").Start(ctx, "Generate")
	defer span.End()

	l := g.logger.With(zap.String("method", "Generate"))

	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return nil, fmt.Errorf("encoding prompt: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building itinerary request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "backend unreachable")
		return nil, fmt.Errorf("%w: itinerary backend: %v", models.ErrConnection, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading itinerary response: %v", models.ErrConnection, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxBackendError {
			msg = msg[:maxBackendError] + "..."
		}
		l.Error("Itinerary backend returned an error", zap.Int("status", resp.StatusCode), zap.String("body", msg))
		span.SetStatus(codes.Error, "backend error")
		return nil, fmt.Errorf("%w: itinerary backend returned %d: %s", models.ErrConnection, resp.StatusCode, msg)
	}

	trip, err := Adapt(data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unusable document")
		return nil, err
	}
	span.SetStatus(codes.Ok, "generated")
	return trip, nil
}

const tripInstructions = `You are an outdoor trip planner. Answer with a single JSON object and nothing else:
{"title","description","difficultyLevel","priceEstimate","duration","location",
"mapCenter":{"lng","lat"},
"markers":[{"name","coordinates":{"lng","lat"},"description","elevation","details"}],
"journey":{"segments":[{"mode":"walking|driving|cycling|transit|hiking","from","to",
"distance":meters,"duration":seconds,"geometry":{"type":"LineString","coordinates":[[lng,lat],...]},
"elevationGain","terrain","description"}],"totalDistance","totalDuration","bounds":[[swLng,swLat],[neLng,neLat]]},
"itinerary":[{"day","title","description","activities":[{"name","type","duration","description",
"permitRequired","permitDetails","outfitters":[{"name","website","phone"}]}]}]}
Use one itinerary entry per day of the trip.`

// GeminiGenerator asks a Gemini model for the trip document.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGeminiGenerator creates a GeminiGenerator for the Gemini API.
func NewGeminiGenerator(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiGenerator{client: client, model: model, logger: logger}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (*models.Trip, error) {
	ctx, span := otel.Tracer("GeminiGenerator").Start(ctx, "Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", g.model))

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(tripInstructions, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.7),
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		return nil, fmt.Errorf("%w: gemini: %v", models.ErrConnection, err)
	}

	text := resp.Text()
	payload, err := realtime.ExtractTripPayload(text)
	if err != nil {
		g.logger.Warn("Gemini answer held no trip document", zap.String("method", "Generate"), zap.Int("length", len(text)))
		span.SetStatus(codes.Error, "no trip document")
		return nil, err
	}
	trip, err := Adapt(payload)
	if err != nil {
		span.SetStatus(codes.Error, "unusable document")
		return nil, err
	}
	span.SetStatus(codes.Ok, "generated")
	return trip, nil
}

// MemoGenerator memoizes another Generator per normalized prompt.
type MemoGenerator struct {
	next   Generator
	memo   *gocache.Cache
	logger *zap.Logger
}

// NewMemoGenerator wraps next with a memo whose entries live for ttl.
func NewMemoGenerator(next Generator, ttl time.Duration, logger *zap.Logger) *MemoGenerator {
	return &MemoGenerator{
		next:   next,
		memo:   gocache.New(ttl, 2*ttl),
		logger: logger,
	}
}

func (g *MemoGenerator) Generate(ctx context.Context, prompt string) (*models.Trip, error) {
	key, err := cache.KeyFor(strings.ToLower(strings.Join(strings.Fields(prompt), " ")))
	if err != nil {
		return nil, err
	}
	if v, ok := g.memo.Get(key); ok {
		g.logger.Debug("Itinerary memo hit", zap.String("key", key))
		return cloneTrip(v.(*models.Trip))
	}

	trip, err := g.next.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	g.memo.SetDefault(key, trip)
	return cloneTrip(trip)
}

// Len is the number of memoized prompts.
func (g *MemoGenerator) Len() int { return g.memo.ItemCount() }

func cloneTrip(t *models.Trip) (*models.Trip, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("copying trip: %w", err)
	}
	var out models.Trip
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("copying trip: %w", err)
	}
	return &out, nil
}
