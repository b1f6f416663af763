package routes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/domain/realtime"
	"github.com/FACorreiaa/outdoor-explorer/internal/app/domain/routemap"
	"github.com/FACorreiaa/outdoor-explorer/internal/app/domain/trips"
	"github.com/FACorreiaa/outdoor-explorer/internal/app/domain/voice"
	"github.com/FACorreiaa/outdoor-explorer/internal/app/middleware"
	"github.com/FACorreiaa/outdoor-explorer/internal/pkg/config"
)

const (
	planRequestsPerMinute = 10
	voiceDialsPerMinute   = 10
)

type AppHandlers struct {
	Trips *trips.Handler
	Maps  *routemap.Handler
	Voice *voice.Handler
	Relay *voice.Relay
}

// Setup builds every handler and registers the routes. db may be nil, in which case trips
// live in memory only and sharing is unavailable. The returned func releases caches.
func Setup(ctx context.Context, r *gin.Engine, cfg *config.Config, db trips.Querier, log *zap.Logger) (func(), error) {
	handlers, cleanup, err := setupDependencies(ctx, cfg, db, log)
	if err != nil {
		return nil, fmt.Errorf("failed to setup dependencies: %w", err)
	}
	setupRouter(ctx, r, handlers, log)
	return cleanup, nil
}

func setupDependencies(ctx context.Context, cfg *config.Config, db trips.Querier, log *zap.Logger) (*AppHandlers, func(), error) {
	var (
		storage trips.Storage
		shares  trips.ShareStore
	)
	if db != nil {
		store := trips.NewPostgresStore(db, log)
		storage, shares = store, store
	} else {
		log.Warn("No database configured, trips are kept in memory and sharing is disabled")
	}
	tripCache := trips.NewCache(storage, cfg.Itinerary.TripCacheTTL, log)

	gen, err := newGenerator(ctx, cfg.Itinerary, log)
	if err != nil {
		tripCache.Close()
		return nil, nil, err
	}
	tripService := trips.NewService(trips.NewMemoGenerator(gen, cfg.Itinerary.MemoTTL, log), tripCache, shares, log)

	normalizer := routemap.NewNormalizer(log)
	renderer := routemap.NewRenderer(log, normalizer, routemap.NewInteraction(log))
	views := routemap.NewSceneRegistry(renderer, cfg.Map.SceneTTL)
	mapSettings := routemap.MapSettings{
		AccessToken: cfg.Map.AccessToken,
		Style:       cfg.Map.Style,
		DefaultZoom: cfg.Map.DefaultZoom,
		Fit: routemap.FitOptions{
			Padding:  cfg.Map.FitPadding,
			MaxZoom:  cfg.Map.FitMaxZoom,
			Duration: time.Duration(cfg.Map.FitDurationMs) * time.Millisecond,
		},
	}

	rt := cfg.Realtime
	issuer := realtime.NewIssuer(realtime.IssuerConfig{
		SessionsURL:  rt.ProviderSessionsURL,
		APIKey:       rt.APIKey,
		Model:        rt.Model,
		Voice:        rt.Voice,
		Instructions: rt.Instructions,
	}, nil, log)
	negotiator := realtime.NewNegotiator(realtime.NegotiatorConfig{
		SessionsURL: rt.ProxySessionsURL,
		BaseURL:     rt.BaseURL,
		Model:       rt.Model,
	}, nil, log)
	peers, err := realtime.NewPionFactory(rt.ICEServers)
	if err != nil {
		tripCache.Close()
		return nil, nil, fmt.Errorf("failed to create peer factory: %w", err)
	}

	handlers := &AppHandlers{
		Trips: trips.NewHandler(tripService, log),
		Maps:  routemap.NewHandler(tripService, renderer, views, mapSettings, log),
		Voice: voice.NewHandler(issuer, log),
		Relay: voice.NewRelay(voice.RelayConfig{
			Session:    VoiceSessionConfig(rt),
			Negotiator: negotiator,
			Peers:      peers,
			AdaptTrip:  trips.Adapt,
		}, log),
	}
	return handlers, tripCache.Close, nil
}

// newGenerator prefers Gemini when a key is configured and falls back to the HTTP backend.
func newGenerator(ctx context.Context, cfg config.ItineraryConfig, log *zap.Logger) (trips.Generator, error) {
	switch {
	case cfg.GeminiAPIKey != "":
		gen, err := trips.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini generator: %w", err)
		}
		log.Info("Itinerary generation via Gemini", zap.String("model", cfg.GeminiModel))
		return gen, nil
	case cfg.BackendURL != "":
		log.Info("Itinerary generation via HTTP backend", zap.String("url", cfg.BackendURL))
		return trips.NewHTTPGenerator(cfg.BackendURL, nil, log), nil
	default:
		return nil, errors.New("no itinerary backend configured: set GEMINI_API_KEY or ITINERARY_BACKEND_URL")
	}
}

// VoiceSessionConfig maps configuration onto the realtime session sent after the data
// channel opens.
func VoiceSessionConfig(rt config.RealtimeConfig) voice.Config {
	session := realtime.SessionConfig{
		Modalities:        []string{"text", "audio"},
		Instructions:      rt.Instructions,
		Voice:             rt.Voice,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection: &realtime.TurnDetection{
			Type:              "server_vad",
			Threshold:         rt.VADThreshold,
			PrefixPaddingMs:   rt.PrefixPaddingMs,
			SilenceDurationMs: rt.SilenceDurationMs,
		},
		Tools:      []realtime.Tool{realtime.ShowTripTool()},
		ToolChoice: "auto",
	}
	if rt.TranscribeModel != "" {
		session.InputAudioTranscription = &realtime.TranscriptionConfig{Model: rt.TranscribeModel}
	}
	return voice.Config{
		Session:            session,
		NegotiationTimeout: rt.NegotiationTimeout,
		ResponseTimeout:    rt.ResponseTimeout,
	}
}

func setupRouter(ctx context.Context, r *gin.Engine, h *AppHandlers, log *zap.Logger) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	planLimiter := middleware.NewRateLimiter(ctx, log, planRequestsPerMinute, time.Minute)
	dialLimiter := middleware.NewRateLimiter(ctx, log, voiceDialsPerMinute, time.Minute)

	api := r.Group("/api")
	{
		api.POST("/itinerary", middleware.RateLimitMiddleware(planLimiter), h.Trips.PlanItinerary)

		tripsGroup := api.Group("/trips/:id")
		tripsGroup.GET("", h.Trips.GetTrip)
		tripsGroup.PUT("", h.Trips.UpdateTrip)
		tripsGroup.GET("/map", h.Maps.RenderTripMap)
		tripsGroup.POST("/share", h.Trips.ShareTrip)
		tripsGroup.POST("/companions", h.Trips.InviteCompanion)
		tripsGroup.GET("/companions", h.Trips.ListCompanions)

		api.GET("/shared/:token", h.Trips.SharedTrip)

		api.POST("/maps/:view/events", h.Maps.HandleMapEvent)
		api.DELETE("/maps/:view", h.Maps.ReleaseView)

		api.POST("/realtime/sessions", h.Voice.CreateSession)
	}

	r.GET("/ws/voice", middleware.RateLimitMiddleware(dialLimiter), h.Relay.HandleVoice)
}
