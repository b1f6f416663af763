package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type PostgresConfig struct {
	Host     string
	Port     string
	DB       string
	Username string
	Password string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

type RepositoriesConfig struct {
	Postgres PostgresConfig
}

// RealtimeConfig configures the voice session with the realtime provider.
type RealtimeConfig struct {
	APIKey string
	// ProviderSessionsURL issues ephemeral credentials (called by the backend proxy).
	ProviderSessionsURL string
	// ProxySessionsURL is the backend proxy the negotiator calls for credentials.
	ProxySessionsURL string
	BaseURL          string
	Model            string
	Voice            string
	Instructions     string
	TranscribeModel  string

	VADThreshold      float64
	PrefixPaddingMs   int
	SilenceDurationMs int

	NegotiationTimeout time.Duration
	ResponseTimeout    time.Duration
	ICEServers         []string
}

// MapConfig holds map engine and viewport fitting options.
type MapConfig struct {
	AccessToken   string
	Style         string
	DefaultZoom   float64
	FitPadding    float64
	FitMaxZoom    float64
	FitDurationMs int
	SceneTTL      time.Duration
}

// ItineraryConfig configures the prompt-to-itinerary backend.
type ItineraryConfig struct {
	BackendURL   string
	GeminiAPIKey string
	GeminiModel  string
	MemoTTL      time.Duration
	TripCacheTTL time.Duration
}

type Config struct {
	Repositories RepositoriesConfig
	ServerPort   string
	MetricsAddr  string
	PprofAddr    string
	OTLPEndpoint string
	Realtime     RealtimeConfig
	Map          MapConfig
	Itinerary    ItineraryConfig
}

func Load() (*Config, error) {
	serverPort := getEnvOrDefault("SERVER_PORT", "8091")
	cfg := &Config{
		Repositories: RepositoriesConfig{
			Postgres: PostgresConfig{
				Host:     getEnvOrDefault("POSTGRES_HOST", "localhost"),
				Port:     getEnvOrDefault("POSTGRES_PORT", "5454"),
				DB:       getEnvOrDefault("POSTGRES_DB", "outdoor_explorer"),
				Username: getEnvOrDefault("POSTGRES_USER", "postgres"),
				Password: getEnvOrDefault("POSTGRES_PASSWORD", ""),
				SSLMode:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
				MaxConns: 30,
				MinConns: 5,
			},
		},
		ServerPort:   serverPort,
		MetricsAddr:  getEnvOrDefault("METRICS_ADDR", ":9092"),
		PprofAddr:    getEnvOrDefault("PPROF_ADDR", "localhost:6060"),
		OTLPEndpoint: getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4318"),
		Realtime: RealtimeConfig{
			APIKey:              os.Getenv("OPENAI_API_KEY"),
			ProviderSessionsURL: getEnvOrDefault("REALTIME_PROVIDER_SESSIONS_URL", "https://api.openai.com/v1/realtime/sessions"),
			ProxySessionsURL:    getEnvOrDefault("REALTIME_PROXY_SESSIONS_URL", "http://localhost:"+serverPort+"/api/realtime/sessions"),
			BaseURL:             getEnvOrDefault("REALTIME_BASE_URL", "https://api.openai.com/v1/realtime"),
			Model:               getEnvOrDefault("REALTIME_MODEL", "gpt-4o-realtime-preview"),
			Voice:               getEnvOrDefault("REALTIME_VOICE", "alloy"),
			Instructions:        getEnvOrDefault("REALTIME_INSTRUCTIONS", "You are a friendly outdoor trip planner. When the user settles on a trip, reply with the trip as JSON."),
			TranscribeModel:     getEnvOrDefault("REALTIME_TRANSCRIBE_MODEL", "whisper-1"),
			VADThreshold:        getEnvFloat("REALTIME_VAD_THRESHOLD", 0.5),
			PrefixPaddingMs:     getEnvInt("REALTIME_VAD_PREFIX_PADDING_MS", 300),
			SilenceDurationMs:   getEnvInt("REALTIME_VAD_SILENCE_MS", 500),
			NegotiationTimeout:  getEnvDuration("REALTIME_NEGOTIATION_TIMEOUT", 30*time.Second),
			ResponseTimeout:     getEnvDuration("REALTIME_RESPONSE_TIMEOUT", 30*time.Second),
			ICEServers:          getEnvList("REALTIME_ICE_SERVERS", []string{"stun:stun.l.google.com:19302"}),
		},
		Map: MapConfig{
			AccessToken:   os.Getenv("MAPBOX_ACCESS_TOKEN"),
			Style:         getEnvOrDefault("MAPBOX_STYLE", "mapbox://styles/mapbox/outdoors-v12"),
			DefaultZoom:   getEnvFloat("MAP_DEFAULT_ZOOM", 10),
			FitPadding:    getEnvFloat("MAP_FIT_PADDING", 50),
			FitMaxZoom:    getEnvFloat("MAP_FIT_MAX_ZOOM", 14),
			FitDurationMs: getEnvInt("MAP_FIT_DURATION_MS", 1000),
			SceneTTL:      getEnvDuration("MAP_SCENE_TTL", 30*time.Minute),
		},
		Itinerary: ItineraryConfig{
			BackendURL:   os.Getenv("ITINERARY_BACKEND_URL"),
			GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
			GeminiModel:  getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
			MemoTTL:      getEnvDuration("ITINERARY_MEMO_TTL", 10*time.Minute),
			TripCacheTTL: getEnvDuration("TRIP_CACHE_TTL", 15*time.Minute),
		},
	}

	if cfg.Repositories.Postgres.Password == "" {
		return nil, fmt.Errorf("POSTGRES_PASSWORD environment variable is required")
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
