package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FACorreiaa/outdoor-explorer/internal/pkg/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(backendURL string) *config.Config {
	return &config.Config{
		Realtime: config.RealtimeConfig{
			Model:              "gpt-4o-realtime-preview",
			Voice:              "alloy",
			Instructions:       "plan trips",
			TranscribeModel:    "whisper-1",
			VADThreshold:       0.5,
			PrefixPaddingMs:    300,
			SilenceDurationMs:  500,
			NegotiationTimeout: time.Second,
			ResponseTimeout:    time.Second,
		},
		Map: config.MapConfig{
			Style:         "mapbox://styles/mapbox/outdoors-v12",
			DefaultZoom:   10,
			FitPadding:    50,
			FitMaxZoom:    14,
			FitDurationMs: 1000,
			SceneTTL:      time.Minute,
		},
		Itinerary: config.ItineraryConfig{
			BackendURL:   backendURL,
			MemoTTL:      time.Minute,
			TripCacheTTL: time.Minute,
		},
	}
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	fixture, err := os.ReadFile("../app/domain/trips/testdata/lake_tahoe.json")
	require.NoError(t, err)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(fixture)
	}))
	t.Cleanup(backend.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := gin.New()
	cleanup, err := Setup(ctx, r, testConfig(backend.URL), nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return r
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	w := do(newTestRouter(t), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPlanThenRenderMap(t *testing.T) {
	r := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/itinerary", gin.H{"prompt": "3-day moderate hike near Lake Tahoe"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var trip struct {
		ID        string            `json:"id"`
		Itinerary []json.RawMessage `json:"itinerary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trip))
	require.NotEmpty(t, trip.ID)
	assert.Len(t, trip.Itinerary, 3)

	w = do(r, http.MethodGet, "/api/trips/"+trip.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/api/trips/"+trip.ID+"/map?routeType=walk", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var mapResp struct {
		ViewID string `json:"viewId"`
		Scene  struct {
			Layers []json.RawMessage `json:"layers"`
		} `json:"scene"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mapResp))
	assert.NotEmpty(t, mapResp.ViewID)
	assert.NotEmpty(t, mapResp.Scene.Layers)

	w = do(r, http.MethodDelete, "/api/maps/"+mapResp.ViewID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRoutesWithoutBackingServices(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown trip", http.MethodGet, "/api/trips/missing", nil, http.StatusNotFound},
		{"empty prompt", http.MethodPost, "/api/itinerary", gin.H{"prompt": ""}, http.StatusBadRequest},
		{"share needs a database", http.MethodGet, "/api/shared/abc", nil, http.StatusBadGateway},
		{"realtime credential without api key", http.MethodPost, "/api/realtime/sessions", nil, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestSetupRequiresGenerator(t *testing.T) {
	_, err := Setup(context.Background(), gin.New(), testConfig(""), nil, zap.NewNop())
	assert.Error(t, err)
}

func TestVoiceSessionConfig(t *testing.T) {
	cfg := VoiceSessionConfig(testConfig("").Realtime)

	s := cfg.Session
	assert.Equal(t, []string{"text", "audio"}, s.Modalities)
	assert.Equal(t, "pcm16", s.InputAudioFormat)
	require.NotNil(t, s.TurnDetection)
	assert.Equal(t, "server_vad", s.TurnDetection.Type)
	assert.Equal(t, 500, s.TurnDetection.SilenceDurationMs)
	require.NotNil(t, s.InputAudioTranscription)
	assert.Equal(t, "whisper-1", s.InputAudioTranscription.Model)
	require.Len(t, s.Tools, 1)
	assert.Equal(t, "show_trip", s.Tools[0].Name)
	assert.Equal(t, time.Second, cfg.NegotiationTimeout)
}
