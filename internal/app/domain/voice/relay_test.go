package voice

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/domain/realtime"
	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
)

type relayFrame struct {
	Type    string            `json:"type"`
	State   models.VoiceState `json:"state"`
	Kind    string            `json:"kind"`
	Message string            `json:"message"`
}

func startRelay(t *testing.T, maxConc int) (*websocket.Conn, *fakeFactory) {
	t.Helper()
	peers := &fakeFactory{}
	relay := NewRelay(RelayConfig{
		Negotiator:    &fakeNegotiator{},
		Peers:         peers,
		MaxConcurrent: maxConc,
	}, zap.NewNop())

	srv := httptest.NewServer(relay)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, peers
}

func sendControl(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// readUntil reads text frames until match returns true.
func readUntil(t *testing.T, conn *websocket.Conn, match func(relayFrame) bool) relayFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		msgType, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if msgType != websocket.TextMessage {
			continue
		}
		var f relayFrame
		require.NoError(t, json.Unmarshal(data, &f))
		if match(f) {
			return f
		}
	}
}

func isState(st models.VoiceState) func(relayFrame) bool {
	return func(f relayFrame) bool { return f.Type == string(EventState) && f.State == st }
}

func pcmFrame(samples ...int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

func TestRelaySessionLifecycle(t *testing.T) {
	conn, peers := startRelay(t, 0)

	sendControl(t, conn, control{Type: ControlStart})
	readUntil(t, conn, isState(models.VoiceConnecting))
	readUntil(t, conn, func(f relayFrame) bool { return f.Type == frameMicRequest })
	sendControl(t, conn, control{Type: ControlMic, Granted: true})

	var peer *fakePeer
	require.Eventually(t, func() bool {
		peer = peers.last()
		if peer == nil {
			return false
		}
		_, answer := peer.state()
		return answer != ""
	}, 2*time.Second, 5*time.Millisecond)
	dc := peer.channel()
	dc.open()
	readUntil(t, conn, isState(models.VoiceConnected))

	sendControl(t, conn, control{Type: ControlRecordStart})
	readUntil(t, conn, isState(models.VoiceRecording))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, pcmFrame(math.MaxInt16, math.MinInt16, 0)))
	assert.Eventually(t, func() bool {
		for _, typ := range dc.types() {
			if typ == realtime.TypeAudioAppend {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	sendControl(t, conn, control{Type: ControlRecordStop})
	readUntil(t, conn, isState(models.VoiceProcessing))

	sendControl(t, conn, control{Type: ControlStop})
	readUntil(t, conn, isState(models.VoiceIdle))
	assert.True(t, dc.isClosed())
}

func TestRelayMicrophoneDenied(t *testing.T) {
	conn, peers := startRelay(t, 0)

	sendControl(t, conn, control{Type: ControlStart})
	readUntil(t, conn, func(f relayFrame) bool { return f.Type == frameMicRequest })
	sendControl(t, conn, control{Type: ControlMic, Granted: false, Reason: "NotAllowedError"})

	readUntil(t, conn, isState(models.VoiceError))
	f := readUntil(t, conn, func(f relayFrame) bool { return f.Type == string(EventError) })
	assert.Equal(t, "permission", f.Kind)
	assert.Contains(t, f.Message, "NotAllowedError")
	assert.Nil(t, peers.last())
}

func TestRelayRejectsBadControl(t *testing.T) {
	conn, _ := startRelay(t, 0)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))
	f := readUntil(t, conn, func(f relayFrame) bool { return f.Type == string(EventError) })
	assert.Equal(t, "request", f.Kind)

	sendControl(t, conn, control{Type: "dance"})
	f = readUntil(t, conn, func(f relayFrame) bool { return f.Type == string(EventError) })
	assert.Contains(t, f.Message, "dance")

	sendControl(t, conn, control{Type: ControlRecordStart})
	f = readUntil(t, conn, func(f relayFrame) bool { return f.Type == string(EventError) })
	assert.Contains(t, f.Message, ErrInvalidState.Error())
}

func TestRelayAtCapacity(t *testing.T) {
	peers := &fakeFactory{}
	relay := NewRelay(RelayConfig{Negotiator: &fakeNegotiator{}, Peers: peers, MaxConcurrent: 1}, zap.NewNop())
	relay.sem <- struct{}{}

	w := httptest.NewRecorder()
	relay.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws/voice", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
