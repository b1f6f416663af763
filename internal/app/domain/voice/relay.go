package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/domain/realtime"
	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Control frame types sent by the browser.
const (
	ControlStart       = "start"
	ControlStop        = "stop"
	ControlMic         = "mic"
	ControlRecordStart = "record.start"
	ControlRecordStop  = "record.stop"
	ControlText        = "text"
)

// Frames the relay sends to the browser besides session events.
const (
	frameMicRequest = "mic.request"
	frameMicStop    = "mic.stop"
)

// micFrameBuffer bounds queued microphone frames; excess frames are dropped.
const micFrameBuffer = 64

type control struct {
	Type    string `json:"type"`
	Granted bool   `json:"granted"`
	Reason  string `json:"reason,omitempty"`
	Text    string `json:"text,omitempty"`
}

// RelayConfig wires a Relay.
type RelayConfig struct {
	Session       Config
	Negotiator    Negotiator
	Peers         realtime.PeerFactory
	AdaptTrip     TripAdapter
	MaxConcurrent int
}

// Relay bridges a browser websocket to a server-side realtime Session: the browser sends
// microphone PCM16 and control frames, the relay pushes session events and assistant audio.
type Relay struct {
	cfg    RelayConfig
	sem    chan struct{}
	logger *zap.Logger
}

// NewRelay creates a Relay.
func NewRelay(cfg RelayConfig, logger *zap.Logger) *Relay {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 100
	}
	return &Relay{cfg: cfg, sem: make(chan struct{}, maxConc), logger: logger}
}

// HandleVoice upgrades the request and runs one relayed session.
func (h *Relay) HandleVoice(c *gin.Context) {
	h.ServeHTTP(c.Writer, c.Request)
}

// ServeHTTP upgrades the connection and runs the relayed session.
// Returns 503 if at max concurrent capacity.
func (h *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		RelayRejected.Inc()
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	RelayConnectionsActive.Inc()
	RelayConnectionsTotal.Inc()
	defer RelayConnectionsActive.Dec()

	h.run(r.Context(), conn)
}

func (h *Relay) run(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	out := &wsWriter{conn: conn}
	mic := newBrowserMic(out)
	emitter := NewEmitter()
	unsubscribe := emitter.Subscribe(func(ev Event) {
		if err := out.writeJSON(ev); err != nil {
			h.logger.Debug("write event", zap.Error(err))
		}
	})

	sess := NewSession(h.cfg.Session, Deps{
		Negotiator: h.cfg.Negotiator,
		Peers:      h.cfg.Peers,
		Mic:        mic,
		Player:     out,
		AdaptTrip:  h.cfg.AdaptTrip,
		Emitter:    emitter,
		Logger:     h.logger,
	})
	l := h.logger.With(zap.String("voice_session", sess.ID()))
	l.Info("voice relay started")

	var wg sync.WaitGroup
	defer func() {
		sess.Disconnect()
		mic.close()
		wg.Wait()
		unsubscribe()
		l.Info("voice relay ended")
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			l.Info("connection closed", zap.Error(err))
			return
		}

		if msgType == websocket.BinaryMessage {
			RelayFrames.WithLabelValues("in", "audio").Inc()
			mic.push(realtime.DecodePCM16LE(data))
			continue
		}
		RelayFrames.WithLabelValues("in", "control").Inc()

		var msg control
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reportError(out, fmt.Errorf("%w: invalid control frame", models.ErrBadRequest))
			continue
		}

		switch msg.Type {
		case ControlStart:
			// Start waits for the mic reply, which arrives through this loop.
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := sess.Start(ctx); err != nil && !errors.Is(err, ErrDisconnected) {
					l.Warn("voice session start failed", zap.Error(err))
					if errors.Is(err, ErrSessionActive) {
						h.reportError(out, err)
					}
				}
			}()
		case ControlStop:
			sess.Disconnect()
		case ControlMic:
			mic.resolve(msg.Granted, msg.Reason)
		case ControlRecordStart:
			h.reportError(out, sess.StartRecording())
		case ControlRecordStop:
			h.reportError(out, sess.StopRecording())
		case ControlText:
			h.reportError(out, sess.SendText(msg.Text))
		default:
			h.reportError(out, fmt.Errorf("%w: unknown control %q", models.ErrBadRequest, msg.Type))
		}
	}
}

func (h *Relay) reportError(out *wsWriter, err error) {
	if err == nil {
		return
	}
	if werr := out.writeJSON(Event{Type: EventError, Message: err.Error(), Kind: "request"}); werr != nil {
		h.logger.Debug("write error frame", zap.Error(werr))
	}
}

// wsWriter serializes writes to the websocket and plays inbound assistant audio.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

var _ realtime.Player = (*wsWriter)(nil)

func (w *wsWriter) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	RelayFrames.WithLabelValues("out", "event").Inc()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// Play forwards an assistant audio payload as a binary frame.
func (w *wsWriter) Play(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	RelayFrames.WithLabelValues("out", "audio").Inc()
	return w.conn.WriteMessage(websocket.BinaryMessage, payload)
}

// browserMic is a MicrophoneSource backed by the browser's getUserMedia, reached over the
// relay: Acquire asks the browser and waits for its answer.
type browserMic struct {
	out *wsWriter

	mu      sync.Mutex
	pending chan micAnswer
	stream  *browserStream
	closed  bool
}

type micAnswer struct {
	granted bool
	reason  string
}

func newBrowserMic(out *wsWriter) *browserMic {
	return &browserMic{out: out}
}

func (m *browserMic) Acquire(ctx context.Context) (realtime.MediaStream, error) {
	answer := make(chan micAnswer, 1)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: relay closed", models.ErrPermissionDenied)
	}
	m.pending = answer
	m.mu.Unlock()

	if err := m.out.writeJSON(control{Type: frameMicRequest}); err != nil {
		return nil, fmt.Errorf("%w: asking browser for microphone: %v", models.ErrPermissionDenied, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case a, ok := <-answer:
		if !ok {
			return nil, fmt.Errorf("%w: relay closed", models.ErrPermissionDenied)
		}
		if !a.granted {
			reason := a.reason
			if reason == "" {
				reason = "user declined"
			}
			return nil, fmt.Errorf("%w: %s", models.ErrPermissionDenied, reason)
		}
	}

	s := &browserStream{id: "browser-mic", frames: make(chan []float32, micFrameBuffer), mic: m}
	m.mu.Lock()
	if m.stream != nil {
		m.stream.closeFrames()
	}
	m.stream = s
	m.mu.Unlock()
	return s, nil
}

func (m *browserMic) resolve(granted bool, reason string) {
	m.mu.Lock()
	ch := m.pending
	m.pending = nil
	m.mu.Unlock()
	if ch != nil {
		ch <- micAnswer{granted: granted, reason: reason}
	}
}

func (m *browserMic) push(frame []float32) {
	m.mu.Lock()
	s := m.stream
	m.mu.Unlock()
	if s != nil {
		s.push(frame)
	}
}

func (m *browserMic) close() {
	m.mu.Lock()
	m.closed = true
	ch, s := m.pending, m.stream
	m.pending, m.stream = nil, nil
	m.mu.Unlock()
	if ch != nil {
		close(ch)
	}
	if s != nil {
		s.closeFrames()
	}
}

func (m *browserMic) detach(s *browserStream) {
	m.mu.Lock()
	if m.stream == s {
		m.stream = nil
	}
	m.mu.Unlock()
}

type browserStream struct {
	id     string
	frames chan []float32
	mic    *browserMic

	mu     sync.Mutex
	closed bool
}

func (s *browserStream) ID() string { return s.id }
func (s *browserStream) Frames() <-chan []float32 { return s.frames }

// Stop releases the stream and tells the browser to stop its tracks.
func (s *browserStream) Stop() {
	if !s.closeFrames() {
		return
	}
	s.mic.detach(s)
	_ = s.mic.out.writeJSON(control{Type: frameMicStop})
}

func (s *browserStream) push(frame []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.frames <- frame:
	default:
		RelayFrames.WithLabelValues("in", "audio_dropped").Inc()
	}
}

// closeFrames reports whether this call closed the stream.
func (s *browserStream) closeFrames() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.frames)
	return true
}
