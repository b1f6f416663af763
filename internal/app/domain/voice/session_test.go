package voice

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/domain/realtime"
	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
)

type fakeChannel struct {
	mu        sync.Mutex
	sent      [][]byte
	closed    bool
	onOpen    func()
	onClose   func()
	onMessage func([]byte)
}

func (c *fakeChannel) Label() string { return defaultDataChannelLabel }

func (c *fakeChannel) OnOpen(fn func()) {
	c.mu.Lock()
	c.onOpen = fn
	c.mu.Unlock()
}

func (c *fakeChannel) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *fakeChannel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("channel closed")
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) open() {
	c.mu.Lock()
	fn := c.onOpen
	c.mu.Unlock()
	fn()
}

func (c *fakeChannel) remoteClose() {
	c.mu.Lock()
	fn := c.onClose
	c.mu.Unlock()
	fn()
}

func (c *fakeChannel) receive(msg string) {
	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	fn([]byte(msg))
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// types lists the "type" field of every sent message.
func (c *fakeChannel) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, raw := range c.sent {
		var m struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(raw, &m)
		out = append(out, m.Type)
	}
	return out
}

type fakePeer struct {
	mu       sync.Mutex
	dc       *fakeChannel
	closed   bool
	answer   string
	outbound []string
	onState  func(realtime.PeerState)
}

func (p *fakePeer) CreateDataChannel(string) (realtime.DataChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dc = &fakeChannel{}
	return p.dc, nil
}

func (p *fakePeer) AddOutboundAudio(streamID string) error {
	p.mu.Lock()
	p.outbound = append(p.outbound, streamID)
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) CreateOffer(context.Context) (string, error) { return "v=0 offer", nil }

func (p *fakePeer) SetRemoteAnswer(sdp string) error {
	p.mu.Lock()
	p.answer = sdp
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) OnTrack(func(realtime.RemoteTrack)) {}

func (p *fakePeer) OnStateChange(fn func(realtime.PeerState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) channel() *fakeChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dc
}

func (p *fakePeer) state() (closed bool, answer string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.answer
}

type fakeFactory struct {
	mu    sync.Mutex
	peers []*fakePeer
}

func (f *fakeFactory) NewPeer() (realtime.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakeFactory) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

type fakeNegotiator struct {
	// hold, when set, blocks Negotiate until closed, ignoring ctx.
	hold    chan struct{}
	entered chan struct{}
	err     error
}

func (n *fakeNegotiator) CreateSession(context.Context) (realtime.SessionCredential, error) {
	return realtime.SessionCredential{SessionID: "sess_123", ClientSecret: "ek_abc"}, nil
}

func (n *fakeNegotiator) Negotiate(_ context.Context, offer, secret string) (string, error) {
	if n.entered != nil {
		close(n.entered)
	}
	if n.hold != nil {
		<-n.hold
	}
	if n.err != nil {
		return "", n.err
	}
	return "v=0 answer for " + secret, nil
}

type testStream struct {
	frames chan []float32
	once   sync.Once
}

func (s *testStream) ID() string { return "mic" }
func (s *testStream) Frames() <-chan []float32 { return s.frames }
func (s *testStream) Stop() { s.once.Do(func() { close(s.frames) }) }

type testMic struct {
	mu     sync.Mutex
	err    error
	stream *testStream
}

func (m *testMic) Acquire(context.Context) (realtime.MediaStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.stream = &testStream{frames: make(chan []float32, 8)}
	return m.stream, nil
}

func (m *testMic) current() *testStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) states() []models.VoiceState {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.VoiceState
	for _, ev := range l.events {
		if ev.Type == EventState {
			out = append(out, ev.State)
		}
	}
	return out
}

func (l *eventLog) ofType(t EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	sess  *Session
	neg   *fakeNegotiator
	peers *fakeFactory
	mic   *testMic
	log   *eventLog
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		neg:   &fakeNegotiator{},
		peers: &fakeFactory{},
		mic:   &testMic{},
		log:   &eventLog{},
	}
	h.sess = NewSession(cfg, Deps{
		Negotiator: h.neg,
		Peers:      h.peers,
		Mic:        h.mic,
		AdaptTrip: func(raw []byte) (*models.Trip, error) {
			var doc struct {
				Trip struct {
					Title string `json:"title"`
				} `json:"trip"`
			}
			if err := json.Unmarshal(raw, &doc); err != nil {
				return nil, err
			}
			return &models.Trip{Title: doc.Trip.Title}, nil
		},
		Logger: zap.NewNop(),
	})
	h.sess.Events().Subscribe(h.log.add)
	t.Cleanup(h.sess.Disconnect)
	return h
}

// connect starts the session and opens its data channel.
func (h *harness) connect(t *testing.T) *fakeChannel {
	t.Helper()
	require.NoError(t, h.sess.Start(context.Background()))
	dc := h.peers.last().channel()
	require.NotNil(t, dc)
	dc.open()
	require.Equal(t, models.VoiceConnected, h.sess.State())
	return dc
}

func TestSessionConnectsAndConfiguresAfterOpen(t *testing.T) {
	h := newHarness(t, Config{Session: realtime.SessionConfig{Voice: "alloy"}})

	require.NoError(t, h.sess.Start(context.Background()))
	assert.Equal(t, models.VoiceConnecting, h.sess.State())
	assert.Equal(t, "sess_123", h.sess.RemoteID())

	peer := h.peers.last()
	dc := peer.channel()
	_, answer := peer.state()
	assert.Equal(t, "v=0 answer for ek_abc", answer)
	assert.Equal(t, []string{"mic"}, peer.outbound)
	assert.Empty(t, dc.types(), "nothing may be sent before the channel opens")

	dc.open()
	assert.Equal(t, []string{realtime.TypeSessionUpdate}, dc.types())
	assert.Equal(t, models.VoiceConnected, h.sess.State())
	assert.Equal(t, []models.VoiceState{models.VoiceConnecting, models.VoiceConnected}, h.log.states())
}

func TestSessionRejectsSecondStart(t *testing.T) {
	h := newHarness(t, Config{})
	h.connect(t)

	err := h.sess.Start(context.Background())
	assert.ErrorIs(t, err, ErrSessionActive)
	assert.Equal(t, 1, h.peers.count())
}

func TestSessionRecordingTurn(t *testing.T) {
	h := newHarness(t, Config{})
	dc := h.connect(t)

	// audio outside recording is not forwarded
	h.sess.onAudioChunk(h.sess.cur, "AAAA")
	assert.Equal(t, []string{realtime.TypeSessionUpdate}, dc.types())

	require.NoError(t, h.sess.StartRecording())
	h.mic.current().frames <- []float32{0.5, -0.5}
	assert.Eventually(t, func() bool {
		types := dc.types()
		return len(types) == 2 && types[1] == realtime.TypeAudioAppend
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.sess.StopRecording())
	assert.Equal(t, models.VoiceProcessing, h.sess.State())
	assert.Equal(t, []string{
		realtime.TypeSessionUpdate,
		realtime.TypeAudioAppend,
		realtime.TypeAudioCommit,
		realtime.TypeResponseCreate,
	}, dc.types())

	dc.receive(`{"type":"response.audio_transcript.delta","delta":"Hello "}`)
	dc.receive(`{"type":"response.audio_transcript.delta","delta":"world"}`)
	dc.receive(`{"type":"response.audio_transcript.done"}`)

	deltas := h.log.ofType(EventTranscriptDelta)
	require.Len(t, deltas, 2)
	assert.Equal(t, "Hello world", deltas[1].Partial)
	done := h.log.ofType(EventTranscriptDone)
	require.Len(t, done, 1)
	assert.Equal(t, "Hello world", done[0].Text)
	assert.Equal(t, models.VoiceConnected, h.sess.State())
}

func TestSessionServerTurnDetectionSkipsCommit(t *testing.T) {
	h := newHarness(t, Config{Session: realtime.SessionConfig{
		TurnDetection: &realtime.TurnDetection{Type: "server_vad", Threshold: 0.5},
	}})
	dc := h.connect(t)

	require.NoError(t, h.sess.StartRecording())
	require.NoError(t, h.sess.StopRecording())
	assert.Equal(t, []string{realtime.TypeSessionUpdate}, dc.types())
	assert.Equal(t, models.VoiceProcessing, h.sess.State())
}

func TestSessionUserActionsRequireState(t *testing.T) {
	h := newHarness(t, Config{})

	assert.ErrorIs(t, h.sess.StartRecording(), ErrInvalidState)
	assert.ErrorIs(t, h.sess.StopRecording(), ErrInvalidState)
	assert.ErrorIs(t, h.sess.SendText("hi"), ErrInvalidState)

	h.connect(t)
	assert.ErrorIs(t, h.sess.StopRecording(), ErrInvalidState)
}

func TestSessionSendText(t *testing.T) {
	h := newHarness(t, Config{})
	dc := h.connect(t)

	require.NoError(t, h.sess.SendText("plan a hike near Tahoe"))
	assert.Equal(t, models.VoiceProcessing, h.sess.State())
	assert.Equal(t, []string{
		realtime.TypeSessionUpdate,
		realtime.TypeConversationItemCreate,
		realtime.TypeResponseCreate,
	}, dc.types())

	dc.receive(`{"type":"response.done"}`)
	assert.Equal(t, models.VoiceConnected, h.sess.State())
}

func TestSessionTripFromFunctionCall(t *testing.T) {
	h := newHarness(t, Config{})
	dc := h.connect(t)

	dc.receive(`{"type":"response.function_call_arguments.done","call_id":"call_1","arguments":"{\"trip\":{\"title\":\"Lake Tahoe\"}}"}`)

	trips := h.log.ofType(EventTrip)
	require.Len(t, trips, 1)
	assert.Equal(t, "Lake Tahoe", trips[0].Trip.Title)
	assert.Equal(t, []string{
		realtime.TypeSessionUpdate,
		realtime.TypeConversationItemCreate,
		realtime.TypeResponseCreate,
	}, dc.types())
}

func TestSessionRemoteErrorKeepsChannel(t *testing.T) {
	h := newHarness(t, Config{})
	dc := h.connect(t)
	require.NoError(t, h.sess.SendText("hello"))

	dc.receive(`{"type":"error","error":{"type":"invalid_request_error","message":"rate limited"}}`)

	errs := h.log.ofType(EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "remote", errs[0].Kind)
	assert.Equal(t, "rate limited", errs[0].Message)
	assert.Equal(t, models.VoiceConnected, h.sess.State())
	assert.False(t, dc.isClosed())
}

func TestSessionRemoteErrorDiscardsPartialTranscript(t *testing.T) {
	h := newHarness(t, Config{})
	dc := h.connect(t)
	require.NoError(t, h.sess.SendText("hello"))

	dc.receive(`{"type":"response.audio_transcript.delta","delta":"Stale "}`)
	dc.receive(`{"type":"error","error":{"message":"response cancelled"}}`)
	require.NoError(t, h.sess.StartRecording())
	dc.receive(`{"type":"response.audio_transcript.delta","delta":"Fresh"}`)
	dc.receive(`{"type":"response.audio_transcript.done"}`)

	done := h.log.ofType(EventTranscriptDone)
	require.Len(t, done, 1)
	assert.Equal(t, "Fresh", done[0].Text)
}

func TestSessionNewTurnDiscardsPartialTranscript(t *testing.T) {
	h := newHarness(t, Config{})
	dc := h.connect(t)

	dc.receive(`{"type":"response.audio_transcript.delta","delta":"leftover "}`)
	require.NoError(t, h.sess.StartRecording())
	assert.Empty(t, h.sess.cur.protocol.Transcript().String())

	require.NoError(t, h.sess.StopRecording())
	dc.receive(`{"type":"response.audio_transcript.delta","delta":"cut off"}`)
	dc.receive(`{"type":"response.done"}`)
	assert.Empty(t, h.sess.cur.protocol.Transcript().String())
	assert.Equal(t, models.VoiceConnected, h.sess.State())
}

func TestSessionMalformedMessageIsIgnored(t *testing.T) {
	h := newHarness(t, Config{})
	dc := h.connect(t)

	dc.receive(`{not json`)
	assert.Equal(t, models.VoiceConnected, h.sess.State())
	assert.Empty(t, h.log.ofType(EventError))
}

func TestSessionResponseTimeout(t *testing.T) {
	h := newHarness(t, Config{ResponseTimeout: 20 * time.Millisecond})
	dc := h.connect(t)

	require.NoError(t, h.sess.SendText("anyone there?"))
	assert.Eventually(t, func() bool { return h.sess.State() == models.VoiceError }, time.Second, 5*time.Millisecond)

	errs := h.log.ofType(EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "connection", errs[0].Kind)
	assert.True(t, dc.isClosed())
	closed, _ := h.peers.last().state()
	assert.True(t, closed)
}

func TestSessionChannelCloseFails(t *testing.T) {
	h := newHarness(t, Config{})
	dc := h.connect(t)

	dc.remoteClose()
	assert.Equal(t, models.VoiceError, h.sess.State())
	assert.NotEmpty(t, h.sess.LastError())
}

func TestSessionPeerFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.connect(t)

	peer := h.peers.last()
	peer.mu.Lock()
	onState := peer.onState
	peer.mu.Unlock()
	onState(realtime.PeerFailed)

	assert.Equal(t, models.VoiceError, h.sess.State())
}

func TestSessionPermissionDeniedThenRetry(t *testing.T) {
	h := newHarness(t, Config{})
	h.mic.err = errors.New("NotAllowedError")

	err := h.sess.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrPermissionDenied)
	assert.Equal(t, models.VoiceError, h.sess.State())
	assert.Equal(t, 0, h.peers.count())

	errs := h.log.ofType(EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "permission", errs[0].Kind)

	h.mic.mu.Lock()
	h.mic.err = nil
	h.mic.mu.Unlock()
	h.connect(t)
	assert.Empty(t, h.sess.LastError())
}

func TestSessionNegotiationFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.neg.err = models.ErrConnection

	err := h.sess.Start(context.Background())
	assert.ErrorIs(t, err, models.ErrConnection)
	assert.Equal(t, models.VoiceError, h.sess.State())
	closed, _ := h.peers.last().state()
	assert.True(t, closed)
}

func TestDisconnectDuringNegotiationDiscardsLateAnswer(t *testing.T) {
	h := newHarness(t, Config{})
	h.neg.hold = make(chan struct{})
	h.neg.entered = make(chan struct{})

	result := make(chan error, 1)
	go func() { result <- h.sess.Start(context.Background()) }()

	<-h.neg.entered
	h.sess.Disconnect()
	assert.Equal(t, models.VoiceIdle, h.sess.State())

	close(h.neg.hold)
	err := <-result
	assert.ErrorIs(t, err, ErrDisconnected)

	peer := h.peers.last()
	closed, answer := peer.state()
	assert.True(t, closed)
	assert.Empty(t, answer, "late answer must not be applied")
	assert.True(t, peer.channel().isClosed())
	assert.Equal(t, models.VoiceIdle, h.sess.State())
	assert.Empty(t, h.sess.RemoteID())
	assert.Empty(t, h.log.ofType(EventError))
	assert.Equal(t, []models.VoiceState{models.VoiceConnecting, models.VoiceIdle}, h.log.states())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	h := newHarness(t, Config{})
	dc := h.connect(t)

	h.sess.Disconnect()
	h.sess.Disconnect()
	assert.Equal(t, models.VoiceIdle, h.sess.State())
	assert.True(t, dc.isClosed())
	assert.Equal(t, []models.VoiceState{
		models.VoiceConnecting, models.VoiceConnected, models.VoiceIdle,
	}, h.log.states())

	// a channel close after disconnect is not a failure
	dc.remoteClose()
	assert.Equal(t, models.VoiceIdle, h.sess.State())
}
