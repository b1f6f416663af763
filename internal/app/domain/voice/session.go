package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/domain/realtime"
	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
	"github.com/FACorreiaa/outdoor-explorer/internal/app/observability/metrics"
)

var (
	// ErrSessionActive is returned by Start unless the session is idle or failed.
	ErrSessionActive = errors.New("voice session already active")
	// ErrInvalidState is returned by user actions not allowed in the current state.
	ErrInvalidState = errors.New("action not allowed in current voice state")
	// ErrDisconnected is returned by a Start that was overtaken by Disconnect.
	ErrDisconnected = errors.New("voice session disconnected")
)

const defaultDataChannelLabel = "oai-events"

// Negotiator issues credentials and exchanges SDP.
type Negotiator interface {
	CreateSession(ctx context.Context) (realtime.SessionCredential, error)
	Negotiate(ctx context.Context, offerSDP, clientSecret string) (string, error)
}

// TripAdapter turns an extracted trip payload into the canonical trip.
type TripAdapter func(raw []byte) (*models.Trip, error)

// Config tunes a Session.
type Config struct {
	Session            realtime.SessionConfig
	NegotiationTimeout time.Duration
	ResponseTimeout    time.Duration
	DataChannelLabel   string
}

// Deps are the collaborators of a Session.
type Deps struct {
	Negotiator Negotiator
	Peers      realtime.PeerFactory
	Mic        realtime.MicrophoneSource
	Player     realtime.Player
	AdaptTrip  TripAdapter
	Emitter    *Emitter
	Logger     *zap.Logger
}

// attempt holds everything one Start acquired. Fields are nil-ed under Session.mu as they
// are released so each resource is closed exactly once.
type attempt struct {
	// ctx lives as long as the attempt; it outlives the Start call.
	ctx      context.Context
	cancel   context.CancelFunc
	pipeline *realtime.Pipeline
	protocol *realtime.Handler
	pc       realtime.PeerConnection
	dc       realtime.DataChannel
	timer    *time.Timer
}

// Session orchestrates one realtime voice connection through
// idle -> connecting -> connected -> {recording, processing} -> connected, with error
// reachable from anywhere and Disconnect always landing in idle.
type Session struct {
	id     string
	cfg    Config
	deps   Deps
	events *Emitter
	logger *zap.Logger

	mu        sync.Mutex
	state     models.VoiceState
	cur       *attempt
	remoteID  string
	lastError string
}

// NewSession creates an idle session.
func NewSession(cfg Config, deps Deps) *Session {
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = 30 * time.Second
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 30 * time.Second
	}
	if cfg.DataChannelLabel == "" {
		cfg.DataChannelLabel = defaultDataChannelLabel
	}
	if deps.Emitter == nil {
		deps.Emitter = NewEmitter()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Session{
		id:     id,
		cfg:    cfg,
		deps:   deps,
		events: deps.Emitter,
		logger: deps.Logger.With(zap.String("voice_session", id)),
		state:  models.VoiceIdle,
	}
}

// ID is the local session identifier.
func (s *Session) ID() string { return s.id }

// Events exposes the session's emitter.
func (s *Session) Events() *Emitter { return s.events }

// State returns the current state.
func (s *Session) State() models.VoiceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteID is the session ID issued by the realtime service, once known.
func (s *Session) RemoteID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteID
}

// LastError is the message of the most recent failure.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Start negotiates a new connection. It is allowed from idle and, as an explicit retry,
// from error. It returns once the remote answer is applied; the session becomes connected
// when the data channel opens.
func (s *Session) Start(ctx context.Context) error {
	ctx, span := otel.Tracer("VoiceSession").Start(ctx, "Start")
	defer span.End()

	l := s.logger.With(zap.String("method", "Start"))

	s.mu.Lock()
	if s.state != models.VoiceIdle && s.state != models.VoiceError {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrSessionActive, state)
	}
	actx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &attempt{
		ctx:      actx,
		cancel:   cancel,
		pipeline: realtime.NewPipeline(s.deps.Mic, s.logger),
	}
	a.protocol = realtime.NewHandler(&attemptListener{s: s, a: a}, s.logger)
	s.cur = a
	s.remoteID = ""
	s.lastError = ""
	s.setState(models.VoiceConnecting)
	s.mu.Unlock()
	s.events.Flush()

	l.Info("Starting voice session")
	started := time.Now()
	if err := s.connect(ctx, a); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "connect failed")
		return s.fail(a, err)
	}

	metrics.Get().VoiceNegotiationTime.Record(ctx, time.Since(started).Seconds())
	span.SetStatus(codes.Ok, "negotiated")
	l.Info("Remote answer applied, waiting for data channel", zap.Duration("elapsed", time.Since(started)))
	return nil
}

func (s *Session) connect(ctx context.Context, a *attempt) error {
	negCtx, cancel := context.WithTimeout(ctx, s.cfg.NegotiationTimeout)
	defer cancel()
	stop := context.AfterFunc(a.ctx, cancel)
	defer stop()

	var (
		cred   realtime.SessionCredential
		stream realtime.MediaStream
	)
	g, gctx := errgroup.WithContext(negCtx)
	g.Go(func() error {
		c, err := s.deps.Negotiator.CreateSession(gctx)
		cred = c
		return err
	})
	g.Go(func() error {
		st, err := a.pipeline.Initialize(gctx)
		stream = st
		return err
	})
	if err := g.Wait(); err != nil {
		return timeoutAware(negCtx, err)
	}

	pc, err := s.deps.Peers.NewPeer()
	if err != nil {
		return err
	}
	if !s.keep(a, func() { a.pc = pc }) {
		return ErrDisconnected
	}
	pc.OnStateChange(func(st realtime.PeerState) { s.onPeerState(a, st) })
	pc.OnTrack(func(t realtime.RemoteTrack) { a.pipeline.AttachInbound(a.ctx, t, s.deps.Player) })

	dc, err := pc.CreateDataChannel(s.cfg.DataChannelLabel)
	if err != nil {
		return fmt.Errorf("%w: creating data channel: %v", models.ErrConnection, err)
	}
	if !s.keep(a, func() { a.dc = dc }) {
		return ErrDisconnected
	}
	dc.OnOpen(func() { s.onChannelOpen(a) })
	dc.OnClose(func() { s.onChannelClose(a) })
	dc.OnMessage(func(data []byte) { s.onMessage(a, data) })

	if err := a.pipeline.AttachOutbound(pc, stream); err != nil {
		return err
	}
	a.pipeline.SetupProcessing(a.ctx, stream, func(chunk string) { s.onAudioChunk(a, chunk) })

	offer, err := pc.CreateOffer(negCtx)
	if err != nil {
		return timeoutAware(negCtx, fmt.Errorf("%w: creating offer: %v", models.ErrConnection, err))
	}
	answer, err := s.deps.Negotiator.Negotiate(negCtx, offer, cred.ClientSecret)
	if err != nil {
		return timeoutAware(negCtx, err)
	}
	s.mu.Lock()
	live := s.cur == a
	if live {
		s.remoteID = cred.SessionID
	}
	s.mu.Unlock()
	if !live {
		return ErrDisconnected
	}
	if err := pc.SetRemoteAnswer(answer); err != nil {
		return fmt.Errorf("%w: applying answer: %v", models.ErrConnection, err)
	}
	return nil
}

func timeoutAware(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, models.ErrConnection) {
		return fmt.Errorf("%w: negotiation timed out: %v", models.ErrConnection, err)
	}
	return err
}

// keep records a result on a. When a is no longer the live attempt it is released
// immediately, which also disposes of the result just recorded, and keep reports false.
func (s *Session) keep(a *attempt, fn func()) bool {
	s.mu.Lock()
	fn()
	live := s.cur == a
	s.mu.Unlock()
	if !live {
		s.release(a)
	}
	return live
}

// StartRecording moves connected -> recording. Microphone frames are only forwarded while
// recording.
func (s *Session) StartRecording() error {
	s.mu.Lock()
	if s.state != models.VoiceConnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot record while %s", ErrInvalidState, state)
	}
	if a := s.cur; a != nil && a.protocol != nil {
		a.protocol.Transcript().Reset()
	}
	s.setState(models.VoiceRecording)
	s.mu.Unlock()
	s.events.Flush()
	return nil
}

// StopRecording ends the user's turn: recording -> processing. Without server turn
// detection the audio buffer is committed and a response requested explicitly.
func (s *Session) StopRecording() error {
	s.mu.Lock()
	a := s.cur
	if s.state != models.VoiceRecording || a == nil || a.dc == nil {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: not recording (%s)", ErrInvalidState, state)
	}
	var err error
	if s.cfg.Session.TurnDetection == nil {
		if err = a.dc.Send(realtime.AudioCommit()); err == nil {
			err = a.dc.Send(realtime.ResponseCreate())
		}
	}
	if err == nil {
		s.setState(models.VoiceProcessing)
		s.armResponseTimer(a)
	}
	s.mu.Unlock()
	s.events.Flush()
	if err != nil {
		return s.fail(a, fmt.Errorf("%w: sending turn end: %v", models.ErrConnection, err))
	}
	return nil
}

// SendText injects a user text turn and asks for a response.
func (s *Session) SendText(text string) error {
	s.mu.Lock()
	a := s.cur
	if (s.state != models.VoiceConnected && s.state != models.VoiceRecording) || a == nil || a.dc == nil {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot send text while %s", ErrInvalidState, state)
	}
	msg, err := realtime.UserText(text)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	a.protocol.Transcript().Reset()
	if err = a.dc.Send(msg); err == nil {
		err = a.dc.Send(realtime.ResponseCreate())
	}
	if err == nil {
		s.setState(models.VoiceProcessing)
		s.armResponseTimer(a)
	}
	s.mu.Unlock()
	s.events.Flush()
	if err != nil {
		return s.fail(a, fmt.Errorf("%w: sending text: %v", models.ErrConnection, err))
	}
	return nil
}

// Disconnect tears everything down from any state and lands in idle. Results of an
// in-flight Start that arrive afterwards are discarded.
func (s *Session) Disconnect() {
	s.mu.Lock()
	a := s.cur
	s.cur = nil
	prev := s.state
	if prev != models.VoiceIdle {
		s.setState(models.VoiceIdle)
	}
	s.mu.Unlock()

	if a != nil {
		s.release(a)
	}
	s.events.Flush()
	if prev != models.VoiceIdle {
		s.logger.Info("Voice session disconnected", zap.String("from", string(prev)))
	}
}

// release closes a's resources. Safe to call repeatedly and concurrently.
func (s *Session) release(a *attempt) {
	s.mu.Lock()
	cancel, timer, dc, pc := a.cancel, a.timer, a.dc, a.pc
	a.cancel, a.timer, a.dc, a.pc = nil, nil, nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if timer != nil {
		timer.Stop()
	}
	if dc != nil {
		if err := dc.Close(); err != nil {
			s.logger.Debug("Closing data channel", zap.Error(err))
		}
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			s.logger.Debug("Closing peer connection", zap.Error(err))
		}
	}
	a.pipeline.Cleanup()
	a.protocol.Transcript().Reset()
}

// fail moves the live attempt to error and releases it. A stale attempt is only released.
func (s *Session) fail(a *attempt, err error) error {
	s.mu.Lock()
	if s.cur != a || a == nil {
		s.mu.Unlock()
		if a != nil {
			s.release(a)
		}
		if errors.Is(err, ErrDisconnected) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	s.cur = nil
	s.lastError = err.Error()
	s.setState(models.VoiceError)
	s.events.Enqueue(Event{Type: EventError, Message: err.Error(), Kind: errorKind(err)})
	s.mu.Unlock()

	s.release(a)
	s.events.Flush()

	metrics.Get().VoiceSessionFailures.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("kind", errorKind(err))))
	s.logger.Warn("Voice session failed", zap.Error(err))
	return err
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, models.ErrPermissionDenied):
		return "permission"
	case errors.Is(err, models.ErrConnection):
		return "connection"
	default:
		return "internal"
	}
}

// setState must be called with s.mu held.
func (s *Session) setState(st models.VoiceState) {
	if s.state == st {
		return
	}
	s.state = st
	s.events.Enqueue(Event{Type: EventState, State: st})
}

// armResponseTimer must be called with s.mu held.
func (s *Session) armResponseTimer(a *attempt) {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(s.cfg.ResponseTimeout, func() { s.onResponseTimeout(a) })
}

// settle moves processing back to connected. Must be called with s.mu held.
func (s *Session) settle(a *attempt) {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if s.state == models.VoiceProcessing {
		s.setState(models.VoiceConnected)
	}
}

func (s *Session) onResponseTimeout(a *attempt) {
	s.mu.Lock()
	live := s.cur == a && s.state == models.VoiceProcessing
	s.mu.Unlock()
	if live {
		_ = s.fail(a, fmt.Errorf("%w: assistant did not respond within %s", models.ErrConnection, s.cfg.ResponseTimeout))
	}
}

func (s *Session) onChannelOpen(a *attempt) {
	s.mu.Lock()
	if s.cur != a || s.state != models.VoiceConnecting || a.dc == nil {
		s.mu.Unlock()
		return
	}
	update, err := realtime.SessionUpdate(s.cfg.Session)
	if err == nil {
		err = a.dc.Send(update)
	}
	if err != nil {
		s.mu.Unlock()
		_ = s.fail(a, fmt.Errorf("%w: sending session.update: %v", models.ErrConnection, err))
		return
	}
	s.setState(models.VoiceConnected)
	s.mu.Unlock()
	s.events.Flush()

	metrics.Get().VoiceSessionsStarted.Add(context.Background(), 1)
	s.logger.Info("Data channel open, session configured")
}

func (s *Session) onChannelClose(a *attempt) {
	if s.active(a) {
		_ = s.fail(a, fmt.Errorf("%w: data channel closed", models.ErrConnection))
	}
}

func (s *Session) onPeerState(a *attempt, st realtime.PeerState) {
	s.logger.Debug("Peer state changed", zap.String("state", st.String()))
	switch st {
	case realtime.PeerFailed, realtime.PeerClosed:
		if s.active(a) {
			_ = s.fail(a, fmt.Errorf("%w: peer connection %s", models.ErrConnection, st))
		}
	}
}

func (s *Session) onMessage(a *attempt, data []byte) {
	if !s.active(a) {
		return
	}
	if err := a.protocol.Handle(data); err != nil {
		metrics.Get().ProtocolErrorsTotal.Add(context.Background(), 1)
		s.logger.Warn("Dropping malformed realtime message", zap.Error(err))
	}
}

func (s *Session) onAudioChunk(a *attempt, chunk string) {
	s.mu.Lock()
	var dc realtime.DataChannel
	if s.cur == a && s.state == models.VoiceRecording {
		dc = a.dc
	}
	s.mu.Unlock()
	if dc == nil {
		return
	}
	msg, err := realtime.AudioAppendBase64(chunk)
	if err != nil {
		return
	}
	if err := dc.Send(msg); err != nil {
		s.logger.Debug("Dropping audio chunk", zap.Error(err))
	}
}

func (s *Session) active(a *attempt) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur == a
}

// attemptListener receives protocol callbacks for one attempt.
type attemptListener struct {
	s *Session
	a *attempt
}

func (l *attemptListener) OnSessionCreated(id string) {
	l.s.mu.Lock()
	if l.s.cur == l.a && id != "" {
		l.s.remoteID = id
	}
	l.s.mu.Unlock()
}

func (l *attemptListener) OnTranscriptDelta(delta, partial string) {
	l.s.mu.Lock()
	if l.s.cur != l.a {
		l.s.mu.Unlock()
		return
	}
	if l.a.timer != nil {
		l.a.timer.Stop()
		l.a.timer = nil
	}
	l.s.events.Enqueue(Event{Type: EventTranscriptDelta, Text: delta, Partial: partial})
	l.s.mu.Unlock()
	l.s.events.Flush()
}

func (l *attemptListener) OnTranscriptDone(text string) {
	l.s.mu.Lock()
	if l.s.cur != l.a {
		l.s.mu.Unlock()
		return
	}
	l.s.events.Enqueue(Event{Type: EventTranscriptDone, Text: text})
	l.s.settle(l.a)
	l.s.mu.Unlock()
	l.s.events.Flush()
}

func (l *attemptListener) OnResponseDone() {
	l.s.mu.Lock()
	if l.s.cur == l.a {
		l.s.settle(l.a)
	}
	l.s.mu.Unlock()
	l.s.events.Flush()
}

func (l *attemptListener) OnSpeechStarted() {
	l.s.logger.Debug("User speech started")
}

func (l *attemptListener) OnTripData(payload []byte, callID string) {
	if !l.s.active(l.a) {
		return
	}
	var (
		trip *models.Trip
		err  error
	)
	if l.s.deps.AdaptTrip != nil {
		trip, err = l.s.deps.AdaptTrip(payload)
	} else {
		err = fmt.Errorf("%w: no trip adapter configured", models.ErrProtocol)
	}

	if callID != "" {
		l.answerToolCall(callID, err)
	}
	if err != nil {
		metrics.Get().ProtocolErrorsTotal.Add(context.Background(), 1)
		l.s.logger.Warn("Discarding unusable trip payload", zap.Error(err))
		return
	}
	metrics.Get().TripPayloadsExtracted.Add(context.Background(), 1)
	l.s.events.Emit(Event{Type: EventTrip, Trip: trip})
}

func (l *attemptListener) answerToolCall(callID string, adaptErr error) {
	output := `{"ok":true}`
	if adaptErr != nil {
		output = `{"ok":false,"error":"trip document could not be read"}`
	}
	msg, err := realtime.FunctionCallOutput(callID, output)
	if err != nil {
		return
	}
	l.s.mu.Lock()
	dc := l.a.dc
	live := l.s.cur == l.a
	l.s.mu.Unlock()
	if !live || dc == nil {
		return
	}
	if err := dc.Send(msg); err == nil {
		_ = dc.Send(realtime.ResponseCreate())
	}
}

// resetTranscript drops partial assistant text. Callers hold s.mu.
func (l *attemptListener) resetTranscript() {
	if l.a.protocol != nil {
		l.a.protocol.Transcript().Reset()
	}
}

func (l *attemptListener) OnRemoteError(message string) {
	l.s.mu.Lock()
	if l.s.cur != l.a {
		l.s.mu.Unlock()
		return
	}
	l.resetTranscript()
	l.s.events.Enqueue(Event{Type: EventError, Message: message, Kind: "remote"})
	l.s.settle(l.a)
	l.s.mu.Unlock()
	l.s.events.Flush()
}
