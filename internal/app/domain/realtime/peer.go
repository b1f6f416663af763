package realtime

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
)

// PeerState is the connection state of a peer.
type PeerState int

const (
	PeerNew PeerState = iota
	PeerConnecting
	PeerConnected
	PeerDisconnected
	PeerFailed
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerNew:
		return "new"
	case PeerConnecting:
		return "connecting"
	case PeerConnected:
		return "connected"
	case PeerDisconnected:
		return "disconnected"
	case PeerFailed:
		return "failed"
	case PeerClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DataChannel is the event channel to the realtime service.
type DataChannel interface {
	Label() string
	OnOpen(func())
	OnClose(func())
	OnMessage(func(data []byte))
	Send(data []byte) error
	Close() error
}

// RemoteTrack is an inbound media track.
type RemoteTrack interface {
	Codec() string
	ReadPayload() ([]byte, error)
}

// PeerConnection is the subset of a WebRTC peer connection the session uses.
type PeerConnection interface {
	CreateDataChannel(label string) (DataChannel, error)
	AddOutboundAudio(streamID string) error
	// CreateOffer sets the local description and returns the offer SDP once ICE
	// gathering has finished.
	CreateOffer(ctx context.Context) (string, error)
	SetRemoteAnswer(sdp string) error
	OnTrack(func(RemoteTrack))
	OnStateChange(func(PeerState))
	Close() error
}

// PeerFactory creates peer connections.
type PeerFactory interface {
	NewPeer() (PeerConnection, error)
}

var _ PeerFactory = (*PionFactory)(nil)

// PionFactory builds peers on pion/webrtc.
type PionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewPionFactory creates a factory with the default codecs and the given STUN/TURN URLs.
func NewPionFactory(iceServers []string) (*PionFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("registering codecs: %w", err)
	}
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return &PionFactory{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		config: cfg,
	}, nil
}

func (f *PionFactory) NewPeer() (PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("%w: creating peer connection: %v", models.ErrConnection, err)
	}
	return &pionPeer{pc: pc}, nil
}

type pionPeer struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeer) CreateDataChannel(label string) (DataChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}
	return &pionChannel{dc: dc}, nil
}

// AddOutboundAudio adds an Opus track so the offer negotiates sendrecv audio. No samples are
// written to it; mic audio travels over the data channel as input_audio_buffer.append.
func (p *pionPeer) AddOutboundAudio(streamID string) error {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", streamID,
	)
	if err != nil {
		return err
	}
	_, err = p.pc.AddTrack(track)
	return err
}

func (p *pionPeer) CreateOffer(ctx context.Context) (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return p.pc.LocalDescription().SDP, nil
}

func (p *pionPeer) SetRemoteAnswer(sdp string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (p *pionPeer) OnTrack(fn func(RemoteTrack)) {
	p.pc.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(&pionTrack{track: t})
	})
}

func (p *pionPeer) OnStateChange(fn func(PeerState)) {
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fn(peerState(s))
	})
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

func peerState(s webrtc.PeerConnectionState) PeerState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return PeerConnecting
	case webrtc.PeerConnectionStateConnected:
		return PeerConnected
	case webrtc.PeerConnectionStateDisconnected:
		return PeerDisconnected
	case webrtc.PeerConnectionStateFailed:
		return PeerFailed
	case webrtc.PeerConnectionStateClosed:
		return PeerClosed
	default:
		return PeerNew
	}
}

type pionChannel struct {
	dc *webrtc.DataChannel
}

func (c *pionChannel) Label() string { return c.dc.Label() }
func (c *pionChannel) OnOpen(fn func()) { c.dc.OnOpen(fn) }
func (c *pionChannel) OnClose(fn func()) { c.dc.OnClose(fn) }
func (c *pionChannel) Send(data []byte) error { return c.dc.Send(data) }
func (c *pionChannel) Close() error { return c.dc.Close() }

func (c *pionChannel) OnMessage(fn func(data []byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

type pionTrack struct {
	track *webrtc.TrackRemote
}

func (t *pionTrack) Codec() string { return t.track.Codec().MimeType }

func (t *pionTrack) ReadPayload() ([]byte, error) {
	pkt, _, err := t.track.ReadRTP()
	if err != nil {
		return nil, err
	}
	return pkt.Payload, nil
}
