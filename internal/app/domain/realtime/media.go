package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
)

// MediaStream is a captured microphone stream delivering float frames in [-1, 1].
type MediaStream interface {
	ID() string
	Frames() <-chan []float32
	Stop()
}

// MicrophoneSource acquires a microphone. Implementations return an error wrapping
// models.ErrPermissionDenied when the user refuses access or no device is available.
type MicrophoneSource interface {
	Acquire(ctx context.Context) (MediaStream, error)
}

// Player plays inbound assistant audio.
type Player interface {
	Play(payload []byte) error
}

// Pipeline owns the microphone streams of one voice session.
type Pipeline struct {
	mic    MicrophoneSource
	logger *zap.Logger

	mu      sync.Mutex
	streams []MediaStream
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

// NewPipeline creates a Pipeline over mic.
func NewPipeline(mic MicrophoneSource, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{mic: mic, logger: logger}
}

// Initialize acquires the microphone. Permission failures stay distinguishable from
// connection failures via errors.Is(err, models.ErrPermissionDenied).
func (p *Pipeline) Initialize(ctx context.Context) (MediaStream, error) {
	if p.mic == nil {
		return nil, fmt.Errorf("%w: no microphone available", models.ErrPermissionDenied)
	}
	stream, err := p.mic.Acquire(ctx)
	if err != nil {
		if errors.Is(err, models.ErrPermissionDenied) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", models.ErrPermissionDenied, err)
	}
	p.mu.Lock()
	p.streams = append(p.streams, stream)
	p.mu.Unlock()
	return stream, nil
}

// AttachOutbound adds the stream's outbound audio track to the peer connection.
func (p *Pipeline) AttachOutbound(pc PeerConnection, stream MediaStream) error {
	if err := pc.AddOutboundAudio(stream.ID()); err != nil {
		return fmt.Errorf("%w: adding outbound audio: %v", models.ErrConnection, err)
	}
	return nil
}

// AttachInbound pumps a remote track into player until the track ends or ctx is done.
func (p *Pipeline) AttachInbound(ctx context.Context, track RemoteTrack, player Player) {
	ctx, cancel := context.WithCancel(ctx)
	p.track(cancel)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.logger.Info("Remote audio track attached", zap.String("codec", track.Codec()))
		for {
			if ctx.Err() != nil {
				return
			}
			payload, err := track.ReadPayload()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					p.logger.Debug("Remote track ended", zap.Error(err))
				}
				return
			}
			if len(payload) == 0 || player == nil {
				continue
			}
			if err := player.Play(payload); err != nil {
				p.logger.Debug("Dropping inbound audio", zap.Error(err))
			}
		}
	}()
}

// SetupProcessing taps stream frames, converts them to base64 PCM16 and hands each chunk
// to onChunk until the stream closes or ctx is done.
func (p *Pipeline) SetupProcessing(ctx context.Context, stream MediaStream, onChunk func(chunk string)) {
	ctx, cancel := context.WithCancel(ctx)
	p.track(cancel)

	frames := stream.Frames()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				if len(frame) == 0 {
					continue
				}
				onChunk(EncodeFrame(frame))
			}
		}
	}()
}

// Cleanup stops every acquired stream and every tap. Safe to call repeatedly.
func (p *Pipeline) Cleanup() {
	p.mu.Lock()
	streams, cancels := p.streams, p.cancels
	p.streams, p.cancels = nil, nil
	p.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, s := range streams {
		s.Stop()
	}
}

// Wait blocks until every tap goroutine has exited.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) track(cancel context.CancelFunc) {
	p.mu.Lock()
	p.cancels = append(p.cancels, cancel)
	p.mu.Unlock()
}
