package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	opuscodec "github.com/jj11hh/opus"

	"github.com/thaya-health/consult/conn"
	"github.com/thaya-health/consult/internal/types"
)

const (
	defaultSampleRate    = 48000
	defaultChunkInterval = 250 * time.Millisecond

	// maxPacketSize is the largest opus packet the encoder can produce.
	maxPacketSize = 1275
)

// Sender forwards capture output over the streaming connection.
// *conn.Manager satisfies it.
type Sender interface {
	Send(event string, payload any) error
	SendBinary(data []byte) error
}

// Config holds configuration for a capture Session.
// Zero values are replaced with defaults.
type Config struct {
	Device        Device
	Sender        Sender
	SampleRate    int           // default 48000 Hz
	ChunkInterval time.Duration // default 250ms
}

// Session is one microphone-acquisition-to-transcription lifecycle.
// Start acquires the microphone and begins emitting one encoded chunk
// per interval; Stop releases every acquired track on every exit path
// and emits the end_recording marker exactly once.
type Session struct {
	device   Device
	sender   Sender
	rate     int
	interval time.Duration

	mu       sync.Mutex
	state    types.CaptureState
	starting bool
	stream   Stream
	enc      *opuscodec.Encoder
	pcm      []float32
	scratch  []byte
	done     chan struct{}

	// smu orders chunk sends against the end_recording emit: no audio
	// frame may follow end_recording on the wire.
	smu sync.Mutex
}

// NewSession creates an idle capture session.
func NewSession(cfg Config) *Session {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.ChunkInterval == 0 {
		cfg.ChunkInterval = defaultChunkInterval
	}

	return &Session{
		device:   cfg.Device,
		sender:   cfg.Sender,
		rate:     cfg.SampleRate,
		interval: cfg.ChunkInterval,
		scratch:  make([]byte, maxPacketSize),
	}
}

// Status returns the current session state.
func (s *Session) Status() types.CaptureState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.starting {
		return types.CaptureRecording
	}
	return s.state
}

// Start acquires the microphone and transitions idle -> recording. It is
// a no-op when the session is not idle, so a second Start never acquires
// a second stream. Acquisition failure leaves the session idle.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != types.CaptureIdle || s.starting {
		s.mu.Unlock()
		return nil
	}
	if s.device == nil {
		s.mu.Unlock()
		return ErrDeviceUnavailable
	}
	s.starting = true
	s.mu.Unlock()

	// Acquisition may suspend on the permission prompt; the lock is not
	// held across it.
	stream, err := s.device.Acquire(ctx, s.rate, s.handleSamples)
	if err != nil {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("acquire microphone: %w", err)
	}

	enc, err := opuscodec.NewEncoder(s.rate, 1, opuscodec.AppVoIP)
	if err != nil {
		releaseTracks(stream)
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
		return fmt.Errorf("create opus encoder: %w", err)
	}

	s.mu.Lock()
	s.starting = false
	s.stream = stream
	s.enc = enc
	s.pcm = s.pcm[:0]
	s.done = make(chan struct{})
	s.state = types.CaptureRecording
	done := s.done
	s.mu.Unlock()

	go s.chunkLoop(done)

	slog.Info("capture session started", "sample_rate", s.rate, "chunk_interval", s.interval)
	return nil
}

// handleSamples buffers incoming PCM. Samples arriving once the session
// has left the recording state are discarded; nothing may be sent after
// end_recording.
func (s *Session) handleSamples(samples []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != types.CaptureRecording {
		return
	}
	s.pcm = append(s.pcm, samples...)
}

// chunkLoop emits one encoded chunk per interval until Stop closes done.
func (s *Session) chunkLoop(done chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.flushChunk()
		}
	}
}

// flushChunk encodes buffered PCM into one binary chunk and forwards it.
// Opus operates on fixed 20ms frames; whole frames are packed as
// length-prefixed packets and the remainder stays buffered for the next
// tick.
func (s *Session) flushChunk() {
	s.mu.Lock()
	if s.state != types.CaptureRecording || s.enc == nil {
		s.mu.Unlock()
		return
	}

	frameSize := s.rate / 50
	var chunk []byte
	for len(s.pcm) >= frameSize {
		n, err := s.enc.EncodeFloat32(s.pcm[:frameSize], s.scratch)
		if err != nil {
			slog.Error("opus encode", "error", err)
			s.pcm = s.pcm[:0]
			break
		}
		chunk = append(chunk, byte(n>>8), byte(n))
		chunk = append(chunk, s.scratch[:n]...)
		s.pcm = s.pcm[frameSize:]
	}
	if len(s.pcm) > 0 && len(s.pcm) < frameSize {
		// Compact so the backing array does not grow unbounded.
		rest := make([]float32, len(s.pcm))
		copy(rest, s.pcm)
		s.pcm = rest
	}
	s.mu.Unlock()

	if len(chunk) == 0 {
		return
	}

	// Hold the send mutex across the write and re-check the state under
	// it: either this chunk reaches the wire before Stop's end_recording,
	// or Stop won the race and the chunk is discarded.
	s.smu.Lock()
	defer s.smu.Unlock()
	s.mu.Lock()
	recording := s.state == types.CaptureRecording
	s.mu.Unlock()
	if !recording {
		return
	}
	if err := s.sender.SendBinary(chunk); err != nil {
		// Chunk loss during a connection gap is tolerable; the server
		// transcribes what it received.
		slog.Debug("audio chunk dropped", "error", err)
	}
}

// Stop halts the recorder, releases every acquired track, emits
// end_recording, and returns the session to idle. It is a no-op when
// idle and safe to call from any exit path, teardown included.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state != types.CaptureRecording {
		// Idle or already finalizing under another caller.
		s.mu.Unlock()
		return
	}
	s.state = types.CaptureFinalizing
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	stream := s.stream
	s.stream = nil
	s.enc = nil
	s.pcm = nil
	s.mu.Unlock()

	releaseTracks(stream)

	// Taking the send mutex waits out any chunk write already in flight.
	s.smu.Lock()
	if err := s.sender.Send(conn.EventEndRecording, nil); err != nil {
		slog.Warn("end_recording not delivered", "error", err)
	}
	s.smu.Unlock()

	s.mu.Lock()
	s.state = types.CaptureIdle
	s.mu.Unlock()

	slog.Info("capture session stopped")
}

// releaseTracks stops every track of a stream, unconditionally.
func releaseTracks(stream Stream) {
	if stream == nil {
		return
	}
	for _, t := range stream.Tracks() {
		t.Stop()
	}
}
