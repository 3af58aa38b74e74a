// Package sink implements the Encoder Sink (spec.md §4.3): a subprocess
// handle that accepts raw frame blobs and forwards them as an encoded,
// packetized stream, with atomic hot profile swapping.
package sink

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"restreamer/internal/profile"
	"restreamer/internal/restreamerrors"
)

// Encoder spawns and tears down the encoding subprocess for one profile.
// Generalizes src/handlers/streamerFFmpegRTPS.py's _start_ffmpeg_process /
// consume_frame / close trio behind a seam so tests never shell out.
type Encoder interface {
	// Spawn starts an encoder process for profile, writing to endpoint,
	// reading raw frames at captureWidth x captureHeight (bgr24).
	Spawn(p profile.EncodingProfile, endpoint string, captureWidth, captureHeight int) (EncoderProc, error)
}

// EncoderProc is one running encoder subprocess.
type EncoderProc interface {
	Write(frame []byte) error
	Close() error
}

// Sink consumes frames and forwards them, re-encoded, to a network
// endpoint. apply_profile/update_profile atomically swap the underlying
// subprocess; consume_frame never observes a half-torn-down process.
type Sink struct {
	name          string
	endpoint      string
	captureWidth  int
	captureHeight int
	encoder       Encoder
	logger        zerolog.Logger

	mu       sync.Mutex
	proc     EncoderProc
	current  profile.EncodingProfile
	degraded bool
}

// New constructs a Sink and spawns its initial subprocess at base. If the
// initial spawn fails, the sink starts in the DEGRADED state.
func New(name, endpoint string, captureWidth, captureHeight int, base profile.EncodingProfile, encoder Encoder, logger zerolog.Logger) *Sink {
	s := &Sink{
		name:          name,
		endpoint:      endpoint,
		captureWidth:  captureWidth,
		captureHeight: captureHeight,
		encoder:       encoder,
		logger:        logger,
	}
	if err := s.ApplyProfile(base); err != nil {
		logger.Error().Str("sink", name).Err(err).Msg("initial encoder spawn failed, starting degraded")
	}
	return s
}

// StartStreaming logs that the sink is streaming. The subprocess is already
// running from construction; the sink keeps no separate active flag, so this
// call changes no state and does not clear the degraded state.
func (s *Sink) StartStreaming() {
	s.logger.Info().Str("sink", s.name).Msg("streaming started")
}

// ConsumeFrame writes blob to the current encoder's stdin. A broken pipe is
// logged, the dead process handle is dropped, and the frame is dropped; the
// sink keeps running with no active process until the next ApplyProfile
// respawns one. In the degraded state, ConsumeFrame is a no-op.
func (s *Sink) ConsumeFrame(blob []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded || s.proc == nil {
		return
	}
	if err := s.proc.Write(blob); err != nil {
		s.logger.Error().Str("sink", s.name).Err(fmt.Errorf("%w: %v", restreamerrors.ErrPipeClosed, err)).Msg("frame dropped")
		_ = s.proc.Close()
		s.proc = nil
	}
}

// ApplyProfile atomically swaps the encoder subprocess: the old one is
// closed and a new one spawned for p before the swap is published, so a
// concurrent ConsumeFrame is always served by exactly one of the two, never
// a half-torn-down process. Idempotent when p already equals the current
// profile.
func (s *Sink) ApplyProfile(p profile.EncodingProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.degraded && s.proc != nil && p == s.current {
		return nil
	}

	newProc, err := s.encoder.Spawn(p, s.endpoint, s.captureWidth, s.captureHeight)
	if err != nil {
		s.degraded = true
		if s.proc != nil {
			_ = s.proc.Close()
			s.proc = nil
		}
		return fmt.Errorf("%w: %s: %v", restreamerrors.ErrSinkSpawnFailed, s.name, err)
	}

	old := s.proc
	s.proc = newProc
	s.current = p
	s.degraded = false

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// UpdateProfile is a synonym for ApplyProfile.
func (s *Sink) UpdateProfile(p profile.EncodingProfile) error { return s.ApplyProfile(p) }

// StopStreaming is a synonym for Close.
func (s *Sink) StopStreaming() { s.Close() }

// Close terminates the subprocess and releases the handle.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != nil {
		_ = s.proc.Close()
		s.proc = nil
	}
}

// CurrentProfile returns the profile the sink believes it is running,
// for status reporting.
func (s *Sink) CurrentProfile() profile.EncodingProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// IsDegraded reports whether the last ApplyProfile failed to spawn.
func (s *Sink) IsDegraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}
