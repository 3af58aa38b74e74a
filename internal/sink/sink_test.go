package sink

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restreamer/internal/profile"
	"restreamer/internal/restreamerrors"
)

type fakeProc struct {
	mu     sync.Mutex
	tag    string
	frames []string
	closed bool
	failWrite bool
}

func (p *fakeProc) Write(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWrite {
		return errors.New("broken pipe")
	}
	p.frames = append(p.frames, p.tag+":"+string(frame))
	return nil
}

func (p *fakeProc) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type fakeEncoder struct {
	mu       sync.Mutex
	spawned  []*fakeProc
	failNext bool
}

func (e *fakeEncoder) Spawn(p profile.EncodingProfile, endpoint string, captureWidth, captureHeight int) (EncoderProc, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failNext {
		e.failNext = false
		return nil, errors.New("spawn failed")
	}
	proc := &fakeProc{tag: endpoint}
	e.spawned = append(e.spawned, proc)
	return proc, nil
}

func basicProfile() profile.EncodingProfile {
	return profile.EncodingProfile{Width: 1920, Height: 1080, BitrateKbps: 4500, FPS: 30}
}

func TestSinkConstructsWithInitialProfile(t *testing.T) {
	enc := &fakeEncoder{}
	s := New("cam0", "10.0.0.1:5000", 1920, 1080, basicProfile(), enc, zerolog.Nop())
	require.False(t, s.IsDegraded())
	assert.Equal(t, basicProfile(), s.CurrentProfile())
}

func TestSinkDegradedOnInitialSpawnFailure(t *testing.T) {
	enc := &fakeEncoder{failNext: true}
	s := New("cam0", "10.0.0.1:5000", 1920, 1080, basicProfile(), enc, zerolog.Nop())
	assert.True(t, s.IsDegraded())
	s.ConsumeFrame([]byte("frame")) // must be a no-op, not a panic
}

func TestSinkHotSwapAtomicity(t *testing.T) {
	enc := &fakeEncoder{}
	s := New("cam0", "endpoint-a", 1920, 1080, basicProfile(), enc, zerolog.Nop())

	s.ConsumeFrame([]byte("f1"))
	s.ConsumeFrame([]byte("f2"))

	degraded := profile.EncodingProfile{Width: 640, Height: 480, BitrateKbps: 800, FPS: 15}
	require.NoError(t, s.ApplyProfile(degraded))

	s.ConsumeFrame([]byte("f3"))

	enc.mu.Lock()
	defer enc.mu.Unlock()
	require.Len(t, enc.spawned, 2)
	assert.Equal(t, []string{"endpoint-a:f1", "endpoint-a:f2"}, enc.spawned[0].frames)
	assert.Equal(t, []string{"endpoint-a:f3"}, enc.spawned[1].frames)
	assert.True(t, enc.spawned[0].closed)
	assert.False(t, enc.spawned[1].closed)
}

func TestSinkApplyProfileIdempotentWhenUnchanged(t *testing.T) {
	enc := &fakeEncoder{}
	s := New("cam0", "endpoint-a", 1920, 1080, basicProfile(), enc, zerolog.Nop())
	require.NoError(t, s.ApplyProfile(basicProfile()))

	enc.mu.Lock()
	defer enc.mu.Unlock()
	assert.Len(t, enc.spawned, 1) // no restart for an unchanged profile
}

func TestSinkApplyProfileSpawnFailureEntersDegraded(t *testing.T) {
	enc := &fakeEncoder{}
	s := New("cam0", "endpoint-a", 1920, 1080, basicProfile(), enc, zerolog.Nop())

	enc.failNext = true
	degraded := profile.EncodingProfile{Width: 640, Height: 480, BitrateKbps: 800, FPS: 15}
	err := s.ApplyProfile(degraded)
	require.Error(t, err)
	assert.ErrorIs(t, err, restreamerrors.ErrSinkSpawnFailed)
	assert.True(t, s.IsDegraded())

	s.ConsumeFrame([]byte("dropped")) // no-op while degraded

	require.NoError(t, s.ApplyProfile(degraded))
	assert.False(t, s.IsDegraded())
}

// TestSinkPipeBreakRecovery pins spec.md §8 scenario S5: a broken pipe on
// consume_frame does not propagate, and the next apply_profile recovers.
func TestSinkPipeBreakRecovery(t *testing.T) {
	enc := &fakeEncoder{}
	s := New("cam0", "endpoint-a", 1920, 1080, basicProfile(), enc, zerolog.Nop())

	enc.mu.Lock()
	enc.spawned[0].failWrite = true
	enc.mu.Unlock()

	assert.NotPanics(t, func() { s.ConsumeFrame([]byte("will-fail")) })

	require.NoError(t, s.ApplyProfile(basicProfile()))
	s.ConsumeFrame([]byte("recovered"))

	enc.mu.Lock()
	defer enc.mu.Unlock()
	require.Len(t, enc.spawned, 2)
	assert.Equal(t, []string{"endpoint-a:recovered"}, enc.spawned[1].frames)
}
