package source

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restreamer/internal/restreamerrors"
)

type fakeConn struct {
	frames  chan []byte
	closed  chan struct{}
	closeMu sync.Mutex
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

type fakeDialer struct {
	conn    *fakeConn
	dialErr error
}

func (d *fakeDialer) Dial(ctx context.Context, pullURL string) (RTSPConn, error) {
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.conn, nil
}

func TestNetworkCameraSourceStartStopLifecycle(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conn: conn}
	src := NewNetworkCameraSource("cam0", "rtsp://example/cam0", dialer, zerolog.Nop())

	require.NoError(t, src.Start())
	assert.True(t, src.IsActive())

	var mu sync.Mutex
	var received [][]byte
	src.AddConsumer(func(frame []byte) {
		mu.Lock()
		received = append(received, frame)
		mu.Unlock()
	})

	conn.frames <- []byte("frame-1")
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 5*time.Millisecond)

	src.Stop()
	assert.False(t, src.IsActive())
}

func TestNetworkCameraSourceStartWhileRunningIsNoop(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conn: conn}
	src := NewNetworkCameraSource("cam0", "rtsp://example/cam0", dialer, zerolog.Nop())

	require.NoError(t, src.Start())
	require.NoError(t, src.Start())
	src.Stop()
}

func TestNetworkCameraSourceOpenFailure(t *testing.T) {
	dialer := &fakeDialer{dialErr: errors.New("connection refused")}
	src := NewNetworkCameraSource("cam0", "rtsp://bad", dialer, zerolog.Nop())

	err := src.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, restreamerrors.ErrSourceOpenFailed)
	assert.False(t, src.IsActive())
}

func TestNetworkCameraSourceStopIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conn: conn}
	src := NewNetworkCameraSource("cam0", "rtsp://example/cam0", dialer, zerolog.Nop())
	require.NoError(t, src.Start())
	src.Stop()
	src.Stop() // must not block or panic
}

func TestNetworkCameraSourceReadFailureTransitionsToIdle(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conn: conn}
	src := NewNetworkCameraSource("cam0", "rtsp://example/cam0", dialer, zerolog.Nop())
	require.NoError(t, src.Start())

	conn.Close() // simulates a read failure
	assert.Eventually(t, func() bool {
		return !src.IsActive()
	}, time.Second, 5*time.Millisecond)
}

type fakeLocalDevice struct {
	mu     sync.Mutex
	frames [][]byte
	opened bool
	closed bool
}

func (d *fakeLocalDevice) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = true
	return nil
}

func (d *fakeLocalDevice) push(frame []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = append(d.frames, frame)
}

func (d *fakeLocalDevice) TryReadFrame() ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.frames) == 0 {
		return nil, false
	}
	frame := d.frames[0]
	d.frames = d.frames[1:]
	return frame, true
}

func (d *fakeLocalDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func TestLocalCameraSourcePollsAndDistributes(t *testing.T) {
	dev := &fakeLocalDevice{}
	src := NewLocalCameraSource("oakd", dev, zerolog.Nop())

	require.NoError(t, src.Start())
	assert.True(t, src.IsActive())

	var mu sync.Mutex
	var count int
	src.AddConsumer(func(frame []byte) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	dev.push([]byte("frame-a"))
	dev.push([]byte("frame-b"))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 2
	}, time.Second, 5*time.Millisecond)

	src.Stop()
	assert.True(t, dev.closed)
	assert.False(t, src.IsActive())
}

func TestLocalCameraSourceStopJoinsWorker(t *testing.T) {
	dev := &fakeLocalDevice{}
	src := NewLocalCameraSource("oakd", dev, zerolog.Nop())
	require.NoError(t, src.Start())
	src.Stop()
	src.Stop()
}
