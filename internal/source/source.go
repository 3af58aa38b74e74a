// Package source implements the Input Source component (spec.md §4.2): a
// frame producer that owns a Distributor and a single worker goroutine,
// with an IDLE → RUNNING → IDLE lifecycle.
//
// Both variants share one capability contract rather than an inheritance
// hierarchy: the controller is polymorphic over the Source interface, never
// over a concrete type, and never probes for optional methods at runtime
// (spec.md §9).
package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"restreamer/internal/distributor"
	"restreamer/internal/restreamerrors"
)

// Source is the common contract for every input device variant.
type Source interface {
	Start() error
	Stop()
	Release()
	AddConsumer(fn distributor.Consumer) distributor.Token
	RemoveConsumer(token distributor.Token)
	IsActive() bool
}

// RTSPConn is an opened pull connection to a network camera. ReadFrame
// blocks until one frame is available or the connection is broken.
type RTSPConn interface {
	ReadFrame() ([]byte, error)
	Close() error
}

// RTSPDialer opens a pull connection to a network camera's stream URL.
type RTSPDialer interface {
	Dial(ctx context.Context, pullURL string) (RTSPConn, error)
}

// NetworkCameraSource pulls frames from an IP camera over RTSP, matching
// src/handlers/inputsources.py's RTSPInputSource — generalized to the
// common Source contract and with the consumer registry bug resolved: the
// distributor is the single source of truth for registered consumers, no
// parallel set.
type NetworkCameraSource struct {
	name    string
	pullURL string
	dialer  RTSPDialer
	dist    *distributor.Distributor
	logger  zerolog.Logger

	mu      sync.Mutex
	running bool
	conn    RTSPConn
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewNetworkCameraSource constructs a stopped NetworkCameraSource.
func NewNetworkCameraSource(name, pullURL string, dialer RTSPDialer, logger zerolog.Logger) *NetworkCameraSource {
	return &NetworkCameraSource{
		name:    name,
		pullURL: pullURL,
		dialer:  dialer,
		dist:    distributor.New(logger),
		logger:  logger,
	}
}

// Start opens the pull connection and spawns the read worker. A call while
// already running is a no-op with a warning.
func (s *NetworkCameraSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Warn().Str("source", s.name).Msg("start called while already running")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn, err := s.dialer.Dial(ctx, s.pullURL)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %s: %v", restreamerrors.ErrSourceOpenFailed, s.name, err)
	}

	s.conn = conn
	s.cancel = cancel
	s.running = true
	s.done = make(chan struct{})
	go s.run(s.done, conn)
	return nil
}

func (s *NetworkCameraSource) run(done chan struct{}, conn RTSPConn) {
	defer close(done)
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			s.logger.Warn().Str("source", s.name).Err(err).Msg("read failed, closing source")
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		}
		s.dist.Distribute(frame)
	}
}

// Stop clears the running flag, joins the worker, and releases the
// connection.
func (s *NetworkCameraSource) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	conn := s.conn
	done := s.done
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			s.logger.Warn().Str("source", s.name).Msg("worker join timed out")
		}
	}
}

// Release is an alias for Stop.
func (s *NetworkCameraSource) Release() { s.Stop() }

// AddConsumer registers fn with the underlying distributor.
func (s *NetworkCameraSource) AddConsumer(fn distributor.Consumer) distributor.Token {
	return s.dist.AddConsumer(fn)
}

// RemoveConsumer deregisters the registration identified by token from the
// underlying distributor.
func (s *NetworkCameraSource) RemoveConsumer(token distributor.Token) {
	s.dist.RemoveConsumer(token)
}

// IsActive reports the tracked running flag.
func (s *NetworkCameraSource) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LocalDevice is a locally-attached camera's frame queue: TryReadFrame is
// non-blocking, matching the depth-camera SDK's getOutputQueue(blocking=false)
// semantics in src/handlers/inputsources.py's DAICameraInput.
type LocalDevice interface {
	Open(ctx context.Context) error
	TryReadFrame() ([]byte, bool)
	Close() error
}

// LocalCameraSource reads frames from a USB-attached depth/color camera by
// non-blocking polling of its device queue, matching DAICameraInput's
// worker loop.
type LocalCameraSource struct {
	name   string
	device LocalDevice
	dist   *distributor.Distributor
	logger zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewLocalCameraSource constructs a stopped LocalCameraSource.
func NewLocalCameraSource(name string, device LocalDevice, logger zerolog.Logger) *LocalCameraSource {
	return &LocalCameraSource{
		name:   name,
		device: device,
		dist:   distributor.New(logger),
		logger: logger,
	}
}

const localPollIdleSleep = time.Millisecond

// Start opens the device and spawns the polling worker.
func (s *LocalCameraSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Warn().Str("source", s.name).Msg("start called while already running")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.device.Open(ctx); err != nil {
		cancel()
		return fmt.Errorf("%w: %s: %v", restreamerrors.ErrSourceOpenFailed, s.name, err)
	}

	s.cancel = cancel
	s.running = true
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
	return nil
}

func (s *LocalCameraSource) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, ok := s.device.TryReadFrame()
		if ok {
			s.dist.Distribute(frame)
			continue
		}
		time.Sleep(localPollIdleSleep)
	}
}

// Stop clears running, joins the worker, and closes the device.
func (s *LocalCameraSource) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			s.logger.Warn().Str("source", s.name).Msg("worker join timed out")
		}
	}
	_ = s.device.Close()
}

// Release is an alias for Stop.
func (s *LocalCameraSource) Release() { s.Stop() }

// AddConsumer registers fn with the underlying distributor.
func (s *LocalCameraSource) AddConsumer(fn distributor.Consumer) distributor.Token {
	return s.dist.AddConsumer(fn)
}

// RemoveConsumer deregisters the registration identified by token from the
// underlying distributor.
func (s *LocalCameraSource) RemoveConsumer(token distributor.Token) {
	s.dist.RemoveConsumer(token)
}

// IsActive reports the tracked running flag.
func (s *LocalCameraSource) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

var (
	_ Source = (*NetworkCameraSource)(nil)
	_ Source = (*LocalCameraSource)(nil)
)
