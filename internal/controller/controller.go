// Package controller implements the Restreamer Controller (spec.md §4.7):
// it wires each configured device to a Source/Sink pair, owns the shared
// ladder, and — in adaptive mode — runs the monitoring loop that reconciles
// observed uplink quality with the active degradation level.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"restreamer/internal/config"
	"restreamer/internal/distributor"
	"restreamer/internal/probe"
	"restreamer/internal/profile"
)

// Prober is the subset of the Uplink Probe the controller depends on.
type Prober interface {
	Authenticate(ctx context.Context) (bool, error)
	GetConnectionInfo(ctx context.Context) (probe.QualityReport, error)
}

// Source is the capability contract the controller drives every input
// device through, matching internal/source.Source.
type Source interface {
	Start() error
	Stop()
	Release()
	AddConsumer(fn distributor.Consumer) distributor.Token
	RemoveConsumer(token distributor.Token)
	IsActive() bool
}

// Sink is the capability contract the controller drives every encoder
// through, matching internal/sink.Sink.
type Sink interface {
	ConsumeFrame(blob []byte)
	ApplyProfile(p profile.EncodingProfile) error
	UpdateProfile(p profile.EncodingProfile) error
	StartStreaming()
	StopStreaming()
	Close()
	CurrentProfile() profile.EncodingProfile
	IsDegraded() bool
}

type deviceEntry struct {
	name       string
	kind       config.Kind
	source     Source
	sink       Sink
}

// Status is a point-in-time snapshot for monitoring/operators.
type Status struct {
	CurrentLevel    int
	Running         bool
	SourcesActive   map[string]bool
	SinksDegraded   map[string]bool
}

// Controller wires sources to sinks and owns the monitoring loop. It
// exclusively owns all Sources and Sinks for the process lifetime.
type Controller struct {
	prober  Prober
	ladder  *profile.Ladder
	timeout time.Duration
	logger  zerolog.Logger

	devices []*deviceEntry

	mu           sync.Mutex
	currentLevel int
	running      bool
	monitorDone  chan struct{}
	cancel       context.CancelFunc
}

// New constructs a Controller. devices must already carry a Source and
// Sink pair per spec.md §4.7's wiring step; building those pairs is the
// caller's (cmd/restreamer's) responsibility so this package stays
// transport-agnostic and easy to unit test.
func New(prober Prober, ladder *profile.Ladder, timeout time.Duration, logger zerolog.Logger) *Controller {
	return &Controller{
		prober:  prober,
		ladder:  ladder,
		timeout: timeout,
		logger:  logger,
	}
}

// AddDevice registers a wired source/sink pair under name. Must be called
// before Start; the device map is fixed once monitoring begins.
func (c *Controller) AddDevice(name string, kind config.Kind, src Source, snk Sink) {
	c.devices = append(c.devices, &deviceEntry{name: name, kind: kind, source: src, sink: snk})
}

// StartFixedQuality starts every source and applies the ladder's base
// profile to every sink, with no monitoring loop. The quality never
// changes afterward.
func (c *Controller) StartFixedQuality() {
	base := c.ladder.Base()
	var wg sync.WaitGroup
	for _, d := range c.devices {
		wg.Add(1)
		go func(d *deviceEntry) {
			defer wg.Done()
			if err := d.source.Start(); err != nil {
				c.logger.Error().Str("device", d.name).Err(err).Msg("source start failed")
			}
			if err := d.sink.ApplyProfile(base); err != nil {
				c.logger.Error().Str("device", d.name).Err(err).Msg("sink apply_profile failed")
			}
			d.sink.StartStreaming()
		}(d)
	}
	wg.Wait()

	c.mu.Lock()
	c.running = true
	c.currentLevel = 0
	c.mu.Unlock()
}

// StartAdaptive starts every source and sink at the ladder's base profile,
// then spawns the monitoring worker.
func (c *Controller) StartAdaptive(ctx context.Context) {
	c.StartFixedQuality()

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.monitorDone = make(chan struct{})
	c.mu.Unlock()

	go c.monitorLoop(ctx, c.monitorDone)
}

// monitorLoop reconciles observed uplink quality with the active
// degradation level, per spec.md §4.7. runID tags every log line from one
// monitoring session so they can be correlated in aggregated logs.
func (c *Controller) monitorLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	runID := uuid.New().String()
	logger := c.logger.With().Str("monitor_run", runID).Logger()

	pollInterval := c.timeout
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	backoff := pollInterval + 5*time.Second

	for {
		if !c.isRunning() {
			return
		}

		if _, err := c.prober.Authenticate(ctx); err != nil {
			logger.Error().Err(err).Msg("monitor: authentication failed")
			if !sleepOrDone(ctx, backoff) {
				return
			}
			continue
		}

		report, err := c.prober.GetConnectionInfo(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("monitor: get_connection_info failed")
			if !sleepOrDone(ctx, backoff) {
				return
			}
			continue
		}

		c.mu.Lock()
		changed := report.Level != c.currentLevel
		c.mu.Unlock()

		if changed {
			logger.Info().Int("from", c.currentLevel).Int("to", report.Level).Msg("monitor: quality level changed")
			c.ApplyQualityPolicy(ctx, report.Level)
			c.mu.Lock()
			c.currentLevel = report.Level
			c.mu.Unlock()
		}

		if !sleepOrDone(ctx, pollInterval) {
			return
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Controller) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// ApplyQualityPolicy applies ladder level level across every device. At the
// worst level, every network-camera source/sink is stopped and only the
// local-camera source/sink is kept live. Per-device failures are isolated
// and logged; they do not abort the sweep across the other devices.
func (c *Controller) ApplyQualityPolicy(ctx context.Context, level int) {
	worst := c.ladder.Depth()
	if level < 0 {
		level = 0
	}
	if level > worst {
		level = worst
	}

	g, _ := errgroup.WithContext(ctx)
	for _, d := range c.devices {
		d := d
		g.Go(func() error {
			if level == worst {
				c.shedToWorst(d)
				return nil
			}
			c.applyLevel(d, level)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Controller) shedToWorst(d *deviceEntry) {
	worstProfile := c.ladder.Worst()
	if d.kind == config.LocalCam {
		if !d.source.IsActive() {
			if err := d.source.Start(); err != nil {
				c.logger.Error().Str("device", d.name).Err(err).Msg("restart at worst level failed")
			}
		}
		if err := d.sink.ApplyProfile(worstProfile); err != nil {
			c.logger.Error().Str("device", d.name).Err(err).Msg("apply_profile at worst level failed")
		}
		return
	}

	if d.source.IsActive() {
		d.source.Stop()
	}
	d.sink.Close()
}

func (c *Controller) applyLevel(d *deviceEntry, level int) {
	p := c.ladder.At(level)

	if !d.source.IsActive() {
		if err := d.source.Start(); err != nil {
			c.logger.Error().Str("device", d.name).Err(err).Msg("source restart failed")
			return
		}
		d.sink.StartStreaming()
	}

	if err := d.sink.ApplyProfile(p); err != nil {
		c.logger.Error().Str("device", d.name).Err(err).Msg("apply_profile failed")
	}
}

// Stop clears the running flag, joins the monitoring worker (bounded to
// ~2s), and stops every source and sink. Per-entity errors are logged and
// do not abort the sweep.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.running = false
	cancel := c.cancel
	done := c.monitorDone
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			c.logger.Warn().Msg("monitor worker join timed out")
		}
	}

	for _, d := range c.devices {
		func(d *deviceEntry) {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error().Str("device", d.name).Interface("panic", r).Msg("error stopping source")
				}
			}()
			d.source.Stop()
		}(d)

		func(d *deviceEntry) {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error().Str("device", d.name).Interface("panic", r).Msg("error stopping sink")
				}
			}()
			d.sink.StopStreaming()
			d.sink.Close()
		}(d)
	}
}

// GetStatus returns a snapshot of the controller's current state.
func (c *Controller) GetStatus() Status {
	c.mu.Lock()
	level := c.currentLevel
	running := c.running
	c.mu.Unlock()

	active := make(map[string]bool, len(c.devices))
	degraded := make(map[string]bool, len(c.devices))
	for _, d := range c.devices {
		active[d.name] = d.source.IsActive()
		degraded[d.name] = d.sink.IsDegraded()
	}

	return Status{
		CurrentLevel:  level,
		Running:       running,
		SourcesActive: active,
		SinksDegraded: degraded,
	}
}
