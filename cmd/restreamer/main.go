// Command restreamer is the adaptive multi-source video restreamer's
// process entry point. It reads main.conf from the working directory,
// wires sources to sinks, runs a startup reachability check, and then
// drives either fixed-quality or adaptive-quality streaming until an
// interrupt or terminate signal arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"restreamer/internal/config"
	"restreamer/internal/controller"
	"restreamer/internal/logging"
	"restreamer/internal/probe"
	"restreamer/internal/profile"
	"restreamer/internal/reachability"
	"restreamer/internal/sink"
	"restreamer/internal/source"
)

const configPath = "main.conf"

const statusInterval = 60 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	logger, err := logging.New(logging.Both, "restreamer")
	if err != nil {
		fmt.Fprintf(os.Stderr, "restreamer: failed to initialize logging: %v\n", err)
		return 1
	}

	cfg, err := config.Load(configPath, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load configuration")
		return 1
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	uplinkProbe := probe.New(cfg.RouterIP, cfg.RouterLogin, cfg.RouterPassword, cfg.DegradationSteps, timeout, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if ok, err := uplinkProbe.Authenticate(ctx); err != nil || !ok {
		logger.Error().Err(err).Msg("router authentication failed at startup")
		return 1
	}
	logger.Info().Msg("router authentication succeeded")

	checker := reachability.New(cfg.PingIP, cfg.CurlURL, timeout, logger)
	if err := checker.CheckConnection(ctx); err != nil {
		logger.Error().Err(err).Msg("reachability check failed at startup")
		return 1
	}
	logger.Info().Msg("reachability check passed")

	ladder, err := profile.NewLadder(cfg.BaseProfile, cfg.DegradationSteps)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build degradation ladder")
		return 1
	}

	ctrl := controller.New(uplinkProbe, ladder, timeout, logger)
	wireDevices(ctrl, cfg, ladder, logger)

	if cfg.AdaptiveModeEnabled {
		logger.Info().Msg("starting in adaptive mode")
		ctrl.StartAdaptive(ctx)
	} else {
		logger.Info().Msg("starting in fixed-quality mode")
		ctrl.StartFixedQuality()
	}

	statusLoop(ctx, ctrl, logger)

	ctrl.Stop()
	logger.Info().Msg("shutdown complete")
	return 0
}

// wireDevices builds a Source/Sink pair per configured device and
// registers the sink's frame callback as a consumer of its source, per
// spec.md §4.7's construction-time wiring.
func wireDevices(ctrl *controller.Controller, cfg *config.Config, ladder *profile.Ladder, logger zerolog.Logger) {
	base := ladder.Base()
	encoder := sink.FFmpegEncoder{Logger: logger}

	for _, d := range cfg.Devices {
		var src controller.Source
		var captureWidth, captureHeight int

		switch d.Kind {
		case config.NetworkCam:
			dialer := source.FFmpegDialer{Width: base.Width, Height: base.Height, FPS: base.FPS, Logger: logger}
			src = source.NewNetworkCameraSource(d.Name, d.PullURL, dialer, logger)
			captureWidth, captureHeight = base.Width, base.Height
		case config.LocalCam:
			device := source.NewFFmpegV4L2Device(d.IPAddress, base.Width, base.Height, base.FPS, logger)
			src = source.NewLocalCameraSource(d.Name, device, logger)
			captureWidth, captureHeight = base.Width, base.Height
		}

		snk := sink.New(d.Name, d.SinkEndpoint.String(), captureWidth, captureHeight, base, encoder, logger)
		src.AddConsumer(snk.ConsumeFrame)

		ctrl.AddDevice(d.Name, d.Kind, src, snk)
	}
}

// statusLoop mirrors main.py's 60-second status-printing loop: it blocks
// until ctx is cancelled (signal delivery), logging a status line every
// interval.
func statusLoop(ctx context.Context, ctrl *controller.Controller, logger zerolog.Logger) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := ctrl.GetStatus()
			active := make([]string, 0, len(status.SourcesActive))
			for name, isActive := range status.SourcesActive {
				if isActive {
					active = append(active, name)
				}
			}
			logger.Info().
				Int("level", status.CurrentLevel).
				Strs("active_sources", active).
				Msg("status")
		}
	}
}
