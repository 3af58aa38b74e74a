// Package restreamerrors defines the sentinel error kinds surfaced by the
// restreamer's components. Callers use errors.Is against these to decide
// whether a failure is fatal at startup or merely isolated to one component.
package restreamerrors

import "errors"

var (
	// ErrConfigInvalid marks a missing config file, missing required key, or
	// an out-of-range ladder depth. Fatal at startup.
	ErrConfigInvalid = errors.New("config invalid")

	// ErrAuthFailed marks a router authentication rejection. Fatal at
	// startup; transient within the monitoring loop.
	ErrAuthFailed = errors.New("router authentication failed")

	// ErrUnreachable marks a failed startup reachability check.
	ErrUnreachable = errors.New("network unreachable")

	// ErrSourceOpenFailed marks a device or upstream stream that could not
	// be opened. Isolated to the source that raised it.
	ErrSourceOpenFailed = errors.New("source open failed")

	// ErrSinkSpawnFailed marks an encoder subprocess that failed to start.
	// The sink enters a degraded state and drops frames until the next
	// successful profile application.
	ErrSinkSpawnFailed = errors.New("sink spawn failed")

	// ErrPipeClosed marks a broken encoder stdin pipe. The frame is
	// dropped; the sink otherwise continues.
	ErrPipeClosed = errors.New("encoder pipe closed")

	// ErrProbeFailed marks a malformed or empty router response. Treated
	// as transient; the monitoring loop continues.
	ErrProbeFailed = errors.New("uplink probe failed")
)
