// Package logging configures the process-wide structured logger. The
// controller and every component take a *zerolog.Logger* explicitly
// (dependency-injected, never a global singleton — see spec.md §9's
// "global mutable state" redesign note) so tests can inject zerolog.Nop().
package logging

import (
	"io"
	"log/syslog"
	"os"

	"github.com/rs/zerolog"
)

// Destination selects where log records are written, mirroring the three
// destinations of the original connection_service's LogType enum.
type Destination int

const (
	// Console writes human-readable records to stderr.
	Console Destination = iota
	// Syslog writes JSON records to the local syslog daemon.
	Syslog
	// Both writes to console and syslog.
	Both
)

// New builds a zerolog.Logger for the given destination. ident names the
// process for syslog's facility tag.
func New(dest Destination, ident string) (zerolog.Logger, error) {
	switch dest {
	case Console:
		return zerolog.New(consoleWriter()).With().Timestamp().Logger(), nil
	case Syslog:
		w, err := syslogWriter(ident)
		if err != nil {
			return zerolog.Logger{}, err
		}
		return zerolog.New(w).With().Timestamp().Logger(), nil
	case Both:
		w, err := syslogWriter(ident)
		if err != nil {
			return zerolog.Logger{}, err
		}
		multi := zerolog.MultiLevelWriter(consoleWriter(), w)
		return zerolog.New(multi).With().Timestamp().Logger(), nil
	default:
		return zerolog.New(consoleWriter()).With().Timestamp().Logger(), nil
	}
}

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
}

// syslogWriter wraps the standard library's syslog client as an io.Writer so
// it can be combined with zerolog's other writers. Syslog emission is an
// out-of-scope external collaborator per spec.md §1; this stays on the
// standard library rather than a syslog-specific third-party client.
func syslogWriter(ident string) (io.Writer, error) {
	w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_LOCAL0, ident)
	if err != nil {
		return nil, err
	}
	return w, nil
}
