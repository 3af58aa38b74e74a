// Package distributor implements the frame fan-out: each frame produced by
// one source is delivered to every currently-registered consumer exactly
// once, in registration order.
package distributor

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Consumer receives one frame's raw bytes. Consumers must not re-enter the
// distributor that invokes them.
type Consumer func(frame []byte)

// Token is an opaque registration handle returned by AddConsumer and
// accepted by RemoveConsumer. Go function values carry no usable identity
// beyond their code entry pointer, which collides across distinct closures
// built from the same function literal (and across method values of the
// same method on different receivers) — so registrations are tracked by
// token rather than by comparing fn itself.
type Token uint64

type registration struct {
	token Token
	fn    Consumer
}

// Distributor fans a byte-slice frame stream out to N registered consumers.
// add/remove/distribute are mutually safe; distribute observes a consistent
// snapshot of the registered set and never tears an iteration.
type Distributor struct {
	mu      sync.Mutex
	regs    []registration
	nextTok Token
	logger  zerolog.Logger
}

// New creates an empty Distributor.
func New(logger zerolog.Logger) *Distributor {
	return &Distributor{logger: logger}
}

// AddConsumer registers fn and returns a Token identifying this
// registration for a later RemoveConsumer call. Each call creates a new,
// independent registration, even when fn wraps the same underlying
// function literal as an earlier registration.
func (d *Distributor) AddConsumer(fn Consumer) Token {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextTok++
	tok := d.nextTok
	d.regs = append(d.regs, registration{token: tok, fn: fn})
	return tok
}

// RemoveConsumer deregisters the consumer registered under token. Removing
// an unregistered or already-removed token is a no-op.
func (d *Distributor) RemoveConsumer(token Token) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, r := range d.regs {
		if r.token == token {
			d.regs = append(d.regs[:i], d.regs[i+1:]...)
			return
		}
	}
}

// Distribute invokes every registered consumer with frame, in registration
// order. A panicking consumer is recovered, logged, and does not prevent
// delivery to the remaining consumers.
func (d *Distributor) Distribute(frame []byte) {
	d.mu.Lock()
	snapshot := make([]Consumer, len(d.regs))
	for i, r := range d.regs {
		snapshot[i] = r.fn
	}
	d.mu.Unlock()

	for _, fn := range snapshot {
		d.invoke(fn, frame)
	}
}

func (d *Distributor) invoke(fn Consumer, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn().
				Str("error", fmt.Sprintf("%v", r)).
				Msg("frame consumer panicked")
		}
	}()
	fn(frame)
}

// Len reports the current number of registered consumers, for status/tests.
func (d *Distributor) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.regs)
}
