// Package heartbeat emits the periodic liveness signal of the agent.
package heartbeat

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cleverdata/cloud-courier/internal/logging"
)

// Beat is one liveness signal.
type Beat struct {
	Identity string
	At       time.Time
}

// Sink delivers a Beat somewhere.
type Sink interface {
	Name() string
	Send(ctx context.Context, b Beat) error
}

// Emitter sends a Beat to every sink when at least Frequency has passed since
// the previous one. The first call always sends.
type Emitter struct {
	clock     clockwork.Clock
	frequency time.Duration
	identity  string
	sinks     []Sink
	logger    logging.Logger

	last time.Time
	sent bool
}

func NewEmitter(clock clockwork.Clock, logger logging.Logger, sinks ...Sink) *Emitter {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Emitter{clock: clock, sinks: sinks, logger: logger}
}

// Configure sets the gate and the identity reported with each beat. It does
// not reset the time of the last beat.
func (e *Emitter) Configure(frequency time.Duration, identity string) {
	e.frequency = frequency
	e.identity = identity
}

// Due reports whether a beat would be sent now.
func (e *Emitter) Due() bool {
	return !e.sent || e.clock.Since(e.last) >= e.frequency
}

// SendIfDue sends a beat when the gate allows and reports whether it did.
// Sink failures are logged and do not hold back the next gate.
func (e *Emitter) SendIfDue(ctx context.Context) bool {
	if !e.Due() {
		return false
	}
	now := e.clock.Now()
	b := Beat{Identity: e.identity, At: now}
	for _, s := range e.sinks {
		if err := s.Send(ctx, b); err != nil {
			e.logger.Errorf("failed to send heartbeat to %s: %v", s.Name(), err)
			continue
		}
		e.logger.Infof("sent heartbeat to %s", s.Name())
	}
	e.last = now
	e.sent = true
	return true
}

// Last is the time of the previous beat, zero if none was sent.
func (e *Emitter) Last() time.Time {
	return e.last
}
