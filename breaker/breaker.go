// Package breaker implements the circuit breaker that shields the
// engine from a misbehaving dependency. One Breaker wraps one dependency
// and is shared by every concurrent workflow calling it; all state
// transitions happen under a single mutex.
package breaker

import (
	"fmt"
	"sync"
	"time"

	cardream "github.com/basedlsg/Car-Dream"
)

// State is the breaker's position.
type State string

const (
	// Closed passes calls through.
	Closed State = "closed"

	// Open rejects calls immediately until the cooldown elapses.
	Open State = "open"

	// HalfOpen permits exactly one trial call.
	HalfOpen State = "half_open"
)

// Defaults per the recovery design: five consecutive failures open the
// breaker, and it stays open for a minute before a trial.
const (
	DefaultThreshold = 5
	DefaultCooldown  = 60 * time.Second
)

// Option configures a Breaker.
type Option func(*Breaker)

// WithThreshold sets the consecutive-failure count that opens the breaker.
func WithThreshold(n int) Option {
	return func(b *Breaker) { b.threshold = n }
}

// WithCooldown sets how long the breaker stays open before a trial call.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) { b.cooldown = d }
}

// WithClock overrides the time source. Tests use this to step through
// the cooldown without sleeping.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// Breaker is a per-dependency circuit breaker.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool
}

// New creates a Closed breaker for the named dependency.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:      name,
		threshold: DefaultThreshold,
		cooldown:  DefaultCooldown,
		now:       time.Now,
		state:     Closed,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name returns the dependency name the breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current position, advancing Open to HalfOpen when
// the cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// Allow reports whether a call may proceed. While Open it returns
// cardream.ErrCircuitOpen without contacting the dependency; after the
// cooldown it admits exactly one trial call in HalfOpen.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance()
	switch b.state {
	case Closed:
		return nil
	case HalfOpen:
		if b.probing {
			return fmt.Errorf("%w: %s trial in flight", cardream.ErrCircuitOpen, b.name)
		}
		b.probing = true
		return nil
	default:
		return fmt.Errorf("%w: %s", cardream.ErrCircuitOpen, b.name)
	}
}

// Record feeds a call outcome back into the breaker. A nil error closes
// the breaker and resets the failure counter from any state; a failure
// increments the counter while Closed and reopens from HalfOpen.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.state = Closed
		b.failures = 0
		b.probing = false
		return
	}

	switch b.state {
	case HalfOpen:
		b.state = Open
		b.lastFailure = b.now()
		b.probing = false
	case Closed:
		b.failures++
		b.lastFailure = b.now()
		if b.failures >= b.threshold {
			b.state = Open
		}
	default:
		b.lastFailure = b.now()
	}
}

// advance moves Open to HalfOpen once the cooldown has elapsed.
// Caller holds b.mu.
func (b *Breaker) advance() {
	if b.state == Open && b.now().Sub(b.lastFailure) >= b.cooldown {
		b.state = HalfOpen
		b.probing = false
	}
}
