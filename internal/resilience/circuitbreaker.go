package resilience

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the state of a provider circuit.
type BreakerState int

const (
	// StateClosed lets every call through.
	StateClosed BreakerState = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets a limited number of trial calls through.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned while the provider circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig configures the provider circuit breaker.
// A zero FailureThreshold disables it.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int `yaml:"failure_threshold"`
	// SuccessThreshold is the number of half-open successes that closes it again.
	SuccessThreshold int `yaml:"success_threshold"`
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration `yaml:"cooldown"`
	// HalfOpenMaxCalls caps concurrent trial calls while half-open.
	HalfOpenMaxCalls int `yaml:"half_open_max_calls"`
}

// Enabled reports whether the breaker is configured.
func (c BreakerConfig) Enabled() bool {
	return c.FailureThreshold > 0
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 1
	}
	return c
}

// Breaker is a consecutive-failure circuit breaker for one provider.
type Breaker struct {
	mu         sync.Mutex
	cfg        BreakerConfig
	state      BreakerState
	failures   int
	successes  int
	trials     int
	openedAt   time.Time
	now        func() time.Time
	transition func(from, to BreakerState)
}

// NewBreaker creates a closed breaker. Unset thresholds fall back to defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), now: time.Now}
}

// OnTransition registers fn to run after every state change. fn is called
// with the breaker lock released.
func (b *Breaker) OnTransition(fn func(from, to BreakerState)) {
	b.mu.Lock()
	b.transition = fn
	b.mu.Unlock()
}

// Allow reports whether a call may proceed. A true result while half-open
// reserves a trial slot that Success or Failure releases.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	allowed, from, to := b.allowLocked()
	fn := b.transition
	b.mu.Unlock()

	if from != to && fn != nil {
		fn(from, to)
	}
	return allowed
}

func (b *Breaker) allowLocked() (bool, BreakerState, BreakerState) {
	from := b.state
	switch b.state {
	case StateClosed:
		return true, from, from
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, from, from
		}
		b.state = StateHalfOpen
		b.successes = 0
		b.trials = 1
		return true, from, b.state
	default:
		if b.trials >= b.cfg.HalfOpenMaxCalls {
			return false, from, from
		}
		b.trials++
		return true, from, from
	}
}

// Success records a healthy provider response.
func (b *Breaker) Success() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		if b.trials > 0 {
			b.trials--
		}
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
		}
	}
	to, fn := b.state, b.transition
	b.mu.Unlock()

	if from != to && fn != nil {
		fn(from, to)
	}
}

// Failure records a provider failure. Any failure while half-open reopens the circuit.
func (b *Breaker) Failure() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.open()
		}
	case StateHalfOpen:
		b.open()
	}
	to, fn := b.state, b.transition
	b.mu.Unlock()

	if from != to && fn != nil {
		fn(from, to)
	}
}

// Abandon releases a half-open trial slot without recording an outcome.
func (b *Breaker) Abandon() {
	b.mu.Lock()
	if b.state == StateHalfOpen && b.trials > 0 {
		b.trials--
	}
	b.mu.Unlock()
}

func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.trials = 0
	b.successes = 0
}

// State returns the current state. An open breaker whose cooldown has
// elapsed still reports open until the next Allow.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
