// Package breaker implements the circuit breaker wrapping outbound ports
// (spec component C3): one breaker per named dependency, no per-tenant
// isolation, trip on consecutive failures, half-open probe after cooldown.
// The state machine mirrors the teacher's internal/engine/failover.go
// CircuitBreaker (failures/lastFailure/tripped) generalized from an
// LLM-failover-specific struct to a standalone reusable wrapper, and
// extended with the half-open probe state spec.md §4.2 requires.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Status is the circuit breaker's coarse state.
type Status string

const (
	StatusClosed   Status = "closed"
	StatusOpen     Status = "open"
	StatusHalfOpen Status = "half-open"
)

// ErrOpen is returned by Execute when the breaker is open and the call is
// refused without invoking the wrapped dependency.
var ErrOpen = errors.New("breaker: circuit open")

// Config configures a Breaker.
type Config struct {
	Name           string
	MaxFailures    int           // default 3
	ResetTimeout   time.Duration // default 60s
	OperationTimeout time.Duration // 0 = no per-call timeout
}

func (c Config) withDefaults() Config {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 60 * time.Second
	}
	return c
}

// Stats is the observable snapshot returned by GetStats.
type Stats struct {
	Name                string
	Status              Status
	ConsecutiveFailures int
	LastFailureTime     time.Time
}

// Breaker wraps a single named outbound dependency. Safe for concurrent use;
// state transitions are serialized through mu, matching §5's "circuit
// breaker state accessed only from the scheduler thread for transitions"
// while still allowing lock-free-ish reads via GetStats.
type Breaker struct {
	cfg Config

	mu                  sync.Mutex
	status              Status
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenProbeInFlight bool
}

// New creates a Breaker in the closed state.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), status: StatusClosed}
}

// GetStats returns a snapshot of the breaker's state and counters.
func (b *Breaker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:                b.cfg.Name,
		Status:              b.status,
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailureTime:     b.lastFailureTime,
	}
}

// admit decides whether a call may proceed, performing the open->half-open
// transition when resetTimeout has elapsed. Returns ErrOpen if the call must
// be refused.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.status {
	case StatusOpen:
		if time.Since(b.lastFailureTime) < b.cfg.ResetTimeout {
			return ErrOpen
		}
		b.status = StatusHalfOpen
		b.halfOpenProbeInFlight = true
		return nil
	case StatusHalfOpen:
		if b.halfOpenProbeInFlight {
			return ErrOpen
		}
		b.halfOpenProbeInFlight = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = StatusClosed
	b.consecutiveFailures = 0
	b.halfOpenProbeInFlight = false
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halfOpenProbeInFlight = false
	b.consecutiveFailures++
	b.lastFailureTime = time.Now()
	if b.status == StatusHalfOpen || b.consecutiveFailures >= b.cfg.MaxFailures {
		b.status = StatusOpen
	}
}

// Execute runs work under the breaker's protection. It fails fast with
// ErrOpen when the circuit is open (no call is made to the dependency). A
// configured OperationTimeout guards the call; timeout counts as a failure.
func Execute[T any](b *Breaker, ctx context.Context, work func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.admit(); err != nil {
		return zero, err
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if b.cfg.OperationTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.OperationTimeout)
		defer cancel()
	}

	result, err := work(callCtx)
	if err != nil {
		b.onFailure()
		return zero, fmt.Errorf("breaker %s: %w", b.cfg.Name, err)
	}
	b.onSuccess()
	return result, nil
}
