// Package circuitbreaker stops calling a provider that keeps failing.
//
//	closed    -> open       after MaxFailures consecutive failures
//	open      -> half-open  once RecoveryTimeout has passed
//	half-open -> closed     when a trial call succeeds
//	half-open -> open       when a trial call fails
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
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

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds the breaker thresholds.
type Config struct {
	// Name identifies the protected provider, e.g. "whatsapp".
	Name string

	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures int

	// RecoveryTimeout is how long the circuit stays open before a trial call.
	RecoveryTimeout time.Duration

	// HalfOpenMaxRequests caps concurrent trials while half-open.
	HalfOpenMaxRequests int
}

// DefaultConfig returns 5 failures, 30s recovery and a single trial call.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		MaxFailures:         5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// CircuitBreaker tracks consecutive failures of one provider.
type CircuitBreaker struct {
	mu     sync.Mutex
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	state       State
	failures    int
	trials      int
	openedAt    time.Time
	lastFailure time.Time
	changedAt   time.Time

	requests  int64
	successes int64
	failed    int64
	rejected  int64
}

// New creates a closed breaker. Zero config fields take DefaultConfig values.
func New(cfg Config, logger *zap.Logger) *CircuitBreaker {
	def := DefaultConfig(cfg.Name)
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = def.HalfOpenMaxRequests
	}

	return &CircuitBreaker{
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		state:     StateClosed,
		changedAt: time.Now(),
	}
}

func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Allow reports whether a call may proceed. A caller that gets true must
// report the result with RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requests++

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.RecoveryTimeout {
		cb.setState(StateHalfOpen)
		cb.logger.Info("circuit breaker probing provider", zap.String("breaker", cb.cfg.Name))
	}

	switch cb.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.trials < cb.cfg.HalfOpenMaxRequests {
			cb.trials++
			return true
		}
	}

	cb.rejected++
	return false
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes++
	cb.failures = 0

	if cb.state == StateHalfOpen {
		cb.setState(StateClosed)
		cb.logger.Info("circuit breaker closed, provider recovered", zap.String("breaker", cb.cfg.Name))
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failed++
	cb.failures++
	cb.lastFailure = cb.now()

	switch {
	case cb.state == StateHalfOpen:
		cb.trip()
		cb.logger.Warn("circuit breaker re-opened, trial failed", zap.String("breaker", cb.cfg.Name))
	case cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures:
		cb.trip()
		cb.logger.Warn("circuit breaker opened",
			zap.String("breaker", cb.cfg.Name),
			zap.Int("failures", cb.failures),
		)
	}
}

// Release gives back an allowed call without a verdict.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.trials > 0 {
		cb.trials--
	}
}

// State returns the current state, moving to half-open if the recovery
// timeout has passed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.RecoveryTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the circuit, e.g. after an operator fixed credentials.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
	cb.failures = 0
	cb.logger.Info("circuit breaker reset", zap.String("breaker", cb.cfg.Name))
}

// Stats is a point-in-time snapshot for the operator API.
type Stats struct {
	Name          string     `json:"name"`
	State         string     `json:"state"`
	Failures      int        `json:"consecutive_failures"`
	Requests      int64      `json:"requests"`
	Successes     int64      `json:"successes"`
	Failed        int64      `json:"failed"`
	Rejected      int64      `json:"rejected"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	ChangedAt     time.Time  `json:"state_changed_at"`
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Stats{
		Name:      cb.cfg.Name,
		State:     cb.state.String(),
		Failures:  cb.failures,
		Requests:  cb.requests,
		Successes: cb.successes,
		Failed:    cb.failed,
		Rejected:  cb.rejected,
		ChangedAt: cb.changedAt,
	}
	if !cb.lastFailure.IsZero() {
		t := cb.lastFailure
		s.LastFailureAt = &t
	}
	return s
}

func (cb *CircuitBreaker) String() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return fmt.Sprintf("CircuitBreaker[%s] state=%s failures=%d/%d",
		cb.cfg.Name, cb.state, cb.failures, cb.cfg.MaxFailures)
}

// trip opens the circuit. Caller holds mu.
func (cb *CircuitBreaker) trip() {
	cb.setState(StateOpen)
	cb.openedAt = cb.now()
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(s State) {
	if cb.state == s {
		return
	}
	cb.logger.Debug("circuit breaker state change",
		zap.String("breaker", cb.cfg.Name),
		zap.String("from", cb.state.String()),
		zap.String("to", s.String()),
	)
	cb.state = s
	cb.trials = 0
	cb.changedAt = cb.now()
}
