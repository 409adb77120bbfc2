package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker is a per-endpoint circuit breaker. Unlike a classic breaker the
// failure counter is cumulative: it is never reset by a later success, so an
// endpoint that keeps flapping trips faster each time. Only the open window
// itself is time-based.
type Breaker struct {
	mu               sync.Mutex
	failureCount     int
	failureThreshold int
	cooldown         time.Duration
	openedAt         time.Time
	nowFn            func() time.Time
	onOpen           func(failures int)
}

// Config configures a circuit breaker.
type Config struct {
	FailureThreshold int           // failures before opening (default: 3)
	Cooldown         time.Duration // how long to fail fast once opened (default: 30s)
	OnOpen           func(failures int)
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		failureThreshold: cfg.FailureThreshold,
		cooldown:         cfg.Cooldown,
		nowFn:            time.Now,
		onOpen:           cfg.OnOpen,
	}
}

// Allow checks whether a call may proceed. It fails with ErrCircuitOpen
// while the breaker is open and inside its cooldown window.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openedAt.IsZero() {
		return nil
	}
	if b.nowFn().Sub(b.openedAt) >= b.cooldown {
		return nil
	}
	return ErrCircuitOpen
}

// RecordFailure counts one exhausted call against the endpoint and opens the
// circuit once the cumulative count exceeds the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	if b.failureCount > b.failureThreshold {
		wasOpen := !b.openedAt.IsZero() && b.nowFn().Sub(b.openedAt) < b.cooldown
		b.openedAt = b.nowFn()
		if !wasOpen && b.onOpen != nil {
			b.onOpen(b.failureCount)
		}
	}
}

// RecordSuccess clears the open window so calls stop failing fast. The
// failure counter is deliberately left untouched.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openedAt = time.Time{}
}

// FailureCount returns the cumulative failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// Open reports whether the breaker is currently failing fast.
func (b *Breaker) Open() bool {
	return b.Allow() != nil
}
