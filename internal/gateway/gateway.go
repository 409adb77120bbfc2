package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/LegionofMany/411BlockPages-sub001/internal/circuitbreaker"
	"github.com/LegionofMany/411BlockPages-sub001/internal/metrics"
)

// ErrProviderTimeout is returned when every attempt timed out.
var ErrProviderTimeout = errors.New("provider timed out")

// ErrCircuitOpen is re-exported so callers need not import circuitbreaker.
var ErrCircuitOpen = circuitbreaker.ErrCircuitOpen

// Config tunes retry, backoff and circuit behavior. Zero values pick defaults.
type Config struct {
	Timeout     time.Duration // per-attempt timeout (default: 10s)
	Retries     int           // extra attempts after the first (default: 2)
	BackoffBase time.Duration // first backoff delay (default: 500ms)
	BackoffMax  time.Duration // backoff cap (default: 8s)
	Cooldown    time.Duration // circuit open window (default: 60s)
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 8 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	return c
}

// Gateway guards remote chain endpoints with per-attempt timeouts, bounded
// exponential backoff and one circuit breaker per endpoint URL. State is
// process-local: multiple instances do not share circuit state.
type Gateway struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*circuitbreaker.Breaker
}

func New(cfg Config, logger *slog.Logger) *Gateway {
	return &Gateway{
		cfg:      cfg.withDefaults(),
		logger:   logger.With("component", "gateway"),
		breakers: make(map[string]*circuitbreaker.Breaker),
	}
}

func (g *Gateway) breaker(endpoint string) *circuitbreaker.Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[endpoint]
	if !ok {
		b = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: g.cfg.Retries,
			Cooldown:         g.cfg.Cooldown,
			OnOpen: func(failures int) {
				metrics.GatewayCircuitOpens.WithLabelValues(endpoint).Inc()
				g.logger.Warn("circuit opened", "endpoint", endpoint, "failures", failures)
			},
		})
		g.breakers[endpoint] = b
	}
	return b
}

// Execute runs op against endpoint under the gateway's resilience policy.
//
// Each attempt gets a child context bound to the per-attempt timeout, so a
// losing attempt is actually cancelled rather than left running. An open
// circuit rejects the call before any network attempt is made. After the
// retry budget is exhausted the endpoint's failure counter is incremented,
// unless every failed attempt was the caller's own cancellation, and the
// last observed error is returned.
func Execute[T any](ctx context.Context, g *Gateway, endpoint string, op func(context.Context) (T, error)) (T, error) {
	var zero T

	br := g.breaker(endpoint)
	if err := br.Allow(); err != nil {
		metrics.GatewayCircuitRejections.WithLabelValues(endpoint).Inc()
		return zero, fmt.Errorf("endpoint %s: %w", endpoint, err)
	}

	start := time.Now()
	defer func() {
		metrics.GatewayCallLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	endpointFailed := false
	for attempt := 0; attempt <= g.cfg.Retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, g.backoff(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}

		metrics.GatewayAttemptsTotal.WithLabelValues(endpoint).Inc()

		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		result, err := op(attemptCtx)
		cancel()

		if err == nil {
			br.RecordSuccess()
			return result, nil
		}

		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			lastErr = fmt.Errorf("endpoint %s: %w", endpoint, ErrProviderTimeout)
		} else {
			lastErr = fmt.Errorf("endpoint %s: %w", endpoint, err)
		}

		// A failure only counts against the endpoint while the caller's
		// context is still live; an attempt aborted by the caller says
		// nothing about endpoint health.
		if ctx.Err() == nil {
			endpointFailed = true
		}

		g.logger.Debug("attempt failed",
			"endpoint", endpoint,
			"attempt", attempt,
			"error", err,
		)

		if ctx.Err() != nil {
			break
		}
		if decision := Classify(err); !decision.IsTransient() && !errors.Is(err, context.DeadlineExceeded) {
			// Terminal errors will not get better with retries.
			break
		}
	}

	if endpointFailed {
		br.RecordFailure()
		metrics.GatewayFailuresTotal.WithLabelValues(endpoint).Inc()
	}
	return zero, lastErr
}

func (g *Gateway) backoff(attempt int) time.Duration {
	d := g.cfg.BackoffBase << attempt
	if d > g.cfg.BackoffMax || d <= 0 {
		d = g.cfg.BackoffMax
	}
	return d
}

// CircuitOpen reports whether the endpoint's circuit is currently rejecting
// calls. Exposed for health reporting.
func (g *Gateway) CircuitOpen(endpoint string) bool {
	return g.breaker(endpoint).Open()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
