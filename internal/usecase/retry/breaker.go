package retry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"parity-league/internal/domain"
)

// BreakerSettings tunes the per-endpoint circuit breaker.
type BreakerSettings struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration
	// Interval is the cyclic period of the closed state for clearing failure
	// counts. If 0, failures never reset until the circuit opens.
	Interval time.Duration
}

// DefaultBreakerSettings are used for zero-valued fields.
var DefaultBreakerSettings = BreakerSettings{
	MaxFailures: 5,
	Timeout:     30 * time.Second,
	Interval:    60 * time.Second,
}

// BreakerPool keeps one circuit breaker per remote endpoint, shared across
// matches and rounds, so a dead agent is not hammered again in later rounds.
type BreakerPool struct {
	mu       sync.Mutex
	settings BreakerSettings
	breakers map[string]*gobreaker.CircuitBreaker[*domain.Envelope]
	logger   *slog.Logger
}

// NewBreakerPool creates a pool. Zero-valued settings fields fall back to
// DefaultBreakerSettings.
func NewBreakerPool(settings BreakerSettings, logger *slog.Logger) *BreakerPool {
	if settings.MaxFailures == 0 {
		settings.MaxFailures = DefaultBreakerSettings.MaxFailures
	}
	if settings.Timeout == 0 {
		settings.Timeout = DefaultBreakerSettings.Timeout
	}
	if settings.Interval == 0 {
		settings.Interval = DefaultBreakerSettings.Interval
	}
	return &BreakerPool{
		settings: settings,
		breakers: make(map[string]*gobreaker.CircuitBreaker[*domain.Envelope]),
		logger:   logger,
	}
}

func (p *BreakerPool) forEndpoint(endpoint string) *gobreaker.CircuitBreaker[*domain.Envelope] {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cb, ok := p.breakers[endpoint]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker[*domain.Envelope](gobreaker.Settings{
		Name:        "endpoint:" + endpoint,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    p.settings.Interval,
		Timeout:     p.settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= p.settings.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// A protocol rejection means the endpoint is alive and answering;
			// only transport failures count against it.
			return err == nil || !domain.Retryable(err)
		},
	})
	p.breakers[endpoint] = cb
	return cb
}

// Execute routes fn through the endpoint's breaker. An open circuit surfaces
// as a retryable connection failure so the caller's retry budget, not the
// breaker, decides when to give up on the match leg.
func (p *BreakerPool) Execute(endpoint string, fn func() (*domain.Envelope, error)) (*domain.Envelope, error) {
	cb := p.forEndpoint(endpoint)
	resp, err := cb.Execute(fn)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, domain.NewProtocolError(domain.CodeConnection, "BreakerPool.Execute",
			fmt.Errorf("%w: %w", domain.ErrBreakerOpen, domain.ErrConnection), endpoint)
	}
	return resp, err
}

// State reports the breaker state for an endpoint, for monitoring.
func (p *BreakerPool) State(endpoint string) gobreaker.State {
	return p.forEndpoint(endpoint).State()
}
