package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"parity-league/internal/domain"
)

// GameContext is what a strategy gets to look at before choosing.
type GameContext struct {
	MatchID  string
	Opponent string
	Deadline string
}

// Strategy decides a parity choice for one match. Implementations must
// return a member of the closed {even, odd} set and respect ctx.
type Strategy interface {
	Name() string
	Choose(ctx context.Context, gc GameContext) (domain.Parity, error)
}

// New builds a strategy by name. seed fixes the random source so runs can
// be reproduced.
func New(name string, seed int64) (Strategy, error) {
	switch name {
	case "random", "":
		return NewRandom(seed), nil
	case "adaptive":
		return NewFrequency(seed), nil
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", domain.ErrInvalidInput, name)
	}
}

// Random picks even or odd uniformly. The baseline for a pure luck game.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandom(seed int64) *Random {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

func (r *Random) Name() string { return "random" }

func (r *Random) Choose(_ context.Context, _ GameContext) (domain.Parity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rng.Intn(2) == 0 {
		return domain.ParityEven, nil
	}
	return domain.ParityOdd, nil
}

// Frequency follows the parity that has come up most often in observed
// draws, falling back to a coin flip while the sample is empty or tied.
// Observe is fed from game-over notifications.
type Frequency struct {
	mu   sync.Mutex
	even int
	odd  int
	rng  *rand.Rand
}

func NewFrequency(seed int64) *Frequency {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Frequency{rng: rand.New(rand.NewSource(seed))}
}

func (f *Frequency) Name() string { return "adaptive" }

// Observe records one drawn number.
func (f *Frequency) Observe(drawn int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if domain.ParityOf(drawn) == domain.ParityEven {
		f.even++
	} else {
		f.odd++
	}
}

func (f *Frequency) Choose(_ context.Context, _ GameContext) (domain.Parity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.even > f.odd:
		return domain.ParityEven, nil
	case f.odd > f.even:
		return domain.ParityOdd, nil
	case f.rng.Intn(2) == 0:
		return domain.ParityEven, nil
	default:
		return domain.ParityOdd, nil
	}
}

// Fallback wraps a strategy with a deadline. When the inner strategy errors
// or overruns the budget, the choice degrades to a coin flip so the player
// always answers inside the protocol window.
type Fallback struct {
	inner  Strategy
	budget time.Duration
	rescue *Random
	logger *slog.Logger
}

// NewFallback wraps inner. budget must leave headroom under the choice
// timeout; 25s against the 30s protocol window is the usual setting.
func NewFallback(inner Strategy, budget time.Duration, seed int64, logger *slog.Logger) *Fallback {
	return &Fallback{inner: inner, budget: budget, rescue: NewRandom(seed), logger: logger}
}

func (f *Fallback) Name() string { return f.inner.Name() + "+fallback" }

func (f *Fallback) Choose(ctx context.Context, gc GameContext) (domain.Parity, error) {
	ctx, cancel := context.WithTimeout(ctx, f.budget)
	defer cancel()

	type result struct {
		choice domain.Parity
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		choice, err := f.inner.Choose(ctx, gc)
		ch <- result{choice, err}
	}()

	select {
	case res := <-ch:
		if res.err == nil && domain.ValidParity(string(res.choice)) {
			return res.choice, nil
		}
		f.logger.Warn("strategy failed, falling back to random",
			"strategy", f.inner.Name(), "match_id", gc.MatchID, "error", res.err)
	case <-ctx.Done():
		f.logger.Warn("strategy overran budget, falling back to random",
			"strategy", f.inner.Name(), "match_id", gc.MatchID, "budget", f.budget)
	}
	return f.rescue.Choose(context.Background(), gc)
}
