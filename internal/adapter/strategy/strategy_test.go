package strategy

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parity-league/internal/domain"
)

func TestRandomAlwaysValid(t *testing.T) {
	s := NewRandom(42)
	for i := 0; i < 50; i++ {
		choice, err := s.Choose(context.Background(), GameContext{})
		require.NoError(t, err)
		assert.True(t, domain.ValidParity(string(choice)))
	}
}

func TestRandomDeterministicWithSeed(t *testing.T) {
	a, b := NewRandom(7), NewRandom(7)
	for i := 0; i < 20; i++ {
		ca, _ := a.Choose(context.Background(), GameContext{})
		cb, _ := b.Choose(context.Background(), GameContext{})
		assert.Equal(t, ca, cb)
	}
}

func TestFrequencyFollowsObservedDraws(t *testing.T) {
	s := NewFrequency(1)
	s.Observe(2)
	s.Observe(4)
	s.Observe(5)

	choice, err := s.Choose(context.Background(), GameContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.ParityEven, choice)

	s.Observe(3)
	s.Observe(7)
	s.Observe(9)
	choice, err = s.Choose(context.Background(), GameContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.ParityOdd, choice)
}

func TestFrequencyTieIsValid(t *testing.T) {
	s := NewFrequency(1)
	s.Observe(2)
	s.Observe(3)
	choice, err := s.Choose(context.Background(), GameContext{})
	require.NoError(t, err)
	assert.True(t, domain.ValidParity(string(choice)))
}

func TestNewByName(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{name: "random", want: "random"},
		{name: "", want: "random"},
		{name: "adaptive", want: "adaptive"},
		{name: "psychic", wantErr: true},
	}
	for _, tt := range tests {
		s, err := New(tt.name, 1)
		if tt.wantErr {
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, s.Name())
	}
}

type stuckStrategy struct{}

func (stuckStrategy) Name() string { return "stuck" }
func (stuckStrategy) Choose(ctx context.Context, _ GameContext) (domain.Parity, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type brokenStrategy struct{}

func (brokenStrategy) Name() string { return "broken" }
func (brokenStrategy) Choose(context.Context, GameContext) (domain.Parity, error) {
	return "", errors.New("model unavailable")
}

type uppercaseStrategy struct{}

func (uppercaseStrategy) Name() string { return "shouty" }
func (uppercaseStrategy) Choose(context.Context, GameContext) (domain.Parity, error) {
	return domain.Parity("EVEN"), nil
}

func TestFallbackRescuesStuckStrategy(t *testing.T) {
	f := NewFallback(stuckStrategy{}, 20*time.Millisecond, 42, slog.Default())
	choice, err := f.Choose(context.Background(), GameContext{MatchID: "R1M1"})
	require.NoError(t, err)
	assert.True(t, domain.ValidParity(string(choice)))
}

func TestFallbackRescuesError(t *testing.T) {
	f := NewFallback(brokenStrategy{}, time.Second, 42, slog.Default())
	choice, err := f.Choose(context.Background(), GameContext{})
	require.NoError(t, err)
	assert.True(t, domain.ValidParity(string(choice)))
}

func TestFallbackRejectsInvalidCasing(t *testing.T) {
	f := NewFallback(uppercaseStrategy{}, time.Second, 42, slog.Default())
	choice, err := f.Choose(context.Background(), GameContext{})
	require.NoError(t, err)
	assert.True(t, domain.ValidParity(string(choice)))
}

func TestFallbackPassesThroughHealthyStrategy(t *testing.T) {
	inner := NewFrequency(1)
	inner.Observe(2)
	f := NewFallback(inner, time.Second, 42, slog.Default())
	choice, err := f.Choose(context.Background(), GameContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.ParityEven, choice)
}
