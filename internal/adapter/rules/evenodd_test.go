package rules

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parity-league/internal/domain"
)

// seedFor finds a seed whose first draw has the wanted parity, so outcome
// tests can pin the draw without touching the production code path.
func seedFor(t *testing.T, want domain.Parity) int64 {
	t.Helper()
	for seed := int64(0); seed < 100; seed++ {
		n := 1 + rand.New(rand.NewSource(seed)).Intn(10)
		if domain.ParityOf(n) == want {
			return seed
		}
	}
	t.Fatal("no seed found")
	return 0
}

func TestValidateChoice(t *testing.T) {
	eo := NewEvenOdd()
	assert.True(t, eo.ValidateChoice("even"))
	assert.True(t, eo.ValidateChoice("odd"))
	for _, bad := range []string{"Even", "ODD", "", "7", "evens"} {
		assert.False(t, eo.ValidateChoice(bad), "%q", bad)
	}
}

func TestResolveWin(t *testing.T) {
	eo := NewEvenOdd()
	seed := seedFor(t, domain.ParityEven)

	out, err := eo.Resolve(eo.Init(), map[string]string{"P01": "even", "P02": "odd"}, seed)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeWin, out.Kind)
	assert.Equal(t, "P01", out.WinnerID)
	assert.Equal(t, "P02", out.LoserID)
	assert.Equal(t, domain.ParityEven, out.Parity)
	assert.GreaterOrEqual(t, out.DrawnNumber, 1)
	assert.LessOrEqual(t, out.DrawnNumber, 10)
}

func TestResolveDrawBothCorrect(t *testing.T) {
	eo := NewEvenOdd()
	seed := seedFor(t, domain.ParityOdd)

	out, err := eo.Resolve(eo.Init(), map[string]string{"P01": "odd", "P02": "odd"}, seed)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDraw, out.Kind)
	assert.Empty(t, out.WinnerID)
}

func TestResolveDrawBothWrong(t *testing.T) {
	eo := NewEvenOdd()
	seed := seedFor(t, domain.ParityOdd)

	out, err := eo.Resolve(eo.Init(), map[string]string{"P01": "even", "P02": "even"}, seed)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDraw, out.Kind)
}

func TestResolveDeterministicForSeed(t *testing.T) {
	eo := NewEvenOdd()
	choices := map[string]string{"P01": "even", "P02": "odd"}

	first, err := eo.Resolve(eo.Init(), choices, 42)
	require.NoError(t, err)
	second, err := eo.Resolve(eo.Init(), choices, 42)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolveRejectsInvalidChoice(t *testing.T) {
	eo := NewEvenOdd()
	_, err := eo.Resolve(eo.Init(), map[string]string{"P01": "Even", "P02": "odd"}, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidChoice))
	assert.Equal(t, domain.CodeInvalidParityChoice, domain.ErrorCodeOf(err))
}

func TestResolveRejectsWrongArity(t *testing.T) {
	eo := NewEvenOdd()
	_, err := eo.Resolve(eo.Init(), map[string]string{"P01": "even"}, 1)
	require.Error(t, err)
}

func TestDrawRange(t *testing.T) {
	eo := NewEvenOdd()
	for seed := int64(0); seed < 200; seed++ {
		out, err := eo.Resolve(eo.Init(), map[string]string{"P01": "even", "P02": "odd"}, seed)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, out.DrawnNumber, 1)
		assert.LessOrEqual(t, out.DrawnNumber, 10)
	}
}

func TestFactoryResolve(t *testing.T) {
	f := NewFactory()

	mod, err := f.Resolve("even_odd")
	require.NoError(t, err)
	assert.Equal(t, GameTypeEvenOdd, mod.GameType())

	_, err = f.Resolve("chess")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrGameType))
}

func TestFactoryCustomRegistration(t *testing.T) {
	f := NewFactory()
	f.Register("always_even", func() domain.Rules { return NewEvenOdd() })

	mod, err := f.Resolve("always_even")
	require.NoError(t, err)
	assert.NotNil(t, mod)
}
