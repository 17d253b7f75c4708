package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parity-league/internal/domain"
)

func testLogger() *slog.Logger { return slog.Default() }

func newTestRegistry() *Registry { return NewRegistry(3, testLogger()) }

func TestRegisterPlayerAssignsSequentialIDs(t *testing.T) {
	r := newTestRegistry()

	for i, name := range []string{"Alice", "Bob", "Carol"} {
		agent, err := r.RegisterPlayer(name, fmt.Sprintf("http://localhost:%d/mcp", 8101+i))
		require.NoError(t, err)
		assert.Equal(t, domain.AgentRegistered, agent.State)
		assert.NotEmpty(t, agent.AuthToken)
	}

	assert.Equal(t, []string{"P01", "P02", "P03"}, r.Players())
}

func TestRegisterRefereeIDs(t *testing.T) {
	r := newTestRegistry()

	ref, err := r.RegisterReferee("Ref One", "http://localhost:8201/mcp")
	require.NoError(t, err)
	assert.Equal(t, "REF01", ref.ID)
	assert.Equal(t, domain.RoleReferee, ref.Role)

	ref2, err := r.RegisterReferee("Ref Two", "http://localhost:8202/mcp")
	require.NoError(t, err)
	assert.Equal(t, "REF02", ref2.ID)
}

func TestReRegistrationYieldsNewAgent(t *testing.T) {
	r := newTestRegistry()

	first, err := r.RegisterPlayer("Alice", "http://localhost:8101/mcp")
	require.NoError(t, err)
	second, err := r.RegisterPlayer("Alice", "http://localhost:8102/mcp")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.AuthToken, second.AuthToken)
	assert.Len(t, r.Players(), 2)
}

func TestLateRegistrationRejected(t *testing.T) {
	r := newTestRegistry()
	_, err := r.RegisterPlayer("Alice", "http://localhost:8101/mcp")
	require.NoError(t, err)

	r.CloseRegistration()

	_, err = r.RegisterPlayer("Latecomer", "http://localhost:8109/mcp")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrLeagueClosed))
}

func TestRegisterRejectsMissingFields(t *testing.T) {
	r := newTestRegistry()
	_, err := r.RegisterPlayer("", "http://localhost:8101/mcp")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMissingField))

	_, err = r.RegisterReferee("Ref", "")
	require.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	r := newTestRegistry()
	agent, err := r.RegisterPlayer("Alice", "http://localhost:8101/mcp")
	require.NoError(t, err)

	assert.True(t, r.Authenticate(agent.ID, agent.AuthToken))
	assert.False(t, r.Authenticate(agent.ID, "wrong-token"))
	assert.False(t, r.Authenticate(agent.ID, ""))
	assert.False(t, r.Authenticate("P99", agent.AuthToken))
}

func TestLookupAndEndpoint(t *testing.T) {
	r := newTestRegistry()
	agent, err := r.RegisterPlayer("Alice", "http://localhost:8101/mcp")
	require.NoError(t, err)

	got, err := r.Lookup(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)

	ep, err := r.Endpoint(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8101/mcp", ep)

	_, err = r.Lookup("P42")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotRegistered))
	assert.Equal(t, domain.CodePlayerNotRegistered, domain.ErrorCodeOf(err))
}

func TestCloseRegistrationActivates(t *testing.T) {
	r := newTestRegistry()
	agent, _ := r.RegisterPlayer("Alice", "http://localhost:8101/mcp")
	r.CloseRegistration()

	got, err := r.Lookup(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentActive, got.State)
}

func TestFailureSuspensionAndRecovery(t *testing.T) {
	r := newTestRegistry()
	agent, _ := r.RegisterPlayer("Flaky", "http://localhost:8101/mcp")
	r.CloseRegistration()

	assert.False(t, r.RecordFailure(agent.ID))
	assert.False(t, r.RecordFailure(agent.ID))
	// Third consecutive failure crosses the limit.
	assert.True(t, r.RecordFailure(agent.ID))

	got, _ := r.Lookup(agent.ID)
	assert.Equal(t, domain.AgentSuspended, got.State)
	assert.Equal(t, []string{agent.ID}, r.Suspended())
	assert.NotContains(t, r.ActivePlayers(), agent.ID)

	assert.True(t, r.RecordSuccess(agent.ID))
	got, _ = r.Lookup(agent.ID)
	assert.Equal(t, domain.AgentActive, got.State)
	assert.Equal(t, 0, got.ConsecutiveFailures)
	assert.Contains(t, r.ActivePlayers(), agent.ID)
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	r := newTestRegistry()
	agent, _ := r.RegisterPlayer("Flaky", "http://localhost:8101/mcp")
	r.CloseRegistration()

	r.RecordFailure(agent.ID)
	r.RecordFailure(agent.ID)
	r.RecordSuccess(agent.ID)

	// The streak starts over; two more failures are not enough to suspend.
	assert.False(t, r.RecordFailure(agent.ID))
	assert.False(t, r.RecordFailure(agent.ID))
	got, _ := r.Lookup(agent.ID)
	assert.Equal(t, domain.AgentActive, got.State)
}

func TestTokensAreUnique(t *testing.T) {
	r := newTestRegistry()
	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		a, err := r.RegisterPlayer("P", "http://localhost:8101/mcp")
		require.NoError(t, err)
		assert.False(t, seen[a.AuthToken], "duplicate token")
		seen[a.AuthToken] = true
	}
}
