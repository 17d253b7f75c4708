package player

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parity-league/internal/adapter/strategy"
	"parity-league/internal/domain"
	"parity-league/internal/usecase/retry"
)

// fakeCaller scripts the league manager's side of the wire.
type fakeCaller struct {
	mu      sync.Mutex
	calls   []*domain.Envelope
	replies []*domain.Envelope
	errs    []error
}

func (f *fakeCaller) Call(_ context.Context, _ string, env *domain.Envelope, _ time.Duration) (*domain.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, env)
	i := len(f.calls) - 1
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var reply *domain.Envelope
	if i < len(f.replies) {
		reply = f.replies[i]
	}
	return reply, err
}

type fakeClock struct{}

func (fakeClock) Now() time.Time                           { return time.Unix(0, 0) }
func (fakeClock) Sleep(context.Context, time.Duration) error { return nil }

func registerReply(t *testing.T, accepted bool) *domain.Envelope {
	t.Helper()
	resp := domain.RegisterResponse{Accepted: accepted}
	if accepted {
		resp.AgentID = "P01"
		resp.AuthToken = "tok-p01"
	} else {
		resp.Reason = "registration closed"
	}
	env, err := domain.NewEnvelope(domain.MsgLeagueRegisterResponse, "league:L01", "conv-reg", resp)
	require.NoError(t, err)
	env.AuthToken = "tok-league"
	return env
}

func newAgent(t *testing.T, caller Caller, strat strategy.Strategy) *Agent {
	t.Helper()
	if strat == nil {
		strat = strategy.NewRandom(1)
	}
	return New(Config{
		DisplayName: "Alice",
		CallbackURL: "http://localhost:8101/mcp",
		LeagueURL:   "http://localhost:8000/mcp",
	}, strat, caller, slog.Default())
}

func inbound(t *testing.T, mt domain.MessageType, payload any) *domain.Envelope {
	t.Helper()
	env, err := domain.NewEnvelope(mt, "referee:REF01", "conv-1", payload)
	require.NoError(t, err)
	env.AuthToken = "tok-p01"
	return env
}

func TestRegisterStoresIdentity(t *testing.T) {
	caller := &fakeCaller{replies: []*domain.Envelope{registerReply(t, true)}}
	agent := newAgent(t, caller, nil)

	rc := retry.NewCaller(retry.DefaultPolicy, fakeClock{}, slog.Default())
	require.NoError(t, agent.Register(context.Background(), rc))

	assert.Equal(t, "P01", agent.ID())
	assert.Equal(t, "tok-p01", agent.Token())

	require.Len(t, caller.calls, 1)
	sent := caller.calls[0]
	assert.Equal(t, domain.MsgLeagueRegisterRequest, sent.MessageType)
	assert.Equal(t, "player:Alice", sent.Sender)
	assert.Empty(t, sent.AuthToken)
}

func TestRegisterRetriesTransientFailure(t *testing.T) {
	connErr := domain.NewProtocolError(domain.CodeConnection, "test", domain.ErrConnection, "")
	caller := &fakeCaller{
		errs:    []error{connErr, nil},
		replies: []*domain.Envelope{nil, registerReply(t, true)},
	}
	agent := newAgent(t, caller, nil)

	rc := retry.NewCaller(retry.DefaultPolicy, fakeClock{}, slog.Default())
	require.NoError(t, agent.Register(context.Background(), rc))
	assert.Equal(t, "P01", agent.ID())
	assert.Len(t, caller.calls, 2)
}

func TestRegisterRejectedIsNotRetried(t *testing.T) {
	env, err := domain.NewEnvelope(domain.MsgLeagueRegisterResponse, "league:L01", "conv-reg",
		domain.RegisterResponse{Accepted: false, Reason: "registration closed"})
	require.NoError(t, err)
	env.AuthToken = "tok-league"

	caller := &fakeCaller{replies: []*domain.Envelope{env}}
	agent := newAgent(t, caller, nil)

	rc := retry.NewCaller(retry.DefaultPolicy, fakeClock{}, slog.Default())
	got := agent.Register(context.Background(), rc)
	require.Error(t, got)
	assert.ErrorIs(t, got, domain.ErrNotRegistered)
	assert.Len(t, caller.calls, 1)
	assert.Empty(t, agent.ID())
}

func TestHandleInvitationAccepts(t *testing.T) {
	agent := newAgent(t, &fakeCaller{}, nil)

	reply, err := agent.HandleInvitation(context.Background(), inbound(t, domain.MsgGameInvitation,
		domain.GameInvitation{MatchID: "R1M1", RoundID: "R1", GameType: "even_odd", Opponent: "P02"}))
	require.NoError(t, err)

	assert.Equal(t, domain.MsgGameJoinAck, reply.MessageType)
	assert.Equal(t, "conv-1", reply.ConversationID)
	assert.Equal(t, "R1M1", reply.MatchID)

	var ack domain.GameJoinAck
	require.NoError(t, reply.DecodePayload(&ack))
	assert.True(t, ack.Accept)
	assert.True(t, domain.ValidTimestamp(ack.ArrivalTimestamp))
}

func TestHandleChooseParityIsLowercase(t *testing.T) {
	agent := newAgent(t, &fakeCaller{}, nil)

	reply, err := agent.HandleChooseParity(context.Background(), inbound(t, domain.MsgChooseParityCall,
		domain.ChooseParityCall{MatchID: "R1M1", RoundID: "R1"}))
	require.NoError(t, err)

	var resp domain.ChooseParityResponse
	require.NoError(t, reply.DecodePayload(&resp))
	assert.True(t, domain.ValidParity(resp.ParityChoice))
}

type badStrategy struct{}

func (badStrategy) Name() string { return "bad" }
func (badStrategy) Choose(context.Context, strategy.GameContext) (domain.Parity, error) {
	return domain.Parity("Even"), nil
}

func TestHandleChooseParityRescuesBadStrategy(t *testing.T) {
	agent := newAgent(t, &fakeCaller{}, badStrategy{})

	reply, err := agent.HandleChooseParity(context.Background(), inbound(t, domain.MsgChooseParityCall,
		domain.ChooseParityCall{MatchID: "R1M1"}))
	require.NoError(t, err)

	var resp domain.ChooseParityResponse
	require.NoError(t, reply.DecodePayload(&resp))
	assert.Equal(t, "even", resp.ParityChoice)
}

func TestHandleGameOverUpdatesStats(t *testing.T) {
	caller := &fakeCaller{replies: []*domain.Envelope{registerReply(t, true)}}
	agent := newAgent(t, caller, nil)
	rc := retry.NewCaller(retry.DefaultPolicy, fakeClock{}, slog.Default())
	require.NoError(t, agent.Register(context.Background(), rc))

	// Win.
	reply, err := agent.HandleGameOver(context.Background(), inbound(t, domain.MsgGameOver,
		domain.GameOver{MatchID: "R1M1", DrawnNumber: 4, Parity: "even", WinnerID: "P01", Outcome: "win",
			Choices: map[string]string{"P01": "even", "P02": "odd"}}))
	require.NoError(t, err)

	var ack domain.ResultAck
	require.NoError(t, reply.DecodePayload(&ack))
	assert.Equal(t, "acknowledged", ack.Status)

	// Draw, then loss.
	_, err = agent.HandleGameOver(context.Background(), inbound(t, domain.MsgGameOver,
		domain.GameOver{MatchID: "R2M1", DrawnNumber: 7, Parity: "odd", Outcome: "draw",
			Choices: map[string]string{"P01": "even", "P03": "even"}}))
	require.NoError(t, err)
	_, err = agent.HandleGameOver(context.Background(), inbound(t, domain.MsgGameOver,
		domain.GameOver{MatchID: "R3M1", DrawnNumber: 2, Parity: "even", WinnerID: "P04", Outcome: "win",
			Choices: map[string]string{"P01": "odd", "P04": "even"}}))
	require.NoError(t, err)

	stats := agent.Stats()
	assert.Equal(t, 3, stats.Played)
	assert.Equal(t, 1, stats.Wins)
	assert.Equal(t, 1, stats.Draws)
	assert.Equal(t, 1, stats.Losses)
	assert.Equal(t, 4, stats.Points)
}

func TestHandleGameOverFeedsFrequencyStrategy(t *testing.T) {
	freq := strategy.NewFrequency(1)
	agent := newAgent(t, &fakeCaller{}, freq)

	for i, n := range []int{2, 4, 6} {
		_, err := agent.HandleGameOver(context.Background(), inbound(t, domain.MsgGameOver,
			domain.GameOver{MatchID: fmt.Sprintf("R1M%d", i+1), DrawnNumber: n, Outcome: "draw"}))
		require.NoError(t, err)
	}

	choice, err := freq.Choose(context.Background(), strategy.GameContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.ParityEven, choice)
}

func TestHandleStandingsBroadcasts(t *testing.T) {
	agent := newAgent(t, &fakeCaller{}, nil)

	reply, err := agent.HandleStandings(context.Background(), inbound(t, domain.MsgLeagueStandingsUpdate,
		domain.StandingsUpdate{LeagueID: "L01", Table: []domain.StandingsEntry{{PlayerID: "P01", Points: 3}}}))
	require.NoError(t, err)
	assert.Nil(t, reply)

	reply, err = agent.HandleStandings(context.Background(), inbound(t, domain.MsgLeagueCompleted,
		domain.LeagueFinal{LeagueID: "L01"}))
	require.NoError(t, err)
	assert.Nil(t, reply)
}
