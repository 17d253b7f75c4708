package player

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"parity-league/internal/adapter/rpc"
	"parity-league/internal/adapter/strategy"
	"parity-league/internal/domain"
	"parity-league/internal/usecase/retry"
)

// Caller posts one envelope to a peer endpoint. The RPC client implements it.
type Caller interface {
	Call(ctx context.Context, endpoint string, env *domain.Envelope, timeout time.Duration) (*domain.Envelope, error)
}

// Stats is the player's running score line.
type Stats struct {
	Played int
	Wins   int
	Draws  int
	Losses int
	Points int
}

// Config wires one player agent.
type Config struct {
	DisplayName string
	CallbackURL string
	LeagueURL   string
	// RegisterTimeout bounds one registration attempt. Default 10s.
	RegisterTimeout time.Duration
}

// Agent is a league player: it registers with the league manager, answers
// the referee's three calls, and keeps its own score line. Handler methods
// are bound to incoming message types on the RPC server.
type Agent struct {
	mu      sync.Mutex
	id      string
	token   string
	stats   Stats
	history []domain.GameOver

	cfg     Config
	strat   strategy.Strategy
	freq    *strategy.Frequency // non-nil when the strategy learns from draws
	caller  Caller
	scoring domain.ScoringRule
	logger  *slog.Logger
}

// New creates an unregistered player agent.
func New(cfg Config, strat strategy.Strategy, caller Caller, logger *slog.Logger) *Agent {
	if cfg.RegisterTimeout == 0 {
		cfg.RegisterTimeout = 10 * time.Second
	}
	freq, _ := strat.(*strategy.Frequency)
	return &Agent{
		cfg:     cfg,
		strat:   strat,
		freq:    freq,
		caller:  caller,
		scoring: domain.DefaultScoring,
		logger:  logger,
	}
}

// ID returns the league-assigned player ID, empty before registration.
func (a *Agent) ID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.id
}

// Token returns the auth token issued at registration.
func (a *Agent) Token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

// Stats returns a copy of the score line.
func (a *Agent) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *Agent) sender() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.id == "" {
		return "player:" + a.cfg.DisplayName
	}
	return "player:" + a.id
}

// Register announces the player to the league manager, retrying transient
// failures under rc's policy, and stores the assigned ID and token.
func (a *Agent) Register(ctx context.Context, rc *retry.Caller) error {
	const op = "player.Register"

	return rc.Do(ctx, op, func(ctx context.Context) error {
		env, err := domain.NewEnvelope(domain.MsgLeagueRegisterRequest, a.sender(),
			fmt.Sprintf("conv-reg-%d", time.Now().UnixNano()),
			domain.RegisterRequest{DisplayName: a.cfg.DisplayName, CallbackURL: a.cfg.CallbackURL})
		if err != nil {
			return err
		}

		reply, err := a.caller.Call(ctx, a.cfg.LeagueURL, env, a.cfg.RegisterTimeout)
		if err != nil {
			return err
		}
		if reply == nil {
			return domain.NewProtocolError(domain.CodeMissingField, op, domain.ErrMissingField, "register response")
		}

		var resp domain.RegisterResponse
		if err := reply.DecodePayload(&resp); err != nil {
			return err
		}
		if !resp.Accepted {
			return domain.NewProtocolError(domain.CodePlayerNotRegistered, op,
				domain.ErrNotRegistered, resp.Reason)
		}

		a.mu.Lock()
		a.id = resp.AgentID
		a.token = resp.AuthToken
		a.mu.Unlock()

		a.logger.Info("registered with league", "player_id", resp.AgentID)
		return nil
	})
}

// HandleInvitation answers GAME_INVITATION with a GAME_JOIN_ACK. Invitations
// are always accepted.
func (a *Agent) HandleInvitation(_ context.Context, env *domain.Envelope) (*domain.Envelope, error) {
	var inv domain.GameInvitation
	if err := env.DecodePayload(&inv); err != nil {
		return nil, err
	}

	a.logger.Info("game invitation received",
		"match_id", inv.MatchID, "opponent", inv.Opponent, "game_type", inv.GameType)

	return a.reply(env, domain.MsgGameJoinAck, inv.MatchID, domain.GameJoinAck{
		MatchID:          inv.MatchID,
		PlayerID:         a.ID(),
		Accept:           true,
		ArrivalTimestamp: domain.UTCNow(),
	})
}

// HandleChooseParity answers CHOOSE_PARITY_CALL with the strategy's choice.
// The choice is validated before it goes on the wire; a misbehaving strategy
// degrades to "even" rather than a protocol violation.
func (a *Agent) HandleChooseParity(ctx context.Context, env *domain.Envelope) (*domain.Envelope, error) {
	var call domain.ChooseParityCall
	if err := env.DecodePayload(&call); err != nil {
		return nil, err
	}

	choice, err := a.strat.Choose(ctx, strategy.GameContext{
		MatchID:  call.MatchID,
		Deadline: call.Deadline,
	})
	if err != nil || !domain.ValidParity(string(choice)) {
		a.logger.Warn("strategy returned unusable choice",
			"match_id", call.MatchID, "choice", choice, "error", err)
		choice = domain.ParityEven
	}

	a.logger.Info("parity chosen", "match_id", call.MatchID, "choice", choice, "strategy", a.strat.Name())

	return a.reply(env, domain.MsgChooseParityResponse, call.MatchID, domain.ChooseParityResponse{
		MatchID:      call.MatchID,
		PlayerID:     a.ID(),
		ParityChoice: string(choice),
	})
}

// HandleGameOver records the outcome, updates the score line, and answers
// with a RESULT_ACKNOWLEDGMENT.
func (a *Agent) HandleGameOver(_ context.Context, env *domain.Envelope) (*domain.Envelope, error) {
	var over domain.GameOver
	if err := env.DecodePayload(&over); err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.history = append(a.history, over)
	a.stats.Played++
	switch {
	case over.WinnerID == a.id:
		a.stats.Wins++
		a.stats.Points += a.scoring.Win
	case over.Outcome == "draw":
		a.stats.Draws++
		a.stats.Points += a.scoring.Draw
	default:
		a.stats.Losses++
		a.stats.Points += a.scoring.Loss
	}
	stats := a.stats
	a.mu.Unlock()

	if a.freq != nil && over.DrawnNumber > 0 {
		a.freq.Observe(over.DrawnNumber)
	}

	a.logger.Info("match result received",
		"match_id", over.MatchID,
		"drawn_number", over.DrawnNumber,
		"winner", over.WinnerID,
		"outcome", over.Outcome,
		"points", stats.Points,
	)

	return a.reply(env, domain.MsgResultAcknowledgment, over.MatchID, domain.ResultAck{
		MatchID: over.MatchID,
		Status:  "acknowledged",
	})
}

// HandleStandings accepts league broadcasts: standings updates, round and
// league completion. One-way, no reply envelope.
func (a *Agent) HandleStandings(_ context.Context, env *domain.Envelope) (*domain.Envelope, error) {
	switch env.MessageType {
	case domain.MsgLeagueStandingsUpdate:
		var upd domain.StandingsUpdate
		if err := env.DecodePayload(&upd); err != nil {
			return nil, err
		}
		a.logger.Info("standings update", "league_id", upd.LeagueID, "rows", len(upd.Table))
	case domain.MsgRoundCompleted:
		a.logger.Info("round completed", "round_id", env.RoundID)
	case domain.MsgLeagueCompleted:
		var done domain.LeagueFinal
		if err := env.DecodePayload(&done); err != nil {
			return nil, err
		}
		a.logger.Info("league completed", "league_id", done.LeagueID, "final", a.Stats())
	}
	return nil, nil
}

// Bind attaches the player's handlers to srv.
func (a *Agent) Bind(srv *rpc.Server) {
	srv.Handle(domain.MsgGameInvitation, a.HandleInvitation)
	srv.Handle(domain.MsgChooseParityCall, a.HandleChooseParity)
	srv.Handle(domain.MsgGameOver, a.HandleGameOver)
	srv.Handle(domain.MsgLeagueStandingsUpdate, a.HandleStandings)
	srv.Handle(domain.MsgRoundCompleted, a.HandleStandings)
	srv.Handle(domain.MsgLeagueCompleted, a.HandleStandings)
}

// reply builds an authenticated response envelope on the caller's
// conversation.
func (a *Agent) reply(req *domain.Envelope, mt domain.MessageType, matchID string, payload any) (*domain.Envelope, error) {
	env, err := domain.NewEnvelope(mt, a.sender(), req.ConversationID, payload)
	if err != nil {
		return nil, err
	}
	env.AuthToken = a.Token()
	env.LeagueID = req.LeagueID
	env.RoundID = req.RoundID
	env.MatchID = matchID
	return env, nil
}
