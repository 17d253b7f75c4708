package usecase

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"parity-league/internal/domain"
	"parity-league/internal/usecase/retry"
)

// Transport posts one envelope to a peer endpoint and returns the reply.
// The RPC client implements it; tests substitute scripted fakes.
type Transport interface {
	Call(ctx context.Context, endpoint string, env *domain.Envelope, timeout time.Duration) (*domain.Envelope, error)
}

// MatchTimeouts are the per-phase response deadlines.
type MatchTimeouts struct {
	JoinAck time.Duration // player must acknowledge the invitation
	Choice  time.Duration // player must submit a parity choice
	Notify  time.Duration // game-over delivery
}

// DefaultMatchTimeouts match the protocol deadlines.
var DefaultMatchTimeouts = MatchTimeouts{
	JoinAck: 5 * time.Second,
	Choice:  30 * time.Second,
	Notify:  10 * time.Second,
}

// MatchRunnerConfig wires one runner.
type MatchRunnerConfig struct {
	RefereeID string
	AuthToken string
	LeagueID  string
	Timeouts  MatchTimeouts
	// ChoiceRetries is how many times an invalid parity choice is re-asked
	// before the player forfeits.
	ChoiceRetries int
	// Seed fixes outcome draws for reproducible runs. Zero selects a
	// time-based seed per match.
	Seed int64
}

// MatchRunner drives one match through its state machine: invitations out
// and both join-acks in, then choices in, then the drawn outcome out. The
// runner is the single writer of every Match it owns; an unresponsive
// player forfeits, it never wedges the match.
type MatchRunner struct {
	cfg      MatchRunnerConfig
	client   Transport
	breakers *retry.BreakerPool
	caller   *retry.Caller
	rules    domain.Rules
	bus      domain.EventBus
	logger   *slog.Logger
}

// NewMatchRunner creates a runner. bus may be nil.
func NewMatchRunner(cfg MatchRunnerConfig, client Transport, breakers *retry.BreakerPool, caller *retry.Caller, rules domain.Rules, bus domain.EventBus, logger *slog.Logger) *MatchRunner {
	if cfg.Timeouts == (MatchTimeouts{}) {
		cfg.Timeouts = DefaultMatchTimeouts
	}
	return &MatchRunner{
		cfg:      cfg,
		client:   client,
		breakers: breakers,
		caller:   caller,
		rules:    rules,
		bus:      bus,
		logger:   logger,
	}
}

// playerSlot is one side of a match during a run.
type playerSlot struct {
	id  string
	url string
}

// Run drives the assigned match to a terminal state and returns it. The
// returned error reports referee-side faults only; player misbehavior ends
// in a TECHNICAL_LOSS match, not an error.
func (r *MatchRunner) Run(ctx context.Context, roundID string, as domain.MatchAssignment) (*domain.Match, error) {
	match := &domain.Match{
		ID:        as.MatchID,
		RoundID:   roundID,
		PlayerA:   as.PlayerA,
		PlayerB:   as.PlayerB,
		RefereeID: r.cfg.RefereeID,
		State:     domain.MatchWaitingForPlayers,
		Choices:   make(map[string]string, 2),
	}
	a := playerSlot{id: as.PlayerA, url: as.PlayerAURL}
	b := playerSlot{id: as.PlayerB, url: as.PlayerBURL}

	r.logger.Info("match started",
		"match_id", match.ID, "player_a", a.id, "player_b", b.id)
	r.publish(domain.EventMatchStarted, match)

	// Phase 1: both players must arrive before anyone is asked to choose.
	errA, errB := r.both(ctx, a, b, func(ctx context.Context, p playerSlot) error {
		return r.invite(ctx, match, p)
	})
	if errA != nil || errB != nil {
		r.forfeit(ctx, match, a, b, errA, errB)
		return match, nil
	}

	// Phase 2: collect choices concurrently.
	match.State = domain.MatchCollectingChoices
	var choiceA, choiceB string
	errA, errB = r.both(ctx, a, b, func(ctx context.Context, p playerSlot) error {
		choice, err := r.collectChoice(ctx, match, p)
		if err != nil {
			return err
		}
		if p.id == a.id {
			choiceA = choice
		} else {
			choiceB = choice
		}
		return nil
	})
	if errA != nil || errB != nil {
		r.forfeit(ctx, match, a, b, errA, errB)
		return match, nil
	}
	match.Choices[a.id] = choiceA
	match.Choices[b.id] = choiceB

	// Phase 3: draw the outcome.
	match.State = domain.MatchDrawingOutcome
	outcome, err := r.rules.Resolve(r.rules.Init(), match.Choices, r.seedFor(match.ID))
	if err != nil {
		return nil, domain.WrapOp("MatchRunner.Run", err)
	}
	match.Outcome = outcome
	match.State = domain.MatchFinished

	r.logger.Info("match resolved",
		"match_id", match.ID,
		"drawn_number", outcome.DrawnNumber,
		"parity", outcome.Parity,
		"winner", outcome.WinnerID,
		"kind", outcome.Kind,
	)

	// Phase 4: deliver the result. Delivery failures are logged; the outcome
	// stands regardless.
	r.notifyGameOver(ctx, match, a)
	r.notifyGameOver(ctx, match, b)
	r.publish(domain.EventMatchFinished, match)
	return match, nil
}

// BuildReport derives the league report from a terminal match.
func BuildReport(match *domain.Match) domain.MatchResultReport {
	report := domain.MatchResultReport{
		MatchID: match.ID,
		RoundID: match.RoundID,
		PlayerA: match.PlayerA,
		PlayerB: match.PlayerB,
	}
	if match.Outcome == nil {
		return report
	}
	report.DrawnNumber = match.Outcome.DrawnNumber
	switch match.Outcome.Kind {
	case domain.OutcomeWin:
		report.WinnerID = match.Outcome.WinnerID
		report.LoserID = match.Outcome.LoserID
	case domain.OutcomeDraw:
		report.Draw = true
	case domain.OutcomeTechnical:
		report.Technical = true
		report.WinnerID = match.Outcome.WinnerID
		report.LoserID = match.Outcome.LoserID
	}
	return report
}

// both runs fn for the two players concurrently and waits for both results.
func (r *MatchRunner) both(ctx context.Context, a, b playerSlot, fn func(context.Context, playerSlot) error) (errA, errB error) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); errA = fn(ctx, a) }()
	go func() { defer wg.Done(); errB = fn(ctx, b) }()
	wg.Wait()
	return errA, errB
}

// invite sends a GAME_INVITATION and waits for the player's join-ack.
// A declined invitation is a forfeit, not a transport failure.
func (r *MatchRunner) invite(ctx context.Context, match *domain.Match, p playerSlot) error {
	op := fmt.Sprintf("invite %s for %s", p.id, match.ID)
	opponent := match.PlayerA
	if p.id == match.PlayerA {
		opponent = match.PlayerB
	}

	return r.caller.Do(ctx, op, func(ctx context.Context) error {
		env, err := r.envelope(domain.MsgGameInvitation, match, "invite-"+p.id, domain.GameInvitation{
			MatchID:  match.ID,
			RoundID:  match.RoundID,
			GameType: r.rules.GameType(),
			Opponent: opponent,
		})
		if err != nil {
			return err
		}

		reply, err := r.call(ctx, p.url, env, r.cfg.Timeouts.JoinAck)
		if err != nil {
			return err
		}
		if reply == nil {
			return domain.NewProtocolError(domain.CodeMissingField, op, domain.ErrMissingField, "join ack")
		}

		var ack domain.GameJoinAck
		if err := reply.DecodePayload(&ack); err != nil {
			return err
		}
		if !ack.Accept {
			return fmt.Errorf("%s: player declined invitation: %w", op, domain.ErrInvalidInput)
		}
		return nil
	})
}

// collectChoice asks for the parity choice. An invalid value gets a GAME_ERROR
// notice and a re-ask, up to ChoiceRetries times; transport failures burn the
// normal retry budget inside the caller.
func (r *MatchRunner) collectChoice(ctx context.Context, match *domain.Match, p playerSlot) (string, error) {
	op := fmt.Sprintf("choice %s for %s", p.id, match.ID)

	for ask := 0; ; ask++ {
		var choice string
		err := r.caller.Do(ctx, op, func(ctx context.Context) error {
			deadline := domain.FormatTimestamp(time.Now().Add(r.cfg.Timeouts.Choice))
			env, err := r.envelope(domain.MsgChooseParityCall, match, fmt.Sprintf("choice-%s-%d", p.id, ask),
				domain.ChooseParityCall{MatchID: match.ID, RoundID: match.RoundID, Deadline: deadline})
			if err != nil {
				return err
			}

			reply, err := r.call(ctx, p.url, env, r.cfg.Timeouts.Choice)
			if err != nil {
				return err
			}
			if reply == nil {
				return domain.NewProtocolError(domain.CodeMissingField, op, domain.ErrMissingField, "choice response")
			}

			var resp domain.ChooseParityResponse
			if err := reply.DecodePayload(&resp); err != nil {
				return err
			}
			choice = resp.ParityChoice
			return nil
		})
		if err != nil {
			return "", err
		}

		if r.rules.ValidateChoice(choice) {
			return choice, nil
		}

		invalid := domain.NewProtocolError(domain.CodeInvalidParityChoice, op, domain.ErrInvalidChoice, choice)
		r.logger.Warn("invalid parity choice",
			"match_id", match.ID, "player_id", p.id, "choice", choice, "ask", ask+1)
		r.sendGameError(ctx, match, p, invalid)
		if ask >= r.cfg.ChoiceRetries {
			return "", invalid
		}
	}
}

// forfeit closes the match as a technical loss. One offender forfeits to the
// other player; both offenders lose with nobody scoring.
func (r *MatchRunner) forfeit(ctx context.Context, match *domain.Match, a, b playerSlot, errA, errB error) {
	match.State = domain.MatchTechnicalLoss
	outcome := &domain.Outcome{Kind: domain.OutcomeTechnical}

	switch {
	case errA != nil && errB != nil:
		r.logger.Warn("double technical loss",
			"match_id", match.ID, "error_a", errA, "error_b", errB)
	case errA != nil:
		outcome.WinnerID, outcome.LoserID = b.id, a.id
	default:
		outcome.WinnerID, outcome.LoserID = a.id, b.id
	}
	match.Outcome = outcome

	r.logger.Warn("match forfeited",
		"match_id", match.ID, "winner", outcome.WinnerID, "loser", outcome.LoserID)

	// Responsive players still learn how the match ended.
	if errA == nil {
		r.notifyGameOver(ctx, match, a)
	}
	if errB == nil {
		r.notifyGameOver(ctx, match, b)
	}
	r.publish(domain.EventMatchTechnical, match)
}

// notifyGameOver delivers the GAME_OVER message, best effort.
func (r *MatchRunner) notifyGameOver(ctx context.Context, match *domain.Match, p playerSlot) {
	op := fmt.Sprintf("game over %s for %s", p.id, match.ID)

	over := domain.GameOver{
		MatchID: match.ID,
		Outcome: string(match.Outcome.Kind),
		Choices: match.Choices,
	}
	if match.Outcome.Kind != domain.OutcomeTechnical {
		over.DrawnNumber = match.Outcome.DrawnNumber
		over.Parity = string(match.Outcome.Parity)
	}
	over.WinnerID = match.Outcome.WinnerID

	err := r.caller.Do(ctx, op, func(ctx context.Context) error {
		env, err := r.envelope(domain.MsgGameOver, match, "gameover-"+p.id, over)
		if err != nil {
			return err
		}
		_, err = r.call(ctx, p.url, env, r.cfg.Timeouts.Notify)
		return err
	})
	if err != nil {
		r.logger.Warn("game over delivery failed",
			"match_id", match.ID, "player_id", p.id, "error", err)
	}
}

// sendGameError pushes a GAME_ERROR notice to the offending player, best
// effort with no retry.
func (r *MatchRunner) sendGameError(ctx context.Context, match *domain.Match, p playerSlot, cause error) {
	env, err := r.envelope(domain.MsgGameError, match, "error-"+p.id, domain.ErrorNotice{
		Code:    domain.ErrorCodeOf(cause),
		Message: cause.Error(),
		MatchID: match.ID,
	})
	if err != nil {
		return
	}
	if _, err := r.call(ctx, p.url, env, r.cfg.Timeouts.Notify); err != nil {
		r.logger.Debug("game error delivery failed",
			"match_id", match.ID, "player_id", p.id, "error", err)
	}
}

// call routes one transport exchange through the endpoint's circuit breaker.
func (r *MatchRunner) call(ctx context.Context, url string, env *domain.Envelope, timeout time.Duration) (*domain.Envelope, error) {
	return r.breakers.Execute(url, func() (*domain.Envelope, error) {
		return r.client.Call(ctx, url, env, timeout)
	})
}

func (r *MatchRunner) envelope(mt domain.MessageType, match *domain.Match, convSuffix string, payload any) (*domain.Envelope, error) {
	env, err := domain.NewEnvelope(mt, "referee:"+r.cfg.RefereeID,
		fmt.Sprintf("conv-%s-%s", match.ID, convSuffix), payload)
	if err != nil {
		return nil, err
	}
	env.AuthToken = r.cfg.AuthToken
	env.LeagueID = r.cfg.LeagueID
	env.RoundID = match.RoundID
	env.MatchID = match.ID
	return env, nil
}

func (r *MatchRunner) seedFor(matchID string) int64 {
	base := r.cfg.Seed
	if base == 0 {
		base = time.Now().UnixNano()
	}
	h := fnv.New64a()
	h.Write([]byte(matchID))
	return base ^ int64(h.Sum64())
}

func (r *MatchRunner) publish(t domain.EventType, match *domain.Match) {
	if r.bus == nil {
		return
	}
	ev := domain.NewEvent(t, match)
	ev.LeagueID = r.cfg.LeagueID
	ev.RoundID = match.RoundID
	ev.MatchID = match.ID
	r.bus.Publish(context.Background(), ev)
}
