// Package referee hosts the referee agent: it registers with the league
// manager, receives round announcements, drives its assigned matches, and
// reports each terminal result back.
package referee

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"parity-league/internal/adapter/rpc"
	"parity-league/internal/domain"
	"parity-league/internal/usecase"
	"parity-league/internal/usecase/retry"
)

// RulesResolver selects a rules module by game type.
type RulesResolver interface {
	Resolve(gameType string) (domain.Rules, error)
}

// Config wires one referee agent.
type Config struct {
	DisplayName string
	CallbackURL string
	LeagueURL   string
	LeagueID    string
	// MaxConcurrentMatches bounds how many matches of a round run in
	// parallel. Default 4.
	MaxConcurrentMatches int
	// Timeouts for the match phases.
	Timeouts usecase.MatchTimeouts
	// ChoiceRetries is how many invalid choices a player gets before
	// forfeiting.
	ChoiceRetries int
	// ReportTimeout bounds one result report delivery. Default 10s.
	ReportTimeout time.Duration
	// RegisterTimeout bounds one registration attempt. Default 10s.
	RegisterTimeout time.Duration
	// Seed fixes draws for reproducible runs. Zero picks time-based seeds.
	Seed int64
}

// Agent is a referee. It owns every match it is assigned: no other task
// writes to those matches, and each produces exactly one result report.
type Agent struct {
	mu     sync.Mutex
	id     string
	token  string
	rounds sync.WaitGroup

	cfg      Config
	client   usecase.Transport
	breakers *retry.BreakerPool
	caller   *retry.Caller
	rules    RulesResolver
	bus      domain.EventBus
	logger   *slog.Logger
}

// New creates an unregistered referee agent. bus may be nil.
func New(cfg Config, client usecase.Transport, breakers *retry.BreakerPool, caller *retry.Caller, rules RulesResolver, bus domain.EventBus, logger *slog.Logger) *Agent {
	if cfg.MaxConcurrentMatches <= 0 {
		cfg.MaxConcurrentMatches = 4
	}
	if cfg.ReportTimeout == 0 {
		cfg.ReportTimeout = 10 * time.Second
	}
	if cfg.RegisterTimeout == 0 {
		cfg.RegisterTimeout = 10 * time.Second
	}
	return &Agent{
		cfg:      cfg,
		client:   client,
		breakers: breakers,
		caller:   caller,
		rules:    rules,
		bus:      bus,
		logger:   logger,
	}
}

// ID returns the league-assigned referee ID, empty before registration.
func (a *Agent) ID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.id
}

func (a *Agent) identity() (id, token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.id, a.token
}

func (a *Agent) sender() string {
	id, _ := a.identity()
	if id == "" {
		return "referee:" + a.cfg.DisplayName
	}
	return "referee:" + id
}

// Register announces the referee to the league manager and stores the
// assigned ID and token.
func (a *Agent) Register(ctx context.Context, gameTypes []string) error {
	const op = "referee.Register"

	return a.caller.Do(ctx, op, func(ctx context.Context) error {
		env, err := domain.NewEnvelope(domain.MsgRefereeRegisterRequest, a.sender(),
			fmt.Sprintf("conv-reg-%d", time.Now().UnixNano()),
			domain.RegisterRequest{
				DisplayName: a.cfg.DisplayName,
				CallbackURL: a.cfg.CallbackURL,
				GameTypes:   gameTypes,
			})
		if err != nil {
			return err
		}

		reply, err := a.client.Call(ctx, a.cfg.LeagueURL, env, a.cfg.RegisterTimeout)
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

		a.logger.Info("registered with league", "referee_id", resp.AgentID)
		return nil
	})
}

// HandleRoundAnnouncement runs the matches assigned to this referee. The
// announcement is acknowledged immediately; matches run in the background
// and report as they finish.
func (a *Agent) HandleRoundAnnouncement(_ context.Context, env *domain.Envelope) (*domain.Envelope, error) {
	var ann domain.RoundAnnouncement
	if err := env.DecodePayload(&ann); err != nil {
		return nil, err
	}

	id, _ := a.identity()
	var mine []domain.MatchAssignment
	for _, as := range ann.Assignments {
		if as.RefereeID == id {
			mine = append(mine, as)
		}
	}

	a.logger.Info("round announced",
		"round_id", ann.RoundID,
		"round_number", ann.RoundNumber,
		"assigned", len(mine),
	)

	a.rounds.Add(1)
	go func() {
		defer a.rounds.Done()
		a.runRound(context.Background(), ann.RoundID, mine)
	}()
	return nil, nil
}

// Wait blocks until every announced round has finished running. Used at
// shutdown and in tests.
func (a *Agent) Wait() { a.rounds.Wait() }

// runRound drives the assigned matches with bounded parallelism and reports
// every terminal result.
func (a *Agent) runRound(ctx context.Context, roundID string, assignments []domain.MatchAssignment) {
	sem := make(chan struct{}, a.cfg.MaxConcurrentMatches)
	var wg sync.WaitGroup

	for _, as := range assignments {
		wg.Add(1)
		sem <- struct{}{}
		go func(as domain.MatchAssignment) {
			defer wg.Done()
			defer func() { <-sem }()
			a.runMatch(ctx, roundID, as)
		}(as)
	}
	wg.Wait()
}

func (a *Agent) runMatch(ctx context.Context, roundID string, as domain.MatchAssignment) {
	rules, err := a.rules.Resolve(as.GameType)
	if err != nil {
		a.logger.Error("no rules for assigned match",
			"match_id", as.MatchID, "game_type", as.GameType, "error", err)
		return
	}

	id, token := a.identity()
	runner := usecase.NewMatchRunner(usecase.MatchRunnerConfig{
		RefereeID:     id,
		AuthToken:     token,
		LeagueID:      a.cfg.LeagueID,
		Timeouts:      a.cfg.Timeouts,
		ChoiceRetries: a.cfg.ChoiceRetries,
		Seed:          a.cfg.Seed,
	}, a.client, a.breakers, a.caller, rules, a.bus, a.logger)

	match, err := runner.Run(ctx, roundID, as)
	if err != nil {
		a.logger.Error("match run failed", "match_id", as.MatchID, "error", err)
		return
	}
	a.Report(ctx, usecase.BuildReport(match))
}

// Report delivers one result report to the league manager, retrying
// transient failures. Reports are idempotent on the league side, so a
// duplicate delivery after an ambiguous failure is harmless.
func (a *Agent) Report(ctx context.Context, report domain.MatchResultReport) {
	op := fmt.Sprintf("report %s", report.MatchID)
	_, token := a.identity()

	err := a.caller.Do(ctx, op, func(ctx context.Context) error {
		env, err := domain.NewEnvelope(domain.MsgMatchResultReport, a.sender(),
			"conv-report-"+report.MatchID, report)
		if err != nil {
			return err
		}
		env.AuthToken = token
		env.LeagueID = a.cfg.LeagueID
		env.RoundID = report.RoundID
		env.MatchID = report.MatchID

		_, err = a.breakers.Execute(a.cfg.LeagueURL, func() (*domain.Envelope, error) {
			return a.client.Call(ctx, a.cfg.LeagueURL, env, a.cfg.ReportTimeout)
		})
		return err
	})
	if err != nil {
		a.logger.Error("result report delivery failed",
			"match_id", report.MatchID, "error", err)
	}
}

// Bind attaches the referee's handlers to srv.
func (a *Agent) Bind(srv *rpc.Server) {
	srv.Handle(domain.MsgRoundAnnouncement, a.HandleRoundAnnouncement)
	srv.Handle(domain.MsgLeagueStandingsUpdate, a.acceptBroadcast)
	srv.Handle(domain.MsgRoundCompleted, a.acceptBroadcast)
	srv.Handle(domain.MsgLeagueCompleted, a.acceptBroadcast)
}

func (a *Agent) acceptBroadcast(_ context.Context, env *domain.Envelope) (*domain.Envelope, error) {
	a.logger.Debug("league broadcast", "message_type", env.MessageType)
	return nil, nil
}
