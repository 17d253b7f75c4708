package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"parity-league/internal/domain"
	"parity-league/internal/usecase/retry"
)

// LeagueConfig wires the league manager.
type LeagueConfig struct {
	ID         string
	GameType   string
	Scoring    domain.ScoringRule
	MinPlayers int
	// BroadcastTimeout bounds one outbound notification. Default 10s.
	BroadcastTimeout time.Duration
	// StandingsBroadcast and SuspendProbe are the periods of the maintenance
	// jobs. Zero disables the job.
	StandingsBroadcast time.Duration
	SuspendProbe       time.Duration
}

// League is the tournament orchestrator. It owns the registration window,
// the schedule, and the result intake; every mutation of league state goes
// through its single mutex, so concurrent referee reports serialize here.
type League struct {
	cfg       LeagueConfig
	registry  *Registry
	standings *Standings
	client    Transport
	caller    *retry.Caller
	breakers  *retry.BreakerPool
	bus       domain.EventBus
	cron      *cron.Cron
	logger    *slog.Logger

	mu        sync.Mutex
	status    domain.LeagueStatus
	rounds    []*domain.Round
	roundDone []map[string]bool // per round: match ID -> reported
	current   int               // index of the round in progress
}

// NewLeague creates a league manager in the PENDING state with the
// registration window open. bus may be nil.
func NewLeague(cfg LeagueConfig, registry *Registry, standings *Standings, client Transport, caller *retry.Caller, breakers *retry.BreakerPool, bus domain.EventBus, logger *slog.Logger) *League {
	if cfg.BroadcastTimeout == 0 {
		cfg.BroadcastTimeout = 10 * time.Second
	}
	return &League{
		cfg:       cfg,
		registry:  registry,
		standings: standings,
		client:    client,
		caller:    caller,
		breakers:  breakers,
		bus:       bus,
		logger:    logger,
		status:    domain.LeaguePending,
	}
}

// Status reports the league lifecycle state.
func (l *League) Status() domain.LeagueStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Rounds returns the schedule. Empty before Start.
func (l *League) Rounds() []*domain.Round {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rounds
}

// HandleRegisterPlayer admits a player while the registration window is
// open. Registration never retries on the league side: the response is the
// decision.
func (l *League) HandleRegisterPlayer(_ context.Context, env *domain.Envelope) (*domain.Envelope, error) {
	return l.handleRegister(env, domain.MsgLeagueRegisterResponse, l.registry.RegisterPlayer)
}

// HandleRegisterReferee admits a referee.
func (l *League) HandleRegisterReferee(_ context.Context, env *domain.Envelope) (*domain.Envelope, error) {
	return l.handleRegister(env, domain.MsgRefereeRegisterResponse, l.registry.RegisterReferee)
}

func (l *League) handleRegister(env *domain.Envelope, respType domain.MessageType, register func(displayName, endpoint string) (*domain.Agent, error)) (*domain.Envelope, error) {
	var req domain.RegisterRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, err
	}

	resp := domain.RegisterResponse{}
	agent, err := register(req.DisplayName, req.CallbackURL)
	if err != nil {
		resp.Reason = err.Error()
		l.logger.Warn("registration rejected",
			"display_name", req.DisplayName, "error", err)
	} else {
		resp.Accepted = true
		resp.AgentID = agent.ID
		resp.AuthToken = agent.AuthToken
		l.publish(domain.NewEvent(domain.EventAgentRegistered, agent), "", agent.ID)
	}
	return l.reply(env, respType, resp)
}

// Start closes the registration window, builds the schedule, and announces
// the first round. The league must still be PENDING.
func (l *League) Start(ctx context.Context) error {
	const op = "League.Start"

	l.mu.Lock()
	if l.status != domain.LeaguePending {
		l.mu.Unlock()
		return domain.WrapOp(op, fmt.Errorf("league already started: %w", domain.ErrDuplicate))
	}
	l.mu.Unlock()

	l.registry.CloseRegistration()

	players := l.registry.ActivePlayers()
	if len(players) < l.cfg.MinPlayers {
		return domain.WrapOp(op, fmt.Errorf("%d players registered, need %d: %w",
			len(players), l.cfg.MinPlayers, domain.ErrInvalidInput))
	}
	referees := l.registry.Referees()
	if len(referees) == 0 {
		return domain.WrapOp(op, fmt.Errorf("no referees registered: %w", domain.ErrInvalidInput))
	}

	l.standings.SetParticipants(players)

	rounds, err := Schedule(players)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	if err := AssignReferees(rounds, referees); err != nil {
		return domain.WrapOp(op, err)
	}

	l.mu.Lock()
	l.status = domain.LeagueActive
	l.rounds = rounds
	l.roundDone = make([]map[string]bool, len(rounds))
	for i := range rounds {
		l.roundDone[i] = make(map[string]bool, len(rounds[i].Matches))
	}
	l.current = 0
	l.mu.Unlock()

	l.logger.Info("league started",
		"league_id", l.cfg.ID,
		"players", len(players),
		"referees", len(referees),
		"rounds", len(rounds),
	)
	l.publish(domain.NewEvent(domain.EventLeagueStarted, nil), "", "")

	return l.announceRound(ctx, 0)
}

// announceRound broadcasts the round's assignments to every referee.
func (l *League) announceRound(ctx context.Context, idx int) error {
	l.mu.Lock()
	round := l.rounds[idx]
	total := len(l.rounds)
	round.Status = domain.RoundInProgress
	l.mu.Unlock()

	ann := domain.RoundAnnouncement{
		RoundID:     round.ID,
		RoundNumber: round.Number,
		TotalRounds: total,
	}
	for _, m := range round.Matches {
		urlA, err := l.registry.Endpoint(m.PlayerA)
		if err != nil {
			return domain.WrapOp("League.announceRound", err)
		}
		urlB, err := l.registry.Endpoint(m.PlayerB)
		if err != nil {
			return domain.WrapOp("League.announceRound", err)
		}
		ann.Assignments = append(ann.Assignments, domain.MatchAssignment{
			MatchID:    m.ID,
			RefereeID:  m.RefereeID,
			PlayerA:    m.PlayerA,
			PlayerB:    m.PlayerB,
			PlayerAURL: urlA,
			PlayerBURL: urlB,
			GameType:   l.cfg.GameType,
		})
	}

	l.logger.Info("round announced",
		"round_id", round.ID, "matches", len(round.Matches))

	for _, refereeID := range l.registry.Referees() {
		l.notifyAgent(ctx, refereeID, domain.MsgRoundAnnouncement, round.ID, ann)
	}

	ev := domain.NewEvent(domain.EventRoundAnnounced, ann)
	l.publish(ev, round.ID, "")
	return nil
}

// HandleMatchResult ingests one referee report. Duplicate reports are
// acknowledged and dropped; the first report per match is authoritative.
func (l *League) HandleMatchResult(ctx context.Context, env *domain.Envelope) (*domain.Envelope, error) {
	var report domain.MatchResultReport
	if err := env.DecodePayload(&report); err != nil {
		return nil, err
	}
	if report.MatchID == "" {
		return nil, domain.NewProtocolError(domain.CodeMissingField, "League.HandleMatchResult",
			domain.ErrMissingField, "match_id")
	}

	table, accepted, err := l.standings.Report(ctx, report)
	if err != nil {
		return nil, err
	}
	if !accepted {
		return nil, nil
	}

	l.logger.Info("match result accepted",
		"match_id", report.MatchID,
		"winner", report.WinnerID,
		"draw", report.Draw,
		"technical", report.Technical,
	)
	eventType := domain.EventMatchFinished
	if report.Technical {
		eventType = domain.EventMatchTechnical
	}
	l.publish(domain.NewEvent(eventType, report), report.RoundID, report.MatchID)
	l.publish(domain.NewEvent(domain.EventStandingsUpdated, table), report.RoundID, "")

	l.broadcastStandings(ctx, table)
	l.advance(ctx, report)
	return nil, nil
}

// advance marks the match done and moves the league forward when the
// current round, or the whole schedule, completes.
func (l *League) advance(ctx context.Context, report domain.MatchResultReport) {
	l.mu.Lock()
	idx := -1
	for i, round := range l.rounds {
		if round.ID == report.RoundID {
			idx = i
			break
		}
	}
	if idx < 0 {
		l.mu.Unlock()
		l.logger.Warn("report for unknown round",
			"match_id", report.MatchID, "round_id", report.RoundID)
		return
	}

	l.roundDone[idx][report.MatchID] = true
	round := l.rounds[idx]
	complete := len(l.roundDone[idx]) == len(round.Matches)
	if complete {
		round.Status = domain.RoundDone
	}
	allDone := true
	for i, r := range l.rounds {
		if len(l.roundDone[i]) != len(r.Matches) {
			allDone = false
			break
		}
	}
	next := idx + 1
	announceNext := complete && !allDone && next < len(l.rounds) && l.rounds[next].Status == domain.RoundAnnounced
	if allDone {
		l.status = domain.LeagueCompleted
	}
	l.mu.Unlock()

	if !complete {
		return
	}

	l.logger.Info("round completed", "round_id", round.ID)
	l.publish(domain.NewEvent(domain.EventRoundCompleted, domain.RoundCompleted{RoundID: round.ID}), round.ID, "")
	l.broadcast(ctx, domain.MsgRoundCompleted, round.ID, domain.RoundCompleted{RoundID: round.ID})

	if allDone {
		l.finish(ctx)
		return
	}
	if announceNext {
		if err := l.announceRound(ctx, next); err != nil {
			l.logger.Error("round announcement failed", "round", next+1, "error", err)
		}
	}
}

// finish broadcasts the final table and closes the league.
func (l *League) finish(ctx context.Context) {
	table, err := l.standings.Recompute(ctx)
	if err != nil {
		l.logger.Error("final standings recompute failed", "error", err)
	}

	l.logger.Info("league completed", "league_id", l.cfg.ID)
	done := domain.LeagueFinal{LeagueID: l.cfg.ID, Final: table}
	l.publish(domain.NewEvent(domain.EventLeagueCompleted, done), "", "")
	l.broadcast(ctx, domain.MsgLeagueCompleted, "", done)

	if l.cron != nil {
		l.cron.Stop()
	}
}

// HandleLeagueQuery answers standings, schedule, and status queries.
func (l *League) HandleLeagueQuery(ctx context.Context, env *domain.Envelope) (*domain.Envelope, error) {
	var q domain.LeagueQuery
	if err := env.DecodePayload(&q); err != nil {
		return nil, err
	}

	resp := domain.LeagueQueryResponse{Query: q.Query}
	switch q.Query {
	case "standings":
		table, err := l.standings.Recompute(ctx)
		if err != nil {
			return nil, err
		}
		resp.Standings = table
	case "schedule":
		l.mu.Lock()
		for _, r := range l.rounds {
			resp.Rounds = append(resp.Rounds, *r)
		}
		l.mu.Unlock()
	case "status":
		resp.Status = string(l.Status())
	default:
		return nil, domain.NewProtocolError(domain.CodeMissingField, "League.HandleLeagueQuery",
			fmt.Errorf("unknown query %q: %w", q.Query, domain.ErrInvalidInput), q.Query)
	}
	return l.reply(env, domain.MsgLeagueQueryResponse, resp)
}

// StartMaintenance schedules the periodic jobs: standings broadcasts to all
// players and liveness probes that recover suspended agents. No-op when both
// schedules are empty.
func (l *League) StartMaintenance(ctx context.Context) {
	if l.cfg.StandingsBroadcast <= 0 && l.cfg.SuspendProbe <= 0 {
		return
	}
	l.cron = cron.New()

	if l.cfg.StandingsBroadcast > 0 {
		l.cron.Schedule(cron.Every(l.cfg.StandingsBroadcast), cron.FuncJob(func() {
			if l.Status() != domain.LeagueActive {
				return
			}
			table, err := l.standings.Recompute(ctx)
			if err != nil {
				l.logger.Warn("maintenance standings recompute failed", "error", err)
				return
			}
			l.broadcastStandings(ctx, table)
		}))
	}

	if l.cfg.SuspendProbe > 0 {
		l.cron.Schedule(cron.Every(l.cfg.SuspendProbe), cron.FuncJob(func() {
			l.probeSuspended(ctx)
		}))
	}

	l.cron.Start()
	go func() {
		<-ctx.Done()
		l.cron.Stop()
	}()
}

// probeSuspended pings each suspended agent with the current standings; a
// successful delivery recovers it.
func (l *League) probeSuspended(ctx context.Context) {
	suspended := l.registry.Suspended()
	if len(suspended) == 0 {
		return
	}
	table, err := l.standings.Recompute(ctx)
	if err != nil {
		l.logger.Warn("probe recompute failed", "error", err)
		return
	}
	payload := domain.StandingsUpdate{LeagueID: l.cfg.ID, Table: table}

	for _, agentID := range suspended {
		endpoint, err := l.registry.Endpoint(agentID)
		if err != nil {
			continue
		}
		env, err := l.envelope(domain.MsgLeagueStandingsUpdate, "", payload)
		if err != nil {
			continue
		}
		if _, err := l.client.Call(ctx, endpoint, env, l.cfg.BroadcastTimeout); err != nil {
			l.logger.Debug("suspended agent still unreachable", "agent_id", agentID)
			continue
		}
		if l.registry.RecordSuccess(agentID) {
			l.logger.Info("suspended agent recovered", "agent_id", agentID)
			l.publish(domain.NewEvent(domain.EventAgentRecovered, nil), "", agentID)
		}
	}
}

// broadcastStandings delivers the table to every active player.
func (l *League) broadcastStandings(ctx context.Context, table []domain.StandingsEntry) {
	l.broadcast(ctx, domain.MsgLeagueStandingsUpdate, "",
		domain.StandingsUpdate{LeagueID: l.cfg.ID, Table: table})
}

// broadcast sends one message to every active player, best effort. Delivery
// failures feed the registry's failure tracking; enough of them suspend the
// agent.
func (l *League) broadcast(ctx context.Context, mt domain.MessageType, roundID string, payload any) {
	for _, playerID := range l.registry.ActivePlayers() {
		l.notifyAgent(ctx, playerID, mt, roundID, payload)
	}
}

// notifyAgent delivers one message to one agent through its breaker, with
// retries, and records the result in the registry.
func (l *League) notifyAgent(ctx context.Context, agentID string, mt domain.MessageType, roundID string, payload any) {
	endpoint, err := l.registry.Endpoint(agentID)
	if err != nil {
		l.logger.Warn("no endpoint for agent", "agent_id", agentID)
		return
	}

	op := fmt.Sprintf("notify %s %s", agentID, mt)
	err = l.caller.Do(ctx, op, func(ctx context.Context) error {
		env, err := l.envelope(mt, roundID, payload)
		if err != nil {
			return err
		}
		_, err = l.breakers.Execute(endpoint, func() (*domain.Envelope, error) {
			return l.client.Call(ctx, endpoint, env, l.cfg.BroadcastTimeout)
		})
		return err
	})
	if err != nil {
		if suspended := l.registry.RecordFailure(agentID); suspended {
			l.publish(domain.NewEvent(domain.EventAgentSuspended, nil), "", agentID)
		}
		l.logger.Warn("notification failed",
			"agent_id", agentID, "message_type", mt, "error", err)
		return
	}
	if recovered := l.registry.RecordSuccess(agentID); recovered {
		l.publish(domain.NewEvent(domain.EventAgentRecovered, nil), "", agentID)
	}
}

func (l *League) envelope(mt domain.MessageType, roundID string, payload any) (*domain.Envelope, error) {
	env, err := domain.NewEnvelope(mt, "league:"+l.cfg.ID,
		fmt.Sprintf("conv-%s-%d", mt, time.Now().UnixNano()), payload)
	if err != nil {
		return nil, err
	}
	env.AuthToken = "league-" + l.cfg.ID
	env.LeagueID = l.cfg.ID
	env.RoundID = roundID
	return env, nil
}

// reply answers an inbound envelope on its conversation.
func (l *League) reply(req *domain.Envelope, mt domain.MessageType, payload any) (*domain.Envelope, error) {
	env, err := domain.NewEnvelope(mt, "league:"+l.cfg.ID, req.ConversationID, payload)
	if err != nil {
		return nil, err
	}
	env.AuthToken = "league-" + l.cfg.ID
	env.LeagueID = l.cfg.ID
	env.MatchID = req.MatchID
	return env, nil
}

func (l *League) publish(ev domain.Event, roundID, agentID string) {
	if l.bus == nil {
		return
	}
	ev.LeagueID = l.cfg.ID
	ev.RoundID = roundID
	ev.AgentID = agentID
	l.bus.Publish(context.Background(), ev)
}
