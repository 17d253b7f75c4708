package usecase

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"parity-league/internal/domain"
)

// ResultStore is the persistence boundary for the match-result history.
type ResultStore interface {
	// Save records a result, returning false for a duplicate match_id.
	Save(ctx context.Context, r domain.MatchResultReport) (bool, error)
	// List returns the full history in report order.
	List(ctx context.Context) ([]domain.MatchResultReport, error)
}

// Standings consumes match results and maintains the ranked points table.
// The table is derived state: every accepted report triggers a recompute
// over the full history, never an incremental mutation, so replayed or
// duplicated reports cannot cause drift.
//
// Single-writer: all mutation goes through Report, serialized by the mutex.
type Standings struct {
	mu           sync.Mutex
	store        ResultStore
	scoring      domain.ScoringRule
	participants []string
	logger       *slog.Logger
}

// NewStandings creates an aggregator over store. participants fixes the set
// of table rows; players without results rank with zero points.
func NewStandings(store ResultStore, scoring domain.ScoringRule, participants []string, logger *slog.Logger) *Standings {
	return &Standings{
		store:        store,
		scoring:      scoring,
		participants: append([]string(nil), participants...),
		logger:       logger,
	}
}

// SetParticipants replaces the fixed row set, for callers that only learn
// the final roster after registration closes.
func (s *Standings) SetParticipants(participants []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants = append([]string(nil), participants...)
}

// Report ingests one match result and returns the recomputed table.
// A duplicate match_id is ignored: accepted stays false and the table is
// unchanged. Safe to call from concurrent referee report handlers.
func (s *Standings) Report(ctx context.Context, r domain.MatchResultReport) (table []domain.StandingsEntry, accepted bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accepted, err = s.store.Save(ctx, r)
	if err != nil {
		return nil, false, domain.WrapOp("Standings.Report", err)
	}
	if !accepted {
		s.logger.Info("duplicate result report ignored", "match_id", r.MatchID)
	}

	table, err = s.recomputeLocked(ctx)
	return table, accepted, err
}

// Recompute rebuilds the table from the full stored history.
func (s *Standings) Recompute(ctx context.Context) ([]domain.StandingsEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recomputeLocked(ctx)
}

func (s *Standings) recomputeLocked(ctx context.Context) ([]domain.StandingsEntry, error) {
	results, err := s.store.List(ctx)
	if err != nil {
		return nil, domain.WrapOp("Standings.Recompute", err)
	}
	return ComputeStandings(s.participants, results, s.scoring), nil
}

// ComputeStandings derives the ranked table from a result set. Pure function:
// idempotent over duplicated input (first report per match_id wins) and
// deterministic, sorted by points desc, wins desc, player_id asc.
func ComputeStandings(participants []string, results []domain.MatchResultReport, scoring domain.ScoringRule) []domain.StandingsEntry {
	rows := make(map[string]*domain.StandingsEntry, len(participants))
	ensure := func(id string) *domain.StandingsEntry {
		if row, ok := rows[id]; ok {
			return row
		}
		row := &domain.StandingsEntry{PlayerID: id}
		rows[id] = row
		return row
	}
	for _, id := range participants {
		ensure(id)
	}

	seen := make(map[string]bool, len(results))
	for _, r := range results {
		if r.MatchID == "" || seen[r.MatchID] {
			continue
		}
		seen[r.MatchID] = true

		a, b := ensure(r.PlayerA), ensure(r.PlayerB)
		a.Played++
		b.Played++

		switch {
		case r.Draw:
			a.Draws++
			b.Draws++
			a.Points += scoring.Draw
			b.Points += scoring.Draw
		case r.WinnerID != "":
			winner, loser := ensure(r.WinnerID), ensure(r.LoserID)
			winner.Wins++
			winner.Points += scoring.Win
			loser.Losses++
			loser.Points += scoring.Loss
		default:
			// Double technical loss: both players unresponsive, nobody scores.
			a.Losses++
			b.Losses++
			a.Points += scoring.Loss
			b.Points += scoring.Loss
		}
	}

	table := make([]domain.StandingsEntry, 0, len(rows))
	for _, row := range rows {
		table = append(table, *row)
	}
	sort.Slice(table, func(i, j int) bool {
		if table[i].Points != table[j].Points {
			return table[i].Points > table[j].Points
		}
		if table[i].Wins != table[j].Wins {
			return table[i].Wins > table[j].Wins
		}
		return table[i].PlayerID < table[j].PlayerID
	})
	return table
}
