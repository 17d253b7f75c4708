package domain

// LeagueStatus is the lifecycle state of a league.
type LeagueStatus string

const (
	LeaguePending   LeagueStatus = "PENDING"
	LeagueActive    LeagueStatus = "ACTIVE"
	LeagueCompleted LeagueStatus = "COMPLETED"
)

// League is the tournament being played. Created once at setup, mutated only
// by appending completed rounds, terminal when every round is complete.
type League struct {
	ID           string
	GameType     string
	Scoring      ScoringRule
	Participants []string // player IDs in registration order
	Status       LeagueStatus
}

// RoundStatus is the lifecycle state of a round.
type RoundStatus string

const (
	RoundAnnounced  RoundStatus = "ANNOUNCED"
	RoundInProgress RoundStatus = "IN_PROGRESS"
	RoundDone       RoundStatus = "COMPLETED"
)

// Round groups the matches announced together. A round completes only when
// every match in it reaches a terminal state.
type Round struct {
	ID      string      `json:"round_id"`
	Number  int         `json:"number"`
	Matches []*Match    `json:"matches"`
	Status  RoundStatus `json:"status"`
}

// MatchState drives the per-match referee state machine.
type MatchState string

const (
	MatchWaitingForPlayers MatchState = "WAITING_FOR_PLAYERS"
	MatchCollectingChoices MatchState = "COLLECTING_CHOICES"
	MatchDrawingOutcome    MatchState = "DRAWING_OUTCOME"
	MatchFinished          MatchState = "FINISHED"
	MatchTechnicalLoss     MatchState = "TECHNICAL_LOSS"
)

// Terminal reports whether the state ends the match.
func (s MatchState) Terminal() bool {
	return s == MatchFinished || s == MatchTechnicalLoss
}

// Match is one scheduled game between two players, owned exclusively by the
// referee driving it. Single-writer: no two tasks mutate the same Match.
type Match struct {
	ID        string            `json:"match_id"`
	RoundID   string            `json:"round_id"`
	PlayerA   string            `json:"player_a"`
	PlayerB   string            `json:"player_b"`
	RefereeID string            `json:"referee_id"`
	State     MatchState        `json:"state"`
	Choices   map[string]string `json:"choices,omitempty"` // player ID -> raw choice
	Outcome   *Outcome          `json:"outcome,omitempty"`
}

// Bye reports whether the match is a scheduling bye (odd player count).
func (m *Match) Bye() bool {
	return m.PlayerA == ByePlayerID || m.PlayerB == ByePlayerID
}

// ByePlayerID is the sentinel opponent inserted for odd player counts.
const ByePlayerID = "BYE"

// OutcomeKind classifies how a match ended.
type OutcomeKind string

const (
	OutcomeWin       OutcomeKind = "win"
	OutcomeDraw      OutcomeKind = "draw"
	OutcomeTechnical OutcomeKind = "technical"
)

// Outcome is the resolved result of one match.
type Outcome struct {
	Kind        OutcomeKind `json:"kind"`
	WinnerID    string      `json:"winner_id,omitempty"` // empty on a draw
	LoserID     string      `json:"loser_id,omitempty"`
	DrawnNumber int         `json:"drawn_number,omitempty"`
	Parity      Parity      `json:"parity,omitempty"`
}

// ScoringRule maps outcomes to points. Pluggable so other game types can
// rescore without touching the aggregator.
type ScoringRule struct {
	Win  int `yaml:"win"  json:"win"`
	Draw int `yaml:"draw" json:"draw"`
	Loss int `yaml:"loss" json:"loss"`
}

// DefaultScoring is the standard 3/1/0 rule.
var DefaultScoring = ScoringRule{Win: 3, Draw: 1, Loss: 0}

// StandingsEntry is one row of the ranked table. Derived state: recomputed
// from the full result history on every report, never mutated incrementally.
type StandingsEntry struct {
	PlayerID string `json:"player_id"`
	Played   int    `json:"played"`
	Wins     int    `json:"wins"`
	Draws    int    `json:"draws"`
	Losses   int    `json:"losses"`
	Points   int    `json:"points"`
}
