// Package rules hosts the pluggable game rules modules and the factory that
// selects one by game type at startup.
package rules

import (
	"fmt"
	"math/rand"

	"parity-league/internal/domain"
)

// GameTypeEvenOdd is the game type key for the even/odd parity game.
const GameTypeEvenOdd = "even_odd"

// EvenOdd implements the even/odd parity game: draw a number in [1,10],
// compute its parity, and compare it to each player's choice. A player wins
// when their choice matches the drawn parity and the opponent's does not;
// both-correct or both-incorrect is a draw.
type EvenOdd struct{}

// NewEvenOdd creates the even/odd rules module.
func NewEvenOdd() *EvenOdd { return &EvenOdd{} }

// GameType implements domain.Rules.
func (*EvenOdd) GameType() string { return GameTypeEvenOdd }

// Init implements domain.Rules. The parity game carries no per-match state.
func (*EvenOdd) Init() domain.RulesState { return struct{}{} }

// ValidateChoice implements domain.Rules. The value set is closed and
// lowercase; "Even" is a protocol violation, never coerced.
func (*EvenOdd) ValidateChoice(raw string) bool {
	return domain.ValidParity(raw)
}

// Resolve implements domain.Rules.
func (*EvenOdd) Resolve(_ domain.RulesState, choices map[string]string, seed int64) (*domain.Outcome, error) {
	if len(choices) != 2 {
		return nil, domain.WrapOp("EvenOdd.Resolve",
			fmt.Errorf("need exactly 2 choices, got %d: %w", len(choices), domain.ErrInvalidInput))
	}

	players := make([]string, 0, 2)
	for id, choice := range choices {
		if !domain.ValidParity(choice) {
			return nil, domain.NewProtocolError(domain.CodeInvalidParityChoice,
				"EvenOdd.Resolve", domain.ErrInvalidChoice, choice)
		}
		players = append(players, id)
	}
	if players[0] > players[1] {
		players[0], players[1] = players[1], players[0]
	}

	drawn := 1 + rand.New(rand.NewSource(seed)).Intn(10)
	parity := domain.ParityOf(drawn)

	aCorrect := choices[players[0]] == string(parity)
	bCorrect := choices[players[1]] == string(parity)

	out := &domain.Outcome{DrawnNumber: drawn, Parity: parity}
	switch {
	case aCorrect && !bCorrect:
		out.Kind = domain.OutcomeWin
		out.WinnerID, out.LoserID = players[0], players[1]
	case bCorrect && !aCorrect:
		out.Kind = domain.OutcomeWin
		out.WinnerID, out.LoserID = players[1], players[0]
	default:
		out.Kind = domain.OutcomeDraw
	}
	return out, nil
}

var _ domain.Rules = (*EvenOdd)(nil)
