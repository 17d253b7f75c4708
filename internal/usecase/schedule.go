package usecase

import (
	"fmt"

	"parity-league/internal/domain"
)

// Schedule generates the full round-robin for players using the circle
// method: one seat is fixed and the others rotate, pairing opposite seats
// each round. For n players it yields n(n-1)/2 matches across n-1 rounds
// (n rounds with a bye inserted when n is odd), no player appearing twice in
// a round. Deterministic given a fixed player ordering, so identical
// registration orders reproduce identical schedules.
//
// Rounds are emitted in descending rotation order, which makes the opening
// round pair neighbours in registration order (P01-P02, P03-P04, ...).
func Schedule(players []string) ([]*domain.Round, error) {
	if len(players) < 2 {
		return nil, domain.WrapOp("Schedule",
			fmt.Errorf("need at least 2 players, got %d: %w", len(players), domain.ErrInvalidInput))
	}
	seen := make(map[string]bool, len(players))
	for _, p := range players {
		if seen[p] {
			return nil, domain.WrapOp("Schedule",
				fmt.Errorf("duplicate player %s: %w", p, domain.ErrDuplicate))
		}
		seen[p] = true
	}

	seats := append([]string(nil), players...)
	if len(seats)%2 == 1 {
		seats = append(seats, domain.ByePlayerID)
	}
	m := len(seats)
	tail := seats[1:]
	k := len(tail)

	rounds := make([]*domain.Round, 0, m-1)
	for rot := m - 2; rot >= 0; rot-- {
		arranged := make([]string, m)
		arranged[0] = seats[0]
		for i := 0; i < k; i++ {
			arranged[i+1] = tail[((i-rot)%k+k)%k]
		}

		num := len(rounds) + 1
		round := &domain.Round{
			ID:     fmt.Sprintf("R%d", num),
			Number: num,
			Status: domain.RoundAnnounced,
		}
		for i := 0; i < m/2; i++ {
			a, b := arranged[i], arranged[m-1-i]
			if a == domain.ByePlayerID || b == domain.ByePlayerID {
				continue // the bye seat sits this round out
			}
			if a > b {
				a, b = b, a
			}
			round.Matches = append(round.Matches, &domain.Match{
				ID:      fmt.Sprintf("R%dM%d", num, len(round.Matches)+1),
				RoundID: round.ID,
				PlayerA: a,
				PlayerB: b,
				State:   domain.MatchWaitingForPlayers,
			})
		}
		rounds = append(rounds, round)
	}
	return rounds, nil
}

// AssignReferees distributes the matches of each round over the referee set
// in round-robin fashion. Deterministic for a fixed referee ordering.
func AssignReferees(rounds []*domain.Round, referees []string) error {
	if len(referees) == 0 {
		return domain.WrapOp("AssignReferees",
			fmt.Errorf("no referees registered: %w", domain.ErrInvalidInput))
	}
	for _, round := range rounds {
		for i, match := range round.Matches {
			match.RefereeID = referees[i%len(referees)]
		}
	}
	return nil
}
