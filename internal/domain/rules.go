package domain

// RulesState is per-match state owned by a rules module. The even/odd game is
// stateless, so its implementation returns an empty state; richer games may
// carry boards or decks here.
type RulesState any

// Rules is the pluggable per-game-type contract. The match state machine
// depends only on this capability set, never on game-specific code. A rules
// module is selected once at startup through the factory registry, keyed by
// the league's game type.
type Rules interface {
	// GameType names the game this module implements, e.g. "even_odd".
	GameType() string

	// Init creates fresh per-match state.
	Init() RulesState

	// ValidateChoice reports whether raw is a legal choice value. The check is
	// exact: casing or membership violations fail, they are never coerced.
	ValidateChoice(raw string) bool

	// Resolve determines the outcome from both players' validated choices.
	// choices maps player ID to choice; seed makes the draw reproducible.
	Resolve(state RulesState, choices map[string]string, seed int64) (*Outcome, error)
}
