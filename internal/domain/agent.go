package domain

import "fmt"

// Role distinguishes the three kinds of agents in a league.
type Role string

const (
	RoleLeagueManager Role = "league_manager"
	RoleReferee       Role = "referee"
	RolePlayer        Role = "player"
)

// AgentState is the lifecycle state of a registered agent. Transitions only
// move forward, except ACTIVE and SUSPENDED which may alternate while the
// agent recovers from timeouts.
type AgentState string

const (
	AgentInit       AgentState = "INIT"
	AgentRegistered AgentState = "REGISTERED"
	AgentActive     AgentState = "ACTIVE"
	AgentSuspended  AgentState = "SUSPENDED"
	AgentShutdown   AgentState = "SHUTDOWN"
)

var agentTransitions = map[AgentState][]AgentState{
	AgentInit:       {AgentRegistered},
	AgentRegistered: {AgentActive, AgentShutdown},
	AgentActive:     {AgentSuspended, AgentShutdown},
	AgentSuspended:  {AgentActive, AgentShutdown},
	AgentShutdown:   {},
}

// CanTransition reports whether from → to is a legal agent state change.
func (from AgentState) CanTransition(to AgentState) bool {
	for _, next := range agentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Agent is a registered participant: a referee or a player. The league
// manager itself is also modelled as an Agent for sender identification.
type Agent struct {
	ID          string
	Role        Role
	DisplayName string
	Endpoint    string
	AuthToken   string // issued once at registration, immutable
	State       AgentState

	// ConsecutiveFailures counts transport failures since the last success;
	// the registry suspends the agent once it crosses the configured limit.
	ConsecutiveFailures int
}

// Sender renders the protocol sender string, e.g. "player:P01".
func (a *Agent) Sender() string {
	return fmt.Sprintf("%s:%s", a.Role, a.ID)
}

// Transition moves the agent to state to, or fails if the change is illegal.
func (a *Agent) Transition(to AgentState) error {
	if !a.State.CanTransition(to) {
		return WrapOp("Agent.Transition",
			fmt.Errorf("%s: illegal transition %s -> %s: %w", a.ID, a.State, to, ErrInvalidInput))
	}
	a.State = to
	return nil
}
