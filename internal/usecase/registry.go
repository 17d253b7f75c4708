package usecase

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"parity-league/internal/domain"
)

// Registry tracks registered referees and players, issues identifiers and
// opaque tokens, and validates tokens on incoming messages. It is owned by
// the league manager; all mutation goes through its methods.
type Registry struct {
	mu       sync.RWMutex
	agents   map[string]*domain.Agent
	players  []string // player IDs in registration order
	referees []string // referee IDs in registration order
	open     bool     // registration window, closes when the league starts

	// maxFailures is how many consecutive transport failures move an agent
	// to SUSPENDED.
	maxFailures int
	logger      *slog.Logger
}

// NewRegistry creates a registry with the registration window open.
func NewRegistry(maxFailures int, logger *slog.Logger) *Registry {
	return &Registry{
		agents:      make(map[string]*domain.Agent),
		open:        true,
		maxFailures: maxFailures,
		logger:      logger,
	}
}

// newToken issues an opaque auth token. ULIDs are unique and unguessable
// enough for a tournament token bound to a single league lifetime.
func newToken() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// RegisterPlayer admits a player while the league is pending. IDs are
// assigned deterministically in registration order ("P01", "P02", ...) so
// that two runs over the same registration order produce the same schedule.
// Re-registration with the same display name yields a new agent.
func (r *Registry) RegisterPlayer(displayName, endpoint string) (*domain.Agent, error) {
	return r.register(domain.RolePlayer, displayName, endpoint)
}

// RegisterReferee admits a referee while the league is pending ("REF01", ...).
func (r *Registry) RegisterReferee(displayName, endpoint string) (*domain.Agent, error) {
	return r.register(domain.RoleReferee, displayName, endpoint)
}

func (r *Registry) register(role domain.Role, displayName, endpoint string) (*domain.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.open {
		return nil, domain.NewProtocolError(domain.CodePlayerNotRegistered, "Registry.register",
			domain.ErrLeagueClosed, displayName)
	}
	if displayName == "" || endpoint == "" {
		return nil, domain.NewProtocolError(domain.CodeMissingField, "Registry.register",
			domain.ErrMissingField, "display_name/callback_url")
	}

	var id string
	switch role {
	case domain.RolePlayer:
		id = fmt.Sprintf("P%02d", len(r.players)+1)
	case domain.RoleReferee:
		id = fmt.Sprintf("REF%02d", len(r.referees)+1)
	default:
		return nil, domain.WrapOp("Registry.register",
			fmt.Errorf("role %q cannot register: %w", role, domain.ErrInvalidInput))
	}

	agent := &domain.Agent{
		ID:          id,
		Role:        role,
		DisplayName: displayName,
		Endpoint:    endpoint,
		AuthToken:   newToken(),
		State:       domain.AgentRegistered,
	}
	r.agents[id] = agent
	switch role {
	case domain.RolePlayer:
		r.players = append(r.players, id)
	case domain.RoleReferee:
		r.referees = append(r.referees, id)
	}

	r.logger.Info("agent registered",
		"agent_id", id,
		"role", string(role),
		"display_name", displayName,
		"endpoint", endpoint,
	)
	return agent, nil
}

// CloseRegistration ends the registration window and activates every
// registered agent. Late registrations are rejected with a structured reason.
func (r *Registry) CloseRegistration() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	for _, a := range r.agents {
		if a.State == domain.AgentRegistered {
			a.State = domain.AgentActive
		}
	}
	r.logger.Info("registration closed", "players", len(r.players), "referees", len(r.referees))
}

// Authenticate reports whether token is the one issued to agentID.
func (r *Registry) Authenticate(agentID, token string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[agentID]
	if !ok || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(agent.AuthToken), []byte(token)) == 1
}

// Lookup returns the agent for agentID, or ErrNotRegistered.
func (r *Registry) Lookup(agentID string) (*domain.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return nil, domain.NewProtocolError(domain.CodePlayerNotRegistered, "Registry.Lookup",
			domain.ErrNotRegistered, agentID)
	}
	return agent, nil
}

// Endpoint returns the callback URL for agentID.
func (r *Registry) Endpoint(agentID string) (string, error) {
	agent, err := r.Lookup(agentID)
	if err != nil {
		return "", err
	}
	return agent.Endpoint, nil
}

// Players returns player IDs in registration order, the fixed ordering the
// scheduler depends on.
func (r *Registry) Players() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.players))
	copy(out, r.players)
	return out
}

// ActivePlayers returns IDs of players not currently suspended or shut down.
func (r *Registry) ActivePlayers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.players))
	for _, id := range r.players {
		if r.agents[id].State == domain.AgentActive || r.agents[id].State == domain.AgentRegistered {
			out = append(out, id)
		}
	}
	return out
}

// Referees returns referee IDs in registration order.
func (r *Registry) Referees() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.referees))
	copy(out, r.referees)
	return out
}

// RecordFailure counts a transport failure against agentID. Crossing the
// consecutive-failure limit suspends the agent; the caller learns about the
// transition from the return value.
func (r *Registry) RecordFailure(agentID string) (suspended bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return false
	}
	agent.ConsecutiveFailures++
	if agent.State == domain.AgentActive && agent.ConsecutiveFailures >= r.maxFailures {
		agent.State = domain.AgentSuspended
		r.logger.Warn("agent suspended",
			"agent_id", agentID,
			"consecutive_failures", agent.ConsecutiveFailures,
		)
		return true
	}
	return false
}

// RecordSuccess resets the failure counter and recovers a suspended agent.
func (r *Registry) RecordSuccess(agentID string) (recovered bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return false
	}
	agent.ConsecutiveFailures = 0
	if agent.State == domain.AgentSuspended {
		agent.State = domain.AgentActive
		r.logger.Info("agent recovered", "agent_id", agentID)
		return true
	}
	return false
}

// Suspended returns IDs of currently suspended agents, for the recovery probe.
func (r *Registry) Suspended() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, id := range append(append([]string{}, r.players...), r.referees...) {
		if r.agents[id].State == domain.AgentSuspended {
			out = append(out, id)
		}
	}
	return out
}
