package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventAgentRegistered EventType = "agent.registered"
	EventAgentSuspended  EventType = "agent.suspended"
	EventAgentRecovered  EventType = "agent.recovered"

	EventRoundAnnounced EventType = "round.announced"
	EventRoundCompleted EventType = "round.completed"

	EventMatchStarted   EventType = "match.started"
	EventMatchFinished  EventType = "match.finished"
	EventMatchTechnical EventType = "match.technical_loss"

	EventStandingsUpdated EventType = "standings.updated"
	EventLeagueStarted    EventType = "league.started"
	EventLeagueCompleted  EventType = "league.completed"

	EventProtocolError EventType = "protocol.error"
)

// Event is a single league lifecycle notification.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	LeagueID  string          `json:"league_id,omitempty"`
	RoundID   string          `json:"round_id,omitempty"`
	MatchID   string          `json:"match_id,omitempty"`
	AgentID   string          `json:"agent_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler processes a published event.
type EventHandler func(ctx context.Context, event Event)

// EventBus decouples event producers from consumers.
type EventBus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType EventType, handler EventHandler) (unsubscribe func())
	SubscribeAll(handler EventHandler) (unsubscribe func())
	Close()
}

// NewEvent builds an event with the current timestamp and an optional
// JSON-marshalled payload. Marshal failures leave the payload empty rather
// than blocking the publish path.
func NewEvent(t EventType, payload any) Event {
	ev := Event{Type: t, Timestamp: time.Now().UTC()}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			ev.Payload = b
		}
	}
	return ev
}
