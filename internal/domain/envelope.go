package domain

import (
	"encoding/json"
	"regexp"
	"time"
)

// ProtocolVersion is the only protocol revision this implementation speaks.
const ProtocolVersion = "league.v2"

// Timestamps must be ISO-8601 UTC with a literal 'Z' suffix. A numeric offset,
// even +00:00, is a protocol violation.
var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?Z$`)

// UTCNow formats the current time the way the protocol requires.
func UTCNow() string {
	return FormatTimestamp(time.Now())
}

// FormatTimestamp renders t as a protocol timestamp.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}

// ValidTimestamp reports whether s is a well-formed protocol timestamp.
func ValidTimestamp(s string) bool {
	if !timestampPattern.MatchString(s) {
		return false
	}
	_, err := time.Parse(time.RFC3339Nano, s)
	return err == nil
}

// Envelope is the mandatory metadata wrapper around every protocol message.
// Immutable once constructed; one envelope per wire exchange.
type Envelope struct {
	Protocol       string          `json:"protocol"`
	MessageType    MessageType     `json:"message_type"`
	Sender         string          `json:"sender"` // "league:L01", "referee:REF01", "player:P01"
	Timestamp      string          `json:"timestamp"`
	ConversationID string          `json:"conversation_id"`
	AuthToken      string          `json:"auth_token,omitempty"`
	LeagueID       string          `json:"league_id,omitempty"`
	RoundID        string          `json:"round_id,omitempty"`
	MatchID        string          `json:"match_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds an envelope with the current timestamp and the given
// payload marshalled in place.
func NewEnvelope(mt MessageType, sender, conversationID string, payload any) (*Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, WrapOp("NewEnvelope", err)
		}
		raw = b
	}
	return &Envelope{
		Protocol:       ProtocolVersion,
		MessageType:    mt,
		Sender:         sender,
		Timestamp:      UTCNow(),
		ConversationID: conversationID,
		Payload:        raw,
	}, nil
}

// Encode serializes the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	return b, WrapOp("Envelope.Encode", err)
}

// DecodePayload unmarshals the envelope payload into v.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return NewProtocolError(CodeMissingField, "Envelope.DecodePayload", ErrMissingField, "payload")
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return NewProtocolError(CodeMissingField, "Envelope.DecodePayload", ErrRPCInvalidPayload, err.Error())
	}
	return nil
}

// DecodeEnvelope parses wire bytes into an envelope. Structural validation is
// a separate step; see Validate.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, NewProtocolError(CodeMissingField, "DecodeEnvelope", ErrRPCInvalidPayload, err.Error())
	}
	return &e, nil
}

// Validate checks the envelope against the protocol contract: field presence,
// protocol version, closed message-type set, UTC timestamp, and auth-token
// presence for post-registration messages. Pure function, no side effects.
func (e *Envelope) Validate() error {
	const op = "Envelope.Validate"

	for _, f := range []struct {
		name  string
		value string
	}{
		{"protocol", e.Protocol},
		{"message_type", string(e.MessageType)},
		{"sender", e.Sender},
		{"timestamp", e.Timestamp},
		{"conversation_id", e.ConversationID},
	} {
		if f.value == "" {
			return NewProtocolError(CodeMissingField, op, ErrMissingField, f.name)
		}
	}

	if e.Protocol != ProtocolVersion {
		return NewProtocolError(CodeMissingField, op, ErrInvalidProtocol, e.Protocol)
	}
	if _, err := ParseMessageType(string(e.MessageType)); err != nil {
		return err
	}
	if !ValidTimestamp(e.Timestamp) {
		return NewProtocolError(CodeInvalidTimestamp, op, ErrInvalidTimestamp, e.Timestamp)
	}
	if e.MessageType.RequiresAuth() && e.AuthToken == "" {
		return NewProtocolError(CodeAuthTokenMissing, op, ErrAuthMissing, string(e.MessageType))
	}
	return nil
}

// Parity is the closed value set for the even/odd game.
type Parity string

const (
	ParityEven Parity = "even"
	ParityOdd  Parity = "odd"
)

// ValidParity reports whether s is an exact lowercase member of the choice
// set. "Even" and "ODD" are protocol violations, not candidates for coercion.
func ValidParity(s string) bool {
	return s == string(ParityEven) || s == string(ParityOdd)
}

// ParityOf returns the parity of n.
func ParityOf(n int) Parity {
	if n%2 == 0 {
		return ParityEven
	}
	return ParityOdd
}
