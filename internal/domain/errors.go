package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Wrap these with NewProtocolError so that callers can
// dispatch on errors.Is while the wire layer reports the matching ErrorCode.
var (
	ErrDuplicate     = fmt.Errorf("duplicate")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrConnection    = fmt.Errorf("connection failed")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrAuthMissing   = fmt.Errorf("auth token missing")
	ErrAuthInvalid   = fmt.Errorf("auth token invalid")
	ErrLeagueClosed  = fmt.Errorf("league no longer accepts registrations")
	ErrNotRegistered = fmt.Errorf("agent not registered")
)

// Sentinel errors for the domain layer.
var (
	ErrMissingField     = fmt.Errorf("missing required field: %w", ErrInvalidInput)
	ErrInvalidTimestamp = fmt.Errorf("timestamp is not UTC: %w", ErrInvalidInput)
	ErrInvalidChoice    = fmt.Errorf("invalid parity choice: %w", ErrInvalidInput)
	ErrInvalidProtocol  = fmt.Errorf("unsupported protocol version: %w", ErrInvalidInput)
	ErrUnknownMessage   = fmt.Errorf("unknown message type: %w", ErrInvalidInput)

	ErrMatchFinished   = fmt.Errorf("match already in a terminal state")
	ErrMatchConflict   = fmt.Errorf("match already driven by another referee")
	ErrRoundIncomplete = fmt.Errorf("round has unfinished matches")
	ErrGameType        = fmt.Errorf("no rules registered for game type")
	ErrBreakerOpen     = fmt.Errorf("endpoint circuit open")

	// RPC errors.
	ErrRPCMethodNotFound = fmt.Errorf("rpc method not found")
	ErrRPCInvalidPayload = fmt.Errorf("rpc payload invalid")
)

// ErrorCode is the machine-parseable protocol error code carried on the wire.
type ErrorCode string

// Error codes from the league.v2 protocol error table.
const (
	CodeUnknown             ErrorCode = "E000"
	CodeTimeout             ErrorCode = "E001"
	CodeMissingField        ErrorCode = "E003"
	CodeInvalidParityChoice ErrorCode = "E004"
	CodePlayerNotRegistered ErrorCode = "E005"
	CodeConnection          ErrorCode = "E009"
	CodeAuthTokenMissing    ErrorCode = "E011"
	CodeAuthTokenInvalid    ErrorCode = "E012"
	CodeInvalidTimestamp    ErrorCode = "E021"
)

// ProtocolError wraps a sentinel error with the wire code and operation context.
type ProtocolError struct {
	Code   ErrorCode
	Op     string // operation name, e.g. "Envelope.Validate"
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *ProtocolError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s [%s]: %s: %s", e.Op, e.Code, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Op, e.Code, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// NewProtocolError creates a ProtocolError.
func NewProtocolError(code ErrorCode, op string, err error, detail string) *ProtocolError {
	return &ProtocolError{Code: code, Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Retryable reports whether err is a transient transport failure. Protocol
// violations and business rejections are never retryable.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnection)
}

// ErrorCodeOf maps err to its wire code. Unmapped errors report CodeUnknown.
func ErrorCodeOf(err error) ErrorCode {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code
	}
	switch {
	case errors.Is(err, ErrMissingField):
		return CodeMissingField
	case errors.Is(err, ErrInvalidChoice):
		return CodeInvalidParityChoice
	case errors.Is(err, ErrInvalidTimestamp):
		return CodeInvalidTimestamp
	case errors.Is(err, ErrNotRegistered):
		return CodePlayerNotRegistered
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrConnection):
		return CodeConnection
	case errors.Is(err, ErrAuthMissing):
		return CodeAuthTokenMissing
	case errors.Is(err, ErrAuthInvalid):
		return CodeAuthTokenInvalid
	default:
		return CodeUnknown
	}
}
