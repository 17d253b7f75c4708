package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"parity-league/internal/domain"
)

// JSON-RPC 2.0 framing for league traffic. Every call carries a single
// protocol envelope as params; the result, when present, is the reply
// envelope.

const jsonrpcVersion = "2.0"

// Standard JSON-RPC 2.0 error codes, plus a server range code that carries
// a league error code in the Data field.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeLeagueError    = -32000
)

// Request is a JSON-RPC 2.0 request frame.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      uint64          `json:"id"`
}

// Response is a JSON-RPC 2.0 response frame.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      uint64          `json:"id"`
}

// Error is a JSON-RPC 2.0 error object. Data, when set, holds the league
// error code so callers can map the failure back to a typed error.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

type errorData struct {
	LeagueCode domain.ErrorCode `json:"league_code,omitempty"`
}

// NewRequest frames an envelope as a JSON-RPC call. The method is the
// envelope's message type.
func NewRequest(id uint64, env *domain.Envelope) (*Request, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode request params: %w", err)
	}
	return &Request{
		JSONRPC: jsonrpcVersion,
		Method:  string(env.MessageType),
		Params:  raw,
		ID:      id,
	}, nil
}

// Envelope decodes the request params back into an envelope.
func (r *Request) Envelope() (*domain.Envelope, error) {
	if len(r.Params) == 0 {
		return nil, domain.NewProtocolError(domain.CodeMissingField, "rpc.Request.Envelope",
			domain.ErrMissingField, "params")
	}
	return domain.DecodeEnvelope(r.Params)
}

// newResult frames a successful reply. env may be nil for one-way calls.
func newResult(id uint64, env *domain.Envelope) (*Response, error) {
	resp := &Response{JSONRPC: jsonrpcVersion, ID: id}
	if env != nil {
		raw, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		resp.Result = raw
	}
	return resp, nil
}

// newError frames a failed reply, carrying the league error code when the
// error maps to one.
func newError(id uint64, code int, err error) *Response {
	rpcErr := &Error{Code: code, Message: err.Error()}
	if leagueCode := domain.ErrorCodeOf(err); leagueCode != domain.CodeUnknown {
		if raw, mErr := json.Marshal(errorData{LeagueCode: leagueCode}); mErr == nil {
			rpcErr.Data = raw
		}
	}
	return &Response{JSONRPC: jsonrpcVersion, Error: rpcErr, ID: id}
}

// Err converts an error response back into a typed league error. Returns
// nil when the response succeeded.
func (r *Response) Err() error {
	if r.Error == nil {
		return nil
	}
	if r.Error.Code == codeMethodNotFound {
		return fmt.Errorf("%w: %s", domain.ErrRPCMethodNotFound, r.Error.Message)
	}
	var data errorData
	if len(r.Error.Data) > 0 {
		if err := json.Unmarshal(r.Error.Data, &data); err == nil && data.LeagueCode != "" {
			return domain.NewProtocolError(data.LeagueCode, "rpc", errors.New(r.Error.Message), "")
		}
	}
	return r.Error
}

// ResultEnvelope decodes the result into an envelope, nil when empty.
func (r *Response) ResultEnvelope() (*domain.Envelope, error) {
	if err := r.Err(); err != nil {
		return nil, err
	}
	if len(r.Result) == 0 || string(r.Result) == "null" {
		return nil, nil
	}
	return domain.DecodeEnvelope(r.Result)
}
