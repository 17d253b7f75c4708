package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProtocolErrorFormat(t *testing.T) {
	err := NewProtocolError(CodeInvalidParityChoice, "Envelope.Validate", ErrInvalidChoice, `"Even"`)
	want := `Envelope.Validate [E004]: "Even": invalid parity choice: invalid input`
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestProtocolErrorFormatNoDetail(t *testing.T) {
	err := NewProtocolError(CodeTimeout, "Client.Call", ErrTimeout, "")
	want := "Client.Call [E001]: operation timed out"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestProtocolErrorUnwrap(t *testing.T) {
	err := NewProtocolError(CodeAuthTokenInvalid, "Registry.Authenticate", ErrAuthInvalid, "P01")
	if !errors.Is(err, ErrAuthInvalid) {
		t.Error("errors.Is should match ErrAuthInvalid")
	}
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatal("errors.As should match *ProtocolError")
	}
	if pe.Code != CodeAuthTokenInvalid {
		t.Errorf("Code = %q, want %q", pe.Code, CodeAuthTokenInvalid)
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrTimeout))
	assert.True(t, Retryable(ErrConnection))
	assert.True(t, Retryable(fmt.Errorf("leg: %w", ErrTimeout)))
	assert.False(t, Retryable(ErrInvalidChoice))
	assert.False(t, Retryable(ErrAuthInvalid))
	assert.False(t, Retryable(ErrNotRegistered))
}

func TestErrorCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{ErrTimeout, CodeTimeout},
		{ErrMissingField, CodeMissingField},
		{ErrInvalidChoice, CodeInvalidParityChoice},
		{ErrNotRegistered, CodePlayerNotRegistered},
		{ErrConnection, CodeConnection},
		{ErrAuthMissing, CodeAuthTokenMissing},
		{ErrAuthInvalid, CodeAuthTokenInvalid},
		{ErrInvalidTimestamp, CodeInvalidTimestamp},
		{errors.New("something else"), CodeUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCodeOf(tt.err), "for %v", tt.err)
	}
}

func TestErrorCodeOfPrefersExplicitCode(t *testing.T) {
	// A ProtocolError's own code wins over sentinel mapping.
	err := NewProtocolError(CodeInvalidTimestamp, "op", ErrInvalidInput, "")
	assert.Equal(t, CodeInvalidTimestamp, ErrorCodeOf(err))
}

func TestWrapOpNil(t *testing.T) {
	if WrapOp("op", nil) != nil {
		t.Error("WrapOp(nil) should be nil")
	}
}
