package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	e := NewError(ErrAgentInvocation, "provider call failed")
	assert.Equal(t, "[AGENT_INVOCATION] provider call failed", e.Error())

	cause := errors.New("connection refused")
	e = e.WithCause(cause)
	assert.Contains(t, e.Error(), "connection refused")
	assert.ErrorIs(t, e, cause)
}

func TestError_Retryable(t *testing.T) {
	e := NewError(ErrAgentInvocation, "timeout").WithRetryable(true)
	assert.True(t, IsRetryable(e))
	assert.False(t, IsRetryable(NewError(ErrInvalidTransition, "not paused")))
	assert.False(t, IsRetryable(errors.New("plain error")))
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, ErrInvalidConfiguration, GetErrorCode(NewError(ErrInvalidConfiguration, "rounds < 1")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))

	// Codes survive wrapping.
	wrapped := fmt.Errorf("start: %w", NewError(ErrInvalidConfiguration, "empty agent list"))
	assert.True(t, IsCode(wrapped, ErrInvalidConfiguration))
}
