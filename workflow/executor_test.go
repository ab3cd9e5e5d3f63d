package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/llm"
	"github.com/loomworks/loom/types"
)

func TestInvokeProducesAttributedMessage(t *testing.T) {
	provider := &scriptedProvider{}
	executor := newTestExecutor(provider)

	msg, err := executor.Invoke(context.Background(), specs("classifier")[0], []types.Message{
		types.NewUserMessage("my invoice was charged twice"),
	})
	require.NoError(t, err)
	assert.Equal(t, types.RoleAssistant, msg.Role)
	assert.Equal(t, "classifier", msg.Agent)
	assert.Equal(t, "reply 1", msg.Content)
	assert.Equal(t, 1, provider.callCount(), "exactly one upstream call per invocation")
}

func TestInvokeSendsInstructionsAndTranscript(t *testing.T) {
	provider := &scriptedProvider{}
	executor := newTestExecutor(provider)

	transcript := []types.Message{
		types.NewUserMessage("ticket text"),
		types.NewAssistantMessage("classifier", "Category: Billing"),
		types.NewHumanMessage("Manager decision: APPROVE"),
	}
	_, err := executor.Invoke(context.Background(), specs("researcher")[0], transcript)
	require.NoError(t, err)

	req := provider.requests[0]
	require.Len(t, req.Messages, 4)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "You are researcher.", req.Messages[0].Content)
	assert.Equal(t, llm.RoleUser, req.Messages[1].Role)
	assert.Equal(t, llm.RoleAssistant, req.Messages[2].Role)
	assert.Equal(t, "classifier", req.Messages[2].Name)
	assert.Equal(t, llm.RoleUser, req.Messages[3].Role, "human decision reads as user input")
}

func TestInvokeClassifiesFailure(t *testing.T) {
	provider := &scriptedProvider{
		completionFn: func(int, *llm.ChatRequest) (*llm.ChatResponse, error) {
			return nil, errors.New("upstream boom")
		},
	}
	executor := newTestExecutor(provider)

	_, err := executor.Invoke(context.Background(), specs("classifier")[0], nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrAgentInvocation, types.GetErrorCode(err))
}

func TestInvokeEmptyCompletion(t *testing.T) {
	provider := &scriptedProvider{
		completionFn: func(int, *llm.ChatRequest) (*llm.ChatResponse, error) {
			return &llm.ChatResponse{}, nil
		},
	}
	executor := newTestExecutor(provider)

	_, err := executor.Invoke(context.Background(), specs("classifier")[0], nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrAgentInvocation, types.GetErrorCode(err))
}

func TestInvokePassesThroughCancellation(t *testing.T) {
	provider := &scriptedProvider{}
	executor := newTestExecutor(provider)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := executor.Invoke(ctx, specs("classifier")[0], nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEqual(t, types.ErrAgentInvocation, types.GetErrorCode(err))
}

func TestClassifyInvocationErrorRetryable(t *testing.T) {
	err := classifyInvocationError("classifier", context.DeadlineExceeded)
	assert.Equal(t, types.ErrAgentInvocation, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err), "timeouts are retryable")

	wrapped := classifyInvocationError("classifier", errors.New("bad request"))
	assert.False(t, types.IsRetryable(wrapped))

	// Already classified errors pass through unchanged.
	orig := types.Errorf(types.ErrAgentInvocation, "agent classifier: empty completion")
	assert.Same(t, error(orig), classifyInvocationError("classifier", orig))
}
