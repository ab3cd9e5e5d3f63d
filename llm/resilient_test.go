package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/loomworks/loom/types"
)

// mockProvider implements Provider with function callbacks.
type mockProvider struct {
	name         string
	completionFn func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	calls        int
}

func (m *mockProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	m.calls++
	if m.completionFn != nil {
		return m.completionFn(ctx, req)
	}
	return &ChatResponse{
		Model:   req.Model,
		Choices: []ChatChoice{{Message: Message{Role: RoleAssistant, Content: "ok"}}},
	}, nil
}

func (m *mockProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return &HealthStatus{Healthy: true}, nil
}

func (m *mockProvider) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}

func TestResilientProvider_RetriesOnce(t *testing.T) {
	failures := 1
	mock := &mockProvider{
		completionFn: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			if failures > 0 {
				failures--
				return nil, types.NewError(types.ErrAgentInvocation, "upstream timeout").WithRetryable(true)
			}
			return &ChatResponse{Choices: []ChatChoice{{Message: Message{Content: "recovered"}}}}, nil
		},
	}

	cfg := DefaultResilientConfig()
	cfg.RetryBackoff = time.Millisecond
	rp := NewResilientProvider(mock, cfg, zap.NewNop())

	resp, err := rp.Completion(context.Background(), &ChatRequest{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text())
	assert.Equal(t, 2, mock.calls)
}

func TestResilientProvider_NoRetryOnNonRetryable(t *testing.T) {
	mock := &mockProvider{
		completionFn: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			return nil, types.NewError(types.ErrAgentInvocation, "bad request").WithRetryable(false)
		},
	}

	cfg := DefaultResilientConfig()
	cfg.RetryBackoff = time.Millisecond
	rp := NewResilientProvider(mock, cfg, zap.NewNop())

	_, err := rp.Completion(context.Background(), &ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, 1, mock.calls)
}

func TestResilientProvider_AttemptsBounded(t *testing.T) {
	mock := &mockProvider{
		completionFn: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			return nil, types.NewError(types.ErrAgentInvocation, "always failing").WithRetryable(true)
		},
	}

	rp := NewResilientProvider(mock, ResilientConfig{MaxAttempts: 3, RetryBackoff: time.Millisecond}, zap.NewNop())

	_, err := rp.Completion(context.Background(), &ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, 3, mock.calls)
	assert.Equal(t, types.ErrAgentInvocation, types.GetErrorCode(err))
}

func TestChatResponse_Text(t *testing.T) {
	var nilResp *ChatResponse
	assert.Equal(t, "", nilResp.Text())
	assert.Equal(t, "", (&ChatResponse{}).Text())
	assert.Equal(t, "hi", (&ChatResponse{Choices: []ChatChoice{{Message: Message{Content: "hi"}}}}).Text())
}
