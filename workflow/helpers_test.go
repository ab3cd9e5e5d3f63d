package workflow

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/loomworks/loom/llm"
	"github.com/loomworks/loom/types"
)

// scriptedProvider is a scriptable in-memory model transport. The
// default script answers every request with "reply <n>".
type scriptedProvider struct {
	mu           sync.Mutex
	calls        int
	requests     []*llm.ChatRequest
	completionFn func(call int, req *llm.ChatRequest) (*llm.ChatResponse, error)
}

func (p *scriptedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.requests = append(p.requests, req)
	fn := p.completionFn
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(call, req)
	}
	return textResponse(fmt.Sprintf("reply %d", call)), nil
}

func (p *scriptedProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func textResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model: "test-model",
		Choices: []llm.ChatChoice{
			{Message: llm.Message{Role: llm.RoleAssistant, Content: content}},
		},
	}
}

func newTestExecutor(provider llm.Provider) *AgentExecutor {
	return NewAgentExecutor(provider, ExecutorConfig{Model: "test-model"}, zap.NewNop())
}

func specs(names ...string) []types.AgentSpec {
	out := make([]types.AgentSpec, 0, len(names))
	for _, name := range names {
		out = append(out, types.AgentSpec{
			Name:         name,
			Instructions: "You are " + name + ".",
		})
	}
	return out
}

// runWithInput creates a run seeded with one user message, the shape
// every topology starts from.
func runWithInput(topology Topology, input string) *Run {
	run := newRun(topology)
	if _, err := run.State().Append(types.NewUserMessage(input)); err != nil {
		panic(err)
	}
	return run
}
