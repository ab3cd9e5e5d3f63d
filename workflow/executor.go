package workflow

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/loomworks/loom/internal/metrics"
	"github.com/loomworks/loom/llm"
	"github.com/loomworks/loom/types"
)

// ExecutorConfig configures agent invocations.
type ExecutorConfig struct {
	// Model is the model or deployment name passed to the provider.
	// Empty lets the provider fall back to its configured deployment.
	Model string

	// TurnTimeout bounds each invocation. 0 disables the bound.
	TurnTimeout time.Duration

	// Temperature and MaxTokens are forwarded to the provider.
	Temperature float32
	MaxTokens   int
}

// AgentExecutor invokes one agent capability against a transcript
// snapshot, producing one new message. It calls the invocation
// collaborator exactly once per invocation and never appends to the
// transcript itself; the caller appends only on success, so a failed
// call leaves the transcript unchanged.
type AgentExecutor struct {
	provider  llm.Provider
	config    ExecutorConfig
	logger    *zap.Logger
	collector *metrics.Collector
}

// NewAgentExecutor creates an executor over the given provider.
func NewAgentExecutor(provider llm.Provider, config ExecutorConfig, logger *zap.Logger) *AgentExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentExecutor{
		provider: provider,
		config:   config,
		logger:   logger.With(zap.String("component", "agent_executor")),
	}
}

// WithCollector attaches a metrics collector. Optional.
func (e *AgentExecutor) WithCollector(c *metrics.Collector) *AgentExecutor {
	e.collector = c
	return e
}

// Invoke runs one agent turn: the agent's instructions plus the
// transcript snapshot go to the provider, and the resulting text comes
// back as an assistant message attributed to the agent (index unassigned).
// Failures are classified as AGENT_INVOCATION; context cancellation is
// passed through unchanged so orchestrators can tell the two apart.
func (e *AgentExecutor) Invoke(ctx context.Context, spec types.AgentSpec, transcript []types.Message) (types.Message, error) {
	tracer := otel.Tracer("github.com/loomworks/loom/workflow")
	ctx, span := tracer.Start(ctx, "agent.invoke")
	span.SetAttributes(attribute.String("agent.name", spec.Name))
	defer span.End()

	if e.config.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.TurnTimeout)
		defer cancel()
	}

	req := &llm.ChatRequest{
		Model:       e.config.Model,
		Temperature: e.config.Temperature,
		MaxTokens:   e.config.MaxTokens,
		Messages:    buildChatMessages(spec, transcript),
	}

	start := time.Now()
	resp, err := e.provider.Completion(ctx, req)
	elapsed := time.Since(start)

	if e.collector != nil {
		e.collector.ObserveTurn(spec.Name, elapsed, err == nil)
	}

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, context.Canceled) {
			return types.Message{}, err
		}
		e.logger.Warn("agent invocation failed",
			zap.String("agent", spec.Name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return types.Message{}, classifyInvocationError(spec.Name, err)
	}

	text := resp.Text()
	if text == "" {
		return types.Message{}, types.Errorf(types.ErrAgentInvocation, "agent %s: empty completion", spec.Name)
	}

	e.logger.Debug("agent turn completed",
		zap.String("agent", spec.Name),
		zap.Duration("elapsed", elapsed),
		zap.Int("transcript_len", len(transcript)),
	)
	return types.NewAssistantMessage(spec.Name, text), nil
}

// buildChatMessages maps the agent definition and transcript onto provider
// wire messages. The instructions become the system message; human
// decision entries are presented with the user role.
func buildChatMessages(spec types.AgentSpec, transcript []types.Message) []llm.Message {
	out := make([]llm.Message, 0, len(transcript)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: spec.Instructions})
	for _, m := range transcript {
		switch m.Role {
		case types.RoleAssistant:
			out = append(out, llm.Message{Role: llm.RoleAssistant, Name: m.Agent, Content: m.Content})
		case types.RoleSystem:
			out = append(out, llm.Message{Role: llm.RoleSystem, Content: m.Content})
		default:
			// user and human entries both read as user input
			out = append(out, llm.Message{Role: llm.RoleUser, Content: m.Content})
		}
	}
	return out
}

// classifyInvocationError folds provider and transport failures into the
// AGENT_INVOCATION taxonomy, preserving retryability.
func classifyInvocationError(agent string, err error) error {
	if types.GetErrorCode(err) == types.ErrAgentInvocation {
		return err
	}
	retryable := types.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded)
	return types.Errorf(types.ErrAgentInvocation, "agent %s invocation failed", agent).
		WithCause(err).
		WithRetryable(retryable)
}
