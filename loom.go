// Package loom provides a top-level convenience entry point for running
// multi-agent workflows with minimal boilerplate.
//
// Usage:
//
//	import "github.com/loomworks/loom"
//
//	runner, err := loom.New(loom.WithProvider(myProvider))
//	snap, err := runner.Start(ctx, workflow.StartOptions{
//		Topology: workflow.TopologySequential,
//		Input:    "my invoice was charged twice",
//		Agents:   workflow.TicketTriageAgents(),
//	})
//
// New wires an in-memory run store and default executor settings; use
// the workflow and persistence packages directly for full control.
package loom

import (
	"time"

	"go.uber.org/zap"

	"github.com/loomworks/loom/llm"
	"github.com/loomworks/loom/persistence"
	"github.com/loomworks/loom/types"
	"github.com/loomworks/loom/workflow"
)

// Option configures the runner created by [New].
type Option func(*options)

type options struct {
	provider    llm.Provider
	store       persistence.RunStore
	logger      *zap.Logger
	model       string
	turnTimeout time.Duration
	maxRuns     int64
}

// WithProvider sets the model transport. Required.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithStore sets the run store. Defaults to an in-memory store.
func WithStore(s persistence.RunStore) Option {
	return func(o *options) { o.store = s }
}

// WithLogger sets a custom zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithModel sets the model or deployment name for agent turns.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithTurnTimeout bounds each agent invocation.
func WithTurnTimeout(d time.Duration) Option {
	return func(o *options) { o.turnTimeout = d }
}

// WithMaxConcurrentRuns caps runs executing at the same time.
func WithMaxConcurrentRuns(n int64) Option {
	return func(o *options) { o.maxRuns = n }
}

// New creates a [workflow.Runner] with sensible defaults. A provider
// must be supplied via [WithProvider].
func New(opts ...Option) (*workflow.Runner, error) {
	o := &options{
		logger:      zap.NewNop(),
		turnTimeout: 2 * time.Minute,
		maxRuns:     32,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.provider == nil {
		return nil, types.Errorf(types.ErrInvalidConfiguration, "a provider is required; use WithProvider")
	}
	if o.store == nil {
		o.store = persistence.NewMemoryRunStore()
	}

	executor := workflow.NewAgentExecutor(o.provider, workflow.ExecutorConfig{
		Model:       o.model,
		TurnTimeout: o.turnTimeout,
	}, o.logger)
	return workflow.NewRunner(executor, o.store, workflow.RunnerConfig{
		MaxConcurrentRuns: o.maxRuns,
	}, o.logger), nil
}
