package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/loomworks/loom/types"
)

// validateAgents checks an ordered agent list at configuration time,
// before any agent call occurs.
func validateAgents(segment string, agents []types.AgentSpec) error {
	if len(agents) == 0 {
		return types.Errorf(types.ErrInvalidConfiguration, "%s agent list is empty", segment)
	}
	for i, a := range agents {
		if !a.Valid() {
			return types.Errorf(types.ErrInvalidConfiguration, "%s agent %d is missing name or instructions", segment, i)
		}
	}
	return nil
}

// failureDetail renders an orchestration failure for the run record,
// distinguishing cancellation from invocation failure.
func failureDetail(err error) string {
	if errors.Is(err, context.Canceled) {
		return "run cancelled between turns"
	}
	return err.Error()
}

// SequentialOrchestrator drives a fixed ordered list of agents, one pass
// each, every agent receiving the full transcript accumulated so far.
// The first invocation failure marks the run FAILED and stops the pass;
// there are no partial retries at this layer.
type SequentialOrchestrator struct {
	executor  *AgentExecutor
	agents    []types.AgentSpec
	logger    *zap.Logger
	afterTurn func(*Run)
}

// NewSequentialOrchestrator validates the agent list and creates the
// orchestrator. Returns INVALID_CONFIGURATION before any agent call when
// the list is empty or malformed.
func NewSequentialOrchestrator(executor *AgentExecutor, agents []types.AgentSpec, logger *zap.Logger) (*SequentialOrchestrator, error) {
	if err := validateAgents("pipeline", agents); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SequentialOrchestrator{
		executor: executor,
		agents:   agents,
		logger:   logger.With(zap.String("component", "sequential_orchestrator")),
	}, nil
}

// AfterTurn registers a hook invoked after every appended message,
// typically to persist the run snapshot.
func (o *SequentialOrchestrator) AfterTurn(fn func(*Run)) { o.afterTurn = fn }

// Run executes the pipeline against the run's transcript. On success the
// run is COMPLETED with transcript length 1 (initial input) + number of
// agents.
func (o *SequentialOrchestrator) Run(ctx context.Context, run *Run) error {
	if err := runSegment(ctx, o.executor, run, o.agents, o.afterTurn); err != nil {
		run.fail(failureDetail(err))
		o.logger.Warn("sequential run failed", zap.String("run_id", run.ID()), zap.Error(err))
		return err
	}
	run.complete()
	o.logger.Info("sequential run completed",
		zap.String("run_id", run.ID()),
		zap.Int("transcript_len", run.State().Len()),
	)
	return nil
}

// runSegment invokes each agent once, in list order, appending each
// result before the next invocation. The context is checked between
// turns so cancellation never interrupts an append.
func runSegment(ctx context.Context, executor *AgentExecutor, run *Run, agents []types.AgentSpec, afterTurn func(*Run)) error {
	for _, spec := range agents {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := executor.Invoke(ctx, spec, run.State().Snapshot())
		if err != nil {
			return err
		}
		if _, err := run.State().Append(msg); err != nil {
			return fmt.Errorf("append turn for %s: %w", spec.Name, err)
		}
		if afterTurn != nil {
			afterTurn(run)
		}
	}
	return nil
}
