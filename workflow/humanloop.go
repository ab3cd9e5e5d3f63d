package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loomworks/loom/types"
)

// DefaultGatePrompt is shown to the human reviewer when a run pauses.
const DefaultGatePrompt = "Please review the analysis above and provide your decision."

// HumanLoopConfig configures the human-in-the-loop pipeline: an ordered
// pre-gate segment, a single pause gate, and an ordered post-gate segment.
type HumanLoopConfig struct {
	PreGate    []types.AgentSpec
	PostGate   []types.AgentSpec
	GatePrompt string
}

// HumanInLoopOrchestrator is a sequential pipeline with one embedded
// pause/resume gate. After the pre-gate segment the run pauses durably
// (PAUSED_AWAITING_INPUT plus a recorded PendingRequest) until an
// external caller submits a matching decision.
type HumanInLoopOrchestrator struct {
	executor  *AgentExecutor
	config    HumanLoopConfig
	logger    *zap.Logger
	afterTurn func(*Run)
}

// NewHumanInLoopOrchestrator validates both segments and creates the
// orchestrator.
func NewHumanInLoopOrchestrator(executor *AgentExecutor, config HumanLoopConfig, logger *zap.Logger) (*HumanInLoopOrchestrator, error) {
	if err := validateAgents("pre-gate", config.PreGate); err != nil {
		return nil, err
	}
	if err := validateAgents("post-gate", config.PostGate); err != nil {
		return nil, err
	}
	if config.GatePrompt == "" {
		config.GatePrompt = DefaultGatePrompt
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HumanInLoopOrchestrator{
		executor: executor,
		config:   config,
		logger:   logger.With(zap.String("component", "human_loop_orchestrator")),
	}, nil
}

// AfterTurn registers a hook invoked after every appended message.
func (o *HumanInLoopOrchestrator) AfterTurn(fn func(*Run)) { o.afterTurn = fn }

// Start executes the pre-gate segment, then creates exactly one
// PendingRequest and pauses the run. No further agent calls occur until
// Resume.
func (o *HumanInLoopOrchestrator) Start(ctx context.Context, run *Run) error {
	if err := runSegment(ctx, o.executor, run, o.config.PreGate, o.afterTurn); err != nil {
		run.fail(failureDetail(err))
		o.logger.Warn("pre-gate segment failed", zap.String("run_id", run.ID()), zap.Error(err))
		return err
	}

	req := PendingRequest{
		ID:        uuid.New().String(),
		Step:      o.config.PreGate[len(o.config.PreGate)-1].Name,
		Prompt:    o.config.GatePrompt,
		CreatedAt: time.Now(),
	}
	if err := run.pause(req); err != nil {
		run.fail(err.Error())
		return err
	}

	o.logger.Info("run paused awaiting human input",
		zap.String("run_id", run.ID()),
		zap.String("request_id", req.ID),
	)
	return nil
}

// Resume applies a human decision to a paused run: it clears the pending
// request, appends a synthetic message carrying the decision, executes
// the post-gate segment with the decision in context, and completes the
// run.
//
// INVALID_TRANSITION is returned, without mutating run state, when the
// run is not paused or the request id does not match the current pending
// request. A second resume with the same request id therefore fails once
// the run has left PAUSED_AWAITING_INPUT, so a decision is never applied
// twice.
func (o *HumanInLoopOrchestrator) Resume(ctx context.Context, run *Run, decision Decision) error {
	if run.Status() != StatusPaused {
		return types.Errorf(types.ErrInvalidTransition, "run %s is %s, not awaiting input", run.ID(), run.Status())
	}
	pending := run.Pending()
	if pending == nil || pending.ID != decision.RequestID {
		return types.Errorf(types.ErrInvalidTransition, "request id %s does not match the pending request of run %s", decision.RequestID, run.ID())
	}

	run.clearPending()
	if _, err := run.State().Append(types.NewHumanMessage(decision.Message())); err != nil {
		run.fail(err.Error())
		return err
	}
	if o.afterTurn != nil {
		o.afterTurn(run)
	}

	o.logger.Info("run resumed",
		zap.String("run_id", run.ID()),
		zap.String("request_id", decision.RequestID),
		zap.String("verdict", string(decision.Verdict)),
	)

	if err := runSegment(ctx, o.executor, run, o.config.PostGate, o.afterTurn); err != nil {
		run.fail(failureDetail(err))
		o.logger.Warn("post-gate segment failed", zap.String("run_id", run.ID()), zap.Error(err))
		return err
	}
	run.complete()
	return nil
}
