package workflow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/loomworks/loom/types"
)

// defaultSynthesisPrompt asks the synthesis agent for the final artifact
// once the discussion rounds are complete.
const defaultSynthesisPrompt = "The discussion rounds are complete. Please synthesize all contributions into one final plan with key points, decisions, and action items."

// RoundRobinConfig configures a bounded round-robin discussion.
type RoundRobinConfig struct {
	// Agents is the ordered discussion turn order.
	Agents []types.AgentSpec

	// Synthesizer produces the single final artifact after the last round.
	Synthesizer types.AgentSpec

	// Rounds is the bounded round count (>= 1), a first-class
	// configuration value validated before any side effect occurs.
	Rounds int

	// SynthesisPrompt overrides the default final synthesis ask.
	SynthesisPrompt string
}

// RoundRobinOrchestrator cycles a fixed agent set for a bounded number of
// rounds, then runs one synthesis step. The loop is a bounded double
// iteration (round index x agent index) over immutable ordered lists, so
// a successful run produces exactly Rounds x len(Agents) discussion
// messages plus one synthesis message.
type RoundRobinOrchestrator struct {
	executor  *AgentExecutor
	config    RoundRobinConfig
	logger    *zap.Logger
	afterTurn func(*Run)
}

// NewRoundRobinOrchestrator validates the configuration and creates the
// orchestrator. Returns INVALID_CONFIGURATION when the round count is
// below 1 or any agent list entry is malformed, before any agent call.
func NewRoundRobinOrchestrator(executor *AgentExecutor, config RoundRobinConfig, logger *zap.Logger) (*RoundRobinOrchestrator, error) {
	if config.Rounds < 1 {
		return nil, types.Errorf(types.ErrInvalidConfiguration, "round count must be >= 1, got %d", config.Rounds)
	}
	if err := validateAgents("discussion", config.Agents); err != nil {
		return nil, err
	}
	if !config.Synthesizer.Valid() {
		return nil, types.Errorf(types.ErrInvalidConfiguration, "synthesizer agent is missing name or instructions")
	}
	if config.SynthesisPrompt == "" {
		config.SynthesisPrompt = defaultSynthesisPrompt
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoundRobinOrchestrator{
		executor: executor,
		config:   config,
		logger:   logger.With(zap.String("component", "round_robin_orchestrator")),
	}, nil
}

// AfterTurn registers a hook invoked after every appended message.
func (o *RoundRobinOrchestrator) AfterTurn(fn func(*Run)) { o.afterTurn = fn }

// framingMessage seeds the discussion with the meeting setup so every
// participant sees the topic and the turn order.
func (o *RoundRobinOrchestrator) framingMessage() types.Message {
	names := make([]string, 0, len(o.config.Agents))
	for _, a := range o.config.Agents {
		names = append(names, a.Name)
	}
	return types.NewUserMessage(fmt.Sprintf(
		"You are in a group discussion. Participants: %s. Contribute your perspective concisely and build on what others have said.",
		strings.Join(names, ", "),
	))
}

// Run executes the bounded discussion and the synthesis step. The run
// transitions to COMPLETED only after the synthesis call succeeds; any
// mid-run failure transitions to FAILED without attempting remaining
// turns and without a partial synthesis.
func (o *RoundRobinOrchestrator) Run(ctx context.Context, run *Run) error {
	if _, err := run.State().Append(o.framingMessage()); err != nil {
		run.fail(err.Error())
		return err
	}

	for round := 1; round <= o.config.Rounds; round++ {
		o.logger.Debug("discussion round", zap.String("run_id", run.ID()), zap.Int("round", round))
		if err := runSegment(ctx, o.executor, run, o.config.Agents, o.afterTurn); err != nil {
			run.fail(failureDetail(err))
			o.logger.Warn("discussion failed",
				zap.String("run_id", run.ID()),
				zap.Int("round", round),
				zap.Error(err),
			)
			return err
		}
	}

	if _, err := run.State().Append(types.NewUserMessage(o.config.SynthesisPrompt)); err != nil {
		run.fail(err.Error())
		return err
	}
	if err := runSegment(ctx, o.executor, run, []types.AgentSpec{o.config.Synthesizer}, o.afterTurn); err != nil {
		run.fail(failureDetail(err))
		o.logger.Warn("synthesis failed", zap.String("run_id", run.ID()), zap.Error(err))
		return err
	}

	run.complete()
	o.logger.Info("round-robin run completed",
		zap.String("run_id", run.ID()),
		zap.Int("rounds", o.config.Rounds),
		zap.Int("agents", len(o.config.Agents)),
	)
	return nil
}
