package workflow

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/loomworks/loom/internal/metrics"
	"github.com/loomworks/loom/persistence"
	"github.com/loomworks/loom/types"
)

// StartOptions describes a run to launch. Topology selects which of the
// agent fields apply: Agents for sequential, PreGate/PostGate/GatePrompt
// for human_in_loop, Agents/Synthesizer/Rounds for round_robin.
type StartOptions struct {
	Topology Topology
	Input    string

	Agents []types.AgentSpec

	PreGate    []types.AgentSpec
	PostGate   []types.AgentSpec
	GatePrompt string

	Synthesizer     types.AgentSpec
	Rounds          int
	SynthesisPrompt string
}

// RunnerConfig bounds the runner.
type RunnerConfig struct {
	// MaxConcurrentRuns caps runs executing agent turns at the same
	// time. Paused runs do not count against the cap.
	MaxConcurrentRuns int64
}

// runEntry is the resident state of one run: the run itself, the
// orchestrator able to resume it (human-in-the-loop only), and the
// cancel handle for in-flight execution.
type runEntry struct {
	mu        sync.Mutex // serializes start, resume, cancel finalization
	run       *Run
	humanLoop *HumanInLoopOrchestrator
	config    json.RawMessage

	ctlMu  sync.Mutex
	cancel context.CancelFunc
}

func (e *runEntry) setCancel(fn context.CancelFunc) {
	e.ctlMu.Lock()
	e.cancel = fn
	e.ctlMu.Unlock()
}

func (e *runEntry) signalCancel() {
	e.ctlMu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.ctlMu.Unlock()
}

// Runner owns the run registry. It builds the orchestrator for each
// topology, executes runs under a concurrency cap, persists the run
// snapshot through the store after every transition, and answers status
// and decision requests by run id.
type Runner struct {
	executor  *AgentExecutor
	store     persistence.RunStore
	logger    *zap.Logger
	collector *metrics.Collector
	sem       *semaphore.Weighted

	mu      sync.RWMutex
	entries map[string]*runEntry
}

// NewRunner creates a runner over the given executor and store.
func NewRunner(executor *AgentExecutor, store persistence.RunStore, config RunnerConfig, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxConcurrentRuns < 1 {
		config.MaxConcurrentRuns = 32
	}
	return &Runner{
		executor: executor,
		store:    store,
		logger:   logger.With(zap.String("component", "runner")),
		sem:      semaphore.NewWeighted(config.MaxConcurrentRuns),
		entries:  make(map[string]*runEntry),
	}
}

// WithCollector attaches a metrics collector. Optional.
func (rn *Runner) WithCollector(c *metrics.Collector) *Runner {
	rn.collector = c
	return rn
}

// Start validates the options, creates the run, and executes it
// synchronously. The returned snapshot is terminal for sequential and
// round-robin runs; human-in-the-loop runs return paused awaiting a
// decision. Validation failures return before any run exists; execution
// failures are recorded in the returned snapshot and passed through as
// the error.
func (rn *Runner) Start(ctx context.Context, opts StartOptions) (RunSnapshot, error) {
	topology, err := ParseTopology(string(opts.Topology))
	if err != nil {
		return RunSnapshot{}, err
	}
	if strings.TrimSpace(opts.Input) == "" {
		return RunSnapshot{}, types.Errorf(types.ErrInvalidConfiguration, "initial input is empty")
	}

	// Build and validate the orchestrator before the run exists, so a
	// bad configuration never leaves a run record behind.
	var (
		sequential *SequentialOrchestrator
		humanLoop  *HumanInLoopOrchestrator
		roundRobin *RoundRobinOrchestrator
		configRaw  json.RawMessage
	)
	switch topology {
	case TopologySequential:
		sequential, err = NewSequentialOrchestrator(rn.executor, opts.Agents, rn.logger)
	case TopologyHumanInLoop:
		cfg := HumanLoopConfig{PreGate: opts.PreGate, PostGate: opts.PostGate, GatePrompt: opts.GatePrompt}
		humanLoop, err = NewHumanInLoopOrchestrator(rn.executor, cfg, rn.logger)
		if err == nil {
			configRaw, err = json.Marshal(cfg)
		}
	case TopologyRoundRobin:
		cfg := RoundRobinConfig{
			Agents:          opts.Agents,
			Synthesizer:     opts.Synthesizer,
			Rounds:          opts.Rounds,
			SynthesisPrompt: opts.SynthesisPrompt,
		}
		roundRobin, err = NewRoundRobinOrchestrator(rn.executor, cfg, rn.logger)
	}
	if err != nil {
		return RunSnapshot{}, err
	}

	run := newRun(topology)
	if _, err := run.State().Append(types.NewUserMessage(opts.Input)); err != nil {
		return RunSnapshot{}, err
	}

	entry := &runEntry{run: run, humanLoop: humanLoop, config: configRaw}
	rn.mu.Lock()
	rn.entries[run.ID()] = entry
	rn.mu.Unlock()

	rn.saveRun(entry)
	if rn.collector != nil {
		rn.collector.RunStarted(string(topology))
	}
	rn.logger.Info("run started",
		zap.String("run_id", run.ID()),
		zap.String("topology", string(topology)),
	)

	if err := rn.sem.Acquire(ctx, 1); err != nil {
		run.fail(failureDetail(err))
		rn.saveRun(entry)
		return run.Snapshot(), err
	}
	defer rn.sem.Release(1)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	entry.setCancel(cancel)
	defer func() {
		cancel()
		entry.setCancel(nil)
	}()

	afterTurn := func(*Run) { rn.saveRun(entry) }
	switch topology {
	case TopologySequential:
		sequential.AfterTurn(afterTurn)
		err = sequential.Run(runCtx, run)
	case TopologyHumanInLoop:
		humanLoop.AfterTurn(afterTurn)
		err = humanLoop.Start(runCtx, run)
	case TopologyRoundRobin:
		roundRobin.AfterTurn(afterTurn)
		err = roundRobin.Run(runCtx, run)
	}

	rn.saveRun(entry)
	rn.observeTransition(run)
	return run.Snapshot(), err
}

// SubmitDecision applies a human verdict to a paused run and executes
// the post-gate segment synchronously. INVALID_TRANSITION is returned,
// without mutating the run, when the run is not paused, the request id
// does not match, or the topology has no gate.
func (rn *Runner) SubmitDecision(ctx context.Context, runID string, decision Decision) (RunSnapshot, error) {
	verdict, err := ParseVerdict(string(decision.Verdict))
	if err != nil {
		return RunSnapshot{}, err
	}
	decision.Verdict = verdict
	entry, err := rn.entry(runID)
	if err != nil {
		return RunSnapshot{}, err
	}
	if entry.humanLoop == nil {
		return entry.run.Snapshot(), types.Errorf(types.ErrInvalidTransition,
			"run %s topology %s does not accept decisions", runID, entry.run.Topology())
	}

	if err := rn.sem.Acquire(ctx, 1); err != nil {
		return entry.run.Snapshot(), err
	}
	defer rn.sem.Release(1)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	entry.setCancel(cancel)
	defer func() {
		cancel()
		entry.setCancel(nil)
	}()

	wasPaused := entry.run.Status() == StatusPaused
	err = entry.humanLoop.Resume(runCtx, entry.run, decision)
	if types.IsCode(err, types.ErrInvalidTransition) {
		// Rejected before any mutation; nothing to persist.
		return entry.run.Snapshot(), err
	}

	rn.saveRun(entry)
	if rn.collector != nil && wasPaused {
		rn.collector.DecisionApplied(string(decision.Verdict))
		rn.collector.RunPaused(-1)
	}
	rn.observeTransitionFinished(entry.run)
	return entry.run.Snapshot(), err
}

// Cancel stops a run between turns. An executing run fails at its next
// turn boundary; a paused run fails immediately. Terminal runs return
// INVALID_TRANSITION.
func (rn *Runner) Cancel(runID, reason string) (RunSnapshot, error) {
	entry, err := rn.entry(runID)
	if err != nil {
		return RunSnapshot{}, err
	}
	if entry.run.Status().IsTerminal() {
		return entry.run.Snapshot(), types.Errorf(types.ErrInvalidTransition,
			"run %s is already %s", runID, entry.run.Status())
	}

	entry.signalCancel()

	// Waits for any in-flight segment to reach its turn boundary.
	entry.mu.Lock()
	defer entry.mu.Unlock()

	wasPaused := entry.run.Status() == StatusPaused
	if !entry.run.Status().IsTerminal() {
		detail := "run cancelled"
		if reason != "" {
			detail += ": " + reason
		}
		entry.run.fail(detail)
	}
	rn.saveRun(entry)
	if rn.collector != nil && wasPaused {
		rn.collector.RunPaused(-1)
	}
	rn.observeTransitionFinished(entry.run)
	rn.logger.Info("run cancelled", zap.String("run_id", runID), zap.String("reason", reason))
	return entry.run.Snapshot(), nil
}

// Status returns a snapshot of the run. Non-resident runs fall back to
// the store, so completed runs remain queryable across restarts.
func (rn *Runner) Status(ctx context.Context, runID string) (RunSnapshot, error) {
	rn.mu.RLock()
	entry, ok := rn.entries[runID]
	rn.mu.RUnlock()
	if ok {
		return entry.run.Snapshot(), nil
	}
	record, err := rn.store.GetRun(ctx, runID)
	if err == persistence.ErrNotFound {
		return RunSnapshot{}, types.Errorf(types.ErrRunNotFound, "run %s not found", runID)
	}
	if err != nil {
		return RunSnapshot{}, err
	}
	return recordToSnapshot(record), nil
}

// List returns snapshots of all persisted runs, newest first.
func (rn *Runner) List(ctx context.Context, filter persistence.RunFilter) ([]RunSnapshot, error) {
	records, err := rn.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, err
	}
	snaps := make([]RunSnapshot, 0, len(records))
	for _, record := range records {
		snaps = append(snaps, recordToSnapshot(record))
	}
	return snaps, nil
}

// Restore rehydrates non-terminal runs from the store after a restart.
// Paused human-in-the-loop runs become resumable again; runs that were
// mid-execution when the process died are marked failed, since their
// in-flight turn cannot be recovered. Returns the number of runs made
// resident.
func (rn *Runner) Restore(ctx context.Context) (int, error) {
	records, err := rn.store.ListRuns(ctx, persistence.RunFilter{})
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, record := range records {
		if RunStatus(record.Status).IsTerminal() {
			continue
		}
		rn.mu.RLock()
		_, resident := rn.entries[record.RunID]
		rn.mu.RUnlock()
		if resident {
			continue
		}

		run := restoreRun(recordToSnapshot(record))
		entry := &runEntry{run: run, config: record.Config}

		if run.Status() == StatusPaused && run.Topology() == TopologyHumanInLoop && len(record.Config) > 0 {
			var cfg HumanLoopConfig
			if err := json.Unmarshal(record.Config, &cfg); err == nil {
				if orch, err := NewHumanInLoopOrchestrator(rn.executor, cfg, rn.logger); err == nil {
					orch.AfterTurn(func(*Run) { rn.saveRun(entry) })
					entry.humanLoop = orch
				}
			}
		}
		if run.Status() == StatusRunning || (run.Status() == StatusPaused && entry.humanLoop == nil) {
			run.fail("interrupted by restart")
		}

		rn.mu.Lock()
		rn.entries[record.RunID] = entry
		rn.mu.Unlock()
		rn.saveRun(entry)
		if rn.collector != nil && run.Status() == StatusPaused {
			rn.collector.RunPaused(1)
		}
		restored++
		rn.logger.Info("run restored",
			zap.String("run_id", record.RunID),
			zap.String("status", string(run.Status())),
		)
	}
	return restored, nil
}

func (rn *Runner) entry(runID string) (*runEntry, error) {
	rn.mu.RLock()
	entry, ok := rn.entries[runID]
	rn.mu.RUnlock()
	if !ok {
		return nil, types.Errorf(types.ErrRunNotFound, "run %s not found", runID)
	}
	return entry, nil
}

// saveRun persists the run's current snapshot. Persistence uses its own
// deadline so a cancelled run context never loses the final write.
func (rn *Runner) saveRun(entry *runEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	record := snapshotToRecord(entry.run.Snapshot())
	record.Config = entry.config
	if err := rn.store.SaveRun(ctx, record); err != nil {
		rn.logger.Error("persist run failed",
			zap.String("run_id", entry.run.ID()),
			zap.Error(err),
		)
	}
}

func (rn *Runner) observeTransition(run *Run) {
	if rn.collector == nil {
		return
	}
	if run.Status() == StatusPaused {
		rn.collector.RunPaused(1)
		return
	}
	rn.observeTransitionFinished(run)
}

func (rn *Runner) observeTransitionFinished(run *Run) {
	if rn.collector == nil {
		return
	}
	if status := run.Status(); status.IsTerminal() {
		rn.collector.RunFinished(string(run.Topology()), string(status))
	}
}

func snapshotToRecord(snap RunSnapshot) *persistence.RunRecord {
	record := &persistence.RunRecord{
		RunID:       snap.RunID,
		Topology:    string(snap.Topology),
		Status:      string(snap.Status),
		Transcript:  snap.Transcript,
		ErrorDetail: snap.ErrorDetail,
		CreatedAt:   snap.CreatedAt,
		UpdatedAt:   snap.UpdatedAt,
	}
	if snap.Pending != nil {
		record.Pending = &persistence.PendingRequest{
			ID:        snap.Pending.ID,
			Step:      snap.Pending.Step,
			Prompt:    snap.Pending.Prompt,
			CreatedAt: snap.Pending.CreatedAt,
		}
	}
	return record
}

func recordToSnapshot(record *persistence.RunRecord) RunSnapshot {
	snap := RunSnapshot{
		RunID:       record.RunID,
		Topology:    Topology(record.Topology),
		Status:      RunStatus(record.Status),
		Transcript:  record.Transcript,
		ErrorDetail: record.ErrorDetail,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
	if record.Pending != nil {
		snap.Pending = &PendingRequest{
			ID:        record.Pending.ID,
			Step:      record.Pending.Step,
			Prompt:    record.Pending.Prompt,
			CreatedAt: record.Pending.CreatedAt,
		}
	}
	return snap
}
