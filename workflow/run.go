package workflow

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomworks/loom/types"
)

// Topology is the fixed shape of agent coordination for a run.
type Topology string

const (
	TopologySequential  Topology = "sequential"
	TopologyHumanInLoop Topology = "human_in_loop"
	TopologyRoundRobin  Topology = "round_robin"
)

// ParseTopology validates a topology tag.
func ParseTopology(s string) (Topology, error) {
	switch Topology(s) {
	case TopologySequential, TopologyHumanInLoop, TopologyRoundRobin:
		return Topology(s), nil
	default:
		return "", types.Errorf(types.ErrInvalidConfiguration, "unknown topology %q", s)
	}
}

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusPaused    RunStatus = "paused_awaiting_input"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// IsTerminal returns true once no further transitions are accepted.
func (s RunStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Verdict is the human decision value fed back into a paused run.
type Verdict string

const (
	VerdictApprove  Verdict = "APPROVE"
	VerdictReject   Verdict = "REJECT"
	VerdictMoreInfo Verdict = "MORE_INFO"
)

// ParseVerdict validates a verdict value.
func ParseVerdict(s string) (Verdict, error) {
	switch Verdict(strings.ToUpper(s)) {
	case VerdictApprove, VerdictReject, VerdictMoreInfo:
		return Verdict(strings.ToUpper(s)), nil
	default:
		return "", types.Errorf(types.ErrInvalidTransition, "unknown verdict %q", s)
	}
}

// PendingRequest records the single outstanding human-input request of a
// paused run. It exists only while the run is paused.
type PendingRequest struct {
	ID        string    `json:"id"`
	Step      string    `json:"step"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
}

// Decision carries a human verdict for a pending request.
type Decision struct {
	RequestID string  `json:"request_id"`
	Verdict   Verdict `json:"verdict"`
	Note      string  `json:"note,omitempty"`
}

// Message renders the decision as the synthetic transcript entry appended
// on resume.
func (d Decision) Message() string {
	if d.Note != "" {
		return fmt.Sprintf("Manager decision: %s. %s", d.Verdict, d.Note)
	}
	return fmt.Sprintf("Manager decision: %s", d.Verdict)
}

// Run is one workflow execution. It is created by the Runner and mutated
// exclusively by the orchestrator driving it; callers observe it through
// snapshots.
type Run struct {
	mu          sync.RWMutex
	id          string
	topology    Topology
	status      RunStatus
	state       *ConversationState
	pending     *PendingRequest
	errorDetail string
	createdAt   time.Time
	updatedAt   time.Time
}

// newRun creates a RUNNING run with an empty transcript.
func newRun(topology Topology) *Run {
	now := time.Now()
	return &Run{
		id:        uuid.New().String(),
		topology:  topology,
		status:    StatusRunning,
		state:     NewConversationState(),
		createdAt: now,
		updatedAt: now,
	}
}

// ID returns the run's unique identifier.
func (r *Run) ID() string { return r.id }

// Topology returns the run's topology tag.
func (r *Run) Topology() Topology { return r.topology }

// Status returns the current lifecycle status.
func (r *Run) Status() RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// State returns the transcript owned by this run.
func (r *Run) State() *ConversationState { return r.state }

// Pending returns the outstanding pending request, or nil.
func (r *Run) Pending() *PendingRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.pending == nil {
		return nil
	}
	p := *r.pending
	return &p
}

// pause records a pending request and transitions to PAUSED_AWAITING_INPUT.
// At most one pending request exists per run at any time.
func (r *Run) pause(req PendingRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.IsTerminal() {
		return types.Errorf(types.ErrInvalidTransition, "run %s is %s", r.id, r.status)
	}
	if r.pending != nil {
		return types.Errorf(types.ErrInvalidConfiguration, "run %s already has pending request %s", r.id, r.pending.ID)
	}
	r.pending = &req
	r.status = StatusPaused
	r.updatedAt = time.Now()
	return nil
}

// clearPending removes the pending request and returns the run to RUNNING.
func (r *Run) clearPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = nil
	r.status = StatusRunning
	r.updatedAt = time.Now()
}

// complete transitions the run to COMPLETED and seals the transcript.
func (r *Run) complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.IsTerminal() {
		return
	}
	r.status = StatusCompleted
	r.updatedAt = time.Now()
	r.state.Close()
}

// fail transitions the run to FAILED with a recorded error detail and
// seals the transcript. Terminal runs are never re-failed.
func (r *Run) fail(detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.IsTerminal() {
		return
	}
	r.status = StatusFailed
	r.errorDetail = detail
	r.pending = nil
	r.updatedAt = time.Now()
	r.state.Close()
}

// ErrorDetail returns the recorded failure detail, if any.
func (r *Run) ErrorDetail() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.errorDetail
}

// RunSnapshot is the immutable caller-facing view of a run. It is also
// the persisted state shape.
type RunSnapshot struct {
	RunID       string          `json:"run_id"`
	Topology    Topology        `json:"topology"`
	Status      RunStatus       `json:"status"`
	Transcript  []types.Message `json:"transcript"`
	Pending     *PendingRequest `json:"pending_request,omitempty"`
	ErrorDetail string          `json:"error_detail,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Snapshot returns a consistent point-in-time view of the run.
func (r *Run) Snapshot() RunSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := RunSnapshot{
		RunID:       r.id,
		Topology:    r.topology,
		Status:      r.status,
		Transcript:  r.state.Snapshot(),
		ErrorDetail: r.errorDetail,
		CreatedAt:   r.createdAt,
		UpdatedAt:   r.updatedAt,
	}
	if r.pending != nil {
		p := *r.pending
		snap.Pending = &p
	}
	return snap
}

// restoreRun rebuilds a run from a persisted snapshot.
func restoreRun(snap RunSnapshot) *Run {
	r := &Run{
		id:          snap.RunID,
		topology:    snap.Topology,
		status:      snap.Status,
		state:       NewConversationStateFrom(snap.Transcript),
		errorDetail: snap.ErrorDetail,
		createdAt:   snap.CreatedAt,
		updatedAt:   snap.UpdatedAt,
	}
	if snap.Pending != nil {
		p := *snap.Pending
		r.pending = &p
	}
	if r.status.IsTerminal() {
		r.state.Close()
	}
	return r
}
