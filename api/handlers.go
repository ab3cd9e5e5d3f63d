package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/loomworks/loom/persistence"
	"github.com/loomworks/loom/types"
	"github.com/loomworks/loom/workflow"
)

// Preset names accepted in StartRequest.
const (
	PresetTicketTriage     = "ticket_triage"
	PresetExpenseApproval  = "expense_approval"
	PresetLaunchBrainstorm = "launch_brainstorm"
)

// WorkflowHandler serves the run lifecycle endpoints.
type WorkflowHandler struct {
	runner        *workflow.Runner
	defaultRounds int
	logger        *zap.Logger
}

// NewWorkflowHandler creates the handler. defaultRounds applies when a
// round-robin start request omits the round count.
func NewWorkflowHandler(runner *workflow.Runner, defaultRounds int, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultRounds < 1 {
		defaultRounds = 3
	}
	return &WorkflowHandler{
		runner:        runner,
		defaultRounds: defaultRounds,
		logger:        logger.With(zap.String("component", "api")),
	}
}

// Register mounts the run routes on the mux.
func (h *WorkflowHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/runs", h.startRun)
	mux.HandleFunc("GET /api/v1/runs", h.listRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.getRun)
	mux.HandleFunc("POST /api/v1/runs/{id}/decision", h.submitDecision)
	mux.HandleFunc("POST /api/v1/runs/{id}/cancel", h.cancelRun)
}

func (h *WorkflowHandler) startRun(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.Errorf(types.ErrInvalidConfiguration, "invalid request body: %v", err))
		return
	}

	opts, err := h.buildStartOptions(req)
	if err != nil {
		writeError(w, err)
		return
	}

	snap, err := h.runner.Start(r.Context(), opts)
	if err != nil {
		// Validation errors mean no run was created. Execution failures
		// land in the run itself; the caller still gets the run id and
		// observes the failure through the run's status.
		if snap.RunID == "" {
			writeError(w, err)
			return
		}
		h.logger.Warn("run execution failed",
			zap.String("run_id", snap.RunID),
			zap.String("topology", req.Topology),
			zap.Error(err),
		)
	}
	writeData(w, http.StatusCreated, toRunView(snap))
}

// buildStartOptions maps the request onto runner options, filling agent
// lineups from the named preset where the request leaves them empty.
func (h *WorkflowHandler) buildStartOptions(req StartRequest) (workflow.StartOptions, error) {
	opts := workflow.StartOptions{
		Topology:        workflow.Topology(req.Topology),
		Input:           req.Input,
		Agents:          toSpecs(req.Agents),
		PreGate:         toSpecs(req.PreGate),
		PostGate:        toSpecs(req.PostGate),
		GatePrompt:      req.GatePrompt,
		SynthesisPrompt: req.SynthesisPrompt,
	}
	if req.Synthesizer != nil {
		opts.Synthesizer = req.Synthesizer.toSpec()
	}
	if req.Rounds != nil {
		opts.Rounds = *req.Rounds
	} else {
		opts.Rounds = h.defaultRounds
	}

	switch req.Preset {
	case "":
	case PresetTicketTriage:
		if opts.Agents == nil {
			opts.Agents = workflow.TicketTriageAgents()
		}
	case PresetExpenseApproval:
		preset := workflow.ExpenseApprovalConfig()
		if opts.PreGate == nil {
			opts.PreGate = preset.PreGate
		}
		if opts.PostGate == nil {
			opts.PostGate = preset.PostGate
		}
		if opts.GatePrompt == "" {
			opts.GatePrompt = preset.GatePrompt
		}
	case PresetLaunchBrainstorm:
		preset := workflow.LaunchBrainstormConfig(opts.Rounds)
		if opts.Agents == nil {
			opts.Agents = preset.Agents
		}
		if opts.Synthesizer.Name == "" {
			opts.Synthesizer = preset.Synthesizer
		}
		if opts.SynthesisPrompt == "" {
			opts.SynthesisPrompt = preset.SynthesisPrompt
		}
	default:
		return workflow.StartOptions{}, types.Errorf(types.ErrInvalidConfiguration, "unknown preset %q", req.Preset)
	}
	return opts, nil
}

func (h *WorkflowHandler) getRun(w http.ResponseWriter, r *http.Request) {
	snap, err := h.runner.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, toRunView(snap))
}

func (h *WorkflowHandler) listRuns(w http.ResponseWriter, r *http.Request) {
	filter := persistence.RunFilter{
		Status:   r.URL.Query().Get("status"),
		Topology: r.URL.Query().Get("topology"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, types.Errorf(types.ErrInvalidConfiguration, "invalid limit %q", raw))
			return
		}
		filter.Limit = limit
	}

	snaps, err := h.runner.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]runView, 0, len(snaps))
	for _, snap := range snaps {
		views = append(views, toRunView(snap))
	}
	writeData(w, http.StatusOK, views)
}

func (h *WorkflowHandler) submitDecision(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.Errorf(types.ErrInvalidConfiguration, "invalid request body: %v", err))
		return
	}
	if req.RequestID == "" {
		writeError(w, types.Errorf(types.ErrInvalidConfiguration, "request_id is required"))
		return
	}

	snap, err := h.runner.SubmitDecision(r.Context(), r.PathValue("id"), workflow.Decision{
		RequestID: req.RequestID,
		Verdict:   workflow.Verdict(req.Verdict),
		Note:      req.Note,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, toRunView(snap))
}

func (h *WorkflowHandler) cancelRun(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	snap, err := h.runner.Cancel(r.PathValue("id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, toRunView(snap))
}
