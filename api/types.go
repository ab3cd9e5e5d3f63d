// Package api exposes the workflow orchestration core over HTTP.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/loomworks/loom/types"
	"github.com/loomworks/loom/workflow"
)

// Response is the uniform envelope for every API reply.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo carries a machine-readable error code and message.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AgentSpecDTO is the wire shape of one agent definition.
type AgentSpecDTO struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Instructions string `json:"instructions"`
}

func (d AgentSpecDTO) toSpec() types.AgentSpec {
	return types.AgentSpec{Name: d.Name, Description: d.Description, Instructions: d.Instructions}
}

func toSpecs(dtos []AgentSpecDTO) []types.AgentSpec {
	if dtos == nil {
		return nil
	}
	out := make([]types.AgentSpec, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.toSpec())
	}
	return out
}

// StartRequest launches a run. Preset selects a stock agent lineup
// (ticket_triage, expense_approval, launch_brainstorm); explicit agent
// fields override it. Rounds is a pointer so an omitted value falls
// back to the configured default while an explicit 0 is rejected.
type StartRequest struct {
	Topology string         `json:"topology"`
	Input    string         `json:"input"`
	Preset   string         `json:"preset,omitempty"`
	Agents   []AgentSpecDTO `json:"agents,omitempty"`

	PreGate    []AgentSpecDTO `json:"pre_gate,omitempty"`
	PostGate   []AgentSpecDTO `json:"post_gate,omitempty"`
	GatePrompt string         `json:"gate_prompt,omitempty"`

	Synthesizer     *AgentSpecDTO `json:"synthesizer,omitempty"`
	Rounds          *int          `json:"rounds,omitempty"`
	SynthesisPrompt string        `json:"synthesis_prompt,omitempty"`
}

// DecisionRequest applies a human verdict to a paused run.
type DecisionRequest struct {
	RequestID string `json:"request_id"`
	Verdict   string `json:"verdict"`
	Note      string `json:"note,omitempty"`
}

// CancelRequest stops a run.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	code := types.GetErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case types.ErrInvalidConfiguration, types.ErrConfiguration:
		status = http.StatusBadRequest
	case types.ErrInvalidTransition:
		status = http.StatusConflict
	case types.ErrRunNotFound:
		status = http.StatusNotFound
	case types.ErrAgentInvocation:
		status = http.StatusBadGateway
	}
	if code == "" {
		code = "INTERNAL"
	}
	writeJSON(w, status, Response{
		Success: false,
		Error:   &ErrorInfo{Code: string(code), Message: err.Error()},
	})
}

// runView is the caller-facing run representation.
type runView struct {
	RunID       string                   `json:"run_id"`
	Topology    string                   `json:"topology"`
	Status      string                   `json:"status"`
	Transcript  []types.Message          `json:"transcript"`
	Pending     *workflow.PendingRequest `json:"pending_request,omitempty"`
	ErrorDetail string                   `json:"error_detail,omitempty"`
	CreatedAt   string                   `json:"created_at"`
	UpdatedAt   string                   `json:"updated_at"`
}

func toRunView(snap workflow.RunSnapshot) runView {
	return runView{
		RunID:       snap.RunID,
		Topology:    string(snap.Topology),
		Status:      string(snap.Status),
		Transcript:  snap.Transcript,
		Pending:     snap.Pending,
		ErrorDetail: snap.ErrorDetail,
		CreatedAt:   snap.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		UpdatedAt:   snap.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}
