package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/loomworks/loom/llm"
	"github.com/loomworks/loom/persistence"
	"github.com/loomworks/loom/workflow"
)

type stubProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *stubProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	p.mu.Unlock()
	return &llm.ChatResponse{
		Choices: []llm.ChatChoice{
			{Message: llm.Message{Role: llm.RoleAssistant, Content: fmt.Sprintf("reply %d", n)}},
		},
	}, nil
}

func (p *stubProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

func (p *stubProvider) Name() string { return "stub" }

type failingProvider struct{}

func (failingProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, fmt.Errorf("upstream boom")
}

func (failingProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: false}, fmt.Errorf("upstream boom")
}

func (failingProvider) Name() string { return "failing" }

func newTestServer(t *testing.T) *httptest.Server {
	return newTestServerWith(t, &stubProvider{})
}

func newTestServerWith(t *testing.T, provider llm.Provider) *httptest.Server {
	t.Helper()
	store := persistence.NewMemoryRunStore()
	t.Cleanup(func() { store.Close() })

	executor := workflow.NewAgentExecutor(provider, workflow.ExecutorConfig{}, zap.NewNop())
	runner := workflow.NewRunner(executor, store, workflow.RunnerConfig{}, zap.NewNop())
	handler := NewWorkflowHandler(runner, 3, zap.NewNop())

	mux := http.NewServeMux()
	handler.Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body any) (*http.Response, Response) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	var envelope Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

func getJSON(t *testing.T, url string) (*http.Response, Response) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var envelope Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

func dataAsRun(t *testing.T, envelope Response) runView {
	t.Helper()
	raw, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var view runView
	require.NoError(t, json.Unmarshal(raw, &view))
	return view
}

func TestStartSequentialRunWithPreset(t *testing.T) {
	server := newTestServer(t)

	resp, envelope := postJSON(t, server.URL+"/api/v1/runs", StartRequest{
		Topology: "sequential",
		Input:    "my invoice was charged twice",
		Preset:   PresetTicketTriage,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, envelope.Success)

	run := dataAsRun(t, envelope)
	assert.Equal(t, "completed", run.Status)
	assert.Len(t, run.Transcript, 4)
	assert.NotEmpty(t, run.RunID)
}

func TestStartRunExecutionFailureReturnsRunID(t *testing.T) {
	server := newTestServerWith(t, failingProvider{})

	resp, envelope := postJSON(t, server.URL+"/api/v1/runs", StartRequest{
		Topology: "sequential",
		Input:    "my invoice was charged twice",
		Preset:   PresetTicketTriage,
	})
	// The run was created and marked failed; the caller still gets its
	// id and observes the failure via status, not an error envelope.
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, envelope.Success)
	run := dataAsRun(t, envelope)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, "failed", run.Status)
	assert.NotEmpty(t, run.ErrorDetail)

	resp, envelope = getJSON(t, server.URL+"/api/v1/runs/"+run.RunID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := dataAsRun(t, envelope)
	assert.Equal(t, "failed", got.Status)
	assert.NotEmpty(t, got.ErrorDetail)
}

func TestStartRunValidation(t *testing.T) {
	server := newTestServer(t)

	cases := []struct {
		name string
		req  StartRequest
	}{
		{"unknown topology", StartRequest{Topology: "ring", Input: "x"}},
		{"empty input", StartRequest{Topology: "sequential", Input: "", Preset: PresetTicketTriage}},
		{"unknown preset", StartRequest{Topology: "sequential", Input: "x", Preset: "mystery"}},
		{"no agents", StartRequest{Topology: "sequential", Input: "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, envelope := postJSON(t, server.URL+"/api/v1/runs", tc.req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			require.NotNil(t, envelope.Error)
			assert.Equal(t, "INVALID_CONFIGURATION", envelope.Error.Code)
		})
	}
}

func TestStartRoundRobinExplicitZeroRoundsRejected(t *testing.T) {
	server := newTestServer(t)

	zero := 0
	resp, envelope := postJSON(t, server.URL+"/api/v1/runs", StartRequest{
		Topology: "round_robin",
		Input:    "plan the launch",
		Preset:   PresetLaunchBrainstorm,
		Rounds:   &zero,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "INVALID_CONFIGURATION", envelope.Error.Code)
}

func TestStartRoundRobinDefaultRounds(t *testing.T) {
	server := newTestServer(t)

	resp, envelope := postJSON(t, server.URL+"/api/v1/runs", StartRequest{
		Topology: "round_robin",
		Input:    "plan the launch",
		Preset:   PresetLaunchBrainstorm,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	run := dataAsRun(t, envelope)
	assert.Equal(t, "completed", run.Status)
	// input + framing + 3 default rounds x 3 agents + prompt + synthesis.
	assert.Len(t, run.Transcript, 13)
}

func TestHumanLoopDecisionFlow(t *testing.T) {
	server := newTestServer(t)

	resp, envelope := postJSON(t, server.URL+"/api/v1/runs", StartRequest{
		Topology: "human_in_loop",
		Input:    "expense report: $120 team lunch",
		Preset:   PresetExpenseApproval,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	run := dataAsRun(t, envelope)
	require.Equal(t, "paused_awaiting_input", run.Status)
	require.NotNil(t, run.Pending)

	// Wrong request id -> 409.
	resp, envelope = postJSON(t, server.URL+"/api/v1/runs/"+run.RunID+"/decision", DecisionRequest{
		RequestID: "bogus", Verdict: "APPROVE",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "INVALID_TRANSITION", envelope.Error.Code)

	// Matching decision completes the run.
	resp, envelope = postJSON(t, server.URL+"/api/v1/runs/"+run.RunID+"/decision", DecisionRequest{
		RequestID: run.Pending.ID, Verdict: "approve", Note: "within policy",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	done := dataAsRun(t, envelope)
	assert.Equal(t, "completed", done.Status)
	require.Len(t, done.Transcript, 4)
	assert.Equal(t, "Manager decision: APPROVE. within policy", done.Transcript[2].Content)

	// Replayed decision -> 409.
	resp, _ = postJSON(t, server.URL+"/api/v1/runs/"+run.RunID+"/decision", DecisionRequest{
		RequestID: run.Pending.ID, Verdict: "APPROVE",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDecisionMissingRequestID(t *testing.T) {
	server := newTestServer(t)
	resp, envelope := postJSON(t, server.URL+"/api/v1/runs/any/decision", DecisionRequest{Verdict: "APPROVE"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, envelope.Error)
}

func TestGetRunNotFound(t *testing.T) {
	server := newTestServer(t)
	resp, envelope := getJSON(t, server.URL+"/api/v1/runs/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "RUN_NOT_FOUND", envelope.Error.Code)
}

func TestListRuns(t *testing.T) {
	server := newTestServer(t)

	for i := 0; i < 2; i++ {
		resp, _ := postJSON(t, server.URL+"/api/v1/runs", StartRequest{
			Topology: "sequential",
			Input:    "ticket",
			Preset:   PresetTicketTriage,
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, envelope := getJSON(t, server.URL+"/api/v1/runs?status=completed")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var views []runView
	require.NoError(t, json.Unmarshal(raw, &views))
	assert.Len(t, views, 2)

	resp, _ = getJSON(t, server.URL+"/api/v1/runs?limit=nope")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelPausedRun(t *testing.T) {
	server := newTestServer(t)

	resp, envelope := postJSON(t, server.URL+"/api/v1/runs", StartRequest{
		Topology: "human_in_loop",
		Input:    "expense report",
		Preset:   PresetExpenseApproval,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	run := dataAsRun(t, envelope)
	require.Equal(t, "paused_awaiting_input", run.Status)

	resp, envelope = postJSON(t, server.URL+"/api/v1/runs/"+run.RunID+"/cancel", CancelRequest{Reason: "stale"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cancelled := dataAsRun(t, envelope)
	assert.Equal(t, "failed", cancelled.Status)
	assert.Contains(t, cancelled.ErrorDetail, "stale")
}
