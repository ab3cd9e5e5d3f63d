// Package foundry implements an llm.Provider against an Azure AI Foundry
// project endpoint. Foundry deployments expose an OpenAI-compatible chat
// completions API, so the wire types follow that format.
package foundry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loomworks/loom/llm"
	"github.com/loomworks/loom/types"
)

// Config holds the Foundry connection settings. The orchestration core
// treats these as an opaque handle supplied by the configuration layer.
type Config struct {
	// Endpoint is the project endpoint, e.g. https://<project>.services.ai.azure.com/api.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Deployment is the model deployment name, e.g. gpt-4o.
	Deployment string `json:"deployment" yaml:"deployment"`

	// APIKey authenticates requests. Credential acquisition is external.
	APIKey string `json:"api_key" yaml:"api_key"`

	// Timeout bounds each HTTP call.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// Provider calls a Foundry chat completions deployment.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewProvider creates a new Foundry provider instance.
func NewProvider(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("component", "foundry_provider")),
	}
}

func (p *Provider) Name() string { return "foundry" }

// OpenAI-compatible wire types.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
	Name    string `json:"name,omitempty"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
	Created int64        `json:"created,omitempty"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Completion implements llm.Provider.Completion with exactly one upstream call.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Deployment
	}

	body := chatRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Messages:    make([]chatMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{
			Role:    string(m.Role),
			Content: m.Content,
			Name:    m.Name,
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrAgentInvocation, "encode request").WithCause(err)
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	endpoint := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.cfg.Endpoint, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrAgentInvocation, "build request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		retryable := !errors.Is(err, context.Canceled)
		return nil, types.NewError(types.ErrAgentInvocation, "foundry request failed").
			WithCause(err).WithRetryable(retryable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.mapHTTPError(resp)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewError(types.ErrAgentInvocation, "decode response").WithCause(err)
	}
	if len(out.Choices) == 0 {
		return nil, types.NewError(types.ErrAgentInvocation, "empty response from foundry")
	}

	result := &llm.ChatResponse{
		ID:       out.ID,
		Provider: p.Name(),
		Model:    out.Model,
		Choices:  make([]llm.ChatChoice, 0, len(out.Choices)),
	}
	if out.Created > 0 {
		result.CreatedAt = time.Unix(out.Created, 0)
	}
	if out.Usage != nil {
		result.Usage = llm.ChatUsage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		}
	}
	for _, c := range out.Choices {
		result.Choices = append(result.Choices, llm.ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message: llm.Message{
				Role:    llm.Role(c.Message.Role),
				Content: c.Message.Content,
				Name:    c.Message.Name,
			},
		})
	}
	return result, nil
}

// HealthCheck probes the endpoint with a minimal request.
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	endpoint := fmt.Sprintf("%s/models", strings.TrimRight(p.cfg.Endpoint, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &llm.HealthStatus{Healthy: false}, err
	}
	httpReq.Header.Set("api-key", p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &llm.HealthStatus{Healthy: false, Latency: latency},
			fmt.Errorf("foundry health check failed: status=%d msg=%s", resp.StatusCode, readErrMsg(resp.Body))
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

// mapHTTPError converts a non-200 response into the unified error taxonomy.
// 429 and 5xx are retryable; everything else surfaces as a hard failure.
func (p *Provider) mapHTTPError(resp *http.Response) error {
	msg := readErrMsg(resp.Body)
	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return types.Errorf(types.ErrAgentInvocation, "foundry status=%d: %s", resp.StatusCode, msg).
		WithRetryable(retryable)
}

func readErrMsg(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var parsed errorResponse
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(data))
}
