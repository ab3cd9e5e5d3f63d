package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/loomworks/loom/types"
)

// ResilientConfig configures the ResilientProvider decorator.
type ResilientConfig struct {
	// MaxAttempts is the total number of completion attempts per call.
	// 1 disables retry; 2 retries once. Values below 1 are treated as 1.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// RetryBackoff is the pause between attempts.
	RetryBackoff time.Duration `json:"retry_backoff" yaml:"retry_backoff"`

	// RequestsPerSecond limits outbound completion calls. 0 disables limiting.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`

	// Burst is the rate-limiter burst size (default 1 when limiting is on).
	Burst int `json:"burst" yaml:"burst"`
}

// DefaultResilientConfig returns the default decorator configuration:
// one retry on retryable failures, no rate limiting.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		MaxAttempts:  2,
		RetryBackoff: 500 * time.Millisecond,
	}
}

// ResilientProvider wraps a Provider with bounded retry and client-side
// rate limiting. Decorator pattern: the underlying provider is untouched.
type ResilientProvider struct {
	provider Provider
	config   ResilientConfig
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewResilientProvider creates a resilient decorator around provider.
func NewResilientProvider(provider Provider, config ResilientConfig, logger *zap.Logger) *ResilientProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}
	return &ResilientProvider{
		provider: provider,
		config:   config,
		limiter:  limiter,
		logger:   logger.With(zap.String("component", "resilient_provider")),
	}
}

// Completion implements Provider.Completion with retry and rate limiting.
// Only errors marked retryable by the underlying provider are retried.
func (rp *ResilientProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= rp.config.MaxAttempts; attempt++ {
		if rp.limiter != nil {
			if err := rp.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := rp.provider.Completion(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !types.IsRetryable(err) || attempt == rp.config.MaxAttempts {
			break
		}

		rp.logger.Warn("completion failed, retrying",
			zap.String("provider", rp.provider.Name()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		select {
		case <-time.After(rp.config.RetryBackoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// HealthCheck delegates to the underlying provider.
func (rp *ResilientProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return rp.provider.HealthCheck(ctx)
}

// Name returns the underlying provider's identifier.
func (rp *ResilientProvider) Name() string {
	return rp.provider.Name()
}
