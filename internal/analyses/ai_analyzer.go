package analyses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"placelink-backend/internal/llm"
	"placelink-backend/internal/model"
	"placelink-backend/internal/shared/errs"
	"placelink-backend/internal/shared/metrics"
	"placelink-backend/internal/shared/retry"
	"placelink-backend/internal/shared/telemetry"
)

// AIAnalyzerConfig tunes the model calls. Zero values fall back to defaults.
type AIAnalyzerConfig struct {
	// Timeout bounds each model call (default 30s).
	Timeout time.Duration
	// Retry is the call-level policy (default 3 attempts, 500ms base, 8s cap).
	Retry retry.Policy
	// RequestsPerSecond throttles model calls across all jobs; 0 disables throttling.
	RequestsPerSecond float64
	Burst             int
	PromptVersion     string
}

// AIRetryPolicy returns the default call-level policy for model calls.
func AIRetryPolicy(maxAttempts int) retry.Policy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return retry.Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Jitter:      0.2,
		Retryable:   llm.IsTransient,
	}
}

// AIAnalyzer turns extracted content into validated place candidates.
type AIAnalyzer struct {
	client  llm.Client
	timeout time.Duration
	policy  retry.Policy
	limiter *rate.Limiter
	prompt  string
	now     func() time.Time
}

// NewAIAnalyzer wraps client with the timeout, retry and throttling in cfg.
func NewAIAnalyzer(client llm.Client, cfg AIAnalyzerConfig) *AIAnalyzer {
	if client == nil {
		client = llm.PlaceholderClient{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = AIRetryPolicy(0)
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = llm.IsTransient
	}
	if cfg.PromptVersion == "" {
		cfg.PromptVersion = llm.DefaultPromptVersion
	}
	a := &AIAnalyzer{
		client:  client,
		timeout: cfg.Timeout,
		policy:  cfg.Retry,
		prompt:  cfg.PromptVersion,
		now:     time.Now,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return a
}

// Analyze sends content to the model and validates the answer. Errors are *errs.AppError
// except when ctx ends, in which case the context error is returned.
func (a *AIAnalyzer) Analyze(ctx context.Context, content model.ExtractedContent) (model.AnalysisResult, error) {
	start := a.now()
	input := llm.PlaceInput{
		Platform:      content.Platform.String(),
		SourceURL:     content.SourceURL,
		Title:         content.Title,
		Description:   content.Description,
		Author:        content.Author,
		Text:          content.ExtractedText,
		PromptVersion: a.prompt,
	}

	var raw json.RawMessage
	err := a.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("ai throttle: %w", context.DeadlineExceeded)
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		out, err := a.client.ExtractPlaces(callCtx, input)
		if err != nil {
			return err
		}
		raw = out
		return nil
	}, func(err error, attempt int, delay time.Duration) {
		metrics.IncAIRetry()
		telemetry.Warn("ai.retry", map[string]any{
			"platform":    content.Platform.String(),
			"source_url":  content.SourceURL,
			"attempt":     attempt,
			"delay_ms":    delay.Milliseconds(),
			"status_code": llm.StatusCode(err),
			"error":       sanitizeError(err),
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return model.AnalysisResult{}, ctx.Err()
		}
		return model.AnalysisResult{}, classifyAIError(err)
	}

	candidates, confidence, err := parsePlaces(raw)
	if err != nil {
		return model.AnalysisResult{}, errs.Wrap(errs.SchemaValidation, "ai response does not match the place schema", err)
	}
	return model.AnalysisResult{
		Candidates:      candidates,
		Confidence:      confidence,
		ContentMetadata: model.MetadataFrom(content),
		AnalysisTimeMs:  a.now().Sub(start).Milliseconds(),
	}, nil
}

func classifyAIError(err error) error {
	status := llm.StatusCode(err)
	switch {
	case errors.Is(err, llm.ErrInvalidJSON):
		return errs.Wrap(errs.SchemaValidation, "ai response is not valid JSON", err)
	case errors.Is(err, llm.ErrNotConfigured):
		return errs.Wrap(errs.Upstream, "ai provider is not configured", err)
	case llm.IsTransient(err):
		return &errs.AppError{Kind: errs.Fetch, UpstreamStatus: status, Message: "ai provider unavailable", Cause: err}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &errs.AppError{Kind: errs.Upstream, UpstreamStatus: status, Message: "ai provider rejected credentials", Cause: err}
	case status >= 400:
		return &errs.AppError{Kind: errs.Upstream, UpstreamStatus: status, Message: "ai provider rejected the request", Cause: err}
	default:
		return errs.Wrap(errs.Upstream, "ai call failed", err)
	}
}
