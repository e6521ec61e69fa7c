package client

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"ferrosa-tutor/work-flows/models"
	"ferrosa-tutor/work-flows/services"
)

// RetryConfig controls the transport policy applied around every provider.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

var DefaultRetryConfig = RetryConfig{
	MaxRetries:    2,
	InitialDelay:  500 * time.Millisecond,
	MaxDelay:      8 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// resilientClient adds a per-attempt timeout, bounded retries with backoff
// and request metrics to another Client.
type resilientClient struct {
	inner   Client
	config  RetryConfig
	timeout time.Duration
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewResilientClient(inner Client, config RetryConfig, timeout time.Duration, logger *zap.Logger) *resilientClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	return &resilientClient{
		inner:   inner,
		config:  config,
		timeout: timeout,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

func (r *resilientClient) Provider() string {
	return r.inner.Provider()
}

func (r *resilientClient) ChatCompletion(ctx context.Context, req models.CompletionRequest) (models.LLMReply, error) {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, r.delay(attempt)); err != nil {
				return models.LLMReply{}, fmt.Errorf("retry cancelled: %w", err)
			}
		}

		attemptCtx, cancel := r.attemptContext(ctx)
		start := time.Now()
		reply, err := r.inner.ChatCompletion(attemptCtx, req)
		cancel()
		services.ObserveLLMRequest(r.Provider(), req.Model, "sync", err == nil, ErrorType(err), time.Since(start))

		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !IsRetryable(err) || ctx.Err() != nil {
			break
		}
		r.logger.Warn("LLM completion failed, retrying",
			zap.String("provider", r.Provider()),
			zap.String("model", req.Model),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return models.LLMReply{}, lastErr
}

// ChatCompletionStream retries only while opening the stream; once chunks
// flow, failures are delivered on the channel.
func (r *resilientClient) ChatCompletionStream(ctx context.Context, req models.CompletionRequest) (<-chan models.StreamChunk, error) {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, r.delay(attempt)); err != nil {
				return nil, fmt.Errorf("retry cancelled: %w", err)
			}
		}

		attemptCtx, cancel := r.attemptContext(ctx)
		start := time.Now()
		stream, err := r.inner.ChatCompletionStream(attemptCtx, req)
		if err == nil {
			return r.watch(attemptCtx, cancel, stream, req.Model, start), nil
		}
		cancel()
		services.ObserveLLMRequest(r.Provider(), req.Model, "stream", false, ErrorType(err), time.Since(start))

		lastErr = err
		if !IsRetryable(err) || ctx.Err() != nil {
			break
		}
		r.logger.Warn("LLM stream failed to open, retrying",
			zap.String("provider", r.Provider()),
			zap.String("model", req.Model),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return nil, lastErr
}

// watch forwards the stream and releases the attempt context at the end.
func (r *resilientClient) watch(ctx context.Context, cancel context.CancelFunc, in <-chan models.StreamChunk, model string, start time.Time) <-chan models.StreamChunk {
	out := make(chan models.StreamChunk, 16)
	go func() {
		defer cancel()
		defer close(out)

		var streamErr error
		for chunk := range in {
			if chunk.Err != nil {
				streamErr = chunk.Err
			}
			if !send(ctx, out, chunk) {
				streamErr = ctx.Err()
				break
			}
		}
		services.ObserveLLMRequest(r.Provider(), model, "stream", streamErr == nil, ErrorType(streamErr), time.Since(start))
	}()
	return out
}

func (r *resilientClient) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *resilientClient) delay(attempt int) time.Duration {
	d := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffFactor, float64(attempt-1))
	if r.config.MaxDelay > 0 && d > float64(r.config.MaxDelay) {
		d = float64(r.config.MaxDelay)
	}
	if r.config.Jitter && d > 0 {
		// +/-25%
		d += d * (rand.Float64()*0.5 - 0.25)
	}
	return time.Duration(d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
