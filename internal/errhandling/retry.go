package errhandling

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"
)

const (
	DefaultMaxAttempts       = 3
	DefaultDelayMs           = 500
	DefaultBackoffMultiplier = 2.0
	DefaultMaxDelayMs        = 10000
	DefaultTimeoutMs         = 30000

	// MaxRetryAttempts bounds errorHandling.retryCount.
	MaxRetryAttempts = 10
)

// RetryConfig controls how feature service requests are retried.
// MaxAttempts counts retries, so a request runs at most MaxAttempts+1 times.
type RetryConfig struct {
	MaxAttempts       int
	DelayMs           int
	BackoffMultiplier float64
	MaxDelayMs        int

	// RetryableStatusCodes are HTTP statuses worth another attempt.
	RetryableStatusCodes []int
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:          DefaultMaxAttempts,
		DelayMs:              DefaultDelayMs,
		BackoffMultiplier:    DefaultBackoffMultiplier,
		MaxDelayMs:           DefaultMaxDelayMs,
		RetryableStatusCodes: DefaultRetryableStatusCodes(),
	}
}

// NoRetry performs a single attempt.
func NoRetry() RetryConfig {
	c := DefaultRetryConfig()
	c.MaxAttempts = 0
	return c
}

func (c RetryConfig) Validate() error {
	switch {
	case c.MaxAttempts < 0 || c.MaxAttempts > MaxRetryAttempts:
		return fmt.Errorf("maxAttempts must be between 0 and %d", MaxRetryAttempts)
	case c.DelayMs < 0:
		return errors.New("delayMs must be >= 0")
	case c.BackoffMultiplier < 1:
		return errors.New("backoffMultiplier must be >= 1")
	case c.MaxDelayMs < 0:
		return errors.New("maxDelayMs must be >= 0")
	}
	return nil
}

// CalculateDelay returns min(DelayMs * BackoffMultiplier^attempt, MaxDelayMs).
func (c RetryConfig) CalculateDelay(attempt int) time.Duration {
	ms := float64(c.DelayMs) * math.Pow(c.BackoffMultiplier, float64(max(attempt, 0)))
	return time.Duration(math.Min(ms, float64(c.MaxDelayMs))) * time.Millisecond
}

// ShouldRetry reports whether attempt (0-based) may be followed by another.
func (c RetryConfig) ShouldRetry(attempt int, err error) bool {
	return err != nil && attempt < c.MaxAttempts && IsRetryable(err)
}

func (c RetryConfig) IsStatusCodeRetryable(statusCode int) bool {
	return slices.Contains(c.RetryableStatusCodes, statusCode)
}

// RetryFunc is one attempt of a retried operation.
type RetryFunc func(ctx context.Context) (interface{}, error)

// RetryCallback runs before sleeping ahead of the next attempt.
type RetryCallback func(attempt int, err error, nextDelay time.Duration)

// RetryInfo describes the last Execute call.
type RetryInfo struct {
	TotalAttempts     int
	SuccessfulAttempt int
	RetryCount        int
	TotalDuration     time.Duration
	Delays            []time.Duration
	Errors            []error
}

// RetryExecutor runs a RetryFunc with exponential backoff.
// It is not safe for concurrent use; create one per call.
type RetryExecutor struct {
	config  RetryConfig
	onRetry RetryCallback
	info    RetryInfo
}

func NewRetryExecutor(config RetryConfig) *RetryExecutor {
	return &RetryExecutor{config: config}
}

// OnRetry registers cb and returns the executor for chaining.
func (e *RetryExecutor) OnRetry(cb RetryCallback) *RetryExecutor {
	e.onRetry = cb
	return e
}

// Execute calls fn until it succeeds, fails with a non-retryable error,
// runs out of attempts or ctx is done. Context errors are returned classified.
func (e *RetryExecutor) Execute(ctx context.Context, fn RetryFunc) (interface{}, error) {
	start := time.Now()
	e.info = RetryInfo{}
	defer func() { e.info.TotalDuration = time.Since(start) }()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, ClassifyNetworkError(err)
		}
		e.info.TotalAttempts = attempt + 1
		e.info.RetryCount = attempt

		result, err := fn(ctx)
		if err == nil {
			e.info.SuccessfulAttempt = attempt + 1
			return result, nil
		}
		e.info.Errors = append(e.info.Errors, err)
		if !e.config.ShouldRetry(attempt, err) {
			return nil, err
		}

		delay := e.config.CalculateDelay(attempt)
		e.info.Delays = append(e.info.Delays, delay)
		if e.onRetry != nil {
			e.onRetry(attempt, err, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, ClassifyNetworkError(err)
		}
	}
}

// GetRetryInfo returns details of the last Execute call.
func (e *RetryExecutor) GetRetryInfo() RetryInfo {
	return e.info
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
