package errhandling

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetryConfig(maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:          maxAttempts,
		DelayMs:              5,
		BackoffMultiplier:    1.0,
		MaxDelayMs:           50,
		RetryableStatusCodes: []int{500},
	}
}

func TestRetryConfig_Defaults(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", config.MaxAttempts, DefaultMaxAttempts)
	}
	if config.DelayMs != DefaultDelayMs {
		t.Errorf("DelayMs = %d, want %d", config.DelayMs, DefaultDelayMs)
	}
	if config.BackoffMultiplier != DefaultBackoffMultiplier {
		t.Errorf("BackoffMultiplier = %f, want %f", config.BackoffMultiplier, DefaultBackoffMultiplier)
	}
	if config.MaxDelayMs != DefaultMaxDelayMs {
		t.Errorf("MaxDelayMs = %d, want %d", config.MaxDelayMs, DefaultMaxDelayMs)
	}
	if len(config.RetryableStatusCodes) != 5 {
		t.Errorf("RetryableStatusCodes length = %d, want 5", len(config.RetryableStatusCodes))
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestRetryConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RetryConfig)
		wantErr bool
	}{
		{"default", func(*RetryConfig) {}, false},
		{"zero attempts", func(c *RetryConfig) { c.MaxAttempts = 0 }, false},
		{"negative attempts", func(c *RetryConfig) { c.MaxAttempts = -1 }, true},
		{"too many attempts", func(c *RetryConfig) { c.MaxAttempts = MaxRetryAttempts + 1 }, true},
		{"negative delay", func(c *RetryConfig) { c.DelayMs = -1 }, true},
		{"multiplier below one", func(c *RetryConfig) { c.BackoffMultiplier = 0.5 }, true},
		{"multiplier one", func(c *RetryConfig) { c.BackoffMultiplier = 1 }, false},
		{"negative max delay", func(c *RetryConfig) { c.MaxDelayMs = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultRetryConfig()
			tt.mutate(&config)
			if err := config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetryConfig_CalculateDelay(t *testing.T) {
	config := RetryConfig{DelayMs: 100, BackoffMultiplier: 2, MaxDelayMs: 500}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 100 * time.Millisecond},
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 500 * time.Millisecond},
		{8, 500 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := config.CalculateDelay(tt.attempt); got != tt.want {
			t.Errorf("CalculateDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryConfig_ShouldRetry(t *testing.T) {
	config := fastRetryConfig(2)
	transient := ClassifyHTTPStatus(503, "")

	tests := []struct {
		name    string
		config  RetryConfig
		attempt int
		err     error
		want    bool
	}{
		{"nil error", config, 0, nil, false},
		{"transient first attempt", config, 0, transient, true},
		{"attempts exhausted", config, 2, transient, false},
		{"fatal", config, 0, ClassifyHTTPStatus(401, ""), false},
		{"disabled", NoRetry(), 0, transient, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.ShouldRetry(tt.attempt, tt.err); got != tt.want {
				t.Errorf("ShouldRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryConfig_IsStatusCodeRetryable(t *testing.T) {
	config := DefaultRetryConfig()
	if !config.IsStatusCodeRetryable(503) {
		t.Error("503 should be retryable")
	}
	if config.IsStatusCodeRetryable(400) {
		t.Error("400 should not be retryable")
	}
}

func TestRetryExecutor_Success(t *testing.T) {
	executor := NewRetryExecutor(fastRetryConfig(3))

	calls := 0
	result, err := executor.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		calls++
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %v, want ok", result)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if info := executor.GetRetryInfo(); info.RetryCount != 0 || info.SuccessfulAttempt != 1 {
		t.Errorf("RetryInfo = %+v, want first attempt success", info)
	}
}

func TestRetryExecutor_RetriesTransientErrors(t *testing.T) {
	var retried []int
	executor := NewRetryExecutor(fastRetryConfig(3)).OnRetry(func(attempt int, err error, delay time.Duration) {
		retried = append(retried, attempt)
	})

	var calls int32
	result, err := executor.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, ClassifyHTTPStatus(502, "")
		}
		return 42, nil
	})

	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result != 42 {
		t.Errorf("result = %v, want 42", result)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(retried) != 2 || retried[0] != 0 || retried[1] != 1 {
		t.Errorf("retry callbacks = %v, want [0 1]", retried)
	}
	info := executor.GetRetryInfo()
	if info.RetryCount != 2 || len(info.Delays) != 2 || len(info.Errors) != 2 {
		t.Errorf("RetryInfo = %+v, want 2 retries", info)
	}
}

func TestRetryExecutor_FatalErrorNotRetried(t *testing.T) {
	executor := NewRetryExecutor(fastRetryConfig(3))

	calls := 0
	_, err := executor.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, ClassifyServiceError(400, "Invalid query", nil)
	})

	if err == nil {
		t.Fatal("Execute() error = nil, want error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if GetErrorCategory(err) != CategoryValidation {
		t.Errorf("category = %v, want validation", GetErrorCategory(err))
	}
}

func TestRetryExecutor_Exhausted(t *testing.T) {
	executor := NewRetryExecutor(fastRetryConfig(2))

	var calls int32
	_, err := executor.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return nil, ClassifyHTTPStatus(500, "")
	})

	if err == nil {
		t.Fatal("Execute() error = nil, want error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (1 + 2 retries)", calls)
	}
	if info := executor.GetRetryInfo(); info.TotalAttempts != 3 || info.RetryCount != 2 {
		t.Errorf("RetryInfo = %+v, want 3 attempts", info)
	}
}

func TestRetryExecutor_NoRetry(t *testing.T) {
	executor := NewRetryExecutor(NoRetry())

	calls := 0
	_, err := executor.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, errors.New("transient")
	})

	if err == nil {
		t.Fatal("Execute() error = nil, want error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryExecutor_ContextCanceled(t *testing.T) {
	config := fastRetryConfig(5)
	config.DelayMs = 200
	config.MaxDelayMs = 200
	executor := NewRetryExecutor(config)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	calls := 0
	_, err := executor.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, ClassifyHTTPStatus(503, "")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
