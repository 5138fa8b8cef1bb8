package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// Client is the opaque completion boundary. Implementations call the remote
// reasoning service; tests script it. A Client must be safe for concurrent
// use and must not carry side effects, so calls can be retried transparently.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest carries one role invocation to the completion service.
type CompletionRequest struct {
	Role         Role
	SystemPrompt string
	Prompt       string
	Model        string
	Temperature  float64
}

// InvocationError wraps a transient failure of the underlying completion
// call after retries were exhausted.
type InvocationError struct {
	Role     Role
	Attempts int
	Err      error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("agent %s: invocation failed after %d attempt(s): %v", e.Role, e.Attempts, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// RetryConfig controls the retry wrapper. Timeouts and transient transport
// errors are retried with exponential backoff; context cancellation is not.
type RetryConfig struct {
	MaxAttempts int
	// BaseDelay seeds the exponential backoff (doubled per failed attempt).
	BaseDelay time.Duration
	// ShouldRetry classifies errors. Nil retries everything except context
	// cancellation and deadline expiry of the parent context.
	ShouldRetry func(error) bool
}

// WithRetry wraps a client with deterministic error-only retries.
func WithRetry(next Client, cfg RetryConfig) Client {
	if next == nil {
		return nil
	}
	return &retryClient{next: next, cfg: cfg}
}

type retryClient struct {
	next Client
	cfg  RetryConfig
}

func (c *retryClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	attempts := c.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := c.cfg.BaseDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := c.next.Complete(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == attempts || !c.shouldRetry(ctx, err) {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return "", lastErr
}

func (c *retryClient) shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if c.cfg.ShouldRetry == nil {
		return !errors.Is(err, context.Canceled)
	}
	return c.cfg.ShouldRetry(err)
}

// Budget is the shared call-rate budget gating every completion call across
// all pipeline units. It is the only mutable state workers share.
type Budget struct {
	sem *semaphore.Weighted
}

// NewBudget allows up to n concurrent completion calls process-wide.
// n <= 0 means unlimited.
func NewBudget(n int) *Budget {
	if n <= 0 {
		return &Budget{}
	}
	return &Budget{sem: semaphore.NewWeighted(int64(n))}
}

// WithBudget wraps a client so every call first acquires a budget slot.
func WithBudget(next Client, budget *Budget) Client {
	if next == nil || budget == nil || budget.sem == nil {
		return next
	}
	return &budgetClient{next: next, budget: budget}
}

type budgetClient struct {
	next   Client
	budget *Budget
}

func (c *budgetClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if err := c.budget.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.budget.sem.Release(1)
	return c.next.Complete(ctx, req)
}
