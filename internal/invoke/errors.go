package invoke

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotConfigured marks a model whose backend cannot run: missing command,
// endpoint, or credential environment variable.
var ErrNotConfigured = errors.New("invoke: model not configured")

// RateLimitedError reports a backend refusing work for rate-limit reasons.
// Callers match it with errors.As and saturate the model's window.
type RateLimitedError struct {
	Model      string
	RetryAfter time.Duration // zero when the backend gave no hint
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("invoke: %s rate limited, retry in %s", e.Model, e.RetryAfter)
	}
	return fmt.Sprintf("invoke: %s rate limited", e.Model)
}

// TimeoutError reports an invocation cut off by its per-call deadline.
type TimeoutError struct {
	Model   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("invoke: %s timed out after %s", e.Model, e.Timeout)
}

// InvocationError reports a backend that ran and failed: non-zero exit,
// non-2xx response, or output past the size cap. ExitCode is -1 and Status 0
// when the field does not apply.
type InvocationError struct {
	Model    string
	ExitCode int
	Status   int
	Detail   string
}

func (e *InvocationError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("invoke: %s returned HTTP %d: %s", e.Model, e.Status, e.Detail)
	case e.ExitCode >= 0:
		return fmt.Sprintf("invoke: %s exited %d: %s", e.Model, e.ExitCode, e.Detail)
	default:
		return fmt.Sprintf("invoke: %s failed: %s", e.Model, e.Detail)
	}
}
