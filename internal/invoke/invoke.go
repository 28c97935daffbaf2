// Package invoke runs prompts against model backends: wrapped CLIs, HTTP
// endpoints, and a local inference server fallback.
package invoke

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/antigravity-dev/relay/internal/config"
	"github.com/antigravity-dev/relay/internal/cost"
)

const (
	// DefaultTimeout bounds a single invocation when the model config
	// carries none.
	DefaultTimeout = 120 * time.Second

	// maxOutputBytes caps captured backend output.
	maxOutputBytes = 10 << 20
)

// Result is a successful invocation.
type Result struct {
	Output     string  `json:"output"`
	TokensUsed int     `json:"tokens_used"`
	Cost       float64 `json:"cost_usd"`
}

// Invoker runs one prompt against one model.
type Invoker interface {
	Invoke(ctx context.Context, model, prompt string) (Result, error)
}

// rateLimitRe spots rate-limit refusals reported inside backend output
// rather than through a status code.
var rateLimitRe = regexp.MustCompile(`(?i)rate.?limit(ed)?|too many requests|\b429\b`)

// Registry dispatches by the model's configured backend. Unconfigured model
// names fall through to the local inference server.
type Registry struct {
	models map[string]config.Model
	client *http.Client
}

// NewRegistry builds a registry over the configured models. The HTTP client
// carries no timeout of its own; each call is bounded by context.
func NewRegistry(models map[string]config.Model) *Registry {
	return &Registry{models: models, client: &http.Client{}}
}

// Invoke runs the prompt on the named model's backend under the per-call
// timeout. Deadline hits surface as TimeoutError.
func (r *Registry) Invoke(ctx context.Context, model, prompt string) (Result, error) {
	m := r.models[model]

	timeout := m.Timeout.Duration
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var res Result
	var err error
	switch m.Backend {
	case "process":
		res, err = r.invokeProcess(ctx, model, m, prompt)
	case "http":
		res, err = r.invokeHTTP(ctx, model, m, prompt)
	default:
		res, err = r.invokeLocal(ctx, model, m, prompt)
	}
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return Result{}, &TimeoutError{Model: model, Timeout: timeout}
	}
	return res, err
}

// priceResult fills token and cost fields from raw output.
func priceResult(output, prompt string, m config.Model) Result {
	usage := cost.Parse(output, prompt)
	return Result{
		Output:     output,
		TokensUsed: usage.Total(),
		Cost:       cost.ForModel(usage, m),
	}
}
