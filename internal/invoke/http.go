package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/antigravity-dev/relay/internal/config"
	"github.com/antigravity-dev/relay/internal/cost"
)

// httpRequest is the generation request body for HTTP backends.
type httpRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// httpResponse covers the response shapes HTTP backends return. Output,
// Response and Text are alternates; the first non-empty wins. The eval
// counts are the local inference server's usage fields.
type httpResponse struct {
	Output   string `json:"output"`
	Response string `json:"response"`
	Text     string `json:"text"`
	Usage    struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

// invokeHTTP posts the prompt to the model's configured endpoint.
func (r *Registry) invokeHTTP(ctx context.Context, model string, m config.Model, prompt string) (Result, error) {
	if strings.TrimSpace(m.Endpoint) == "" {
		return Result{}, fmt.Errorf("%w: %s has no endpoint", ErrNotConfigured, model)
	}
	apiKey := ""
	if m.APIKeyEnv != "" {
		apiKey = os.Getenv(m.APIKeyEnv)
		if apiKey == "" {
			return Result{}, fmt.Errorf("%w: %s requires %s", ErrNotConfigured, model, m.APIKeyEnv)
		}
	}
	return r.postGenerate(ctx, model, m, m.Endpoint, apiKey, prompt)
}

// postGenerate sends one generation request and maps the response onto a
// Result. Shared by the http and local backends.
func (r *Registry) postGenerate(ctx context.Context, model string, m config.Model, endpoint, apiKey, prompt string) (Result, error) {
	payload, err := json.Marshal(httpRequest{Model: model, Prompt: prompt, Stream: false})
	if err != nil {
		return Result{}, fmt.Errorf("invoke: marshal request for %s: %w", model, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("invoke: build request for %s: %w", model, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("invoke: request %s: %w", model, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOutputBytes+1))
	if err != nil {
		return Result{}, fmt.Errorf("invoke: read response from %s: %w", model, err)
	}
	if len(body) > maxOutputBytes {
		return Result{}, &InvocationError{
			Model:    model,
			ExitCode: -1,
			Detail:   fmt.Sprintf("response exceeded %d bytes", maxOutputBytes),
		}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return Result{}, &RateLimitedError{Model: model, RetryAfter: retryAfter(resp)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Proxied refusals arrive as 5xx with the upstream 429 in the body.
		if rateLimitRe.Match(body) {
			return Result{}, &RateLimitedError{Model: model}
		}
		return Result{}, &InvocationError{
			Model:    model,
			ExitCode: -1,
			Status:   resp.StatusCode,
			Detail:   bodyTail(body),
		}
	}

	var decoded httpResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		// Plain-text endpoints are acceptable; the body is the output.
		return priceResult(string(body), prompt, m), nil
	}
	output := decoded.Output
	if output == "" {
		output = decoded.Response
	}
	if output == "" {
		output = decoded.Text
	}

	usage := cost.Usage{
		InputTokens:  decoded.Usage.PromptTokens,
		OutputTokens: decoded.Usage.CompletionTokens,
	}
	if usage.InputTokens == 0 {
		usage.InputTokens = decoded.PromptEvalCount
	}
	if usage.OutputTokens == 0 {
		usage.OutputTokens = decoded.EvalCount
	}
	if usage.InputTokens == 0 {
		usage.InputTokens = cost.Estimate(prompt)
	}
	if usage.OutputTokens == 0 {
		usage.OutputTokens = cost.Estimate(output)
	}
	return Result{
		Output:     output,
		TokensUsed: usage.Total(),
		Cost:       cost.ForModel(usage, m),
	}, nil
}

// retryAfter parses a seconds-valued Retry-After header, zero when absent.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func bodyTail(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > stderrTailBytes {
		s = s[len(s)-stderrTailBytes:]
	}
	return s
}
