package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/antigravity-dev/relay/internal/config"
)

func TestHTTPInvokeSuccess(t *testing.T) {
	var gotAuth string
	var gotReq httpRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"output": "the answer",
			"usage":  map[string]int{"prompt_tokens": 10, "completion_tokens": 20},
		})
	}))
	defer srv.Close()

	t.Setenv("RELAY_TEST_API_KEY", "sekrit")
	r := registryWith(t, "remote", config.Model{
		Backend:           "http",
		Endpoint:          srv.URL,
		APIKeyEnv:         "RELAY_TEST_API_KEY",
		CostInputPerMtok:  1000,
		CostOutputPerMtok: 2000,
	})

	res, err := r.Invoke(context.Background(), "remote", "the question")
	if err != nil {
		t.Fatal(err)
	}
	if res.Output != "the answer" {
		t.Errorf("output = %q", res.Output)
	}
	if res.TokensUsed != 30 {
		t.Errorf("tokens = %d, want 30 from usage object", res.TokensUsed)
	}
	want := 10.0/1e6*1000 + 20.0/1e6*2000
	if res.Cost != want {
		t.Errorf("cost = %f, want %f", res.Cost, want)
	}
	if gotAuth != "Bearer sekrit" {
		t.Errorf("authorization = %q, want bearer token from env", gotAuth)
	}
	if gotReq.Model != "remote" || gotReq.Prompt != "the question" || gotReq.Stream {
		t.Errorf("request = %+v", gotReq)
	}
}

func TestHTTPInvokeRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	r := registryWith(t, "busy", config.Model{Backend: "http", Endpoint: srv.URL})
	_, err := r.Invoke(context.Background(), "busy", "prompt")

	var rlErr *RateLimitedError
	if !errors.As(err, &rlErr) {
		t.Fatalf("err = %v, want RateLimitedError", err)
	}
	if rlErr.RetryAfter != 7*time.Second {
		t.Errorf("retry after = %s, want 7s", rlErr.RetryAfter)
	}
}

func TestHTTPInvokeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	r := registryWith(t, "flaky", config.Model{Backend: "http", Endpoint: srv.URL})
	_, err := r.Invoke(context.Background(), "flaky", "prompt")

	var invErr *InvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("err = %v, want InvocationError", err)
	}
	if invErr.Status != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", invErr.Status)
	}
}

func TestHTTPInvokeErrorBodyMentioningRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"upstream returned 429 too many requests"}`, http.StatusBadGateway)
	}))
	defer srv.Close()

	r := registryWith(t, "proxied", config.Model{Backend: "http", Endpoint: srv.URL})
	_, err := r.Invoke(context.Background(), "proxied", "prompt")

	var rlErr *RateLimitedError
	if !errors.As(err, &rlErr) {
		t.Fatalf("err = %v, want RateLimitedError from proxied refusal", err)
	}
}

func TestHTTPInvokeNotConfigured(t *testing.T) {
	r := registryWith(t, "keyless", config.Model{
		Backend:   "http",
		Endpoint:  "http://example.invalid",
		APIKeyEnv: "RELAY_TEST_MISSING_KEY",
	})
	if _, err := r.Invoke(context.Background(), "keyless", "p"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("missing key env: err = %v, want ErrNotConfigured", err)
	}

	r = registryWith(t, "endpointless", config.Model{Backend: "http"})
	if _, err := r.Invoke(context.Background(), "endpointless", "p"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("missing endpoint: err = %v, want ErrNotConfigured", err)
	}
}

func TestHTTPInvokeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	r := registryWith(t, "sluggish", config.Model{
		Backend:  "http",
		Endpoint: srv.URL,
		Timeout:  config.Duration{Duration: 30 * time.Millisecond},
	})
	_, err := r.Invoke(context.Background(), "sluggish", "prompt")

	var toErr *TimeoutError
	if !errors.As(err, &toErr) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
}

func TestLocalInvokeUsesInferenceServerShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"response":          "local output",
			"prompt_eval_count": 5,
			"eval_count":        7,
			"done":              true,
		})
	}))
	defer srv.Close()

	r := registryWith(t, "llama", config.Model{Backend: "local", Endpoint: srv.URL})
	res, err := r.Invoke(context.Background(), "llama", "prompt")
	if err != nil {
		t.Fatal(err)
	}
	if res.Output != "local output" {
		t.Errorf("output = %q", res.Output)
	}
	if res.TokensUsed != 12 {
		t.Errorf("tokens = %d, want 12 from eval counts", res.TokensUsed)
	}
}

func TestUnknownModelFallsThroughToLocalBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"response": "fallback"})
	}))
	defer srv.Close()

	// An unknown model name carries a zero config; point the local default
	// at the test server by configuring the name with only an endpoint.
	r := registryWith(t, "ghost", config.Model{Endpoint: srv.URL})
	res, err := r.Invoke(context.Background(), "ghost", "prompt")
	if err != nil {
		t.Fatal(err)
	}
	if res.Output != "fallback" {
		t.Errorf("output = %q, want local fallback response", res.Output)
	}
}

func TestPlainTextResponseBecomesOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("just plain text"))
	}))
	defer srv.Close()

	r := registryWith(t, "plain", config.Model{Backend: "http", Endpoint: srv.URL})
	res, err := r.Invoke(context.Background(), "plain", "prompt")
	if err != nil {
		t.Fatal(err)
	}
	if res.Output != "just plain text" {
		t.Errorf("output = %q", res.Output)
	}
}
