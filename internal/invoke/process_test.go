package invoke

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/antigravity-dev/relay/internal/config"
)

func registryWith(t *testing.T, name string, m config.Model) *Registry {
	t.Helper()
	return NewRegistry(map[string]config.Model{name: m})
}

func TestProcessInvokeEchoesPromptFromStdin(t *testing.T) {
	r := registryWith(t, "echo-model", config.Model{
		Backend:           "process",
		Cmd:               "cat",
		CostInputPerMtok:  10,
		CostOutputPerMtok: 10,
	})

	res, err := r.Invoke(context.Background(), "echo-model", "hello stdin world")
	if err != nil {
		t.Fatal(err)
	}
	if res.Output != "hello stdin world" {
		t.Errorf("output = %q, want prompt echoed back", res.Output)
	}
	if res.TokensUsed == 0 {
		t.Error("tokens not estimated")
	}
	if res.Cost <= 0 {
		t.Error("cost not computed from configured pricing")
	}
}

func TestProcessInvokeParsesReportedTokens(t *testing.T) {
	r := registryWith(t, "reporting", config.Model{
		Backend: "process",
		Cmd:     "sh",
		Args:    []string{"-c", `echo "result text"; echo "Tokens: 100 input, 200 output"`},
	})

	res, err := r.Invoke(context.Background(), "reporting", "prompt")
	if err != nil {
		t.Fatal(err)
	}
	if res.TokensUsed != 300 {
		t.Errorf("tokens = %d, want 300 from the report line", res.TokensUsed)
	}
}

func TestProcessInvokeNonZeroExit(t *testing.T) {
	r := registryWith(t, "broken", config.Model{
		Backend: "process",
		Cmd:     "sh",
		Args:    []string{"-c", "echo some diagnostics >&2; exit 3"},
	})

	_, err := r.Invoke(context.Background(), "broken", "prompt")
	var invErr *InvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("err = %v, want InvocationError", err)
	}
	if invErr.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", invErr.ExitCode)
	}
	if !strings.Contains(invErr.Detail, "some diagnostics") {
		t.Errorf("detail = %q, want stderr tail", invErr.Detail)
	}
}

func TestProcessInvokeDetectsRateLimitOutput(t *testing.T) {
	r := registryWith(t, "limited", config.Model{
		Backend: "process",
		Cmd:     "sh",
		Args:    []string{"-c", "echo 'error: rate limit exceeded, try later' >&2; exit 1"},
	})

	_, err := r.Invoke(context.Background(), "limited", "prompt")
	var rlErr *RateLimitedError
	if !errors.As(err, &rlErr) {
		t.Fatalf("err = %v, want RateLimitedError", err)
	}
	if rlErr.Model != "limited" {
		t.Errorf("model = %q, want limited", rlErr.Model)
	}
}

func TestProcessInvokeTimeout(t *testing.T) {
	r := registryWith(t, "slow", config.Model{
		Backend: "process",
		Cmd:     "sleep",
		Args:    []string{"5"},
		Timeout: config.Duration{Duration: 50 * time.Millisecond},
	})

	start := time.Now()
	_, err := r.Invoke(context.Background(), "slow", "prompt")
	var toErr *TimeoutError
	if !errors.As(err, &toErr) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if toErr.Timeout != 50*time.Millisecond {
		t.Errorf("timeout = %s, want 50ms", toErr.Timeout)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("invocation was not cut off at the deadline")
	}
}

func TestProcessInvokeMissingCommand(t *testing.T) {
	r := registryWith(t, "bare", config.Model{Backend: "process"})

	_, err := r.Invoke(context.Background(), "bare", "prompt")
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestCappedBuffer(t *testing.T) {
	b := newCappedBuffer(8)
	if _, err := b.Write([]byte("12345")); err != nil {
		t.Fatal(err)
	}
	if b.Overflowed() {
		t.Error("overflow before the cap")
	}
	if _, err := b.Write([]byte("67890")); err != nil {
		t.Fatal(err)
	}
	if !b.Overflowed() {
		t.Error("overflow not flagged past the cap")
	}
	if b.String() != "12345678" {
		t.Errorf("buffer = %q, want first 8 bytes kept", b.String())
	}
	// Writes past the cap still succeed so pipes keep draining.
	if n, err := b.Write([]byte("x")); n != 1 || err != nil {
		t.Errorf("post-cap write = (%d, %v), want (1, nil)", n, err)
	}
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(4)
	b.Write([]byte("abcdef"))
	if b.String() != "cdef" {
		t.Errorf("tail = %q, want last 4 bytes", b.String())
	}
	b.Write([]byte("XY"))
	if b.String() != "efXY" {
		t.Errorf("tail = %q, want rolling window", b.String())
	}
}
