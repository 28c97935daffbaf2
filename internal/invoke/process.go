package invoke

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/antigravity-dev/relay/internal/config"
)

// stderrTailBytes bounds how much stderr is carried into error detail.
const stderrTailBytes = 2048

// invokeProcess runs the model's wrapped CLI. The prompt goes to stdin and
// the argv comes straight from config; nothing is shell-interpreted.
func (r *Registry) invokeProcess(ctx context.Context, model string, m config.Model, prompt string) (Result, error) {
	if strings.TrimSpace(m.Cmd) == "" {
		return Result{}, fmt.Errorf("%w: %s has no command", ErrNotConfigured, model)
	}

	combined := newCappedBuffer(maxOutputBytes)
	tail := newTailBuffer(stderrTailBytes)

	cmd := exec.CommandContext(ctx, m.Cmd, m.Args...)
	cmd.Stdin = strings.NewReader(prompt)
	cmd.Stdout = combined
	cmd.Stderr = io.MultiWriter(combined, tail)

	err := cmd.Run()
	output := combined.String()

	if ctx.Err() == context.DeadlineExceeded {
		// Surfaced as TimeoutError by the caller.
		return Result{}, ctx.Err()
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if rateLimitRe.MatchString(output) || rateLimitRe.MatchString(tail.String()) {
				return Result{}, &RateLimitedError{Model: model}
			}
			return Result{}, &InvocationError{
				Model:    model,
				ExitCode: exitErr.ExitCode(),
				Detail:   tail.String(),
			}
		}
		return Result{}, fmt.Errorf("invoke: start %s: %w", model, err)
	}
	if combined.Overflowed() {
		return Result{}, &InvocationError{
			Model:    model,
			ExitCode: -1,
			Detail:   fmt.Sprintf("output exceeded %d bytes", maxOutputBytes),
		}
	}

	return priceResult(output, prompt, m), nil
}

// cappedBuffer accepts writes up to max bytes and records overflow instead
// of growing without bound.
type cappedBuffer struct {
	max      int
	buf      []byte
	overflow bool
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

// Write never fails; excess bytes are dropped and flagged so the process
// keeps draining its pipes.
func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.max - len(b.buf)
	if room <= 0 {
		b.overflow = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf = append(b.buf, p[:room]...)
		b.overflow = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *cappedBuffer) String() string   { return string(b.buf) }
func (b *cappedBuffer) Overflowed() bool { return b.overflow }

// tailBuffer keeps the last max bytes written.
type tailBuffer struct {
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return strings.TrimSpace(string(b.buf))
}
