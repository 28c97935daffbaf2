// Package ratelimit coordinates per-model fixed-window request quotas.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/antigravity-dev/relay/internal/store"
)

// Coordinator serializes quota decisions across every configured model.
// Windows are persisted so a restart cannot mint fresh quota mid-window.
//
// The mutex guards the operations that write usage. Advisory reads go
// straight to the store and may race a concurrent reservation; callers act
// on them at their own risk.
type Coordinator struct {
	store *store.Store
	mu    sync.Mutex
}

// NewCoordinator creates a coordinator backed by the given store.
func NewCoordinator(s *store.Store) *Coordinator {
	return &Coordinator{store: s}
}

// Seed ensures a persisted window exists for a model and refreshes its caps
// from configuration. Usage already accrued in the current window is kept.
func (c *Coordinator) Seed(model string, maxRequests int, window time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.store.SeedRateWindow(model, maxRequests, window.Milliseconds())
}

// TryReserve consumes one request slot for the model if quota remains.
// The check and the increment happen under one lock hold, so concurrent
// callers can never reserve past the cap. This is the only operation that
// consumes quota; availability peeks never do.
func (c *Coordinator) TryReserve(model string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, err := c.load(model)
	if err != nil {
		return false, err
	}
	roll(w, time.Now().UnixMilli())
	if w.CurrentUsage >= w.MaxRequests {
		return false, nil
	}
	w.CurrentUsage++
	if err := c.store.SaveRateWindow(w); err != nil {
		return false, fmt.Errorf("ratelimit: reserve %s: %w", model, err)
	}
	return true, nil
}

// IsAvailable reports whether the model has quota left, without consuming
// any. Advisory: the answer can be stale by the time the caller acts on it,
// only TryReserve's verdict is binding.
func (c *Coordinator) IsAvailable(model string) (bool, error) {
	w, err := c.load(model)
	if err != nil {
		return false, err
	}
	roll(w, time.Now().UnixMilli())
	return w.CurrentUsage < w.MaxRequests, nil
}

// NextAvailable reports when the model can next accept a request: now when
// quota remains, otherwise the end of the current window. Advisory, like
// IsAvailable.
func (c *Coordinator) NextAvailable(model string) (time.Time, error) {
	w, err := c.load(model)
	if err != nil {
		return time.Time{}, err
	}
	now := time.Now()
	roll(w, now.UnixMilli())
	if w.CurrentUsage < w.MaxRequests {
		return now, nil
	}
	return time.UnixMilli(w.WindowStart + w.WindowDuration), nil
}

// MarkExhausted saturates the model's current window, typically after the
// upstream returned its own rate limit response. Saturating an already
// exhausted window is a no-op.
func (c *Coordinator) MarkExhausted(model string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, err := c.load(model)
	if err != nil {
		return err
	}
	roll(w, time.Now().UnixMilli())
	if w.CurrentUsage >= w.MaxRequests {
		return nil
	}
	w.CurrentUsage = w.MaxRequests
	if err := c.store.SaveRateWindow(w); err != nil {
		return fmt.Errorf("ratelimit: mark exhausted %s: %w", model, err)
	}
	return nil
}

// ModelStatus is the advisory snapshot of one model's window.
type ModelStatus struct {
	Available bool    `json:"available"`
	Used      int     `json:"used"`
	Limit     int     `json:"limit"`
	ResetsIn  float64 `json:"resets_in_seconds"`
}

// Status returns a rolled advisory snapshot of every persisted window,
// keyed by model.
func (c *Coordinator) Status() (map[string]ModelStatus, error) {
	windows, err := c.store.ListRateWindows()
	if err != nil {
		return nil, fmt.Errorf("ratelimit: status: %w", err)
	}
	now := time.Now().UnixMilli()
	out := make(map[string]ModelStatus, len(windows))
	for _, w := range windows {
		roll(&w, now)
		resetsIn := float64(w.WindowStart+w.WindowDuration-now) / 1000
		if resetsIn < 0 {
			resetsIn = 0
		}
		out[w.Model] = ModelStatus{
			Available: w.CurrentUsage < w.MaxRequests,
			Used:      w.CurrentUsage,
			Limit:     w.MaxRequests,
			ResetsIn:  resetsIn,
		}
	}
	return out, nil
}

// load fetches a model's window. Models are seeded from configuration at
// startup, so a missing window is a configuration error.
func (c *Coordinator) load(model string) (*store.RateWindow, error) {
	w, err := c.store.GetRateWindow(model)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: load window %s: %w", model, err)
	}
	if w == nil {
		return nil, fmt.Errorf("ratelimit: model %q has no seeded window", model)
	}
	return w, nil
}

// roll resets the counter once the fixed window has elapsed. The new window
// is anchored at the roll, not tiled from the original start.
func roll(w *store.RateWindow, now int64) {
	if w.WindowDuration <= 0 {
		return
	}
	// Strictly greater: a request landing exactly at windowStart+duration
	// still belongs to the closing window.
	if now-w.WindowStart > w.WindowDuration {
		w.WindowStart = now
		w.CurrentUsage = 0
	}
}
