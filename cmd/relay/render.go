package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/antigravity-dev/relay/internal/store"
)

// Task status glyphs, filling as work progresses.
var statusGlyphs = map[string]string{
	store.StatusPending:   "○",
	store.StatusScheduled: "◔",
	store.StatusRunning:   "◐",
	store.StatusCompleted: "●",
	store.StatusFailed:    "✗",
	store.StatusBlocked:   "⊘",
	store.StatusCancelled: "⊗",
}

func glyph(status string) string {
	if g, ok := statusGlyphs[status]; ok {
		return g
	}
	return "?"
}

func okGlyph(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}

// humanDuration renders a duration at the coarsest two units that still say
// something: "1h12m", "3m05s", "1.4s", "250ms".
func humanDuration(d time.Duration) string {
	switch {
	case d < 0:
		return "0s"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < 10*time.Second:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// ago renders a unix-millisecond timestamp relative to now. Zero means the
// event never happened.
func ago(ms int64) string {
	if ms == 0 {
		return "never"
	}
	return humanDuration(time.Since(time.UnixMilli(ms))) + " ago"
}

func fmtCost(v float64) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("$%.4f", v)
}

// truncate cuts s at n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
