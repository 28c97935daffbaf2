// Package router classifies prompts into task categories and resolves each
// category to an ordered list of candidate model keys.
package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/antigravity-dev/relay/internal/config"
)

// Classification is the routing verdict for one prompt.
type Classification struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// categoryKeywords pairs a category with its match terms. Slice order mirrors
// config.Categories; score ties resolve to the earlier entry.
var categoryKeywords = []struct {
	category string
	words    []string
}{
	{config.Categories[0], []string{ // planning
		"plan", "roadmap", "milestone", "strategy", "organize", "outline",
		"break down", "prioritize", "sprint", "schedule",
	}},
	{config.Categories[1], []string{ // reasoning
		"why", "explain", "analyze", "compare", "reason", "evaluate",
		"trade-off", "tradeoff", "prove", "derive", "think through",
	}},
	{config.Categories[2], []string{ // coding
		"code", "function", "bug", "implement", "refactor", "compile",
		"debug", "script", "api", "test", "error", "stack trace", "regex",
	}},
	{config.Categories[3], []string{ // review
		"review", "critique", "feedback", "audit", "proofread", "check this",
		"look over", "verify",
	}},
	{config.Categories[4], []string{ // quick
		"what is", "who is", "when is", "define", "translate", "convert",
		"how many", "list",
	}},
	{config.Categories[5], []string{ // vision
		"image", "photo", "picture", "screenshot", "diagram", "look at",
		"describe this", "what's in",
	}},
	{config.Categories[6], []string{ // image_gen
		"draw", "generate an image", "create an image", "render", "sketch",
		"illustration", "logo", "wallpaper",
	}},
}

// Router owns classification and candidate-model resolution. It is safe for
// concurrent use; all state is read-only after construction.
type Router struct {
	defaultCategory string
	candidates      map[string][]string
	assist          AssistFunc
	assistModel     string
}

// AssistFunc invokes a model and returns its raw text output. The assisted
// classifier feeds it a classification prompt and parses the response.
type AssistFunc func(ctx context.Context, model, prompt string) (string, error)

// New builds a router from configuration. The assist function may be nil, in
// which case classification is keyword-only regardless of router.assist_model.
func New(cfg *config.Config, assist AssistFunc) *Router {
	r := &Router{
		defaultCategory: cfg.Router.DefaultCategory,
		candidates:      make(map[string][]string, len(cfg.Categories)),
	}
	for category, models := range cfg.Categories {
		r.candidates[category] = append([]string(nil), models...)
	}
	if assist != nil && cfg.Router.AssistModel != "" {
		r.assist = assist
		r.assistModel = cfg.Router.AssistModel
	}
	return r
}

// Classify maps a prompt to a category. When an assist model is configured it
// is consulted first; any failure falls back to keyword scoring, so Classify
// always produces a verdict.
func (r *Router) Classify(ctx context.Context, prompt string) Classification {
	if r.assist != nil {
		if c, ok := r.classifyAssisted(ctx, prompt); ok {
			return c
		}
	}
	return r.classifyKeywords(prompt)
}

// classifyKeywords scores the lowercased prompt against every category's term
// list and picks the argmax. Zero hits anywhere fall back to the default
// category with confidence 1/len(categories).
func (r *Router) classifyKeywords(prompt string) Classification {
	lower := strings.ToLower(prompt)

	total := 0
	best := ""
	bestScore := 0
	var bestHits []string
	for _, row := range categoryKeywords {
		score := 0
		var hits []string
		for _, w := range row.words {
			if strings.Contains(lower, w) {
				score++
				hits = append(hits, w)
			}
		}
		total += score
		if score > bestScore {
			bestScore = score
			best = row.category
			bestHits = hits
		}
	}

	if total == 0 {
		return Classification{
			Category:   r.defaultCategory,
			Confidence: 1 / float64(len(categoryKeywords)),
			Reason:     "no keyword matches, using default category",
		}
	}
	return Classification{
		Category:   best,
		Confidence: float64(bestScore) / float64(total),
		Reason:     fmt.Sprintf("matched %s", strings.Join(bestHits, ", ")),
	}
}

// Candidates returns the ordered model keys eligible for a category. A
// preferred model is prepended and duplicates are removed, order preserved.
func (r *Router) Candidates(category, preferredModel string) []string {
	models := r.candidates[category]

	out := make([]string, 0, len(models)+1)
	seen := make(map[string]struct{}, len(models)+1)
	if preferredModel != "" {
		out = append(out, preferredModel)
		seen[preferredModel] = struct{}{}
	}
	for _, m := range models {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// DefaultCategory exposes the fallback category for callers that validate
// submissions before classification.
func (r *Router) DefaultCategory() string {
	return r.defaultCategory
}

// Keywords returns a copy of the match terms behind a category, in scoring
// order. Unknown categories return nil.
func Keywords(category string) []string {
	for _, row := range categoryKeywords {
		if row.category == category {
			return append([]string(nil), row.words...)
		}
	}
	return nil
}
