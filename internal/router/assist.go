package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/antigravity-dev/relay/internal/config"
)

// assistVerdict is the JSON document the assist model is asked to produce.
type assistVerdict struct {
	Category   string `json:"category"`
	Complexity string `json:"complexity"`
	Reasoning  string `json:"reasoning"`
}

const assistPromptFormat = `Classify the user message into exactly one category from this list: %s.
Respond with only a JSON object of the form {"category": "...", "complexity": "low|medium|high", "reasoning": "..."}.

Message:
%s`

// classifyAssisted asks the configured assist model for a verdict. It returns
// ok=false on any invocation, parse, or validation failure so the caller can
// fall back to keyword scoring.
func (r *Router) classifyAssisted(ctx context.Context, prompt string) (Classification, bool) {
	out, err := r.assist(ctx, r.assistModel, fmt.Sprintf(assistPromptFormat, strings.Join(config.Categories, ", "), prompt))
	if err != nil {
		return Classification{}, false
	}

	doc, ok := extractJSONObject(out)
	if !ok {
		return Classification{}, false
	}
	var v assistVerdict
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return Classification{}, false
	}
	v.Category = strings.ToLower(strings.TrimSpace(v.Category))
	if !knownCategory(v.Category) {
		return Classification{}, false
	}

	reason := strings.TrimSpace(v.Reasoning)
	if reason == "" {
		reason = "assist model classification"
	}
	return Classification{Category: v.Category, Confidence: 1, Reason: reason}, true
}

// extractJSONObject pulls the outermost {...} span out of model output that
// may be wrapped in prose or code fences.
func extractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func knownCategory(category string) bool {
	for _, row := range categoryKeywords {
		if row.category == category {
			return true
		}
	}
	return false
}
