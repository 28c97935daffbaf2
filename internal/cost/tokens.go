// Package cost derives token usage and dollar cost from model invocations.
package cost

import (
	"regexp"
	"strconv"

	"github.com/antigravity-dev/relay/internal/config"
)

// Usage holds the token counts for one invocation.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens combined.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Process backends report usage on stdout in whatever shape the wrapped CLI
// emits. These patterns cover the shapes seen across backends; the first
// match wins.
var (
	pairRe   = regexp.MustCompile(`[Tt]okens:\s*(\d+)\s+input,\s*(\d+)\s+output`)
	inputRe  = regexp.MustCompile(`[Ii]nput tokens:\s*(\d+)`)
	outputRe = regexp.MustCompile(`[Oo]utput tokens:\s*(\d+)`)
	// OpenAI-compatible servers leave a usage object in JSON output.
	promptJSONRe     = regexp.MustCompile(`"prompt_tokens"\s*:\s*(\d+)`)
	completionJSONRe = regexp.MustCompile(`"completion_tokens"\s*:\s*(\d+)`)
)

// Parse extracts token usage from raw model output. Whichever side no
// pattern reports falls back to a length estimate: prompt length for input,
// output length for output.
func Parse(output, prompt string) Usage {
	var u Usage
	if m := pairRe.FindStringSubmatch(output); len(m) == 3 {
		u.InputTokens, _ = strconv.Atoi(m[1])
		u.OutputTokens, _ = strconv.Atoi(m[2])
	} else {
		if m := inputRe.FindStringSubmatch(output); len(m) == 2 {
			u.InputTokens, _ = strconv.Atoi(m[1])
		} else if m := promptJSONRe.FindStringSubmatch(output); len(m) == 2 {
			u.InputTokens, _ = strconv.Atoi(m[1])
		}
		if m := outputRe.FindStringSubmatch(output); len(m) == 2 {
			u.OutputTokens, _ = strconv.Atoi(m[1])
		} else if m := completionJSONRe.FindStringSubmatch(output); len(m) == 2 {
			u.OutputTokens, _ = strconv.Atoi(m[1])
		}
	}

	if u.InputTokens == 0 {
		u.InputTokens = Estimate(prompt)
	}
	if u.OutputTokens == 0 {
		u.OutputTokens = Estimate(output)
	}
	return u
}

// Estimate approximates the token count of text, at roughly four characters
// per token for English prose and code. Non-empty text is at least one token.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		return 1
	}
	return n
}

// ForModel prices usage against the model's per-million-token rates.
func ForModel(u Usage, m config.Model) float64 {
	input := float64(u.InputTokens) / 1e6 * m.CostInputPerMtok
	output := float64(u.OutputTokens) / 1e6 * m.CostOutputPerMtok
	return input + output
}
