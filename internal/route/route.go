// Package route selects the execution path for a resolved prompt. The
// decision is a pure function of prompt and mentions: the same inputs
// always produce the same route, and a structured run that later fails
// never falls back to the agent.
package route

import (
	"strings"

	"github.com/atelier-ai/atelier/internal/mention"
)

// Decision names one of the two mutually exclusive execution paths.
type Decision string

const (
	// Structured is the deterministic read -> generate -> stage-write
	// pipeline for summarize-and-save requests.
	Structured Decision = "structured"
	// Fallback is the general-purpose agent with sandboxed tools.
	Fallback Decision = "fallback"
)

// Routing carries the decision and the mention lists that justified it.
type Routing struct {
	Decision   Decision
	Inputs     []mention.Mention
	Guidelines []mention.Mention
	Outputs    []mention.Mention
}

// Intent keywords denoting summarization, checked case-insensitively.
// Japanese equivalents cover the common phrasings 要約/サマリ/まとめて.
var summarizeKeywords = []string{
	"summarize",
	"summarise",
	"summary",
	"要約",
	"サマリ",
	"まとめて",
}

// Decide routes a prompt. Structured requires both a summarization keyword
// and at least one input mention plus at least one output mention;
// guideline mentions are optional extra context. Everything else routes to
// the fallback agent.
func Decide(prompt string, mentions []mention.Mention) Routing {
	r := Routing{
		Decision:   Fallback,
		Inputs:     mention.Filter(mentions, mention.KindInput),
		Guidelines: mention.Filter(mentions, mention.KindGuideline),
		Outputs:    mention.Filter(mentions, mention.KindOutput),
	}

	if hasSummarizeIntent(prompt) && len(r.Inputs) > 0 && len(r.Outputs) > 0 {
		r.Decision = Structured
	}
	return r
}

func hasSummarizeIntent(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, kw := range summarizeKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
