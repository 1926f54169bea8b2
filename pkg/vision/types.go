// Package vision judges whether a page screenshot satisfies a natural-language
// assertion by asking an AI vision model for a structured verdict.
package vision

import "context"

// Status is the outcome of one vision verification.
type Status string

const (
	StatusPass  Status = "pass"
	StatusFail  Status = "fail"
	StatusError Status = "error"
)

// Analysis is the structured verdict for one screenshot assertion. It is
// produced once per screenshot step and never mutated after creation.
type Analysis struct {
	Status      Status   `json:"status"`
	Confidence  int      `json:"confidence"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Error       string   `json:"error,omitempty"`

	// Accounting for the model call that produced this analysis. Zero for
	// cache hits and mock verdicts.
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
	Cached       bool    `json:"cached,omitempty"`
}

// Analyzer is the vision verification contract consumed by the runner and the
// cache. Implementations must report model/config/parse failures as an
// error-status Analysis, never as a panic or process failure.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte, intent, assertion string) *Analysis
	Model() string
	PromptVersion() string
}

// ClampConfidence clamps a raw model confidence into [0,100].
func ClampConfidence(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// ErrorAnalysis builds an error-status analysis with the given message.
func ErrorAnalysis(msg string) *Analysis {
	return &Analysis{Status: StatusError, Error: msg}
}
