// Package runner drives one parsed flow against a leased browser session and
// aggregates the per-step outcomes into a flow verdict.
package runner

import (
	"time"

	"github.com/flowlens/flowlens/pkg/flow"
	"github.com/flowlens/flowlens/pkg/vision"
)

// Verdict is the overall outcome of a flow run.
type Verdict string

const (
	VerdictPass  Verdict = "pass"
	VerdictFail  Verdict = "fail"
	VerdictError Verdict = "error"
)

// StepStatus tracks a step through its state machine.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// StepResult records the outcome of one executed step. Immutable once the
// step completes.
type StepResult struct {
	Index      int         `json:"index"`
	Action     flow.Action `json:"action"`
	Target     string      `json:"target,omitempty"`
	Status     StepStatus  `json:"status"`
	Success    bool        `json:"success"`
	DurationMS int64       `json:"duration_ms"`
	Error      string      `json:"error,omitempty"`

	// Fatal marks a session-level failure that aborted the run; remaining
	// steps are absent from the result, not synthesized.
	Fatal bool `json:"fatal,omitempty"`

	ScreenshotHash string           `json:"screenshot_hash,omitempty"`
	ScreenshotPath string           `json:"screenshot_path,omitempty"`
	Analysis       *vision.Analysis `json:"analysis,omitempty"`
}

// FlowRunResult is the immutable record of one flow execution, handed to
// persistence and reporting once built.
type FlowRunResult struct {
	ID          string        `json:"id"`
	FlowName    string        `json:"flow_name"`
	Intent      string        `json:"intent,omitempty"`
	URL         string        `json:"url"`
	Viewport    flow.Viewport `json:"viewport"`
	SessionID   string        `json:"session_id,omitempty"`
	Verdict     Verdict       `json:"verdict"`
	Confidence  int           `json:"confidence"`
	Steps       []StepResult  `json:"steps"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	DurationMS  int64         `json:"duration_ms"`
	Error       string        `json:"error,omitempty"`
	CostUSD     float64       `json:"cost_usd,omitempty"`
}
