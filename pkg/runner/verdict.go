package runner

import (
	"math"

	"github.com/flowlens/flowlens/pkg/vision"
)

// DefaultConfidence is the a-priori confidence reported when a run carries no
// vision analyses to average.
const DefaultConfidence = 100

// Aggregate computes the flow verdict and confidence from a completed step
// list. It is a pure function: error dominates fail dominates pass, and
// confidence is the rounded mean of all non-error analysis confidences,
// falling back to defaultConfidence when there are none.
func Aggregate(steps []StepResult, defaultConfidence int) (Verdict, int) {
	anyError := false
	anyFail := false
	sum := 0
	count := 0

	for _, step := range steps {
		if step.Fatal {
			anyError = true
		}
		if !step.Success {
			anyFail = true
		}
		if a := step.Analysis; a != nil {
			if a.Status == vision.StatusError {
				anyError = true
			} else {
				sum += vision.ClampConfidence(a.Confidence)
				count++
			}
		}
	}

	confidence := defaultConfidence
	if count > 0 {
		confidence = int(math.Round(float64(sum) / float64(count)))
	}
	confidence = vision.ClampConfidence(confidence)

	switch {
	case anyError:
		return VerdictError, confidence
	case anyFail:
		return VerdictFail, confidence
	default:
		return VerdictPass, confidence
	}
}
