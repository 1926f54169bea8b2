package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/flowlens/flowlens/pkg/browser"
	"github.com/flowlens/flowlens/pkg/cache"
	"github.com/flowlens/flowlens/pkg/flow"
	"github.com/flowlens/flowlens/pkg/logging"
	"github.com/flowlens/flowlens/pkg/vision"
)

// Config controls run execution.
type Config struct {
	// ArtifactsDir, when set, receives one PNG per screenshot step under
	// <dir>/<run-id>/.
	ArtifactsDir string

	// VisionEnabled gates model verification. When false, screenshot steps
	// still capture and hash the page but assertions are not judged.
	VisionEnabled bool

	// DefaultConfidence is reported for runs with no vision analyses.
	DefaultConfidence int
}

// DefaultRunnerConfig returns the recommended runner defaults.
func DefaultRunnerConfig() Config {
	return Config{
		VisionEnabled:     true,
		DefaultConfidence: DefaultConfidence,
	}
}

// Runner executes flows against pooled browser sessions.
type Runner struct {
	pool     *browser.SessionPool
	connect  browser.Connector
	analyzer vision.Analyzer
	cache    *cache.Cache
	logger   *logging.Logger
	cfg      Config
}

// NewRunner wires a runner. cache may be nil, in which case every assertion
// calls the analyzer directly.
func NewRunner(pool *browser.SessionPool, connect browser.Connector, analyzer vision.Analyzer, visionCache *cache.Cache, logger *logging.Logger, cfg Config) *Runner {
	if cfg.DefaultConfidence == 0 {
		cfg.DefaultConfidence = DefaultConfidence
	}
	return &Runner{
		pool:     pool,
		connect:  connect,
		analyzer: analyzer,
		cache:    visionCache,
		logger:   logger,
		cfg:      cfg,
	}
}

// Execute drives the flow to completion and always returns a FlowRunResult.
// Pool exhaustion and session-connect failures surface as an error verdict on
// the result, never as a bare error.
func (r *Runner) Execute(ctx context.Context, f *flow.Flow) *FlowRunResult {
	result := &FlowRunResult{
		ID:        ulid.Make().String(),
		FlowName:  f.Name,
		Intent:    f.Intent,
		URL:       f.URL,
		Viewport:  f.Viewport,
		StartedAt: time.Now(),
	}
	defer func() {
		result.CompletedAt = time.Now()
		result.DurationMS = result.CompletedAt.Sub(result.StartedAt).Milliseconds()
		metricRuns.WithLabelValues(string(result.Verdict)).Inc()
		metricRunDuration.Observe(result.CompletedAt.Sub(result.StartedAt).Seconds())
	}()

	r.logEvent(logging.LevelInfo, logging.CategoryFlow, "flow_started", result, map[string]any{
		"steps": len(f.Steps),
	})

	sess, err := r.pool.Acquire(ctx)
	if err != nil {
		result.Verdict = VerdictError
		result.Error = fmt.Sprintf("acquire session: %v", err)
		r.logEvent(logging.LevelError, logging.CategoryFlow, "flow_acquire_failed", result, map[string]any{"error": err.Error()})
		return result
	}
	result.SessionID = sess.ID
	defer func() {
		if err := r.pool.Release(sess.ID); err != nil {
			r.logEvent(logging.LevelWarn, logging.CategoryPool, "release_failed", result, map[string]any{"error": err.Error()})
		}
	}()

	driver, err := r.connect(ctx, sess)
	if err != nil {
		result.Verdict = VerdictError
		result.Error = fmt.Sprintf("connect session: %v", err)
		r.logEvent(logging.LevelError, logging.CategoryFlow, "flow_connect_failed", result, map[string]any{"error": err.Error()})
		return result
	}
	defer driver.Close()

	for i, step := range f.Steps {
		stepResult := r.runStep(ctx, driver, f, result, i, step)
		result.Steps = append(result.Steps, stepResult)
		if a := stepResult.Analysis; a != nil {
			result.CostUSD += a.CostUSD
		}
		if stepResult.Fatal {
			result.Error = stepResult.Error
			break
		}
	}

	result.Verdict, result.Confidence = Aggregate(result.Steps, r.cfg.DefaultConfidence)

	r.logEvent(logging.LevelInfo, logging.CategoryFlow, "flow_completed", result, map[string]any{
		"verdict":    string(result.Verdict),
		"confidence": result.Confidence,
		"steps_run":  len(result.Steps),
		"cost_usd":   result.CostUSD,
	})
	return result
}

func (r *Runner) runStep(ctx context.Context, driver browser.Driver, f *flow.Flow, run *FlowRunResult, index int, step flow.Step) StepResult {
	sr := StepResult{
		Index:  index,
		Action: step.Action,
		Target: step.Target,
		Status: StepRunning,
	}
	start := time.Now()
	defer func() {
		sr.DurationMS = time.Since(start).Milliseconds()
		if sr.Success {
			sr.Status = StepSucceeded
		} else {
			sr.Status = StepFailed
		}
		level := logging.LevelInfo
		if !sr.Success {
			level = logging.LevelWarn
		}
		r.logEvent(level, logging.CategoryStep, "step_"+string(sr.Status), run, map[string]any{
			"index":       index,
			"action":      string(step.Action),
			"duration_ms": sr.DurationMS,
			"error":       sr.Error,
		})
	}()

	stepCtx, cancel := context.WithTimeout(ctx, stepTimeout(step))
	defer cancel()

	err := r.performAction(stepCtx, driver, f, run, step, &sr)
	if err != nil {
		sr.Error = err.Error()
		sr.Fatal = browser.IsSessionFatal(err)
		return sr
	}
	if sr.Error == "" {
		sr.Success = true
	}
	return sr
}

func (r *Runner) performAction(ctx context.Context, driver browser.Driver, f *flow.Flow, run *FlowRunResult, step flow.Step, sr *StepResult) error {
	switch step.Action {
	case flow.ActionNavigate:
		return driver.Navigate(ctx, step.Target)
	case flow.ActionClick:
		return driver.Click(ctx, step.Target)
	case flow.ActionType:
		return driver.Type(ctx, step.Target, step.Value)
	case flow.ActionScroll:
		return driver.Scroll(ctx, step.Target)
	case flow.ActionWait:
		return r.performWait(ctx, driver, step)
	case flow.ActionScreenshot:
		return r.performScreenshot(ctx, driver, f, run, step, sr)
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
}

// performWait sleeps for the step value when it parses as a duration, and
// waits for the target selector otherwise.
func (r *Runner) performWait(ctx context.Context, driver browser.Driver, step flow.Step) error {
	if step.Value != "" {
		d, err := time.ParseDuration(step.Value)
		if err != nil {
			return fmt.Errorf("invalid wait duration %q: %w", step.Value, err)
		}
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return driver.WaitFor(ctx, step.Target)
}

func (r *Runner) performScreenshot(ctx context.Context, driver browser.Driver, f *flow.Flow, run *FlowRunResult, step flow.Step, sr *StepResult) error {
	image, err := driver.Screenshot(ctx)
	if err != nil {
		return err
	}
	sr.ScreenshotHash = cache.HashScreenshot(image)

	if r.cfg.ArtifactsDir != "" {
		path, err := r.writeArtifact(run.ID, sr.Index, image)
		if err != nil {
			r.logEvent(logging.LevelWarn, logging.CategoryStep, "artifact_write_failed", run, map[string]any{
				"index": sr.Index,
				"error": err.Error(),
			})
		} else {
			sr.ScreenshotPath = path
		}
	}

	if step.Assert == "" || !r.cfg.VisionEnabled {
		return nil
	}

	analysis := r.verify(ctx, image, sr.ScreenshotHash, f.Intent, step.Assert)
	sr.Analysis = analysis
	if analysis.Status != vision.StatusPass {
		if analysis.Status == vision.StatusError {
			sr.Error = analysis.Error
		} else {
			sr.Error = fmt.Sprintf("assertion not satisfied: %s", step.Assert)
		}
	}
	return nil
}

func (r *Runner) verify(ctx context.Context, image []byte, hash, intent, assertion string) *vision.Analysis {
	if r.cache == nil {
		return r.analyzer.Analyze(ctx, image, intent, assertion)
	}
	key := cache.Key{
		ScreenshotHash: hash,
		Assertion:      assertion,
		Model:          r.analyzer.Model(),
		PromptVersion:  r.analyzer.PromptVersion(),
	}
	return r.cache.GetOrCompute(ctx, key, func(ctx context.Context) *vision.Analysis {
		return r.analyzer.Analyze(ctx, image, intent, assertion)
	})
}

func (r *Runner) writeArtifact(runID string, stepIndex int, image []byte) (string, error) {
	dir := filepath.Join(r.cfg.ArtifactsDir, runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("step-%03d.png", stepIndex))
	if err := os.WriteFile(path, image, 0644); err != nil {
		return "", err
	}
	return path, nil
}

func stepTimeout(step flow.Step) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout.Std()
	}
	switch step.Action {
	case flow.ActionNavigate:
		return browser.DefaultNavigateTimeout
	case flow.ActionScreenshot:
		return browser.DefaultScreenshotTimeout
	default:
		return browser.DefaultActionTimeout
	}
}

func (r *Runner) logEvent(level logging.Level, category logging.Category, eventType string, run *FlowRunResult, details map[string]any) {
	if r.logger == nil {
		return
	}
	_ = r.logger.Log(logging.Event{
		Level:     level,
		Category:  category,
		EventType: eventType,
		RunID:     run.ID,
		FlowName:  run.FlowName,
		SessionID: run.SessionID,
		Details:   details,
	})
}
