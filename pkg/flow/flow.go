// Package flow handles parsing and representation of flowlens YAML flow files.
package flow

import (
	"fmt"
	"time"
)

// Action is the closed set of step actions a flow may perform.
type Action string

const (
	ActionNavigate   Action = "navigate"
	ActionClick      Action = "click"
	ActionType       Action = "type"
	ActionScroll     Action = "scroll"
	ActionWait       Action = "wait"
	ActionScreenshot Action = "screenshot"
)

// Actions lists every supported action, in declaration order.
var Actions = []Action{
	ActionNavigate,
	ActionClick,
	ActionType,
	ActionScroll,
	ActionWait,
	ActionScreenshot,
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionNavigate, ActionClick, ActionType, ActionScroll, ActionWait, ActionScreenshot:
		return true
	}
	return false
}

// Viewport defines the browser viewport size for a flow run.
type Viewport struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// Duration wraps time.Duration so YAML flow files can use "5s"-style values.
type Duration time.Duration

// UnmarshalYAML accepts either a duration string ("30s") or integer nanoseconds.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(v)
	case int64:
		*d = Duration(v)
	case float64:
		*d = Duration(int64(v))
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Step is one action within a flow. Identity is its index within the flow.
type Step struct {
	Action  Action   `yaml:"action" json:"action"`
	Target  string   `yaml:"target,omitempty" json:"target,omitempty"`
	Value   string   `yaml:"value,omitempty" json:"value,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Assert  string   `yaml:"assert,omitempty" json:"assert,omitempty"`
}

// Flow is a named, ordered sequence of browser actions plus a natural-language
// intent. A Flow is immutable once loaded for a run.
type Flow struct {
	SourcePath string   `yaml:"-" json:"-"`
	Name       string   `yaml:"name" json:"name"`
	Intent     string   `yaml:"intent" json:"intent"`
	URL        string   `yaml:"url" json:"url"`
	Viewport   Viewport `yaml:"viewport" json:"viewport"`
	Steps      []Step   `yaml:"steps" json:"steps"`
}

// DefaultViewport is used when a flow does not declare one.
var DefaultViewport = Viewport{Width: 1280, Height: 720}

// Validate checks the flow for structural problems before execution.
func (f *Flow) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("flow name is required")
	}
	if f.URL == "" {
		return fmt.Errorf("flow %q: url is required", f.Name)
	}
	if len(f.Steps) == 0 {
		return fmt.Errorf("flow %q: at least one step is required", f.Name)
	}
	for i, step := range f.Steps {
		if !step.Action.Valid() {
			return fmt.Errorf("flow %q: step %d: unknown action %q", f.Name, i, step.Action)
		}
		switch step.Action {
		case ActionNavigate:
			if step.Target == "" {
				return fmt.Errorf("flow %q: step %d: navigate requires a target url", f.Name, i)
			}
		case ActionClick:
			if step.Target == "" {
				return fmt.Errorf("flow %q: step %d: click requires a target selector", f.Name, i)
			}
		case ActionType:
			if step.Target == "" {
				return fmt.Errorf("flow %q: step %d: type requires a target selector", f.Name, i)
			}
		case ActionWait:
			if step.Value == "" && step.Target == "" {
				return fmt.Errorf("flow %q: step %d: wait requires a duration value or a target selector", f.Name, i)
			}
		}
		if step.Assert != "" && step.Action != ActionScreenshot {
			return fmt.Errorf("flow %q: step %d: assert is only valid on screenshot steps", f.Name, i)
		}
		if step.Timeout < 0 {
			return fmt.Errorf("flow %q: step %d: timeout must not be negative", f.Name, i)
		}
	}
	return nil
}

// AssertionCount returns the number of screenshot steps carrying an assertion.
func (f *Flow) AssertionCount() int {
	n := 0
	for _, step := range f.Steps {
		if step.Action == ActionScreenshot && step.Assert != "" {
			n++
		}
	}
	return n
}
