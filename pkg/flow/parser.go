package flow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseError represents a parsing error with location info.
type ParseError struct {
	Path    string
	Message string
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ParseFile parses a single YAML flow file and validates it.
func ParseFile(path string) (*Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow file: %w", err)
	}
	return Parse(data, path)
}

// Parse parses YAML flow content and validates it.
func Parse(data []byte, sourcePath string) (*Flow, error) {
	var f Flow
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &ParseError{Path: sourcePath, Message: fmt.Sprintf("invalid yaml: %v", err)}
	}
	f.SourcePath = sourcePath

	if f.Viewport == (Viewport{}) {
		f.Viewport = DefaultViewport
	}

	if err := f.Validate(); err != nil {
		return nil, &ParseError{Path: sourcePath, Message: err.Error()}
	}
	return &f, nil
}
