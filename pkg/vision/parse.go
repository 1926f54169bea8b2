package vision

import (
	"encoding/json"
	"fmt"
	"strings"
)

// verdictPayload is the JSON shape the model is instructed to return.
type verdictPayload struct {
	CanComplete *bool    `json:"canComplete"`
	Confidence  *float64 `json:"confidence"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
}

// parseVerdict extracts the verdict object from free-form model output. Models
// wrap JSON in prose and code fences often enough that this has to be
// defensive: it finds the first balanced JSON object and decodes that.
func parseVerdict(response string) (*Analysis, error) {
	obj, err := extractJSONObject(response)
	if err != nil {
		return nil, err
	}

	var payload verdictPayload
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		return nil, fmt.Errorf("decode verdict object: %w", err)
	}
	if payload.CanComplete == nil {
		return nil, fmt.Errorf("verdict object missing canComplete")
	}

	confidence := 0
	if payload.Confidence != nil {
		confidence = ClampConfidence(int(*payload.Confidence))
	}

	status := StatusFail
	if *payload.CanComplete {
		status = StatusPass
	}

	return &Analysis{
		Status:      status,
		Confidence:  confidence,
		Issues:      payload.Issues,
		Suggestions: payload.Suggestions,
	}, nil
}

// extractJSONObject returns the first balanced JSON object in s, tolerating
// surrounding prose and markdown code fences.
func extractJSONObject(s string) (string, error) {
	s = stripCodeFences(s)

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object found in model response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON object in model response")
}

func stripCodeFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	var sb strings.Builder
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}
