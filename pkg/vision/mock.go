package vision

import (
	"context"
	"strings"
	"sync"
)

// MockVerifier returns canned verdicts without calling a model. It backs the
// CLI's --mock mode and the test suites of dependent packages.
type MockVerifier struct {
	mu       sync.Mutex
	verdicts map[string]*Analysis
	calls    int
}

// NewMockVerifier creates a mock that passes every assertion with high
// confidence unless a canned verdict is registered.
func NewMockVerifier() *MockVerifier {
	return &MockVerifier{verdicts: make(map[string]*Analysis)}
}

// Stub registers a canned analysis for assertions containing the substring.
func (m *MockVerifier) Stub(assertionSubstring string, analysis *Analysis) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verdicts[assertionSubstring] = analysis
}

// Calls reports how many times Analyze ran.
func (m *MockVerifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Analyze returns the canned verdict for the assertion, or a high-confidence
// pass.
func (m *MockVerifier) Analyze(ctx context.Context, image []byte, intent, assertion string) *Analysis {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	for substr, analysis := range m.verdicts {
		if strings.Contains(assertion, substr) {
			copied := *analysis
			return &copied
		}
	}
	return &Analysis{Status: StatusPass, Confidence: 92}
}

// Model identifies the mock in cache keys.
func (m *MockVerifier) Model() string { return "mock" }

// PromptVersion identifies the mock prompt in cache keys.
func (m *MockVerifier) PromptVersion() string { return "mock-v1" }
