package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/flowlens/flowlens/pkg/logging"
)

const (
	defaultVisionBaseURL = "https://api.anthropic.com"
	defaultVisionModel   = "claude-3-5-sonnet-latest"
	defaultPromptVersion = "v2"
	defaultMaxTokens     = 1024
	defaultVisionTimeout = 60 * time.Second
	anthropicAPIVersion  = "2023-06-01"
)

// Pricing per million tokens, used for per-call cost accounting.
const (
	defaultPromptPriceUSD     = 3.0
	defaultCompletionPriceUSD = 15.0
)

// Config configures the vision verifier.
type Config struct {
	APIKey        string        `yaml:"api_key"`
	BaseURL       string        `yaml:"base_url"`
	Model         string        `yaml:"model"`
	PromptVersion string        `yaml:"prompt_version"`
	MaxTokens     int           `yaml:"max_tokens"`
	Timeout       time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the recommended verifier defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:       defaultVisionBaseURL,
		Model:         defaultVisionModel,
		PromptVersion: defaultPromptVersion,
		MaxTokens:     defaultMaxTokens,
		Timeout:       defaultVisionTimeout,
	}
}

// Verifier is a stateless client for the vision model endpoint.
type Verifier struct {
	cfg        Config
	httpClient *http.Client
	logger     *logging.Logger
}

// NewVerifier builds a vision verifier. A missing API key is not an error
// here: it surfaces as an error-status analysis on the first Analyze call, so
// a misconfigured run still produces a result.
func NewVerifier(cfg Config, logger *logging.Logger) *Verifier {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultVisionBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultVisionModel
	}
	if cfg.PromptVersion == "" {
		cfg.PromptVersion = defaultPromptVersion
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultVisionTimeout
	}
	return &Verifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Model returns the configured model identifier.
func (v *Verifier) Model() string { return v.cfg.Model }

// PromptVersion returns the configured prompt version.
func (v *Verifier) PromptVersion() string { return v.cfg.PromptVersion }

// Analyze sends the screenshot and assertion to the vision model and parses a
// structured verdict. All failure modes come back as an error-status analysis.
func (v *Verifier) Analyze(ctx context.Context, image []byte, intent, assertion string) *Analysis {
	if strings.TrimSpace(v.cfg.APIKey) == "" {
		return ErrorAnalysis("vision api key not configured")
	}
	if len(image) == 0 {
		return ErrorAnalysis("empty screenshot")
	}

	text, inputTokens, outputTokens, err := v.call(ctx, image, buildPrompt(intent, assertion, v.cfg.PromptVersion))
	if err != nil {
		v.logEvent(logging.LevelError, "vision_call_failed", map[string]any{"error": err.Error()})
		return ErrorAnalysis(fmt.Sprintf("vision model call failed: %v", err))
	}

	analysis, err := parseVerdict(text)
	if err != nil {
		v.logEvent(logging.LevelError, "vision_parse_failed", map[string]any{
			"error":    err.Error(),
			"response": truncate(text, 200),
		})
		return ErrorAnalysis(fmt.Sprintf("unparseable vision response: %v", err))
	}

	analysis.InputTokens = inputTokens
	analysis.OutputTokens = outputTokens
	analysis.CostUSD = callCost(inputTokens, outputTokens)

	v.logEvent(logging.LevelInfo, "vision_verdict", map[string]any{
		"status":     string(analysis.Status),
		"confidence": analysis.Confidence,
	})
	if v.logger != nil {
		_ = v.logger.Log(logging.Event{
			Level:     logging.LevelInfo,
			Category:  logging.CategoryCost,
			EventType: "vision_call",
			Details: map[string]any{
				"model":         v.cfg.Model,
				"input_tokens":  inputTokens,
				"output_tokens": outputTokens,
				"cost_usd":      analysis.CostUSD,
			},
		})
	}
	return analysis
}

// buildPrompt produces the deterministic verification prompt. The prompt text
// is part of the cache key (via promptVersion), so any wording change must
// bump the version.
func buildPrompt(intent, assertion, promptVersion string) string {
	return fmt.Sprintf(`You are verifying a web page screenshot for an automated UX check (prompt %s).

The user's goal for this page: %s

Assertion to verify against the screenshot: %s

Judge whether a user could visually confirm the assertion on this screenshot.
Respond with only a JSON object, no markdown, in exactly this shape:
{"canComplete": true or false, "confidence": 0-100, "issues": ["problems you see"], "suggestions": ["improvements"]}`,
		promptVersion, intent, assertion)
}

type visionRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []visionMessage `json:"messages"`
}

type visionMessage struct {
	Role    string         `json:"role"`
	Content []visionContent `json:"content"`
}

type visionContent struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type visionResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (v *Verifier) call(ctx context.Context, image []byte, prompt string) (string, int, int, error) {
	req := visionRequest{
		Model:     v.cfg.Model,
		MaxTokens: v.cfg.MaxTokens,
		Messages: []visionMessage{
			{
				Role: "user",
				Content: []visionContent{
					{
						Type: "image",
						Source: &imageSource{
							Type:      "base64",
							MediaType: "image/png",
							Data:      base64.StdEncoding.EncodeToString(image),
						},
					},
					{
						Type: "text",
						Text: prompt,
					},
				},
			},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", 0, 0, fmt.Errorf("marshal vision request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", v.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", 0, 0, err
	}
	httpReq.Header.Set("x-api-key", v.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	httpReq.Header.Set("content-type", "application/json")

	resp, err := v.httpClient.Do(httpReq)
	if err != nil {
		return "", 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, 0, fmt.Errorf("vision request failed: %s", resp.Status)
	}

	var vr visionResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return "", 0, 0, fmt.Errorf("decode vision response: %w", err)
	}

	var parts []string
	for _, c := range vr.Content {
		parts = append(parts, c.Text)
	}
	return strings.Join(parts, "\n"), vr.Usage.InputTokens, vr.Usage.OutputTokens, nil
}

func callCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*defaultPromptPriceUSD/1e6 +
		float64(outputTokens)*defaultCompletionPriceUSD/1e6
}

func (v *Verifier) logEvent(level logging.Level, eventType string, details map[string]any) {
	if v.logger == nil {
		return
	}
	_ = v.logger.Log(logging.Event{
		Level:     level,
		Category:  logging.CategoryVision,
		EventType: eventType,
		Details:   details,
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
