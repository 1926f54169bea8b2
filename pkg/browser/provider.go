package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	flerrors "github.com/flowlens/flowlens/pkg/errors"
)

// RemoteSession is the provider's view of a created session.
type RemoteSession struct {
	ID              string    `json:"id"`
	ConnectEndpoint string    `json:"connect_url"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Provider is the remote browser session provider contract.
type Provider interface {
	CreateSession(ctx context.Context, opts SessionOptions) (*RemoteSession, error)
	GetSession(ctx context.Context, id string) (SessionStatus, error)
	TerminateSession(ctx context.Context, id string) (*TerminateResult, error)
}

const defaultProviderTimeout = 30 * time.Second

// HTTPProvider talks to a remote browser provider over its REST API.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPProvider builds a provider client for the given endpoint.
func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: defaultProviderTimeout,
		},
	}
}

type createSessionRequest struct {
	Viewport  Viewport `json:"viewport"`
	LifetimeS int64    `json:"lifetime_seconds,omitempty"`
	UserAgent string   `json:"user_agent,omitempty"`
	Locale    string   `json:"locale,omitempty"`
}

// CreateSession allocates a new remote browser session.
func (p *HTTPProvider) CreateSession(ctx context.Context, opts SessionOptions) (*RemoteSession, error) {
	reqBody := createSessionRequest{
		Viewport:  opts.Viewport,
		UserAgent: opts.UserAgent,
		Locale:    opts.Locale,
	}
	if opts.Lifetime > 0 {
		reqBody.LifetimeS = int64(opts.Lifetime.Seconds())
	}

	var sess RemoteSession
	if err := p.do(ctx, http.MethodPost, "/v1/sessions", reqBody, &sess); err != nil {
		return nil, err
	}
	if sess.ID == "" {
		return nil, flerrors.New(flerrors.ErrCodeInternal, "provider returned session without id")
	}
	return &sess, nil
}

type getSessionResponse struct {
	Status SessionStatus `json:"status"`
}

// GetSession reports the provider-side status of a session.
func (p *HTTPProvider) GetSession(ctx context.Context, id string) (SessionStatus, error) {
	var resp getSessionResponse
	if err := p.do(ctx, http.MethodGet, "/v1/sessions/"+id, nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// TerminateSession tears down a remote session.
func (p *HTTPProvider) TerminateSession(ctx context.Context, id string) (*TerminateResult, error) {
	var result TerminateResult
	if err := p.do(ctx, http.MethodDelete, "/v1/sessions/"+id, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal provider request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("x-request-id", uuid.NewString())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return flerrors.Wrap(err, flerrors.ErrCodeNetworkIO, "provider request failed").
			WithContext("method", method).
			WithContext("path", path).
			WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		e := flerrors.New(flerrors.ErrCodeNetworkIO, fmt.Sprintf("provider request failed: %s", resp.Status)).
			WithContext("method", method).
			WithContext("path", path).
			WithContext("body", string(snippet))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			e = e.WithRetryable(true)
		}
		return e
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}
