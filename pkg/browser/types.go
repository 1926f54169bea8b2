package browser

import "time"

// Viewport defines the browser viewport size.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SessionStatus tracks a session through its lifecycle.
type SessionStatus string

const (
	SessionCreating    SessionStatus = "creating"
	SessionReady       SessionStatus = "ready"
	SessionInUse       SessionStatus = "in-use"
	SessionTerminating SessionStatus = "terminating"
	SessionTerminated  SessionStatus = "terminated"
)

// Session is a leasable handle to one remote browser instance. It is owned
// exclusively by the pool until leased; while leased, ownership transfers to
// the borrowing run, which must return it via Release.
type Session struct {
	ID              string        `json:"id"`
	Status          SessionStatus `json:"status"`
	ConnectEndpoint string        `json:"connect_endpoint"`
	CreatedAt       time.Time     `json:"created_at"`
	ExpiresAt       time.Time     `json:"expires_at"`

	lastIdle time.Time
}

// PoolStats is a point-in-time snapshot of pool occupancy.
type PoolStats struct {
	Idle   int `json:"idle"`
	Active int `json:"active"`
	Total  int `json:"total"`
}

// SessionOptions configures a remote session at creation time.
type SessionOptions struct {
	Viewport  Viewport      `json:"viewport"`
	Lifetime  time.Duration `json:"lifetime,omitempty"`
	UserAgent string        `json:"user_agent,omitempty"`
	Locale    string        `json:"locale,omitempty"`
}

// DefaultSessionOptions returns the recommended session defaults.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		Viewport: Viewport{Width: 1280, Height: 720},
	}
}

// TerminateResult is returned by the provider when a session is torn down.
type TerminateResult struct {
	RecordingURL string `json:"recording_url,omitempty"`
}
