package browser

import (
	"context"
	"errors"
	"time"

	flerrors "github.com/flowlens/flowlens/pkg/errors"
)

// Driver executes actions against one connected browser session. A driver is
// owned by a single run and must not be shared across goroutines.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Scroll(ctx context.Context, target string) error
	WaitFor(ctx context.Context, selector string) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Connector opens a Driver against a leased session.
type Connector func(ctx context.Context, sess *Session) (Driver, error)

// Driver action timeout defaults, overridable per step by the caller.
const (
	DefaultNavigateTimeout   = 30 * time.Second
	DefaultActionTimeout     = 10 * time.Second
	DefaultScreenshotTimeout = 15 * time.Second
)

// IsSessionFatal reports whether err means the session connection is gone and
// the remaining steps of a run cannot execute.
func IsSessionFatal(err error) bool {
	if err == nil {
		return false
	}
	return flerrors.IsCode(err, flerrors.ErrCodeSessionFatal)
}

// IsPoolExhausted reports whether err is a recoverable pool-capacity failure.
func IsPoolExhausted(err error) bool {
	if err == nil {
		return false
	}
	return flerrors.IsCode(err, flerrors.ErrCodePoolExhausted)
}

var errDriverClosed = errors.New("driver closed")
