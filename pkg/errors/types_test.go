package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := New(ErrCodePoolExhausted, "no session available").
		WithContext("wait", "30s").
		WithRetryable(true)

	msg := err.Error()
	if !strings.Contains(msg, "[POOL_EXHAUSTED]") {
		t.Errorf("expected code in message, got %q", msg)
	}
	if !strings.Contains(msg, "no session available") {
		t.Errorf("expected message text, got %q", msg)
	}
	if !strings.Contains(msg, "wait: 30s") {
		t.Errorf("expected context in message, got %q", msg)
	}
	if !err.Retryable {
		t.Error("expected retryable error")
	}
}

func TestWrapNil(t *testing.T) {
	if got := Wrap(nil, ErrCodeInternal, "should be nil"); got != nil {
		t.Errorf("Wrap(nil) = %v, want nil", got)
	}
}

func TestWrapUnwrap(t *testing.T) {
	base := stderrors.New("connection refused")
	wrapped := Wrap(base, ErrCodeSessionFatal, "session lost")

	if !stderrors.Is(wrapped, base) {
		t.Error("expected errors.Is to find the underlying error")
	}
	if !strings.Contains(wrapped.Error(), "connection refused") {
		t.Errorf("expected underlying message, got %q", wrapped.Error())
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	inner := New(ErrCodeCacheBackend, "sqlite busy")
	outer := fmt.Errorf("verify step: %w", inner)

	if !IsCode(outer, ErrCodeCacheBackend) {
		t.Error("expected IsCode to see through fmt.Errorf wrapping")
	}
	if IsCode(outer, ErrCodePoolExhausted) {
		t.Error("unexpected code match")
	}
	if IsCode(stderrors.New("plain"), ErrCodeCacheBackend) {
		t.Error("plain errors should not match any code")
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(nil); got != "" {
		t.Errorf("GetCode(nil) = %q, want empty", got)
	}
	if got := GetCode(stderrors.New("plain")); got != ErrCodeInternal {
		t.Errorf("GetCode(plain) = %q, want INTERNAL", got)
	}
	if got := GetCode(New(ErrCodeVisionParse, "no json")); got != ErrCodeVisionParse {
		t.Errorf("GetCode = %q, want VISION_PARSE", got)
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(New(ErrCodeSessionFatal, "gone")) {
		t.Error("errors are not retryable by default")
	}
	retryable := fmt.Errorf("wrapped: %w", New(ErrCodePoolExhausted, "full").WithRetryable(true))
	if !IsRetryable(retryable) {
		t.Error("expected retryable through wrapping")
	}
}
