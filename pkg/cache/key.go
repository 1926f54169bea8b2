package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Key identifies one vision verdict by everything that influences it. Two
// analyses share a key only when the screenshot bytes, the assertion text, the
// model, and the prompt version all match.
type Key struct {
	ScreenshotHash string
	Assertion      string
	Model          string
	PromptVersion  string
}

// HashScreenshot returns the hex SHA-256 of the raw screenshot bytes.
func HashScreenshot(image []byte) string {
	sum := sha256.Sum256(image)
	return hex.EncodeToString(sum[:])
}

// String returns the canonical cache key: a SHA-256 over the length-prefixed
// fields. Length prefixes keep ("ab","c") and ("a","bc") from colliding.
func (k Key) String() string {
	h := sha256.New()
	for _, field := range []string{k.ScreenshotHash, k.Assertion, k.Model, k.PromptVersion} {
		fmt.Fprintf(h, "%d:%s", len(field), field)
	}
	return hex.EncodeToString(h.Sum(nil))
}
