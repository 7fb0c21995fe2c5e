// Package speech defines the external summarizer and speech synthesizer
// interfaces plus a size-gated audio cache tuned for short recurring phrases.
package speech

import (
	"context"
	"errors"
	"fmt"
)

// Summarizer produces a short spoken-style summary of session output.
type Summarizer interface {
	Summarize(ctx context.Context, instruction, content string) (string, error)
}

// Synthesizer converts text to audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, speed float64) ([]byte, error)
}

// ConfigError indicates provider misconfiguration (missing key, rejected
// credentials). Retrying cannot fix it, so the task layer treats it as a
// hard failure instead of burning its retry budget.
type ConfigError struct {
	Provider string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("speech provider %s misconfigured: %s", e.Provider, e.Reason)
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
