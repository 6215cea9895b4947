// Package llm provides the text-completion backends used by the assistant
// pipeline and helpers to recover JSON from model output.
package llm

import (
	"context"
	"errors"
)

// Completer turns a prompt into model text. Implementations must be safe for
// concurrent use and keep no state between calls.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a plain function to Completer.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// ErrEmptyResponse is returned when a backend answers with no text.
var ErrEmptyResponse = errors.New("llm: empty response")

// Named is implemented by completers that report a tier label for logs.
type Named interface {
	Name() string
}

// NameOf returns the label of c or "completer".
func NameOf(c Completer) string {
	if n, ok := c.(Named); ok {
		return n.Name()
	}
	return "completer"
}
