package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/noah-isme/sma-adp-assistant/internal/prompt"
)

// ScriptedLLM answers prompts from per-kind queues. The last answer of a
// queue repeats once the queue is drained.
type ScriptedLLM struct {
	mu        sync.Mutex
	responses map[prompt.Kind][]string
	errs      map[prompt.Kind]error
	prompts   map[prompt.Kind][]string
	// Hook runs before every answer; a non-nil error is returned instead.
	Hook func(ctx context.Context, kind prompt.Kind) error
}

// NewScriptedLLM returns an empty script.
func NewScriptedLLM() *ScriptedLLM {
	return &ScriptedLLM{
		responses: make(map[prompt.Kind][]string),
		errs:      make(map[prompt.Kind]error),
		prompts:   make(map[prompt.Kind][]string),
	}
}

// On queues answers for a prompt kind.
func (s *ScriptedLLM) On(kind prompt.Kind, answers ...string) *ScriptedLLM {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[kind] = append(s.responses[kind], answers...)
	return s
}

// Fail makes every prompt of kind return err.
func (s *ScriptedLLM) Fail(kind prompt.Kind, err error) *ScriptedLLM {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[kind] = err
	return s
}

// Name implements llm.Named.
func (s *ScriptedLLM) Name() string { return "scripted" }

// Complete implements llm.Completer.
func (s *ScriptedLLM) Complete(ctx context.Context, p string) (string, error) {
	kind := prompt.KindOf(p)
	s.mu.Lock()
	s.prompts[kind] = append(s.prompts[kind], p)
	hook := s.Hook
	s.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, kind); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[kind]; err != nil {
		return "", err
	}
	queue := s.responses[kind]
	if len(queue) == 0 {
		return "", fmt.Errorf("scripted llm: no answer for %q", kind)
	}
	answer := queue[0]
	if len(queue) > 1 {
		s.responses[kind] = queue[1:]
	}
	return answer, nil
}

// Calls counts the prompts of a kind received so far.
func (s *ScriptedLLM) Calls(kind prompt.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts[kind])
}

// Prompts returns the prompts of a kind received so far.
func (s *ScriptedLLM) Prompts(kind prompt.Kind) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts[kind]...)
}

// Total counts every prompt received.
func (s *ScriptedLLM) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.prompts {
		n += len(p)
	}
	return n
}
