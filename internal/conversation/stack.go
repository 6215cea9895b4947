// Package conversation holds the per-session context stack and the pure
// reference resolvers used by the intent analyser.
package conversation

import (
	"github.com/noah-isme/sma-adp-assistant/internal/models"
)

// DefaultMaxLevels bounds the stack when no limit is configured.
const DefaultMaxLevels = 5

// Stack is a bounded deque of context levels; index 0 is the oldest.
type Stack struct {
	levels []models.ContextLevel
	max    int
}

// NewStack returns an empty stack keeping at most max levels.
func NewStack(max int) *Stack {
	if max <= 0 {
		max = DefaultMaxLevels
	}
	return &Stack{max: max}
}

// Push appends level and evicts from the front past the bound. The evicted
// level, if any, is returned.
func (s *Stack) Push(level models.ContextLevel) *models.ContextLevel {
	s.levels = append(s.levels, level)
	if len(s.levels) <= s.max {
		return nil
	}
	evicted := s.levels[0]
	s.levels = append([]models.ContextLevel(nil), s.levels[1:]...)
	return &evicted
}

// Peek returns the most recent k levels, newest first.
func (s *Stack) Peek(k int) []models.ContextLevel {
	if k <= 0 || len(s.levels) == 0 {
		return nil
	}
	if k > len(s.levels) {
		k = len(s.levels)
	}
	out := make([]models.ContextLevel, 0, k)
	for i := len(s.levels) - 1; i >= len(s.levels)-k; i-- {
		out = append(out, s.levels[i])
	}
	return out
}

// Top returns the most recent level.
func (s *Stack) Top() (models.ContextLevel, bool) {
	if len(s.levels) == 0 {
		return models.ContextLevel{}, false
	}
	return s.levels[len(s.levels)-1], true
}

// TopWithData returns the most recent level that carries rows. depth is 0 for the top.
func (s *Stack) TopWithData() (level models.ContextLevel, depth int, ok bool) {
	for i := len(s.levels) - 1; i >= 0; i-- {
		if len(s.levels[i].Data) > 0 {
			return s.levels[i], len(s.levels) - 1 - i, true
		}
	}
	return models.ContextLevel{}, 0, false
}

// At returns the level at depth (0 = newest).
func (s *Stack) At(depth int) (models.ContextLevel, bool) {
	idx := len(s.levels) - 1 - depth
	if depth < 0 || idx < 0 {
		return models.ContextLevel{}, false
	}
	return s.levels[idx], true
}

// Len is the number of stored levels.
func (s *Stack) Len() int { return len(s.levels) }

// Max is the configured bound.
func (s *Stack) Max() int { return s.max }

// Clear empties the stack.
func (s *Stack) Clear() { s.levels = nil }

// Levels copies the stack, oldest first.
func (s *Stack) Levels() []models.ContextLevel {
	return append([]models.ContextLevel(nil), s.levels...)
}

// Clone deep-copies the level slice so a turn can work on a private copy.
func (s *Stack) Clone() *Stack {
	return &Stack{levels: s.Levels(), max: s.max}
}

// Contains reports whether any stored level still references student id.
func (s *Stack) Contains(id int64) bool {
	for _, level := range s.levels {
		for _, rowID := range level.IDs() {
			if rowID == id {
				return true
			}
		}
	}
	return false
}
