package conversation

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
)

// DefaultHistoryLimit caps conversation_history when no limit is configured.
const DefaultHistoryLimit = 20

// PendingClarification keeps disambiguation candidates between turns. The
// candidates are not a context level.
type PendingClarification struct {
	Question   string                  `json:"question"`
	Category   models.Category         `json:"category"`
	Entities   models.DetectedEntities `json:"entities"`
	Candidates []models.Row            `json:"candidates"`
	CreatedAt  time.Time               `json:"created_at"`
}

// State is the conversation state owned by one session. It is not safe for
// concurrent use; the session mailbox serialises access.
type State struct {
	SessionID    string
	Stack        *Stack
	History      []models.ChatMessage
	HistoryLimit int
	Metadata     map[string]string
	Pending      *PendingClarification
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewState builds an empty state.
func NewState(sessionID string, maxLevels, historyLimit int, now time.Time) *State {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &State{
		SessionID:    sessionID,
		Stack:        NewStack(maxLevels),
		HistoryLimit: historyLimit,
		Metadata:     map[string]string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// AppendHistory records a message and drops the oldest past the limit.
func (s *State) AppendHistory(role, content string, at time.Time) {
	s.History = append(s.History, models.ChatMessage{Role: role, Content: content, Timestamp: at})
	if over := len(s.History) - s.HistoryLimit; over > 0 {
		s.History = append([]models.ChatMessage(nil), s.History[over:]...)
	}
	s.UpdatedAt = at
}

// RecentHistory returns the last n messages, oldest first.
func (s *State) RecentHistory(n int) []models.ChatMessage {
	if n <= 0 || n >= len(s.History) {
		return append([]models.ChatMessage(nil), s.History...)
	}
	return append([]models.ChatMessage(nil), s.History[len(s.History)-n:]...)
}

// Reset clears the stack, history and pending clarification.
func (s *State) Reset(at time.Time) {
	s.Stack.Clear()
	s.History = nil
	s.Pending = nil
	s.Metadata = map[string]string{}
	s.UpdatedAt = at
}

// Clone copies the state so a turn can mutate it and commit only on success.
func (s *State) Clone() *State {
	clone := *s
	clone.Stack = s.Stack.Clone()
	clone.History = append([]models.ChatMessage(nil), s.History...)
	clone.Metadata = make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		clone.Metadata[k] = v
	}
	if s.Pending != nil {
		p := *s.Pending
		clone.Pending = &p
	}
	return &clone
}

// Snapshot is the serialisable form of State used for cache persistence.
type Snapshot struct {
	SessionID    string                `json:"session_id"`
	Levels       []models.ContextLevel `json:"levels"`
	MaxLevels    int                   `json:"max_levels"`
	History      []models.ChatMessage  `json:"history"`
	HistoryLimit int                   `json:"history_limit"`
	Metadata     map[string]string     `json:"metadata,omitempty"`
	Pending      *PendingClarification `json:"pending,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// Snapshot captures the state.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		SessionID:    s.SessionID,
		Levels:       s.Stack.Levels(),
		MaxLevels:    s.Stack.Max(),
		History:      append([]models.ChatMessage(nil), s.History...),
		HistoryLimit: s.HistoryLimit,
		Metadata:     s.Metadata,
		Pending:      s.Pending,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

// MarshalJSON encodes the snapshot.
func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// Restore rebuilds a state from a snapshot, re-applying the bounds.
func Restore(snap Snapshot) *State {
	state := NewState(snap.SessionID, snap.MaxLevels, snap.HistoryLimit, snap.CreatedAt)
	for _, level := range snap.Levels {
		state.Stack.Push(level)
	}
	for _, msg := range snap.History {
		state.AppendHistory(msg.Role, msg.Content, msg.Timestamp)
	}
	for k, v := range snap.Metadata {
		state.Metadata[k] = v
	}
	state.Pending = snap.Pending
	state.UpdatedAt = snap.UpdatedAt
	return state
}
