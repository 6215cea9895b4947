package models

import "time"

// TurnStatus is the outcome class of a chat turn.
type TurnStatus string

// Turn statuses.
const (
	TurnOK             TurnStatus = "ok"
	TurnClarification  TurnStatus = "clarification"
	TurnNoResults      TurnStatus = "no_results"
	TurnError          TurnStatus = "error"
	TurnTransientError TurnStatus = "transient_error"
	TurnRejected       TurnStatus = "rejected"
	TurnCancelled      TurnStatus = "cancelled"
)

// Pushes reports whether a turn with this status appends a context level.
func (s TurnStatus) Pushes() bool {
	return s == TurnOK
}

// TurnResult is returned to the chat caller.
type TurnResult struct {
	SessionID           string           `json:"session_id"`
	Reply               string           `json:"reply"`
	Status              TurnStatus       `json:"status"`
	Category            Category         `json:"category,omitempty"`
	Action              ActionName       `json:"action,omitempty"`
	RowCount            int              `json:"row_count"`
	Data                []Row            `json:"data,omitempty"`
	SQL                 string           `json:"sql,omitempty"`
	ClarificationNeeded bool             `json:"clarification_needed"`
	Candidates          []Row            `json:"candidates,omitempty"`
	ContextDepth        int              `json:"context_depth"`
	Certificate         *CertificateInfo `json:"certificate,omitempty"`
	ErrorCode           string           `json:"error_code,omitempty"`
	Latency             time.Duration    `json:"-"`
}

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one entry of conversation_history.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
