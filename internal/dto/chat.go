package dto

import "github.com/noah-isme/sma-adp-assistant/internal/models"

// SendMessageRequest captures POST /chat/sessions/:id/messages payload.
type SendMessageRequest struct {
	Message string `json:"message" binding:"required"`
	// AttachmentPath points at an uploaded PDF for TRANSFORMAR_PDF.
	AttachmentPath string `json:"attachment_path,omitempty"`
}

// SessionResponse is returned after opening a conversation.
type SessionResponse struct {
	SessionID string `json:"session_id"`
}

// TurnResponse wraps the result of one conversational turn.
type TurnResponse struct {
	*models.TurnResult
	LatencyMS int64 `json:"latency_ms"`
}

// ContextLevelSummary is the compact view of one stack level.
type ContextLevelSummary struct {
	Depth    int               `json:"depth"`
	Query    string            `json:"query"`
	Action   models.ActionName `json:"action,omitempty"`
	RowCount int               `json:"row_count"`
	IDs      []int64           `json:"ids"`
	Awaiting models.Awaiting   `json:"awaiting"`
	Note     string            `json:"strategic_note,omitempty"`
}

// ContextResponse lists the conversation stack, oldest level first.
type ContextResponse struct {
	SessionID string                `json:"session_id"`
	Levels    []ContextLevelSummary `json:"levels"`
}

// NewContextResponse summarises the stack levels.
func NewContextResponse(sessionID string, levels []models.ContextLevel) ContextResponse {
	out := ContextResponse{SessionID: sessionID, Levels: make([]ContextLevelSummary, 0, len(levels))}
	for i, level := range levels {
		out.Levels = append(out.Levels, ContextLevelSummary{
			Depth:    i + 1,
			Query:    level.Query,
			Action:   level.Action,
			RowCount: level.RowCount,
			IDs:      level.IDs(),
			Awaiting: level.Awaiting,
			Note:     level.StrategicNote,
		})
	}
	return out
}
