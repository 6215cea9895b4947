package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-adp-assistant/internal/dto"
	"github.com/noah-isme/sma-adp-assistant/internal/models"
	"github.com/noah-isme/sma-adp-assistant/internal/service"
	appErrors "github.com/noah-isme/sma-adp-assistant/pkg/errors"
	"github.com/noah-isme/sma-adp-assistant/pkg/response"
)

type chatService interface {
	CreateSession(ctx context.Context) (string, error)
	Send(ctx context.Context, sessionID, message, attachment string) (*models.TurnResult, error)
	Levels(ctx context.Context, sessionID string) ([]models.ContextLevel, error)
	Level(ctx context.Context, sessionID string, depth int) (models.ContextLevel, error)
	Reset(ctx context.Context, sessionID string) error
}

type levelExporter interface {
	ExportLevel(sessionID string, level models.ContextLevel) (*service.ExportResult, error)
}

// ChatHandler exposes the conversational assistant.
type ChatHandler struct {
	chat    chatService
	exports levelExporter
}

// NewChatHandler constructs a chat handler.
func NewChatHandler(chat chatService, exports levelExporter) *ChatHandler {
	return &ChatHandler{chat: chat, exports: exports}
}

// CreateSession godoc
// @Summary Open a conversation
// @Tags Chat
// @Produce json
// @Success 201 {object} response.Envelope
// @Router /chat/sessions [post]
func (h *ChatHandler) CreateSession(c *gin.Context) {
	id, err := h.chat.CreateSession(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.SessionResponse{SessionID: id})
}

// SendMessage godoc
// @Summary Send a message to the assistant
// @Tags Chat
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.SendMessageRequest true "Message"
// @Success 200 {object} response.Envelope
// @Router /chat/sessions/{id}/messages [post]
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req dto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "mensaje requerido"))
		return
	}
	result, err := h.chat.Send(c.Request.Context(), c.Param("id"), req.Message, req.AttachmentPath)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.TurnResponse{TurnResult: result, LatencyMS: result.Latency.Milliseconds()})
}

// Context godoc
// @Summary Inspect the conversation stack
// @Tags Chat
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /chat/sessions/{id}/context [get]
func (h *ChatHandler) Context(c *gin.Context) {
	id := c.Param("id")
	levels, err := h.chat.Levels(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewContextResponse(id, levels), map[string]interface{}{"depth": len(levels)})
}

// ExportContext godoc
// @Summary Export a stack level as CSV
// @Tags Chat
// @Produce text/csv
// @Param id path string true "Session ID"
// @Param level query int false "Depth, 0 is the most recent level"
// @Success 200 {file} file
// @Router /chat/sessions/{id}/context/export [get]
func (h *ChatHandler) ExportContext(c *gin.Context) {
	depth, err := strconv.Atoi(c.DefaultQuery("level", "0"))
	if err != nil || depth < 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "level debe ser un entero no negativo"))
		return
	}
	id := c.Param("id")
	level, err := h.chat.Level(c.Request.Context(), id, depth)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.exports.ExportLevel(id, level)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, result.Filename, "text/csv; charset=utf-8", result.Payload)
}

// ResetSession godoc
// @Summary Clear the conversation
// @Tags Chat
// @Param id path string true "Session ID"
// @Success 204
// @Router /chat/sessions/{id} [delete]
func (h *ChatHandler) ResetSession(c *gin.Context) {
	if err := h.chat.Reset(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
