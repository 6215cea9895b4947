package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-adp-assistant/internal/dto"
	"github.com/noah-isme/sma-adp-assistant/internal/models"
	"github.com/noah-isme/sma-adp-assistant/internal/service"
	appErrors "github.com/noah-isme/sma-adp-assistant/pkg/errors"
)

type chatServiceMock struct {
	sessionID string
	result    *models.TurnResult
	levels    []models.ContextLevel
	err       error

	lastMessage    string
	lastAttachment string
	lastDepth      int
	resets         int
}

func (m *chatServiceMock) CreateSession(ctx context.Context) (string, error) {
	return m.sessionID, m.err
}

func (m *chatServiceMock) Send(ctx context.Context, sessionID, message, attachment string) (*models.TurnResult, error) {
	m.lastMessage = message
	m.lastAttachment = attachment
	return m.result, m.err
}

func (m *chatServiceMock) Levels(ctx context.Context, sessionID string) ([]models.ContextLevel, error) {
	return m.levels, m.err
}

func (m *chatServiceMock) Level(ctx context.Context, sessionID string, depth int) (models.ContextLevel, error) {
	m.lastDepth = depth
	if m.err != nil {
		return models.ContextLevel{}, m.err
	}
	if depth >= len(m.levels) {
		return models.ContextLevel{}, appErrors.Clone(appErrors.ErrNotFound, "nivel inexistente")
	}
	return m.levels[len(m.levels)-1-depth], nil
}

func (m *chatServiceMock) Reset(ctx context.Context, sessionID string) error {
	m.resets++
	return m.err
}

type exporterMock struct {
	result *service.ExportResult
	err    error
}

func (m *exporterMock) ExportLevel(sessionID string, level models.ContextLevel) (*service.ExportResult, error) {
	return m.result, m.err
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestChatHandlerCreateSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewChatHandler(&chatServiceMock{sessionID: "abc-123"}, nil)

	c, w := newGinContext(http.MethodPost, "/chat/sessions", nil)
	h.CreateSession(c)

	require.Equal(t, http.StatusCreated, w.Code)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "abc-123", data["session_id"])
}

func TestChatHandlerSendMessage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &chatServiceMock{result: &models.TurnResult{
		SessionID: "abc",
		Reply:     "Hay 8 alumnos que cumplen los criterios.",
		Status:    models.TurnOK,
		RowCount:  1,
		Latency:   1500 * time.Millisecond,
	}}
	h := NewChatHandler(mock, nil)

	payload, _ := json.Marshal(dto.SendMessageRequest{Message: "¿cuántos alumnos hay?", AttachmentPath: "/tmp/x.pdf"})
	c, w := newGinContext(http.MethodPost, "/chat/sessions/abc/messages", payload)
	c.Params = gin.Params{{Key: "id", Value: "abc"}}
	h.SendMessage(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "¿cuántos alumnos hay?", mock.lastMessage)
	assert.Equal(t, "/tmp/x.pdf", mock.lastAttachment)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "Hay 8 alumnos que cumplen los criterios.", data["reply"])
	assert.EqualValues(t, 1500, data["latency_ms"])
}

func TestChatHandlerSendMessageRequiresBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &chatServiceMock{}
	h := NewChatHandler(mock, nil)

	c, w := newGinContext(http.MethodPost, "/chat/sessions/abc/messages", []byte(`{}`))
	c.Params = gin.Params{{Key: "id", Value: "abc"}}
	h.SendMessage(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, mock.lastMessage)
}

func TestChatHandlerPropagatesServiceErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewChatHandler(&chatServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "sesión no encontrada")}, nil)

	c, w := newGinContext(http.MethodGet, "/chat/sessions/zzz/context", nil)
	c.Params = gin.Params{{Key: "id", Value: "zzz"}}
	h.Context(c)

	require.Equal(t, http.StatusNotFound, w.Code)
	errBody := decodeEnvelope(t, w)["error"].(map[string]interface{})
	assert.Equal(t, "NOT_FOUND", errBody["code"])
}

func TestChatHandlerContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &chatServiceMock{levels: []models.ContextLevel{
		{Query: "alumnos de tercero", RowCount: 3, Action: models.ActionSearch, Awaiting: models.AwaitingSelection},
		{Query: "de esos los del matutino", RowCount: 2, Action: models.ActionSearch, Awaiting: models.AwaitingSelection},
	}}
	h := NewChatHandler(mock, nil)

	c, w := newGinContext(http.MethodGet, "/chat/sessions/abc/context", nil)
	c.Params = gin.Params{{Key: "id", Value: "abc"}}
	h.Context(c)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeEnvelope(t, w)
	assert.EqualValues(t, 2, body["meta"].(map[string]interface{})["depth"])
	levels := body["data"].(map[string]interface{})["levels"].([]interface{})
	require.Len(t, levels, 2)
	assert.Equal(t, "de esos los del matutino", levels[1].(map[string]interface{})["query"])
}

func TestChatHandlerExportContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &chatServiceMock{levels: []models.ContextLevel{{Query: "alumnos", RowCount: 1}}}
	exporter := &exporterMock{result: &service.ExportResult{Filename: "buscar_universal_abc.csv", Payload: []byte("id,nombre\n1,ANA\n"), Rows: 1}}
	h := NewChatHandler(mock, exporter)

	c, w := newGinContext(http.MethodGet, "/chat/sessions/abc/context/export?level=0", nil)
	c.Params = gin.Params{{Key: "id", Value: "abc"}}
	h.ExportContext(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "buscar_universal_abc.csv")
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Equal(t, "id,nombre\n1,ANA\n", w.Body.String())
}

func TestChatHandlerExportContextValidatesLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewChatHandler(&chatServiceMock{}, &exporterMock{})

	c, w := newGinContext(http.MethodGet, "/chat/sessions/abc/context/export?level=-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "abc"}}
	h.ExportContext(c)
	require.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newGinContext(http.MethodGet, "/chat/sessions/abc/context/export?level=4", nil)
	c.Params = gin.Params{{Key: "id", Value: "abc"}}
	h.ExportContext(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatHandlerResetSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &chatServiceMock{}
	r := gin.New()
	RegisterRoutes(r, "/api/v1", Handlers{Chat: NewChatHandler(mock, nil)})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/chat/sessions/abc", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, mock.resets)
}
