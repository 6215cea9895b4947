package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-adp-assistant/internal/service"
	"github.com/noah-isme/sma-adp-assistant/pkg/storage"
)

func TestCertificateHandlerDownload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	_, err = store.Save("emitidas/cert-1.pdf", []byte("%PDF-1.4 test"))
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("cert-1", "emitidas/cert-1.pdf")
	require.NoError(t, err)

	certs := service.NewCertificateService(nil, store, signer, nil, service.CertificateOptions{}, nil)
	h := NewCertificateHandler(certs)

	c, w := newGinContext(http.MethodGet, "/certificates/"+token, nil)
	c.Params = gin.Params{{Key: "token", Value: token}}
	h.Download(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "cert-1.pdf")
	assert.Equal(t, "%PDF-1.4 test", w.Body.String())
}

func TestCertificateHandlerRejectsBadToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	certs := service.NewCertificateService(nil, store, storage.NewSignedURLSigner("secret", time.Hour), nil, service.CertificateOptions{}, nil)
	h := NewCertificateHandler(certs)

	c, w := newGinContext(http.MethodGet, "/certificates/forged", nil)
	c.Params = gin.Params{{Key: "token", Value: "forged"}}
	h.Download(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestMetricsHandlerReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ok := pingerFunc(func(context.Context) error { return nil })
	down := pingerFunc(func(context.Context) error { return errors.New("connection refused") })

	h := NewMetricsHandler(nil, map[string]Pinger{"database": ok})
	c, w := newGinContext(http.MethodGet, "/ready", nil)
	h.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)

	h = NewMetricsHandler(nil, map[string]Pinger{"database": ok, "redis": down})
	c, w = newGinContext(http.MethodGet, "/ready", nil)
	h.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestMetricsHandlerSummary(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	metrics.SetActiveSessions(3)
	h := NewMetricsHandler(metrics, nil)

	c, w := newGinContext(http.MethodGet, "/metrics/summary", nil)
	h.Summary(c)

	require.Equal(t, http.StatusOK, w.Code)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.EqualValues(t, 3, data["active_sessions"])

	c, w = newGinContext(http.MethodGet, "/metrics", nil)
	h.Prometheus(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chat_active_sessions")
}
