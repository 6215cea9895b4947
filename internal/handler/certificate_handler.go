package handler

import (
	"io"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-adp-assistant/pkg/response"
	"github.com/noah-isme/sma-adp-assistant/pkg/storage"
)

type certificateOpener interface {
	Open(token string) (*os.File, storage.DownloadToken, error)
}

// CertificateHandler serves signed certificate downloads.
type CertificateHandler struct {
	certificates certificateOpener
}

// NewCertificateHandler constructs a certificate handler.
func NewCertificateHandler(certificates certificateOpener) *CertificateHandler {
	return &CertificateHandler{certificates: certificates}
}

// Download godoc
// @Summary Download a certificate
// @Tags Certificates
// @Produce application/pdf
// @Param token path string true "Signed download token"
// @Success 200 {file} file
// @Router /certificates/{token} [get]
func (h *CertificateHandler) Download(c *gin.Context) {
	file, token, err := h.certificates.Open(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, filepath.Base(token.Path), "application/pdf", payload)
}
