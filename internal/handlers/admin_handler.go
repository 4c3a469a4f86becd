package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"offcut-ledger-backend/internal/apperror"
	"offcut-ledger-backend/internal/middleware"
	"offcut-ledger-backend/internal/services/ingestion"
	"offcut-ledger-backend/internal/services/ledger"
)

// Room for multipart boundaries and part headers on top of the file itself.
const uploadFormOverhead = 64 << 10

type AdminHandler struct {
	pipeline  *ingestion.Pipeline
	ledger    *ledger.Ledger
	maxUpload int64
}

// NewAdminHandler caps upload request bodies at maxUpload bytes of file
// content. Zero disables the cap.
func NewAdminHandler(pipeline *ingestion.Pipeline, l *ledger.Ledger, maxUpload int64) *AdminHandler {
	return &AdminHandler{pipeline: pipeline, ledger: l, maxUpload: maxUpload}
}

// Upload accepts a cut list as the multipart "file" field. Passing an
// existing "token" replaces the file of that session instead.
func (h *AdminHandler) Upload(c *gin.Context) {
	if h.maxUpload > 0 {
		limit := h.maxUpload + uploadFormOverhead
		if c.Request.ContentLength > limit {
			respondError(c, h.tooLarge())
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(c, h.tooLarge())
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
		return
	}

	token := c.PostForm("token")
	if token != "" {
		err = h.pipeline.Reupload(c.Request.Context(), token, header.Filename, content)
	} else {
		token, err = h.pipeline.Upload(c.Request.Context(), header.Filename, content)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "file uploaded",
		"token":    token,
		"filename": header.Filename,
	})
}

func (h *AdminHandler) tooLarge() error {
	return &apperror.UploadError{Reason: fmt.Sprintf("file exceeds %d bytes", h.maxUpload)}
}

func (h *AdminHandler) Process(c *gin.Context) {
	var payload struct {
		Token     string `json:"token"`
		BatchDate string `json:"batch_date"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	preview, err := h.pipeline.Process(c.Request.Context(), payload.Token, payload.BatchDate)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (h *AdminHandler) Ingest(c *gin.Context) {
	var payload struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	result, err := h.pipeline.Ingest(c.Request.Context(), payload.Token, c.GetString(middleware.KeyActor))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "batch committed", "result": result})
}

func (h *AdminHandler) Discard(c *gin.Context) {
	if err := h.pipeline.Discard(c.Request.Context(), c.Param("token")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session discarded"})
}

func (h *AdminHandler) Status(c *gin.Context) {
	stats, err := h.ledger.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
