package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"offcut-ledger-backend/internal/services/ledger"
)

type ReportHandler struct {
	ledger *ledger.Ledger
}

func NewReportHandler(l *ledger.Ledger) *ReportHandler {
	return &ReportHandler{ledger: l}
}

func (h *ReportHandler) Summary(c *gin.Context) {
	rows, err := h.ledger.Summary(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rows})
}

func (h *ReportHandler) Offcuts(c *gin.Context) {
	rows, err := h.ledger.Inventory(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rows})
}
