package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"offcut-ledger-backend/internal/batchcode"
	"offcut-ledger-backend/internal/services/dedup"
	"offcut-ledger-backend/internal/services/ledger"
)

type BatchHandler struct {
	ledger *ledger.Ledger
	guard  *dedup.Guard
}

func NewBatchHandler(l *ledger.Ledger, guard *dedup.Guard) *BatchHandler {
	return &BatchHandler{ledger: l, guard: guard}
}

func (h *BatchHandler) List(c *gin.Context) {
	cursor, ok := queryUint(c, "cursor")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	page, err := h.ledger.ListBatches(c.Request.Context(), cursor, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Check reports whether a batch code is already committed.
func (h *BatchHandler) Check(c *gin.Context) {
	code, err := batchcode.Normalize(c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	exists, err := h.guard.Exists(c.Request.Context(), code)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch_code": code, "exists": exists})
}

func (h *BatchHandler) Get(c *gin.Context) {
	batch, err := h.ledger.Batch(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}
