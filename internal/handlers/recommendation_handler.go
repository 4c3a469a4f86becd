package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"offcut-ledger-backend/internal/batchcode"
	"offcut-ledger-backend/internal/services/matching"
)

type RecommendationHandler struct {
	engine  *matching.Engine
	offcuts *OffcutHandler
}

func NewRecommendationHandler(engine *matching.Engine, offcuts *OffcutHandler) *RecommendationHandler {
	return &RecommendationHandler{engine: engine, offcuts: offcuts}
}

func (h *RecommendationHandler) Start(c *gin.Context) {
	var payload struct {
		BatchCode string `json:"batch_code"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	candidates, err := h.engine.Recommend(c.Request.Context(), payload.BatchCode)
	if err != nil {
		respondError(c, err)
		return
	}
	if candidates == nil {
		candidates = []matching.Candidate{}
	}
	code, _ := batchcode.Normalize(payload.BatchCode)
	c.JSON(http.StatusOK, gin.H{
		"batch_code":      code,
		"recommendations": candidates,
		"count":           len(candidates),
	})
}

// Confirm records the chosen recommendations as offcut usage.
func (h *RecommendationHandler) Confirm(c *gin.Context) {
	h.offcuts.RecordUsage(c)
}
