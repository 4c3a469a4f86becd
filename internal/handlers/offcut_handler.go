package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"offcut-ledger-backend/internal/apperror"
	"offcut-ledger-backend/internal/middleware"
	"offcut-ledger-backend/internal/services/ledger"
)

type OffcutHandler struct {
	ledger *ledger.Ledger
}

func NewOffcutHandler(l *ledger.Ledger) *OffcutHandler {
	return &OffcutHandler{ledger: l}
}

// usagePayload is shared by /offcuts/usage and /recommendations/confirm.
type usagePayload struct {
	OffcutIDs []uint `json:"offcut_ids"`
	BatchCode string `json:"batch_code"`
	ReuseDate string `json:"reuse_date"`
	Note      string `json:"note"`
}

func (p usagePayload) request(actor string) (ledger.UsageRequest, error) {
	req := ledger.UsageRequest{
		OffcutIDs:   p.OffcutIDs,
		BatchCode:   p.BatchCode,
		PerformedBy: actor,
		Note:        p.Note,
	}
	if p.ReuseDate != "" {
		d, err := time.Parse("2006-01-02", p.ReuseDate)
		if err != nil {
			return req, apperror.Validation("reuse_date", "expected YYYY-MM-DD, got %q", p.ReuseDate)
		}
		req.ReuseDate = d
	}
	return req, nil
}

func (h *OffcutHandler) filter(c *gin.Context) (ledger.ListFilter, bool) {
	f := ledger.ListFilter{Profile: c.Query("profile")}
	var ok bool
	if f.MinLength, ok = queryInt(c, "min_length"); !ok {
		return f, false
	}
	if f.Cursor, ok = queryUint(c, "cursor"); !ok {
		return f, false
	}
	if f.Limit, ok = queryInt(c, "limit"); !ok {
		return f, false
	}
	return f, true
}

func (h *OffcutHandler) List(c *gin.Context) {
	f, ok := h.filter(c)
	if !ok {
		return
	}
	page, err := h.ledger.List(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *OffcutHandler) Available(c *gin.Context) {
	f, ok := h.filter(c)
	if !ok {
		return
	}
	page, err := h.ledger.ListAvailable(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *OffcutHandler) Get(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	offcut, err := h.ledger.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, offcut)
}

func (h *OffcutHandler) History(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	usages, err := h.ledger.History(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offcut_id": id, "usages": usages})
}

func (h *OffcutHandler) RecordUsage(c *gin.Context) {
	var payload usagePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req, err := payload.request(c.GetString(middleware.KeyActor))
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.ledger.RecordUsage(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "offcut usage recorded", "result": result})
}
