package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"offcut-ledger-backend/internal/apperror"
)

// respondError maps service errors onto status codes. Unknown errors are
// attached to the context for the request logger and reported as 500.
func respondError(c *gin.Context, err error) {
	var (
		validation  *apperror.ValidationError
		upload      *apperror.UploadError
		conflict    *apperror.DuplicateConflict
		state       *apperror.StateError
		parse       *apperror.ParseError
		unknown     *apperror.UnknownOffcutError
		unavailable *apperror.OffcutUnavailableError
	)

	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "existing_codes": conflict.ExistingCodes})
	case errors.As(err, &state):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "state": state.State})
	case errors.Is(err, apperror.ErrSessionBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &parse):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": validation.Field})
	case errors.As(err, &upload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &unknown):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "offcut_ids": unknown.IDs})
	case errors.As(err, &unavailable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "offcut_ids": unavailable.IDs})
	case errors.Is(err, apperror.ErrBatchNotFound), errors.Is(err, apperror.ErrOffcutNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func queryUint(c *gin.Context, key string) (uint, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
		return 0, false
	}
	return uint(v), true
}

func queryInt(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
		return 0, false
	}
	return v, true
}

func paramID(c *gin.Context) (uint, bool) {
	v, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offcut ID"})
		return 0, false
	}
	return uint(v), true
}
