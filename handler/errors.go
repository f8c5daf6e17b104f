package handler

import (
	"errors"
	"net/http"

	"github.com/AnTengye/casedesk/pkg/logger"
	"github.com/AnTengye/casedesk/service"
	"github.com/gin-gonic/gin"
)

// respondError maps service errors onto HTTP responses. Missing records are
// reported as retryable because the caller may be ahead of a slow write.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "retryable": true})
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrPaymentPending):
		c.JSON(http.StatusAccepted, gin.H{"error": err.Error(), "retryable": true})
	default:
		logger.Error(c.Request.Context(), "request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
