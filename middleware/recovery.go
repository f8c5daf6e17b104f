package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/AnTengye/casedesk/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Recovery turns a panic in a handler into a 500 response and logs it with
// the request's fields
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error(c.Request.Context(), "panic recovered",
					"error", err,
					"method", c.Request.Method,
					"route", c.FullPath(),
					"agreement_id", c.Param("id"),
					"stack", string(debug.Stack()),
				)

				// a handler may have written part of its response already
				if c.Writer.Written() {
					c.Abort()
					return
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":      "Internal server error",
					"request_id": GetRequestID(c),
				})
			}
		}()

		c.Next()
	}
}
