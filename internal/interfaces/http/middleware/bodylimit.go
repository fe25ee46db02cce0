package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gobbleclark/packr-cursor-sub005/internal/interfaces/http/dto"
)

// BodyLimit returns a middleware that limits request body size. Requests
// that declare a larger Content-Length are rejected up front; bodies without
// a declared length are capped while being read, and the handler sees an
// *http.MaxBytesError.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			RejectTooLarge(c)
			return
		}

		// Wrap the body with a limited reader for streaming requests
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// RejectTooLarge aborts with 413 and the standard error envelope
func RejectTooLarge(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, dto.NewErrorResponseWithRequestID(
		dto.ErrCodeRequestTooLarge,
		"Request body exceeds maximum allowed size",
		GetRequestID(c),
	))
}
