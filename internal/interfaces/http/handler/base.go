package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/logger"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/scheduler"
	"github.com/gobbleclark/packr-cursor-sub005/internal/interfaces/http/dto"
	"github.com/gobbleclark/packr-cursor-sub005/internal/interfaces/http/middleware"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	return middleware.GetRequestID(c)
}

// getTenantIDParam parses the :id path parameter as a tenant ID
func getTenantIDParam(c *gin.Context) (uuid.UUID, error) {
	return uuid.Parse(c.Param(middleware.TenantParam))
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// ErrorWithData sends an error response that still carries a payload
func (h *BaseHandler) ErrorWithData(c *gin.Context, statusCode int, code, message string, data any) {
	resp := dto.NewErrorResponseWithRequestID(code, message, getRequestID(c))
	resp.Data = data
	c.JSON(statusCode, resp)
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// Unauthorized sends a 401 unauthorized response
func (h *BaseHandler) Unauthorized(c *gin.Context, message string) {
	h.Error(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, message)
}

// Conflict sends a 409 conflict response
func (h *BaseHandler) Conflict(c *gin.Context, message string) {
	h.Error(c, http.StatusConflict, dto.ErrCodeConflict, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// ValidationError sends a 400 validation error response with details
func (h *BaseHandler) ValidationError(c *gin.Context, details []dto.ValidationDetail) {
	c.JSON(http.StatusBadRequest, dto.NewValidationErrorResponse(
		"Request validation failed",
		getRequestID(c),
		details,
	))
}

// errorCode maps a sync engine error to a dto error code and client message
func errorCode(err error) (string, string) {
	switch {
	case errors.Is(err, integration.ErrTenantNotFound):
		return dto.ErrCodeNotFound, "Tenant not found"
	case errors.Is(err, integration.ErrSyncStateNotFound):
		return dto.ErrCodeNotFound, "Sync state not found"
	case errors.Is(err, integration.ErrInvalidEntityType),
		errors.Is(err, integration.ErrInvalidTenantID),
		errors.Is(err, scheduler.ErrInvalidLookback):
		return dto.ErrCodeValidation, err.Error()
	case errors.Is(err, scheduler.ErrAllEntitiesRunning),
		errors.Is(err, integration.ErrSyncAlreadyRunning):
		return dto.ErrCodeSyncRunning, "Sync already running"
	case errors.Is(err, integration.ErrAuthentication):
		return dto.ErrCodeSignatureInvalid, "Signature verification failed"
	default:
		return dto.ErrCodeInternal, "An unexpected error occurred"
	}
}

// HandleError converts sync engine errors to HTTP responses. Unknown errors
// are logged and reported as 500 without leaking their text.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	code, message := errorCode(err)
	if code == dto.ErrCodeInternal {
		logger.GetGinLogger(c).Error("Request failed", zap.Error(err))
	}
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}
