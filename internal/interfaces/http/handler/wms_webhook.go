package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appintegration "github.com/gobbleclark/packr-cursor-sub005/internal/application/integration"
	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/logger"
	"github.com/gobbleclark/packr-cursor-sub005/internal/interfaces/http/dto"
	"github.com/gobbleclark/packr-cursor-sub005/internal/interfaces/http/middleware"
)

// DefaultSignatureHeader carries the HMAC of the raw webhook body
const DefaultSignatureHeader = "X-WMS-Signature"

// WebhookProcessor handles one raw webhook delivery
type WebhookProcessor interface {
	Handle(ctx context.Context, rawBody []byte, signature string) (*appintegration.WebhookResult, error)
}

// WMSWebhookHandler receives push events from the WMS
type WMSWebhookHandler struct {
	BaseHandler
	processor       WebhookProcessor
	signatureHeader string
}

// NewWMSWebhookHandler creates a new WMSWebhookHandler
func NewWMSWebhookHandler(processor WebhookProcessor, signatureHeader string) *WMSWebhookHandler {
	if signatureHeader == "" {
		signatureHeader = DefaultSignatureHeader
	}
	return &WMSWebhookHandler{
		processor:       processor,
		signatureHeader: signatureHeader,
	}
}

// HandleWebhook godoc
// @Summary      Receive a WMS webhook
// @Description  Verifies the HMAC signature of the raw body, deduplicates by event ID and
// @Description  applies the event. Every authenticated delivery is acknowledged with 200,
// @Description  including ones that could not be applied; the outcome field says which.
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Param        X-WMS-Signature header string true "HMAC-SHA256 of the raw body"
// @Success      200 {object} dto.WebhookAck
// @Failure      401 {object} ErrorResponse
// @Failure      413 {object} ErrorResponse
// @Router       /webhooks/wms [post]
func (h *WMSWebhookHandler) HandleWebhook(c *gin.Context) {
	log := logger.GetGinLogger(c)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn("Webhook body over limit", zap.Int64("limit", tooLarge.Limit))
			middleware.RejectTooLarge(c)
			return
		}
		h.BadRequest(c, "Failed to read request body")
		return
	}

	result, err := h.processor.Handle(c.Request.Context(), body, c.GetHeader(h.signatureHeader))
	if errors.Is(err, integration.ErrAuthentication) {
		log.Warn("Rejected webhook with invalid signature", zap.String("client_ip", c.ClientIP()))
		h.Error(c, http.StatusUnauthorized, dto.ErrCodeSignatureInvalid, "Signature verification failed")
		return
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}

	log.Info("Webhook handled",
		zap.String("event_id", result.EventID),
		zap.String("event_type", result.EventType),
		zap.String("outcome", result.Outcome.String()),
	)
	c.JSON(http.StatusOK, dto.WebhookAck{
		Received:  true,
		EventID:   result.EventID,
		EventType: result.EventType,
		Outcome:   result.Outcome.String(),
		Message:   result.Message,
	})
}
