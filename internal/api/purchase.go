package api

import (
	"errors"
	"fmt"
	"net/http"

	"design-marketplace/internal/apperr"
	"design-marketplace/internal/auth"

	"github.com/gin-gonic/gin"
)

const maxWebhookBodySize = 1 << 20

type createCheckoutSessionRequest struct {
	DesignID string `json:"design_id"`
}

type generateLegalDocumentRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
}

// createCheckoutSession handles POST /api/v1/checkout-sessions.
// An unreadable body leaves design_id empty; the service checks the caller before the input.
func (h *Handler) createCheckoutSession(c *gin.Context) {
	var req createCheckoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		req = createCheckoutSessionRequest{}
	}

	resp, err := h.deps.Checkout.CreateCheckoutSession(c.Request.Context(), caller(c), req.DesignID, c.GetHeader("Origin"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// stripeWebhook handles POST /api/v1/webhooks/stripe. The status code only steers provider retries.
func (h *Handler) stripeWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodySize)
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	_, err = h.deps.Webhooks.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, apperr.ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Webhook signature verification failed"})
	case errors.Is(err, apperr.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Payment conflict: design already sold"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook processing failed"})
	}
}

// generateLegalDocument handles POST /internal/legal-documents
func (h *Handler) generateLegalDocument(c *gin.Context) {
	identity := caller(c)
	if identity == nil {
		h.respondError(c, apperr.ErrUnauthenticated)
		return
	}
	if !identity.HasRole(auth.RoleAdmin) {
		h.respondError(c, fmt.Errorf("%w: admin role required", apperr.ErrForbidden))
		return
	}

	var req generateLegalDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	url, err := h.deps.Licenses.GenerateLicenseDocument(c.Request.Context(), req.TransactionID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"legal_doc_url": url,
	})
}
