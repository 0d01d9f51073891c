package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"design-marketplace/internal/apperr"
	"design-marketplace/internal/auth"
	"design-marketplace/internal/models"
	"design-marketplace/internal/service"
	"design-marketplace/internal/store"
	"design-marketplace/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// CheckoutCreator opens checkout sessions
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, caller *auth.Identity, designID, origin string) (*service.CreateCheckoutSessionResponse, error)
}

// WebhookProcessor handles payment provider deliveries
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*service.WebhookResult, error)
}

// LicenseGenerator generates license documents
type LicenseGenerator interface {
	GenerateLicenseDocument(ctx context.Context, transactionID string) (string, error)
}

// DesignCatalog lists and reads designs
type DesignCatalog interface {
	UploadDesign(ctx context.Context, caller *auth.Identity, in service.UploadDesignInput) (*models.Design, error)
	GetDesign(ctx context.Context, id string) (*models.Design, error)
}

// TransactionReader reads purchase records
type TransactionReader interface {
	GetTransaction(ctx context.Context, caller *auth.Identity, id string) (*models.Transaction, error)
}

// BlobReader serves stored files
type BlobReader interface {
	Get(ctx context.Context, path string) (*store.Blob, error)
}

// Identifier resolves the caller of a request
type Identifier interface {
	Identify(ctx context.Context, authorization string) (*auth.Identity, error)
}

// Pinger checks a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators of Handler
type Dependencies struct {
	Checkout     CheckoutCreator
	Webhooks     WebhookProcessor
	Licenses     LicenseGenerator
	Designs      DesignCatalog
	Transactions TransactionReader
	Files        BlobReader
	Identity     Identifier
	Database     Pinger
}

// Handler contains HTTP handlers
type Handler struct {
	deps   Dependencies
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		deps:   deps,
		logger: util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/files/*path", h.serveFile)

	// Authenticated by signature, not by session.
	router.POST("/api/v1/webhooks/stripe", h.stripeWebhook)

	v1 := router.Group("/api/v1", h.identityMiddleware())
	{
		v1.POST("/checkout-sessions", h.createCheckoutSession)
		v1.POST("/designs", h.uploadDesign)
		v1.GET("/designs/:id", h.getDesign)
		v1.GET("/transactions/:id", h.getTransaction)
	}

	internal := router.Group("/internal", h.identityMiddleware())
	{
		internal.POST("/legal-documents", h.generateLegalDocument)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready once the database answers
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.deps.Database != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.deps.Database.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unavailable",
				"time":   time.Now().Unix(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// respondError renders a service error. Internal details are logged, not returned.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		msg = "internal server error"
		if errors.Is(err, apperr.ErrUpstream) {
			msg = "upstream service unavailable"
		}
	}
	c.JSON(status, gin.H{"error": msg})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}
