package api

import (
	"errors"
	"net/http"

	"design-marketplace/internal/apperr"
	"design-marketplace/internal/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const identityKey = "identity"

// identityMiddleware attaches the caller to the request when the bearer token is valid.
// Requests without a valid token continue anonymously and services decide what that means.
func (h *Handler) identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || h.deps.Identity == nil {
			c.Next()
			return
		}

		identity, err := h.deps.Identity.Identify(c.Request.Context(), header)
		switch {
		case err == nil:
			c.Set(identityKey, identity)
		case errors.Is(err, apperr.ErrUnauthenticated):
			h.logger.Debug("Rejected bearer token", zap.Error(err))
		default:
			h.logger.Error("Failed to resolve caller", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve caller"})
			return
		}
		c.Next()
	}
}

// caller returns the identity set by identityMiddleware, or nil
func caller(c *gin.Context) *auth.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	identity, _ := v.(*auth.Identity)
	return identity
}
