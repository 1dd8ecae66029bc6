package middleware

import (
	"context"
	"errors"
	"time"

	"taskforum/backend/internal/models"
	"taskforum/backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// IdentityKey is the gin context key holding the request's models.Identity.
const IdentityKey = "identity"

// Authenticate attaches an identity to every request and never rejects one.
// Handlers decide whether an anonymous caller is acceptable.
func Authenticate(verifier services.TokenVerifier, timeout time.Duration, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		identity, reason := services.Authenticate(ctx, verifier, c.GetHeader("Authorization"))
		c.Set(IdentityKey, identity)

		if reason != nil {
			entry := log.WithFields(logrus.Fields{
				"request_id": c.GetString(RequestIDKey),
				"path":       c.Request.URL.Path,
			}).WithError(reason)

			if errors.Is(reason, services.ErrInvalidToken) {
				entry.Debug("rejected bearer token, continuing as anonymous")
			} else {
				entry.Warn("token verification failed, continuing as anonymous")
			}
		}

		c.Next()
	}
}

// CurrentIdentity returns the identity set by Authenticate, or Anonymous when
// the middleware did not run.
func CurrentIdentity(c *gin.Context) models.Identity {
	value, exists := c.Get(IdentityKey)
	if !exists {
		return models.Anonymous()
	}
	identity, ok := value.(models.Identity)
	if !ok {
		return models.Anonymous()
	}
	return identity
}
