package middleware

import (
	"errors"
	"strings"

	"ChatBridge/pkg/apierr"
	"ChatBridge/pkg/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	ContextUserIDKey    = "current_user_id"
	ContextUserEmailKey = "current_user_email"
	ContextIsAdminKey   = "current_user_admin"
)

func bearerToken(c *gin.Context) (string, error) {
	auth := c.GetHeader("Authorization")
	if auth == "" {
		// browsers cannot set headers on a websocket handshake
		if c.IsWebsocket() {
			if tok := strings.TrimSpace(c.Query("token")); tok != "" {
				return tok, nil
			}
		}
		return "", apierr.Unauthorized("missing authorization header")
	}
	parts := strings.Fields(auth)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", apierr.Unauthorized("invalid authorization header")
	}
	return parts[1], nil
}

// AuthMiddleware resolves the bearer token to a user through authn.
func AuthMiddleware(authn services.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, err := bearerToken(c)
		if err != nil {
			apierr.Abort(c, "UNAUTHORIZED", err)
			return
		}
		user, err := authn.Authenticate(c.Request.Context(), tok)
		if err != nil {
			if errors.Is(err, services.ErrInvalidToken) {
				apierr.Abort(c, "UNAUTHORIZED", apierr.Unauthorized("invalid token"))
				return
			}
			apierr.Abort(c, "UNAUTHORIZED", apierr.Unavailable("auth service unavailable", err))
			return
		}
		c.Set(ContextUserIDKey, user.ID)
		c.Set(ContextUserEmailKey, user.Email)
		c.Next()
	}
}

// RequireAdmin must run after AuthMiddleware.
func RequireAdmin(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := IsAdmin(c, db)
		if err != nil {
			apierr.Abort(c, "FORBIDDEN", err)
			return
		}
		if !ok {
			apierr.Abort(c, "FORBIDDEN", apierr.Forbidden("admin role required"))
			return
		}
		c.Next()
	}
}

// IsAdmin looks up the caller's role once per request.
func IsAdmin(c *gin.Context, db *gorm.DB) (bool, error) {
	if v, ok := c.Get(ContextIsAdminKey); ok {
		return v.(bool), nil
	}
	ok, err := services.IsAdmin(c.Request.Context(), db, CurrentUserID(c))
	if err != nil {
		return false, err
	}
	c.Set(ContextIsAdminKey, ok)
	return ok, nil
}

func CurrentUserID(c *gin.Context) string {
	return c.GetString(ContextUserIDKey)
}
