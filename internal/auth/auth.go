package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ubuygold/stockmeta/internal/db"
	"github.com/ubuygold/stockmeta/internal/model"
)

const userContextKey = "stockmeta.user"

// UserStore resolves API tokens to dashboard users.
type UserStore interface {
	FindUserByToken(token string) (*model.User, error)
}

// tokenFromRequest reads a Bearer token, falling back to the x-goog-api-key header.
func tokenFromRequest(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return strings.TrimSpace(parts[1])
		}
	}
	return c.GetHeader("x-goog-api-key")
}

// UserAuthMiddleware authenticates a user by token. Pending and banned accounts
// are refused.
func UserAuthMiddleware(store UserStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := tokenFromRequest(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "API token is required"})
			return
		}

		user, err := store.FindUserByToken(token)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API token"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
			return
		}

		switch user.Status {
		case model.UserBanned:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Account is banned"})
			return
		case model.UserPending:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Account is pending approval"})
			return
		}

		c.Set(userContextKey, user)
		c.Next()
	}
}

// CurrentUser returns the user set by UserAuthMiddleware.
func CurrentUser(c *gin.Context) (*model.User, bool) {
	v, ok := c.Get(userContextKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*model.User)
	return user, ok
}

// AdminAuthMiddleware guards admin routes with basic auth as user "admin". An empty
// password rejects every request.
func AdminAuthMiddleware(adminPassword string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, password, hasAuth := c.Request.BasicAuth()
		if !hasAuth || adminPassword == "" || user != "admin" ||
			subtle.ConstantTimeCompare([]byte(password), []byte(adminPassword)) != 1 {
			c.Header("WWW-Authenticate", `Basic realm="Restricted"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}
