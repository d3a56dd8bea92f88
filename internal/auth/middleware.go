package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/feed-system/feed-system/internal/apperr"
)

const contextUserIDKey = "auth.user_id"

// RequireBearer parses the Authorization header and injects the verified
// user id into the gin context. Handlers downstream read it via UserID.
func RequireBearer(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			c.AbortWithStatusJSON(401, gin.H{"detail": "missing bearer token", "type": apperr.Kind(apperr.ErrUnauthorized)})
			return
		}
		userID, err := tokens.Verify(strings.TrimPrefix(header, prefix))
		if err != nil {
			c.AbortWithStatusJSON(401, gin.H{"detail": err.Error(), "type": apperr.Kind(apperr.ErrUnauthorized)})
			return
		}
		c.Set(contextUserIDKey, userID)
		c.Next()
	}
}

// UserID extracts the id injected by RequireBearer. Only valid on routes
// behind that middleware.
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(contextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
