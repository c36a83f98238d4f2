package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireAdmin must run after RequireAuth.
func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := UserFromContext(c)

		if !ok {
			abortUnauthorized(c)
			return
		}
		if !u.IsAdmin {
			abortWithError(c, http.StatusForbidden, "forbidden", "Not enough permissions")
			return
		}
		c.Next()
	}
}
