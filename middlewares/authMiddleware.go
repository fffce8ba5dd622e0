package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tabshare/tabshare_backend/utils"
)

// AuthMiddleware resolves the caller from the Authorization header. A missing
// header passes through; route guards decide whether anonymous is acceptable.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")

		if auth == "" {
			c.Next()
			return
		}

		const bearer = "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		auth = auth[len(bearer):]

		validate, err := utils.JwtValidate(auth)
		if err != nil || !validate.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		claim, ok := validate.Claims.(*utils.JwtCustomClaim)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetAccountIdInContext(c.Request.Context(), claim.ID)
		ctx = utils.SetUsernameInContext(ctx, claim.Username)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireAccount guards routes that need an authenticated caller.
func RequireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetAccountIdFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}
