package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tabshare/tabshare_backend/config"
	"github.com/tabshare/tabshare_backend/models"
	"github.com/tabshare/tabshare_backend/utils"
)

// SessionMiddleware validates the opaque session token against Redis.
// Logout revokes the token server side, so an unexpired JWT alone is not
// enough to keep a session alive.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		username, exists, err := config.GetRedisValue("Token:" + token)
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		// session tokens carry only the username; resolve the principal so
		// downstream guards see the same context shape as the JWT path
		account, err := models.GetAccountByUsername(c.Request.Context(), username)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetUsernameInContext(ctx, username)
		ctx = utils.SetAccountIdInContext(ctx, account.ID)
		ctx = utils.SetAccountNameInContext(ctx, account.Name)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
