package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (m *MiddlewareManager) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := m.auth.ValidateTokenJWT(c, c.GetHeader("Authorization"))
		if err != nil {
			m.log.Debug("Authentication failed", zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}

		c.Set("user", user)

		c.Next()
	}
}
