package api

import (
	"errors"
	"net/http"

	"officegateway/auth"
	"officegateway/internal/web/middleware"
	"officegateway/internal/web/models"

	"github.com/gin-gonic/gin"
)

func RegisterAuthRoutes(router *gin.Engine, authModule *auth.AuthModule, middlewareManager *middleware.MiddlewareManager) {
	r := router.Group("/auth")
	{
		r.POST("/login", func(c *gin.Context) {
			var loginRequest models.LoginRequest
			if err := c.ShouldBindJSON(&loginRequest); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			token, err := authModule.LoginWithJWT(c, loginRequest.Username, loginRequest.Password)
			if errors.Is(err, auth.ErrInvalidCredentials) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				return
			}
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"token": token})
		})
		r.POST("/logout", middlewareManager.RequireAuth(), func(c *gin.Context) {
			if err := authModule.LogoutJWT(c, c.GetHeader("Authorization")); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke token"})
				return
			}
			c.Status(http.StatusNoContent)
		})
	}
}
