package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/FACorreiaa/clinic-admin/internal/app/domain/auth"
	"github.com/FACorreiaa/clinic-admin/internal/app/domain/resources"
	"github.com/FACorreiaa/clinic-admin/internal/app/middleware"
	"github.com/FACorreiaa/clinic-admin/internal/pkg/config"
)

// maxUploadBytes bounds in-memory multipart parsing for avatars and attachments.
const maxUploadBytes = 16 << 20

// SetupRouter configures and returns the Gin router with all middleware and routes
func SetupRouter(cfg *config.Config, guard auth.SessionGuard, provider resources.DataProvider, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.MaxMultipartMemory = maxUploadBytes

	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.OTELGinMiddleware(cfg.Observability.ServiceName))
	r.Use(middleware.LoggerMiddleware(logger))
	r.Use(middleware.ObservabilityMiddleware())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigin))
	r.Use(middleware.SecurityMiddleware())

	r.GET(middleware.HealthPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authHandlers := auth.NewAuthHandlers(guard, logger)
	resourceHandlers := resources.NewResourceHandlers(provider, guard, logger)

	api := r.Group("/api")
	{
		authGroup := api.Group("/auth")
		authGroup.POST("/login", authHandlers.Login)
		authGroup.POST("/logout", authHandlers.Logout)
		authGroup.GET("/identity", authHandlers.RequireSession(), authHandlers.Identity)
		authGroup.GET("/permissions", authHandlers.Permissions)

		protected := api.Group("")
		protected.Use(authHandlers.RequireSession())
		resourceHandlers.Register(protected)
	}

	return r
}
