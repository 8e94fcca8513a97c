package router

import (
	"github.com/gin-gonic/gin"

	"github.com/imyashkale/deployer/internal/handlers"
	"github.com/imyashkale/deployer/internal/middleware"
)

// Setup configures and returns the application router. The health check is
// left open for liveness probes.
func Setup(
	healthHandler *handlers.HealthHandler,
	deployHandler *handlers.DeployHandler,
	secret []byte,
) *gin.Engine {

	// Create a new Gin router
	router := gin.Default()

	// API v1 routes
	v1 := router.Group("/api/v1")

	v1.GET("/health", healthHandler.Check)

	deployments := v1.Group("/deployments")
	deployments.Use(middleware.Authentication(secret))
	{
		deployments.POST("/:environment", deployHandler.Trigger)
		deployments.GET("", deployHandler.List)
	}

	return router
}
