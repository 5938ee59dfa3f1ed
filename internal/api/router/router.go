package router

import (
	"context"
	"net/http"
	"time"

	"github.com/cuongbtq/soundcron/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps.Checks))

	soundCronHandler := handler.NewSoundCronHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		servers := v1.Group("/servers/:server_id/soundcrons")
		{
			servers.POST("", soundCronHandler.CreateSoundCron)
			servers.GET("", soundCronHandler.ListServerSoundCrons)
			servers.GET("/:name", soundCronHandler.GetSoundCron)
			servers.GET("/:name/status", soundCronHandler.GetStatus)
			servers.DELETE("/:name", soundCronHandler.DeleteSoundCron)
		}

		soundcrons := v1.Group("/soundcrons")
		{
			soundcrons.GET("", soundCronHandler.ListSoundCrons)
			soundcrons.GET("/unassigned", soundCronHandler.ListUnassigned)
		}
	}

	return r
}

// healthHandler probes every backend; any failure reports the service
// unhealthy
func healthHandler(checks map[string]handler.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check.HealthCheck(ctx); err != nil {
				results[name] = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "healthy"
		}

		overall := "healthy"
		if status != http.StatusOK {
			overall = "unhealthy"
		}
		c.JSON(status, gin.H{
			"status":  overall,
			"service": "soundcron-api-service",
			"checks":  results,
		})
	}
}
