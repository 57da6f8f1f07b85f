package routes

import (
	"net/http"

	"abandonment-service/apperrors"
	"abandonment-service/controllers"
	"abandonment-service/middleware"

	"github.com/gin-gonic/gin"
)

type Options struct {
	ServiceSecret []byte
	TrackLimiter  *middleware.RateLimiter
	// Health reports extra fields for /health, e.g. breaker state.
	Health func() gin.H
}

func RegisterRoutes(router *gin.Engine, controller *controllers.TrackingController, opts Options) {
	router.GET("/health", func(c *gin.Context) {
		body := gin.H{"status": "OK", "service": "abandonment-service"}
		if opts.Health != nil {
			for k, v := range opts.Health() {
				body[k] = v
			}
		}
		c.JSON(http.StatusOK, body)
	})

	// Public: opened from mail clients
	track := router.Group("/track")
	if opts.TrackLimiter != nil {
		track.Use(middleware.RateLimit(opts.TrackLimiter))
	}
	{
		track.GET("/email/:log_id", controller.TrackOpen)
	}

	// Service to service
	internal := router.Group("/internal", middleware.ServiceAuth(opts.ServiceSecret), apperrors.ErrorMiddleware())
	{
		internal.POST("/track/click", controller.TrackClick)
		internal.POST("/track/purchase", controller.TrackPurchase)
		internal.POST("/activity", controller.TouchActivity)
		internal.POST("/catalog/reload", controller.ReloadCatalog)
		internal.GET("/abandonment/logs", controller.GetAbandonmentLogs)
	}
}
