package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/revaspay/referrals/internal/middleware"
)

// RegisterInternalRoutes registers service-to-service callbacks
func RegisterInternalRoutes(router *gin.Engine, opts Options) {
	internalGroup := router.Group("/api/internal")
	internalGroup.Use(middleware.ServiceTokenMiddleware(opts.ServiceToken))
	{
		internalGroup.POST("/trips/completed", opts.Internal.TripCompleted)
		internalGroup.POST("/rewards/:id/status", opts.Internal.UpdateRewardStatus)
	}
}
