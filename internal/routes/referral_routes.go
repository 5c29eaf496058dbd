package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/revaspay/referrals/internal/middleware"
)

// RegisterReferralRoutes registers the rider-facing referral routes
func RegisterReferralRoutes(router *gin.Engine, opts Options) {
	referralGroup := router.Group("/api/referrals")
	referralGroup.Use(middleware.AuthMiddleware(opts.Tokens))
	if opts.RateLimiter != nil {
		referralGroup.Use(opts.RateLimiter.UserRateLimiterMiddleware())
	}
	{
		referralGroup.POST("/code", opts.Referrals.GenerateCode)
		referralGroup.POST("", opts.Referrals.CreateReferral)
		referralGroup.POST("/validate", opts.Referrals.ValidateReferral)
		referralGroup.POST("/progress", opts.Referrals.UpdateProgress)
		referralGroup.GET("/stats", opts.Referrals.GetStats)
		referralGroup.GET("/:id", opts.Referrals.GetReferral)
	}
}
