package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/revaspay/referrals/internal/handlers"
	"github.com/revaspay/referrals/internal/middleware"
	"github.com/revaspay/referrals/internal/utils"
)

// Options carries everything the router needs
type Options struct {
	Referrals    *handlers.ReferralHandler
	Internal     *handlers.InternalHandler
	HealthChecks map[string]handlers.HealthCheck
	Tokens       *utils.TokenManager
	ServiceToken string
	RateLimiter  *middleware.RateLimiter
}

// RegisterRoutes registers all routes for the application
func RegisterRoutes(router *gin.Engine, opts Options) {
	router.Use(middleware.SecureHeadersMiddleware(middleware.DefaultSecureHeadersConfig()))
	if opts.RateLimiter != nil {
		router.Use(opts.RateLimiter.IPRateLimiterMiddleware())
	}

	router.GET("/healthz", handlers.Health(opts.HealthChecks))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	RegisterReferralRoutes(router, opts)
	RegisterInternalRoutes(router, opts)
}
