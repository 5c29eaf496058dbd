package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter implements rate limiting for API endpoints, per client IP and
// per authenticated user
type RateLimiter struct {
	ipLimiters    map[string]*rate.Limiter
	userLimiters  map[string]*rate.Limiter
	ipMutex       sync.Mutex
	userMutex     sync.Mutex
	ipRate        rate.Limit
	userRate      rate.Limit
	ipBurst       int
	userBurst     int
	cleanupTicker *time.Ticker
	done          chan struct{}
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(ipRequestsPerSecond, userRequestsPerMinute float64, ipBurst, userBurst int) *RateLimiter {
	limiter := &RateLimiter{
		ipLimiters:    make(map[string]*rate.Limiter),
		userLimiters:  make(map[string]*rate.Limiter),
		ipRate:        rate.Limit(ipRequestsPerSecond),
		userRate:      rate.Limit(userRequestsPerMinute / 60), // Convert to per-second rate
		ipBurst:       ipBurst,
		userBurst:     userBurst,
		cleanupTicker: time.NewTicker(5 * time.Minute),
		done:          make(chan struct{}),
	}

	go limiter.cleanup()

	return limiter
}

// cleanup periodically drops limiters so idle clients don't accumulate
func (rl *RateLimiter) cleanup() {
	for {
		select {
		case <-rl.done:
			return
		case <-rl.cleanupTicker.C:
			rl.ipMutex.Lock()
			rl.ipLimiters = make(map[string]*rate.Limiter)
			rl.ipMutex.Unlock()

			rl.userMutex.Lock()
			rl.userLimiters = make(map[string]*rate.Limiter)
			rl.userMutex.Unlock()
		}
	}
}

// Stop stops the rate limiter cleanup
func (rl *RateLimiter) Stop() {
	rl.cleanupTicker.Stop()
	close(rl.done)
}

func (rl *RateLimiter) getIPLimiter(ip string) *rate.Limiter {
	rl.ipMutex.Lock()
	defer rl.ipMutex.Unlock()

	limiter, exists := rl.ipLimiters[ip]
	if !exists {
		limiter = rate.NewLimiter(rl.ipRate, rl.ipBurst)
		rl.ipLimiters[ip] = limiter
	}
	return limiter
}

func (rl *RateLimiter) getUserLimiter(userID string) *rate.Limiter {
	rl.userMutex.Lock()
	defer rl.userMutex.Unlock()

	limiter, exists := rl.userLimiters[userID]
	if !exists {
		limiter = rate.NewLimiter(rl.userRate, rl.userBurst)
		rl.userLimiters[userID] = limiter
	}
	return limiter
}

// IPRateLimiterMiddleware limits requests based on IP address
func (rl *RateLimiter) IPRateLimiterMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.getIPLimiter(c.ClientIP()).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// UserRateLimiterMiddleware limits referral writes per authenticated user.
// It must run after AuthMiddleware.
func (rl *RateLimiter) UserRateLimiterMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(ContextUserID)
		if userID != "" && !rl.getUserLimiter(userID).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "too many referral attempts, please try again later",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
