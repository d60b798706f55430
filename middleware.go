package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// maxRequestIDLength caps client-supplied request IDs.
const maxRequestIDLength = 64

// clientLimiter is one client's token bucket.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// allow reports whether the client identified by key may make another request.
func (app *App) allow(key string) bool {
	app.LimiterMutex.Lock()
	defer app.LimiterMutex.Unlock()

	cl, ok := app.LimiterMap[key]
	if !ok {
		if key == "" {
			logWarn("Rate limiter key is empty")
		}
		rps := max(app.Config.RateLimitRPS, 1)
		burst := max(app.Config.RateLimitBurst, 1)
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
		app.LimiterMap[key] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter.Allow()
}

// pruneLimiters forgets clients not seen for maxIdle.
func (app *App) pruneLimiters(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	app.LimiterMutex.Lock()
	defer app.LimiterMutex.Unlock()
	n := 0
	for key, cl := range app.LimiterMap {
		if cl.lastSeen.Before(cutoff) {
			delete(app.LimiterMap, key)
			n++
		}
	}
	return n
}

// rateLimitMiddleware rejects clients that exceed their request budget.
// htmx callers keep the current page.
func (app *App) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if app.allow(c.ClientIP()) {
			c.Next()
			return
		}
		if c.GetHeader("HX-Request") == "true" {
			c.Header("HX-Reswap", "none")
			c.Header("HX-Trigger", "rate-limit-exceeded")
		}
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests. Please slow down."})
	}
}

// requestIDMiddleware propagates or assigns an X-Request-Id.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-Id")
		if reqID == "" || len(reqID) > maxRequestIDLength {
			reqID = uuid.NewString()
		}
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), requestIDKey, reqID))
		c.Header("X-Request-Id", reqID)
		c.Next()
	}
}
