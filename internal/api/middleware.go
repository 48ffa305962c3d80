package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/victornm/trivia/internal/errors"
)

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (a *API) requirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.verifier.Enabled() {
			c.Next()
			return
		}

		claims, err := a.verifier.Verify(c.GetHeader("Authorization"), permission)
		if err != nil {
			a.fail(c, err)
			return
		}

		c.Set("subject", claims.Subject)
		c.Next()
	}
}

type RateLimit struct {
	// RPS is the sustained rate per client IP. Zero disables the limit.
	RPS   float64
	Burst int
	// IdleTTL drops limiters of clients that were not seen for this long.
	IdleTTL time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (a *API) rateLimit(c RateLimit) gin.HandlerFunc {
	if c.RPS <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 10 * time.Minute
	}

	var (
		mu        sync.Mutex
		visitors  = make(map[string]*visitor)
		lastSweep = time.Now()
	)

	get := func(ip string, now time.Time) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()

		if now.Sub(lastSweep) > c.IdleTTL {
			for k, v := range visitors {
				if now.Sub(v.lastSeen) > c.IdleTTL {
					delete(visitors, k)
				}
			}
			lastSweep = now
		}

		v, ok := visitors[ip]
		if !ok {
			v = &visitor{limiter: rate.NewLimiter(rate.Limit(c.RPS), c.Burst)}
			visitors[ip] = v
		}
		v.lastSeen = now

		return v.limiter
	}

	return func(ctx *gin.Context) {
		if !get(ctx.ClientIP(), time.Now()).Allow() {
			a.fail(ctx, errors.New(errors.CodeTooManyRequests))
			return
		}

		ctx.Next()
	}
}
