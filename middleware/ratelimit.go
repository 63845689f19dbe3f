package middleware

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterIdle  = 10 * time.Minute
	limiterSweep = 5 * time.Minute
)

type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// RateLimit is a token bucket per caller: r requests per second with burst b.
// Behind Auth the caller is the player, so players sharing a NAT do not
// starve each other; elsewhere it is the client IP. It guards the player
// facing routes only; game-server event ingestion is not throttled.
//
// Idle buckets are dropped lazily by the request that notices the sweep is due.
func RateLimit(r rate.Limit, b int) gin.HandlerFunc {
	var (
		limiters  sync.Map
		nextSweep atomic.Int64
	)
	nextSweep.Store(time.Now().Add(limiterSweep).UnixNano())

	sweep := func(now int64) {
		due := nextSweep.Load()
		if now < due || !nextSweep.CompareAndSwap(due, now+int64(limiterSweep)) {
			return
		}
		cutoff := now - int64(limiterIdle)
		limiters.Range(func(k, v interface{}) bool {
			if v.(*callerLimiter).lastSeen.Load() < cutoff {
				limiters.Delete(k)
			}
			return true
		})
	}

	return func(c *gin.Context) {
		now := time.Now().UnixNano()
		sweep(now)

		v, _ := limiters.LoadOrStore(rateKey(c), &callerLimiter{limiter: rate.NewLimiter(r, b)})
		cl := v.(*callerLimiter)
		cl.lastSeen.Store(now)
		if !cl.limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func rateKey(c *gin.Context) string {
	if p := GetPlayer(c); p != nil {
		return "player:" + p.ID()
	}
	return "ip:" + c.ClientIP()
}
