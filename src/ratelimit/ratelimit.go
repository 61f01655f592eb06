// Package ratelimit implements a per-session token-bucket dispatcher
// middleware, backing the reserved rate-limit-exceeded error code and
// taxonomy kind with an actual limiter.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"

	core "github.com/wsrelay/core"
	"github.com/wsrelay/core/src/dispatcher"
)

// Limiter rate-limits dispatched messages per session-id using a
// token-bucket (golang.org/x/time/rate).
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	rps   rate.Limit
	burst int
}

// New creates a Limiter allowing rps events per second per session,
// with burst capacity.
func New(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (l *Limiter) limiterFor(sessionID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[sessionID]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[sessionID] = lim
	}
	return lim
}

// Forget drops a session's bucket, called on session close to bound
// memory growth.
func (l *Limiter) Forget(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, sessionID)
}

// Middleware returns a dispatcher.Middleware that blocks dispatch and
// replies with code 1010 when a session's bucket is exhausted (spec
// §4.7 step 1: "the middleware is responsible for any reply").
func (l *Limiter) Middleware() dispatcher.Middleware {
	return func(ctx *dispatcher.Context) bool {
		lim := l.limiterFor(ctx.Session.ID())
		if lim.Allow() {
			return true
		}
		_ = ctx.Error(core.CodeRateLimitExceeded, "rate limit exceeded", nil)
		return false
	}
}
