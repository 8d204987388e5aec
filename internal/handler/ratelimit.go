package handler

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimits caps requests per owner per minute. Trades counts order
// placements, market executions and cancels on top of Requests. Zero
// disables a limit.
type RateLimits struct {
	Requests int
	Trades   int
}

type ownerEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ownerLimiter holds one token bucket per owner. A bucket refills at
// perMinute tokens a minute and holds at most perMinute. Buckets idle for
// a full minute are back at capacity and are dropped on the next sweep.
type ownerLimiter struct {
	mu        sync.Mutex
	perMinute int
	owners    map[string]*ownerEntry
	lastSweep time.Time
	now       func() time.Time
}

func newOwnerLimiter(perMinute int) *ownerLimiter {
	return &ownerLimiter{
		perMinute: perMinute,
		owners:    make(map[string]*ownerEntry),
		now:       time.Now,
	}
}

// reserve takes a token for owner. When none is available it returns
// false and how long until one is.
func (l *ownerLimiter) reserve(owner string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= time.Minute {
		for id, e := range l.owners {
			if now.Sub(e.lastSeen) >= time.Minute {
				delete(l.owners, id)
			}
		}
		l.lastSweep = now
	}

	e, ok := l.owners[owner]
	if !ok {
		e = &ownerEntry{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)}
		l.owners[owner] = e
	}
	e.lastSeen = now

	r := e.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (l *ownerLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.owners)
}

// rateLimit returns middleware that answers 429 once the owner has used
// up perMinute requests. It must run after requireOwner.
func rateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return newOwnerLimiter(perMinute).middleware
}

func (l *ownerLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, retry := l.reserve(ownerID(r))
		if !ok {
			secs := strconv.Itoa(int(math.Ceil(retry.Seconds())))
			w.Header().Set("Retry-After", secs)
			WriteError(w, http.StatusTooManyRequests, "rate_limited",
				"Rate limit exceeded, retry in "+secs+"s")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// priceWait bounds the request context of routes that may block on a
// price fetch. The cache falls back to its last entry when the deadline
// passes, so the response still goes out before the server's write
// timeout.
func priceWait(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
