package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// loginRateLimiter tracks failed login attempts per source IP and enforces
// exponential backoff. Successful logins clear the state.
type loginRateLimiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptRecord
}

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

const (
	// maxFailures is the number of consecutive failures before lockout begins.
	maxFailures = 5
	// baseLockout is the initial lockout duration after maxFailures is reached.
	baseLockout = 1 * time.Minute
	// maxLockout caps the exponential backoff.
	maxLockout = 15 * time.Minute
	// attemptExpiry is how long after the last failure before the record is
	// garbage-collected.
	attemptExpiry = 1 * time.Hour
)

func newLoginRateLimiter() *loginRateLimiter {
	return &loginRateLimiter{
		attempts: make(map[string]*attemptRecord),
	}
}

// check returns true if the IP is currently locked out, along with how long
// the caller should wait. A zero duration means the request may proceed.
func (rl *loginRateLimiter) check(ip string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[ip]
	if !ok {
		return false, 0
	}
	if time.Since(rec.lastFailure) > attemptExpiry {
		delete(rl.attempts, ip)
		return false, 0
	}
	if time.Now().Before(rec.lockedUntil) {
		return true, time.Until(rec.lockedUntil)
	}
	return false, 0
}

// recordFailure increments the failure counter and applies exponential
// backoff once maxFailures is exceeded.
func (rl *loginRateLimiter) recordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[ip]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[ip] = rec
	}
	rec.failures++
	rec.lastFailure = time.Now()

	if rec.failures >= maxFailures {
		shift := rec.failures - maxFailures
		lockout := baseLockout
		for i := 0; i < shift; i++ {
			lockout *= 2
			if lockout > maxLockout {
				lockout = maxLockout
				break
			}
		}
		rec.lockedUntil = time.Now().Add(lockout)
	}
}

// recordSuccess resets the failure counter after a successful login.
func (rl *loginRateLimiter) recordSuccess(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, ip)
}

// sweep removes expired records.
func (rl *loginRateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for ip, rec := range rl.attempts {
		if now.Sub(rec.lastFailure) > attemptExpiry {
			delete(rl.attempts, ip)
		}
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many failed login attempts; try again later")
}

// ---------------------------------------------------------------------------
// Per-IP request throttle (token bucket)
// ---------------------------------------------------------------------------

const (
	defaultAuthRatePerSecond = 5
	defaultAuthRateBurst     = 10

	throttleEntryTTL = 5 * time.Minute
)

// authThrottle is a token-bucket limiter per client IP protecting the auth
// endpoints from hammering regardless of login outcome.
type authThrottle struct {
	mu        sync.Mutex
	buckets   map[string]*throttleBucket
	perSecond float64
	burst     int
}

type throttleBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newAuthThrottle(perSecond float64, burst int) *authThrottle {
	return &authThrottle{
		buckets:   make(map[string]*throttleBucket),
		perSecond: perSecond,
		burst:     burst,
	}
}

// allow reports whether a request from ip may proceed, pruning stale buckets
// as a side effect so the map stays bounded without a background goroutine.
func (t *authThrottle) allow(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for key, b := range t.buckets {
		if now.Sub(b.lastSeen) > throttleEntryTTL {
			delete(t.buckets, key)
		}
	}

	b, ok := t.buckets[ip]
	if !ok {
		b = &throttleBucket{lim: rate.NewLimiter(rate.Limit(t.perSecond), t.burst)}
		t.buckets[ip] = b
	}
	b.lastSeen = now
	return b.lim.Allow()
}

func (a *API) throttleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.throttle.allow(a.extractClientIP(r)) {
			writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many requests; slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}
