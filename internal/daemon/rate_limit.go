package daemon

import (
	"net/http"
	"net/netip"
	"sync"
	"time"
)

const defaultRateLimitTTL = 10 * time.Minute

// IPRateLimiter is a per-IP token bucket for the TCP control listener.
// Apply and clear requests end in modem property writes, so a chatty
// client is throttled before it reaches the engine.
type IPRateLimiter struct {
	qps   float64
	burst float64
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[netip.Addr]*ipBucket
	lastSweep time.Time
}

type ipBucket struct {
	tokens  float64
	filled  time.Time
	touched time.Time
}

// take refills the bucket for the time elapsed since the last refill and
// spends one token if one is available.
func (b *ipBucket) take(now time.Time, qps, burst float64) bool {
	b.touched = now
	if elapsed := now.Sub(b.filled); elapsed > 0 {
		b.tokens = min(burst, b.tokens+elapsed.Seconds()*qps)
		b.filled = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// NewIPRateLimiter returns nil (limiting disabled) when qps or burst is not
// positive.
func NewIPRateLimiter(qps float64, burst int) *IPRateLimiter {
	if qps <= 0 || burst <= 0 {
		return nil
	}
	return &IPRateLimiter{
		qps:     qps,
		burst:   float64(burst),
		ttl:     defaultRateLimitTTL,
		now:     time.Now,
		buckets: make(map[netip.Addr]*ipBucket),
	}
}

// Allow takes one token from the bucket of the remote IP. Unparseable and
// unspecified addresses are always refused.
func (l *IPRateLimiter) Allow(remote string) bool {
	if l == nil {
		return true
	}
	addr, ok := remoteAddr(remote)
	if !ok || addr.IsUnspecified() {
		return false
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(now)

	bucket, ok := l.buckets[addr]
	if !ok {
		bucket = &ipBucket{tokens: l.burst, filled: now}
		l.buckets[addr] = bucket
	}
	return bucket.take(now, l.qps, l.burst)
}

// Wrap rejects requests over the limit with 429. /healthz is exempt.
func (l *IPRateLimiter) Wrap(next http.Handler) http.Handler {
	if l == nil || next == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" && !l.Allow(r.RemoteAddr) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sweepLocked drops idle buckets at most once per ttl.
func (l *IPRateLimiter) sweepLocked(now time.Time) {
	if l.ttl <= 0 || (!l.lastSweep.IsZero() && now.Sub(l.lastSweep) < l.ttl) {
		return
	}
	for addr, bucket := range l.buckets {
		if now.Sub(bucket.touched) > l.ttl {
			delete(l.buckets, addr)
		}
	}
	l.lastSweep = now
}
