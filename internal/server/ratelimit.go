package server

import (
	"sync"
	"time"
)

// loginLimiter counts login attempts per client IP over a fixed window.
type loginLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	buckets map[string]*loginBucket
}

type loginBucket struct {
	count   int
	resetAt time.Time
}

func newLoginLimiter(limit int, window time.Duration) *loginLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	return &loginLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*loginBucket),
	}
}

// Allow records an attempt from ip and reports whether it is within the
// window's limit.
func (l *loginLimiter) Allow(ip string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	bucket, ok := l.buckets[ip]
	if !ok || now.After(bucket.resetAt) {
		l.buckets[ip] = &loginBucket{count: 1, resetAt: now.Add(l.window)}
		l.sweep(now)
		return true
	}
	bucket.count++
	return bucket.count <= l.limit
}

// sweep drops stale buckets so the map cannot grow unbounded. Called with
// the lock held.
func (l *loginLimiter) sweep(now time.Time) {
	if len(l.buckets) < 1024 {
		return
	}
	for ip, bucket := range l.buckets {
		if now.After(bucket.resetAt) {
			delete(l.buckets, ip)
		}
	}
}
