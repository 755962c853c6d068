// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"math"
	"sync"
	"time"
)

// idleBucketTTL is how long a bucket may go untouched before it is swept. A
// bucket refills completely within one minute, so dropping it loses nothing.
const idleBucketTTL = time.Minute

type rateLimitDecision struct {
	Allowed           bool
	LimitPerMinute    int
	Remaining         int
	RetryAfterSeconds int
}

type clientBucket struct {
	tokens   float64
	lastSeen time.Time
}

// clientLimiter holds one token bucket per client key. Every bucket has the
// same capacity and refill rate.
type clientLimiter struct {
	mu        sync.Mutex
	limit     int
	perSecond float64
	buckets   map[string]*clientBucket
	lastSweep time.Time
}

func newClientLimiter(limitPerMinute int) *clientLimiter {
	if limitPerMinute <= 0 {
		limitPerMinute = 1
	}
	return &clientLimiter{
		limit:     limitPerMinute,
		perSecond: float64(limitPerMinute) / 60.0,
		buckets:   make(map[string]*clientBucket, 32),
	}
}

// Allow takes one token from key's bucket. New buckets start full.
func (l *clientLimiter) Allow(key string, now time.Time) rateLimitDecision {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= idleBucketTTL {
		l.sweep(now)
	}

	capacity := float64(l.limit)
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = &clientBucket{tokens: capacity, lastSeen: now}
		l.buckets[key] = bucket
	}
	if elapsed := now.Sub(bucket.lastSeen).Seconds(); elapsed > 0 {
		bucket.tokens = math.Min(capacity, bucket.tokens+elapsed*l.perSecond)
		bucket.lastSeen = now
	}

	if bucket.tokens >= 1 {
		bucket.tokens--
		return rateLimitDecision{
			Allowed:        true,
			LimitPerMinute: l.limit,
			Remaining:      int(math.Floor(bucket.tokens)),
		}
	}

	wait := int(math.Ceil((1 - bucket.tokens) / l.perSecond))
	if wait < 1 {
		wait = 1
	}
	return rateLimitDecision{
		LimitPerMinute:    l.limit,
		Remaining:         0,
		RetryAfterSeconds: wait,
	}
}

// sweep removes buckets idle for idleBucketTTL. Callers hold l.mu.
func (l *clientLimiter) sweep(now time.Time) {
	for key, bucket := range l.buckets {
		if now.Sub(bucket.lastSeen) >= idleBucketTTL {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

func (l *clientLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
