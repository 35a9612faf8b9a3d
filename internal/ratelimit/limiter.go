package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

// Decision is the outcome of a rate-limit check. When Allowed is false,
// Message explains the denial and RetryAfter holds the wait in minutes.
type Decision struct {
	Allowed    bool
	Message    string
	RetryAfter int
}

type record struct {
	count       int
	lastRequest time.Time
	blocked     bool
	blockExpiry time.Time
}

// Limiter bounds the rate of OTP-related requests per identifier. The
// window is sliding: it is measured from the most recent request, not a
// fixed clock boundary. State is process-local and advisory; the real
// enforcement is expected upstream.
type Limiter struct {
	mu            sync.Mutex
	records       map[uint64]*record
	maxRequests   int
	window        time.Duration
	blockDuration time.Duration

	now func() time.Time
}

// New creates a Limiter allowing maxRequests per window, blocking an
// identifier for blockDuration once the limit is exceeded.
func New(maxRequests int, window, blockDuration time.Duration) *Limiter {
	return &Limiter{
		records:       make(map[uint64]*record),
		maxRequests:   maxRequests,
		window:        window,
		blockDuration: blockDuration,
		now:           time.Now,
	}
}

// Check records an attempt for the identifier and decides whether it
// may proceed.
func (l *Limiter) Check(identifier string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := hashIdentifier(identifier)

	existing, ok := l.records[key]
	if !ok {
		l.records[key] = &record{count: 1, lastRequest: now}
		return Decision{Allowed: true}
	}

	if existing.blocked && now.Before(existing.blockExpiry) {
		retryAfter := minutesCeil(existing.blockExpiry.Sub(now))
		return Decision{
			Allowed:    false,
			Message:    fmt.Sprintf("Too many requests. Try again in %d minutes.", retryAfter),
			RetryAfter: retryAfter,
		}
	}

	// Window elapsed since the last request: start over.
	if now.Sub(existing.lastRequest) > l.window {
		l.records[key] = &record{count: 1, lastRequest: now}
		return Decision{Allowed: true}
	}

	if existing.count >= l.maxRequests {
		existing.blocked = true
		existing.blockExpiry = now.Add(l.blockDuration)
		return Decision{
			Allowed:    false,
			Message:    "Too many OTP requests. Please try again later.",
			RetryAfter: minutesCeil(l.blockDuration),
		}
	}

	existing.count++
	existing.lastRequest = now
	return Decision{Allowed: true}
}

// Reset removes the record for the identifier unconditionally.
func (l *Limiter) Reset(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, hashIdentifier(identifier))
}

// hashIdentifier keys the map by a murmur3 hash so raw phone numbers do
// not linger in process memory as map keys.
func hashIdentifier(identifier string) uint64 {
	return murmur3.Sum64([]byte(identifier))
}

func minutesCeil(d time.Duration) int {
	minutes := int(d / time.Minute)
	if d%time.Minute != 0 {
		minutes++
	}
	return minutes
}
