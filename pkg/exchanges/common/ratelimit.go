package common

import (
	"log"
	"strconv"
	"sync"
	"time"
)

// UsedWeightHeader is the Binance response header carrying the
// consumed request weight for the current minute.
const UsedWeightHeader = "X-MBX-USED-WEIGHT-1M"

// RateLimiter tracks API weight usage reported by response headers.
type RateLimiter struct {
	mu         sync.RWMutex
	usedWeight int
	limit      int
	window     time.Duration
	lastReset  time.Time
}

// NewRateLimiter creates a weight tracker for the given per-window
// limit (1200/min for Binance spot).
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:     limit,
		window:    window,
		lastReset: time.Now(),
	}
}

// UpdateFromHeader records the used weight reported by the exchange.
// Non-numeric or empty values are ignored.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	if time.Since(rl.lastReset) >= rl.window {
		rl.lastReset = time.Now()
	}
	rl.usedWeight = weight
	used, limit := rl.usedWeight, rl.limit
	rl.mu.Unlock()

	pct := float64(used) / float64(limit) * 100
	if pct >= 95 {
		log.Printf("rate limit critical: %d/%d (%.1f%%) - approaching ban threshold", used, limit, pct)
	} else if pct >= 80 {
		log.Printf("rate limit warning: %d/%d (%.1f%%)", used, limit, pct)
	}
}

// Usage returns current weight usage.
func (rl *RateLimiter) Usage() (used int, limit int, percentage float64) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if time.Since(rl.lastReset) >= rl.window {
		return 0, rl.limit, 0
	}
	return rl.usedWeight, rl.limit, float64(rl.usedWeight) / float64(rl.limit) * 100
}

// ShouldDelay reports whether callers should back off before the
// next request.
func (rl *RateLimiter) ShouldDelay() bool {
	_, _, pct := rl.Usage()
	return pct >= 90
}
