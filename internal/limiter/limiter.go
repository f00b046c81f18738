// Package limiter implements the gateway's per-client admission control: a
// fixed-window request counter keyed by client address, with a background
// sweep that bounds the table to recently-active clients.
package limiter

import (
	"context"
	"sync"
	"time"

	"tokgate/pkg/logger"
)

var log = logger.Get("Limiter")

type (
	Config struct {
		WindowSeconds int `yaml:"window_seconds" env:"RATE_LIMIT_WINDOW_SECONDS" env-default:"60"`
		MaxRequests   int `yaml:"max_requests" env:"RATE_LIMIT_MAX_REQUESTS" env-default:"5"`
	}

	// Decision is the outcome of one admission check. RetryAfter is only
	// meaningful on rejection and indicates when the client's window resets.
	Decision struct {
		Allowed    bool
		RetryAfter time.Duration
	}

	entry struct {
		count   int
		resetAt time.Time
	}

	// Limiter tracks one counter per client key. It is safe for concurrent
	// use; the table is the only state shared across in-flight requests.
	Limiter struct {
		mu      sync.Mutex
		entries map[string]*entry
		window  time.Duration
		cap     int
		now     func() time.Time
	}
)

func New(config Config) *Limiter {
	return &Limiter{
		entries: make(map[string]*entry),
		window:  time.Duration(config.WindowSeconds) * time.Second,
		cap:     config.MaxRequests,
		now:     time.Now,
	}
}

// Admit evaluates one request for the given client key. The first request
// for a key (or the first after its window has elapsed) opens a fresh
// window. Rejected requests do not consume quota.
func (limiter *Limiter) Admit(key string) Decision {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	now := limiter.now()
	ent, ok := limiter.entries[key]
	if !ok || now.After(ent.resetAt) {
		limiter.entries[key] = &entry{count: 1, resetAt: now.Add(limiter.window)}
		return Decision{Allowed: true}
	}

	if ent.count < limiter.cap {
		ent.count++
		return Decision{Allowed: true}
	}

	return Decision{Allowed: false, RetryAfter: ent.resetAt.Sub(now)}
}

// Run periodically sweeps expired entries from the table until the context
// is cancelled. The sweep interval matches the window length; an entry that
// survives a sweep is at most one window old.
func (limiter *Limiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(limiter.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := limiter.sweep()
			if removed > 0 {
				log.Emit(logger.DEBUG, "Swept %d expired rate limit entries\n", removed)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (limiter *Limiter) sweep() int {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	now := limiter.now()
	removed := 0
	for key, ent := range limiter.entries {
		if now.After(ent.resetAt) {
			delete(limiter.entries, key)
			removed++
		}
	}

	return removed
}
