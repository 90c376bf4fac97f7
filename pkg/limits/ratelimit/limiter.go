package ratelimit

import (
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// Limiter applies a token bucket per client key and an optional global
// concurrency cap. It is safe for concurrent use.
type Limiter struct {
	config Config
	burst  int

	mu      sync.Mutex
	clients *lru.Cache[string, *rate.Limiter]

	concurrent *ConcurrentLimiter
}

// NewLimiter creates a limiter for config.
func NewLimiter(config Config) *Limiter {
	l := &Limiter{config: config}

	if config.RequestsPerSecond > 0 {
		l.burst = config.Burst
		if l.burst <= 0 {
			l.burst = int(math.Max(1, math.Ceil(config.RequestsPerSecond)))
		}
		size := config.MaxClients
		if size <= 0 {
			size = DefaultMaxClients
		}
		// lru.New only fails for a non-positive size.
		l.clients, _ = lru.New[string, *rate.Limiter](size)
	}
	if config.MaxConcurrent > 0 {
		l.concurrent = NewConcurrentLimiter(config.MaxConcurrent)
	}
	return l
}

// Config returns the limiter configuration.
func (l *Limiter) Config() Config { return l.config }

// Allow consumes one request for key. When the client is over its rate it
// returns false and how long until a request would be allowed.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	return l.allowAt(key, time.Now())
}

func (l *Limiter) allowAt(key string, now time.Time) (bool, time.Duration) {
	if l.clients == nil {
		return true, 0
	}
	r := l.client(key).ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (l *Limiter) client(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.clients.Get(key); ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.burst)
	l.clients.Add(key, lim)
	return lim
}

// Clients returns the number of tracked client keys.
func (l *Limiter) Clients() int {
	if l.clients == nil {
		return 0
	}
	return l.clients.Len()
}

// Acquire takes a concurrency slot. It returns false when all slots are in
// use. Release must be called after a successful Acquire.
func (l *Limiter) Acquire() bool {
	if l.concurrent == nil {
		return true
	}
	return l.concurrent.Acquire()
}

// Release returns a slot taken by Acquire.
func (l *Limiter) Release() {
	if l.concurrent != nil {
		l.concurrent.Release()
	}
}
