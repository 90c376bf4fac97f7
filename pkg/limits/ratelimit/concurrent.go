package ratelimit

// ConcurrentLimiter is a non-blocking counting semaphore.
type ConcurrentLimiter struct {
	slots chan struct{}
}

// NewConcurrentLimiter creates a limiter with max slots.
func NewConcurrentLimiter(max int) *ConcurrentLimiter {
	return &ConcurrentLimiter{slots: make(chan struct{}, max)}
}

// Acquire takes a slot if one is free.
func (c *ConcurrentLimiter) Acquire() bool {
	select {
	case c.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot.
func (c *ConcurrentLimiter) Release() {
	select {
	case <-c.slots:
	default:
	}
}

// InFlight returns the number of taken slots.
func (c *ConcurrentLimiter) InFlight() int { return len(c.slots) }

// Max returns the slot count.
func (c *ConcurrentLimiter) Max() int { return cap(c.slots) }
