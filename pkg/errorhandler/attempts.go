package errorhandler

import "sync"

// AttemptCounter counts retries per request signature. It lives as long as
// the handler that owns it and is never persisted.
type AttemptCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewAttemptCounter creates an empty counter.
func NewAttemptCounter() *AttemptCounter {
	return &AttemptCounter{counts: make(map[string]int)}
}

// Next returns the number of earlier retries of signature and records one more.
func (c *AttemptCounter) Next(signature string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.counts[signature]
	c.counts[signature] = n + 1
	return n
}

// Get returns the number of retries recorded for signature.
func (c *AttemptCounter) Get(signature string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[signature]
}

// Reset forgets signature.
func (c *AttemptCounter) Reset(signature string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, signature)
}

// Len returns the number of tracked signatures.
func (c *AttemptCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.counts)
}
