package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// nonceKey identifies one logical submission attempt. The nonce is scoped to
// the bidder and auction so one client's nonce can never collide with
// another's.
type nonceKey struct {
	bidderID  uuid.UUID
	auctionID uuid.UUID
	nonce     string
}

type cachedResult struct {
	status  int
	body    []byte
	expires time.Time
}

// nonceCache answers an exact retry of a recent submission with its original
// result instead of re-validating it. It only suppresses duplicates; it never
// affects ordering or acceptance.
type nonceCache struct {
	clock clockwork.Clock
	ttl   time.Duration

	mu      sync.Mutex
	results map[nonceKey]cachedResult
}

func newNonceCache(clock clockwork.Clock, ttl time.Duration) *nonceCache {
	return &nonceCache{
		clock:   clock,
		ttl:     ttl,
		results: make(map[nonceKey]cachedResult),
	}
}

func (c *nonceCache) get(key nonceKey) (cachedResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.results[key]
	if !ok || c.clock.Now().After(res.expires) {
		return cachedResult{}, false
	}
	return res, true
}

func (c *nonceCache) put(key nonceKey, status int, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[key] = cachedResult{
		status:  status,
		body:    body,
		expires: c.clock.Now().Add(c.ttl),
	}
	// Opportunistic sweep; the cache stays small at expected bid rates.
	for k, v := range c.results {
		if c.clock.Now().After(v.expires) {
			delete(c.results, k)
		}
	}
}
