// internal/proxy/pool.go
package proxy

import (
	"math/rand/v2"
	"sync"
)

// Pool is a read-only set of static endpoints. Pick draws uniformly at random
// and is safe for concurrent use.
type Pool struct {
	endpoints []Endpoint

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewPool copies endpoints into a pool. A nil rnd uses the global source.
func NewPool(endpoints []Endpoint, rnd *rand.Rand) *Pool {
	cp := make([]Endpoint, len(endpoints))
	copy(cp, endpoints)
	return &Pool{endpoints: cp, rnd: rnd}
}

// Len returns the number of endpoints.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.endpoints)
}

// Pick returns a random endpoint, or false for an empty pool.
func (p *Pool) Pick() (Endpoint, bool) {
	if p.Len() == 0 {
		return Endpoint{}, false
	}
	if p.rnd == nil {
		return p.endpoints[rand.IntN(len(p.endpoints))], true
	}
	p.mu.Lock()
	i := p.rnd.IntN(len(p.endpoints))
	p.mu.Unlock()
	return p.endpoints[i], true
}
