package pool

import "sync"

// recentRing tracks recently issued numbers per service so consecutive draws
// avoid handing out the same number twice in a row. It is advisory only: when
// excluding its members would leave nothing to draw, the ring resets instead
// of starving the draw.
type recentRing struct {
	mu     sync.Mutex
	recent map[string][]string
}

func newRecentRing() *recentRing {
	return &recentRing{recent: make(map[string][]string)}
}

// Remember appends a number to the service's ring. poolSize caps the ring so
// it never grows past the candidate set it filters.
func (r *recentRing) Remember(service, number string, poolSize int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ring := append(r.recent[service], number)
	if max := poolSize - 1; max > 0 && len(ring) > max {
		ring = ring[len(ring)-max:]
	}
	r.recent[service] = ring
}

// Filter returns candidates not present in the service's ring. When exclusion
// would empty the result, the ring is reset and the full candidate set
// returned.
func (r *recentRing) Filter(service string, candidates []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ring := r.recent[service]
	if len(ring) == 0 {
		return candidates
	}
	seen := make(map[string]struct{}, len(ring))
	for _, n := range ring {
		seen[n] = struct{}{}
	}
	filtered := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c]; !ok {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		r.recent[service] = nil
		return candidates
	}
	return filtered
}

// Forget drops a number from every service ring. Called when a slot is
// deleted so the ring does not pin ghosts.
func (r *recentRing) Forget(number string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for service, ring := range r.recent {
		for i, n := range ring {
			if n == number {
				r.recent[service] = append(ring[:i], ring[i+1:]...)
				break
			}
		}
	}
}

// Reset clears every service ring.
func (r *recentRing) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recent = make(map[string][]string)
}
