package stream

import "sync"

// Health tracks the push channel's liveness for one client session: whether
// a stream is currently delivering frames, and how many consecutive connect
// failures have occurred. The delivery coordinator and the polling manager
// consult it; only the connector mutates it.
type Health struct {
	mu       sync.Mutex
	active   bool
	failures int
}

// Active reports whether the stream is currently connected and has
// delivered at least one frame (heartbeats count).
func (h *Health) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// Failures returns the consecutive connect-failure count.
func (h *Health) Failures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures
}

func (h *Health) markActive() {
	h.mu.Lock()
	h.active = true
	h.failures = 0
	h.mu.Unlock()
}

// markDown records a failure and returns the new consecutive count.
func (h *Health) markDown() int {
	h.mu.Lock()
	h.active = false
	h.failures++
	n := h.failures
	h.mu.Unlock()
	return n
}
