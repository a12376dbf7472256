package telemetry

import (
	"sync"

	"github.com/yegors/co-utm/internal/registry"
)

// ring keeps the most recent points of one flight
type ring struct {
	mu    sync.Mutex
	buf   []registry.TelemetryPoint
	start int
	n     int
}

func newRing(size int) *ring {
	return &ring{buf: make([]registry.TelemetryPoint, size)}
}

func (r *ring) add(p registry.TelemetryPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == 0 {
		return
	}
	idx := (r.start + r.n) % len(r.buf)
	r.buf[idx] = p
	if r.n < len(r.buf) {
		r.n++
	} else {
		r.start = (r.start + 1) % len(r.buf)
	}
}

// latest returns up to limit points, newest first
func (r *ring) latest(limit int) []registry.TelemetryPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.n
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]registry.TelemetryPoint, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.start + r.n - 1 - i) % len(r.buf)
		out = append(out, r.buf[idx].Clone())
	}
	return out
}
