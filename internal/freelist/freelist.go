// Package freelist provides a sync.Pool-backed recycler for the byte
// buffers the session loop (fskit.Server) uses to hold reply payloads.
// Recycling keeps the session loop's steady-state allocation rate flat
// regardless of how many requests are in flight, the same property the
// teacher's internal/buffer package aimed for with its own freelist.
package freelist

import "sync"

// defaultCapacity is the initial capacity handed out for a freshly
// allocated buffer; most FUSE payloads (names, small reads) fit well
// under this without a grow.
const defaultCapacity = 4096

// List recycles []byte buffers. The zero value is ready to use.
type List struct {
	pool sync.Pool
}

// Get returns a buffer with length 0 and at least defaultCapacity of
// backing capacity, either freshly allocated or reused from a prior Put.
// A pooled buffer smaller than defaultCapacity (Put accepts any size) is
// discarded rather than handed out, so callers never see the invariant
// violated.
func (l *List) Get() []byte {
	if v := l.pool.Get(); v != nil {
		if b := v.([]byte); cap(b) >= defaultCapacity {
			return b[:0]
		}
	}
	return make([]byte, 0, defaultCapacity)
}

// GetN is Get sized up front to at least n bytes, for callers that know
// their required length (e.g. a READ of a given size) and would
// otherwise immediately grow the zero-length buffer Get returns.
func (l *List) GetN(n int) []byte {
	b := l.Get()
	if cap(b) < n {
		return make([]byte, n)
	}
	return b[:n]
}

// Put returns b to the list for reuse. Callers must not touch b again
// after calling Put.
func (l *List) Put(b []byte) {
	if b == nil {
		return
	}
	l.pool.Put(b)
}
