// Package logbuf keeps a fixed-size ring of recent log output so the
// admin log endpoint can serve a tail without touching disk.
package logbuf

import (
	"io"
	"sync"
)

// Ring is a fixed-size circular byte buffer. When full, the oldest
// bytes are overwritten, so memory stays bounded no matter how chatty
// the server gets.
type Ring struct {
	buf  []byte
	size int
	head int // write position
	tail int // read position
	full bool
	mu   sync.RWMutex
}

// NewRing creates a ring with the given capacity (64KB default).
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 64 * 1024
	}
	return &Ring{
		buf:  make([]byte, size),
		size: size,
	}
}

// Write implements io.Writer. When the ring is full the oldest data is
// overwritten.
func (r *Ring) Write(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range p {
		if r.full {
			r.tail = (r.tail + 1) % r.size
		}
		r.buf[r.head] = b
		r.head = (r.head + 1) % r.size
		if r.head == r.tail {
			r.full = true
		}
	}
	return len(p), nil
}

// String returns the buffered contents in write order, even after the
// ring has wrapped.
func (r *Ring) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.full && r.head == r.tail {
		return ""
	}
	if r.full && r.head == r.tail {
		return string(r.buf)
	}
	if r.head > r.tail {
		return string(r.buf[r.tail:r.head])
	}
	return string(r.buf[r.tail:]) + string(r.buf[:r.head])
}

// Len returns the number of buffered bytes.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.full && r.head == r.tail {
		return 0
	}
	if r.full && r.head == r.tail {
		return r.size
	}
	if r.head > r.tail {
		return r.head - r.tail
	}
	return (r.size - r.tail) + r.head
}

// Reset clears the ring.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.tail = 0
	r.full = false
}

// Tee returns a writer that copies to both w and the ring. Handed to
// the slog handler at startup so the admin log tail mirrors stdout.
func Tee(w io.Writer, ring *Ring) io.Writer {
	return io.MultiWriter(w, ring)
}
