// Package scrollback stores terminal output history for a session: a bounded
// in-memory buffer plus a durable SQLite-backed store so scrollback survives
// restarts of the embedding application.
package scrollback

import (
	"sync"
)

// DefaultCap is the default maximum scrollback size in bytes.
const DefaultCap = 200_000

// Buffer is a bounded byte buffer holding the most recent terminal output.
// When the buffer exceeds its cap, older data is trimmed from the front so
// the content is always the suffix of the full output stream.
type Buffer struct {
	mu   sync.Mutex
	data []byte
	max  int
}

// NewBuffer creates a buffer with the given byte cap. If max <= 0,
// DefaultCap is used.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = DefaultCap
	}
	return &Buffer{max: max}
}

// Append adds output bytes, trimming from the front if the total exceeds
// the cap.
func (b *Buffer) Append(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if len(b.data) > b.max {
		b.data = b.data[len(b.data)-b.max:]
	}
}

// Replace overwrites the buffer contents, keeping only the trailing cap
// bytes. Used when authoritative history is reapplied from a source.
func (b *Buffer) Replace(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(p) > b.max {
		p = p[len(p)-b.max:]
	}
	b.data = append(b.data[:0], p...)
}

// Bytes returns a copy of the current contents.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Len returns the current length in bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}
