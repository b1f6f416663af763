package realtime

import (
	"strings"
	"sync"
)

// TranscriptBuffer accumulates streamed text deltas of the current assistant utterance.
// Deltas are kept in arrival order; it is an append log, never a set.
type TranscriptBuffer struct {
	mu    sync.Mutex
	parts []string
}

// Append adds a delta and returns the accumulated text.
func (b *TranscriptBuffer) Append(delta string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parts = append(b.parts, delta)
	return strings.Join(b.parts, "")
}

// String returns the accumulated text.
func (b *TranscriptBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.parts, "")
}

// Flush returns the accumulated text and empties the buffer.
func (b *TranscriptBuffer) Flush() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := strings.Join(b.parts, "")
	b.parts = nil
	return s
}

// Reset discards any partial text.
func (b *TranscriptBuffer) Reset() {
	b.mu.Lock()
	b.parts = nil
	b.mu.Unlock()
}

// Len is the number of deltas held.
func (b *TranscriptBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.parts)
}
