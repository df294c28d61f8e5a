package runner

import (
	"strings"
	"sync"
)

// maxLogBytes caps the in-memory log buffer per deployment. When the cap is
// reached the oldest bytes are dropped, so the buffer always holds the most
// recent output.
const maxLogBytes = 1 << 20

// logBuffer is a concurrency-safe, size-capped sink for container output.
// It is written to by the log-streaming goroutine and snapshotted by request
// handlers.
type logBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newLogBuffer(max int) *logBuffer {
	return &logBuffer{max: max}
}

// Write implements io.Writer. It never fails; oversized input is trimmed
// from the front to stay within the cap.
func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

// WriteString appends s, applying the same cap as Write.
func (b *logBuffer) WriteString(s string) {
	b.Write([]byte(s)) //nolint:errcheck // Write never fails
}

// String returns the buffered output. Trimming at the cap can split a
// multi-byte rune, so the snapshot substitutes any invalid sequences to keep
// the result safe for JSON encoding.
func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.ToValidUTF8(string(b.buf), "�")
}

// Len returns the number of buffered bytes.
func (b *logBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}
