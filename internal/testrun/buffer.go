package testrun

import "sync"

// defaultOutputLimit caps how much of each stream a run keeps.
const defaultOutputLimit = 64 * 1024

// ringBuffer keeps the last size bytes written to it, so a test that
// floods stdout cannot exhaust memory. The tail is kept because cargo and
// TAP print their summaries last.
type ringBuffer struct {
	mu    sync.Mutex
	buf   []byte
	head  int
	total int
}

func newRingBuffer(size int) *ringBuffer {
	if size <= 0 {
		size = defaultOutputLimit
	}
	return &ringBuffer{buf: make([]byte, size)}
}

// Write implements io.Writer. It never fails.
func (b *ringBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	size := len(b.buf)
	b.total += n

	if n >= size {
		copy(b.buf, p[n-size:])
		b.head = 0
		return n, nil
	}

	first := copy(b.buf[b.head:], p)
	copy(b.buf, p[first:])
	b.head = (b.head + n) % size
	return n, nil
}

// String returns the retained bytes in write order.
func (b *ringBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.total < len(b.buf) {
		return string(b.buf[:b.head])
	}
	return string(b.buf[b.head:]) + string(b.buf[:b.head])
}

// Truncated reports whether older output was overwritten.
func (b *ringBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total > len(b.buf)
}
