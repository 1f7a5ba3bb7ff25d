// Package logging provides log sinks for the lesson server.
package logging

import (
	"errors"
	"io"
	"sync"

	"github.com/uber-go/tally"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("async writer closed")

const defaultQueueSize = 256

// AsyncWriter forwards writes to out from a background goroutine so a
// slow sink never blocks the caller. When the queue is full the oldest
// entry is dropped.
type AsyncWriter struct {
	out   io.Writer
	queue chan []byte
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	dropped tally.Counter
	failed  tally.Counter
}

// NewAsyncWriter starts a writer with the given queue size (0 means default).
func NewAsyncWriter(out io.Writer, queueSize int, scope tally.Scope) *AsyncWriter {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if scope == nil {
		scope = tally.NoopScope
	}
	scope = scope.SubScope("logsink")
	w := &AsyncWriter{
		out:     out,
		queue:   make(chan []byte, queueSize),
		done:    make(chan struct{}),
		dropped: scope.Counter("dropped"),
		failed:  scope.Counter("write_errors"),
	}
	go w.process()
	return w
}

// Write implements io.Writer. It never blocks on out.
func (w *AsyncWriter) Write(p []byte) (int, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return 0, ErrClosed
	}

	data := make([]byte, len(p))
	copy(data, p)

	select {
	case w.queue <- data:
		return len(p), nil
	default:
	}

	// Full: make room by dropping the oldest entry.
	select {
	case <-w.queue:
		w.dropped.Inc(1)
	default:
	}
	select {
	case w.queue <- data:
	default:
		w.dropped.Inc(1)
	}
	return len(p), nil
}

func (w *AsyncWriter) process() {
	defer close(w.done)
	for data := range w.queue {
		if _, err := w.out.Write(data); err != nil {
			w.failed.Inc(1)
		}
	}
}

// Close flushes queued entries to out and stops the writer. It does not
// close out.
func (w *AsyncWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	<-w.done
	return nil
}
