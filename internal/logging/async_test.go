package logging

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type blockingWriter struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	release chan struct{}
}

func (b *blockingWriter) Write(p []byte) (int, error) {
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *blockingWriter) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAsyncWriterFlushesOnClose(t *testing.T) {
	var buf bytes.Buffer
	w := NewAsyncWriter(&buf, 0, nil)

	for _, line := range []string{"one\n", "two\n", "three\n"} {
		n, err := w.Write([]byte(line))
		require.NoError(t, err)
		assert.Equal(t, len(line), n)
	}
	require.NoError(t, w.Close())

	assert.Equal(t, "one\ntwo\nthree\n", buf.String())
}

func TestAsyncWriterRejectsAfterClose(t *testing.T) {
	w := NewAsyncWriter(&bytes.Buffer{}, 1, nil)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err := w.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAsyncWriterDropsOldestWhenFull(t *testing.T) {
	scope := tally.NewTestScope("", nil)
	out := &blockingWriter{release: make(chan struct{})}
	w := NewAsyncWriter(out, 2, scope)

	// The processor takes "a" and blocks in out.Write; "b" and "c" fill
	// the queue, "d" evicts "b".
	_, _ = w.Write([]byte("a"))
	require.Eventually(t, func() bool { return len(w.queue) == 0 }, timeout, tick)
	for _, s := range []string{"b", "c", "d"} {
		_, err := w.Write([]byte(s))
		require.NoError(t, err)
	}

	close(out.release)
	require.NoError(t, w.Close())

	assert.Equal(t, "acd", out.String())
	var dropped int64
	for _, c := range scope.Snapshot().Counters() {
		if c.Name() == "logsink.dropped" {
			dropped = c.Value()
		}
	}
	assert.Equal(t, int64(1), dropped)
}

const (
	timeout = time.Second
	tick    = time.Millisecond
)
