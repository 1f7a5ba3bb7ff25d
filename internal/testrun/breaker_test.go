package testrun

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedRunner struct {
	calls int
	err   error
	out   *Output
}

func (s *scriptedRunner) Run(context.Context, Command) (*Output, error) {
	s.calls++
	return s.out, s.err
}

func TestBreakerOpensAfterLaunchFailures(t *testing.T) {
	t.Parallel()

	next := &scriptedRunner{err: &LaunchError{Command: "cargo test", Reason: "container not found", Err: errors.New("gone")}}
	b := NewBreakerRunner("docker", next, time.Minute, nil)

	for range breakerTrips {
		_, err := b.Run(context.Background(), Command{Line: "cargo test"})
		require.ErrorIs(t, err, ErrLaunch)
	}
	require.Equal(t, breakerTrips, next.calls)

	_, err := b.Run(context.Background(), Command{Line: "cargo test"})
	require.ErrorIs(t, err, ErrLaunch)
	var lerr *LaunchError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "test runner unavailable", lerr.Reason)
	assert.Equal(t, breakerTrips, next.calls, "open breaker must not call the runner")
}

func TestBreakerIgnoresFailingTests(t *testing.T) {
	t.Parallel()

	next := &scriptedRunner{out: &Output{ExitCode: 1, Stderr: "assertion failed"}}
	b := NewBreakerRunner("shell", next, time.Minute, nil)

	for range breakerTrips + 2 {
		out, err := b.Run(context.Background(), Command{Line: "cargo test"})
		require.NoError(t, err)
		assert.Equal(t, 1, out.ExitCode)
	}
	assert.Equal(t, breakerTrips+2, next.calls)
}
