package testrun

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

const (
	breakerTrips   = 3
	breakerTimeout = 30 * time.Second
)

// BreakerRunner stops calling a runner whose backend keeps failing to
// launch commands, e.g. a stopped learner container. Failing tests do not
// count against it.
type BreakerRunner struct {
	next CommandRunner
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerRunner wraps next. After consecutive launch failures the
// breaker opens for timeout (0 means 30s) and runs fail fast.
func NewBreakerRunner(name string, next CommandRunner, timeout time.Duration, logger *slog.Logger) *BreakerRunner {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = breakerTimeout
	}
	return &BreakerRunner{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerTrips
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !errors.Is(err, ErrLaunch)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Test runner breaker changed state", "runner", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// Run implements CommandRunner.
func (b *BreakerRunner) Run(ctx context.Context, cmd Command) (*Output, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Run(ctx, cmd)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &LaunchError{Command: cmd.Line, Reason: "test runner unavailable", Err: err}
	}
	if err != nil {
		return nil, err
	}
	return res.(*Output), nil
}
