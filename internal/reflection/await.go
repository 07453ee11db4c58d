package reflection

import (
	"context"
	"errors"
	"time"
)

// ErrAwaitTimeout is returned when a condition did not hold in time.
var ErrAwaitTimeout = errors.New("await condition: timed out")

// AwaitCondition polls cond every interval until it returns true, the timeout
// elapses, or ctx is cancelled. This is the coordinator's only suspension
// point; it cannot be cancelled from outside except through ctx.
// A cond error aborts the wait immediately.
func AwaitCondition(ctx context.Context, interval, timeout time.Duration, cond func(ctx context.Context) (bool, error)) error {
	deadline := time.Now().Add(timeout)

	for {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrAwaitTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
