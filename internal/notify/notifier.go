package notify

import (
	"context"
	"errors"
)

// Notifier delivers a user-visible notification outside the agent session.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Multi fans a notification out to several notifiers. Delivery is
// best-effort: every notifier is tried, errors are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, title, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, title, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
