// Package notifier delivers "spot available" messages to waitlisted
// users. Delivery is best effort: a failed send is reported to the caller
// for logging but never undoes the notification state.
package notifier

import (
	"context"
	"errors"
	"time"
)

// SpotNotification carries everything a channel needs to tell a user a
// spot opened up, including the claim link and its deadline.
type SpotNotification struct {
	Email         string
	FullName      string
	ExpoPushToken string
	EventID       string
	EventTitle    string
	EventDate     time.Time
	ClaimURL      string
	ClaimDeadline time.Time
}

// Notifier is the delivery contract consumed by the waitlist coordinator.
type Notifier interface {
	NotifySpotAvailable(ctx context.Context, n SpotNotification) error
}

// Multi fans a notification out to every channel. All channels are
// attempted even when earlier ones fail; the errors are joined.
type Multi []Notifier

// NotifySpotAvailable implements Notifier.
func (m Multi) NotifySpotAvailable(ctx context.Context, n SpotNotification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.NotifySpotAvailable(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
