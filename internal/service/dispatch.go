package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/OmishaPatel/pasera/internal/model"
	"github.com/OmishaPatel/pasera/internal/notifier"
	"github.com/OmishaPatel/pasera/internal/repository"
)

// Dispatcher resolves profiles and fans spot-available notifications out
// to the configured channels after a notifying transaction has committed.
// Delivery is at-least-attempted: a failure is logged, never rolled back,
// and the user still counts as notified.
type Dispatcher struct {
	store   repository.Store
	notif   notifier.Notifier
	baseURL string
}

// NewDispatcher constructs a Dispatcher. notif may be nil, in which case
// dispatching is a no-op (useful in tests).
func NewDispatcher(store repository.Store, notif notifier.Notifier, baseURL string) *Dispatcher {
	return &Dispatcher{
		store:   store,
		notif:   notif,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Dispatch sends a spot-available notification for each newly notified
// waitlist record.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *model.Event, recs []model.AttendanceRecord) {
	if d == nil || d.notif == nil || len(recs) == 0 {
		return
	}
	for _, rec := range recs {
		prof, err := d.store.GetProfile(ctx, rec.UserID)
		if err != nil {
			log.Printf("waitlist notify: no profile for user %s: %v", rec.UserID, err)
			continue
		}
		n := notifier.SpotNotification{
			Email:         prof.Email,
			FullName:      prof.FullName,
			EventID:       ev.ID,
			EventTitle:    ev.Title,
			EventDate:     ev.EventDate,
			ClaimURL:      fmt.Sprintf("%s/events/%s?claim=true", d.baseURL, ev.ID),
			ClaimDeadline: *rec.WaitlistExpiresAt,
		}
		if prof.ExpoPushToken != nil {
			n.ExpoPushToken = *prof.ExpoPushToken
		}
		if err := d.notif.NotifySpotAvailable(ctx, n); err != nil {
			log.Printf("waitlist notify: user %s event %s: %v", rec.UserID, ev.ID, err)
		}
	}
}
