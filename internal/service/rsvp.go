package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OmishaPatel/pasera/internal/model"
	"github.com/OmishaPatel/pasera/internal/repository"
)

// RSVPService applies a user's requested status (going/maybe/interested)
// to their attendance record, keeping the event's capacity counter
// consistent with the set of going-records. Record write and capacity
// adjustment always commit as one atomic unit.
type RSVPService struct {
	store      repository.Store
	dispatcher *Dispatcher
	window     time.Duration
	now        func() time.Time
}

// NewRSVPService constructs an RSVPService.
func NewRSVPService(store repository.Store, dispatcher *Dispatcher, window time.Duration) *RSVPService {
	if window <= 0 {
		window = DefaultClaimWindow
	}
	return &RSVPService{
		store:      store,
		dispatcher: dispatcher,
		window:     window,
		now:        time.Now,
	}
}

// SetStatus upserts the user's RSVP. A "going" request on a full event is
// refused with ErrEventFull rather than silently downgraded; the handler
// signals the waitlist path to the caller. A transition out of going
// frees a slot and advances the waitlist in the same transaction.
func (s *RSVPService) SetStatus(ctx context.Context, eventID, userID, status string) (*model.AttendanceRecord, error) {
	switch status {
	case model.StatusGoing, model.StatusMaybe, model.StatusInterested:
	default:
		return nil, fmt.Errorf("invalid status %q: must be going, maybe, or interested", status)
	}

	var out *model.AttendanceRecord
	var notified []model.AttendanceRecord
	var evSnap model.Event
	err := retryOnConflict(func() error {
		out, notified = nil, nil
		return s.store.UpdateEvent(ctx, eventID, func(tx repository.Tx) error {
			ev := tx.Event()
			if ev.Status == model.EventStatusCancelled {
				return repository.ErrEventCancelled
			}

			rec, err := tx.Record(ctx, userID)
			if err != nil && !errors.Is(err, repository.ErrNoRecordFound) {
				return err
			}
			prev := ""
			if rec != nil {
				prev = rec.Status
			}

			if status == model.StatusGoing && prev != model.StatusGoing && ev.IsFull() {
				return repository.ErrEventFull
			}

			now := s.now()
			next := &model.AttendanceRecord{
				EventID:     eventID,
				UserID:      userID,
				Status:      status,
				RespondedAt: now,
			}
			if rec != nil {
				next.ID = rec.ID
				next.CreatedAt = rec.CreatedAt
			}
			if err := tx.UpsertRecord(ctx, next); err != nil {
				return err
			}

			switch {
			case prev != model.StatusGoing && status == model.StatusGoing:
				if err := tx.AdjustCapacity(ctx, 1); err != nil {
					return err
				}
			case prev == model.StatusGoing && status != model.StatusGoing:
				if err := tx.AdjustCapacity(ctx, -1); err != nil {
					return err
				}
				// The vacated slot goes to the top of the waitlist.
				notified, err = notifyNext(ctx, tx, now, s.window)
				if err != nil {
					return err
				}
			}
			out = next
			evSnap = *tx.Event()
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.dispatcher.Dispatch(ctx, &evSnap, notified)
	return out, nil
}

// Cancel deletes the user's attendance record entirely. If the record was
// going, the freed slot triggers waitlist notification as a side effect.
func (s *RSVPService) Cancel(ctx context.Context, eventID, userID string) error {
	var notified []model.AttendanceRecord
	var evSnap model.Event
	err := retryOnConflict(func() error {
		notified = nil
		return s.store.UpdateEvent(ctx, eventID, func(tx repository.Tx) error {
			rec, err := tx.Record(ctx, userID)
			if err != nil {
				return err
			}
			if err := tx.DeleteRecord(ctx, userID); err != nil {
				return err
			}
			if rec.Status == model.StatusGoing {
				if err := tx.AdjustCapacity(ctx, -1); err != nil {
					return err
				}
				notified, err = notifyNext(ctx, tx, s.now(), s.window)
				if err != nil {
					return err
				}
			}
			evSnap = *tx.Event()
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.dispatcher.Dispatch(ctx, &evSnap, notified)
	return nil
}

// Get returns the user's current attendance record for an event.
func (s *RSVPService) Get(ctx context.Context, eventID, userID string) (*model.AttendanceRecord, error) {
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.store.GetAttendance(ctx, eventID, userID)
}
