package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/OmishaPatel/pasera/internal/model"
	"github.com/OmishaPatel/pasera/internal/repository"
)

// DefaultClaimWindow is how long a notified user has to claim an open spot.
const DefaultClaimWindow = 2 * time.Hour

// WaitlistService coordinates the waitlist lifecycle: join, notify when a
// spot frees up, claim within the window, expire and advance to the next
// person. Positions are assigned by an append-only counter and never
// reused, so notify order is FIFO with respect to join order no matter
// how many people left the queue in between.
type WaitlistService struct {
	store      repository.Store
	dispatcher *Dispatcher
	window     time.Duration
	now        func() time.Time
}

// NewWaitlistService constructs a WaitlistService. A non-positive window
// falls back to DefaultClaimWindow.
func NewWaitlistService(store repository.Store, dispatcher *Dispatcher, window time.Duration) *WaitlistService {
	if window <= 0 {
		window = DefaultClaimWindow
	}
	return &WaitlistService{
		store:      store,
		dispatcher: dispatcher,
		window:     window,
		now:        time.Now,
	}
}

// retryOnConflict runs op, retrying once when the store reports a benign
// serialization conflict between two concurrent transitions. A second
// conflict is surfaced to the caller.
func retryOnConflict(op func() error) error {
	err := op()
	if errors.Is(err, repository.ErrStoreConflict) {
		err = op()
	}
	return err
}

// Join puts the user on the waitlist of a full event and returns their
// 1-based FIFO position. Joining twice is idempotent: the existing
// position is returned and no duplicate record is created.
func (s *WaitlistService) Join(ctx context.Context, eventID, userID string) (*model.JoinWaitlistResponse, error) {
	var out model.JoinWaitlistResponse
	err := retryOnConflict(func() error {
		out = model.JoinWaitlistResponse{}
		return s.store.UpdateEvent(ctx, eventID, func(tx repository.Tx) error {
			ev := tx.Event()
			if ev.Status == model.EventStatusCancelled {
				return repository.ErrEventCancelled
			}

			rec, err := tx.Record(ctx, userID)
			if err != nil && !errors.Is(err, repository.ErrNoRecordFound) {
				return err
			}
			if rec != nil {
				switch rec.Status {
				case model.StatusGoing:
					return repository.ErrAlreadyGoing
				case model.StatusWaitlist:
					out.Position = *rec.WaitlistPosition
					out.AlreadyOnWaitlist = true
					return nil
				}
			}

			if !ev.IsFull() {
				return repository.ErrEventNotFull
			}

			// Append-only monotonic counter, not a recompaction of gaps.
			maxPos, err := tx.MaxWaitlistPosition(ctx)
			if err != nil {
				return err
			}
			pos := maxPos + 1

			entry := &model.AttendanceRecord{
				EventID:          eventID,
				UserID:           userID,
				Status:           model.StatusWaitlist,
				RespondedAt:      s.now(),
				WaitlistPosition: &pos,
			}
			if rec != nil {
				entry.ID = rec.ID
				entry.CreatedAt = rec.CreatedAt
			}
			if err := tx.UpsertRecord(ctx, entry); err != nil {
				return err
			}
			out.Position = pos
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Claim converts a notified waitlist record to going. If a race refilled
// the event since notification, the claim fails with ErrEventFull and the
// record keeps its position and claim window.
func (s *WaitlistService) Claim(ctx context.Context, eventID, userID string) (*model.AttendanceRecord, error) {
	var out *model.AttendanceRecord
	err := retryOnConflict(func() error {
		out = nil
		return s.store.UpdateEvent(ctx, eventID, func(tx repository.Tx) error {
			ev := tx.Event()
			if ev.Status == model.EventStatusCancelled {
				return repository.ErrEventCancelled
			}

			rec, err := tx.Record(ctx, userID)
			if err != nil {
				return err
			}
			if rec.Status != model.StatusWaitlist {
				return repository.ErrNotOnWaitlist
			}
			if rec.WaitlistNotifiedAt == nil {
				return repository.ErrNotNotified
			}
			now := s.now()
			if now.After(*rec.WaitlistExpiresAt) {
				return repository.ErrClaimWindowExpired
			}
			if ev.IsFull() {
				return repository.ErrEventFull
			}

			rec.Status = model.StatusGoing
			rec.RespondedAt = now
			rec.WaitlistPosition = nil
			rec.WaitlistNotifiedAt = nil
			rec.WaitlistExpiresAt = nil
			if err := tx.UpsertRecord(ctx, rec); err != nil {
				return err
			}
			if err := tx.AdjustCapacity(ctx, 1); err != nil {
				return err
			}
			out = rec
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Leave removes the user from the waitlist. If the leaver held a live
// claim window, the open spot is offered to the next person in line
// within the same transaction.
func (s *WaitlistService) Leave(ctx context.Context, eventID, userID string) error {
	var notified []model.AttendanceRecord
	var evSnap model.Event
	err := retryOnConflict(func() error {
		notified = nil
		return s.store.UpdateEvent(ctx, eventID, func(tx repository.Tx) error {
			rec, err := tx.Record(ctx, userID)
			if errors.Is(err, repository.ErrNoRecordFound) {
				return repository.ErrNotOnWaitlist
			}
			if err != nil {
				return err
			}
			if rec.Status != model.StatusWaitlist {
				return repository.ErrNotOnWaitlist
			}
			if err := tx.DeleteRecord(ctx, userID); err != nil {
				return err
			}
			notified, err = notifyNext(ctx, tx, s.now(), s.window)
			if err != nil {
				return err
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

// SweepEvent is the expiry entry point for one event: lapsed claim
// windows are cleared (the users stay waitlisted at their original
// position) and notification advances to the next unnotified records.
// It is safe to call at any time; a sweep with nothing to do is a no-op.
func (s *WaitlistService) SweepEvent(ctx context.Context, eventID string) (int, error) {
	var notified []model.AttendanceRecord
	var evSnap model.Event
	err := retryOnConflict(func() error {
		notified = nil
		return s.store.UpdateEvent(ctx, eventID, func(tx repository.Tx) error {
			if tx.Event().Status == model.EventStatusCancelled {
				return nil
			}
			var err error
			notified, err = notifyNext(ctx, tx, s.now(), s.window)
			if err != nil {
				return err
			}
			evSnap = *tx.Event()
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	s.dispatcher.Dispatch(ctx, &evSnap, notified)
	return len(notified), nil
}

// SweepAll sweeps every event with a lapsed claim window. Intended to be
// invoked by an external scheduler.
func (s *WaitlistService) SweepAll(ctx context.Context) (int, error) {
	ids, err := s.store.LapsedClaimEventIDs(ctx, s.now())
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range ids {
		n, err := s.SweepEvent(ctx, id)
		if err != nil {
			log.Printf("waitlist sweep: event %s: %v", id, err)
			continue
		}
		total += n
	}
	return total, nil
}

// notifyNext advances waitlist notification for the locked event. Lapsed
// claim windows are cleared first so their slots can be re-offered, then
// unnotified records are stamped in strict ascending position order until
// every open spot is covered by a live claim window. Returns the newly
// notified records for post-commit dispatch.
func notifyNext(ctx context.Context, tx repository.Tx, now time.Time, window time.Duration) ([]model.AttendanceRecord, error) {
	if _, err := tx.ClearLapsedClaims(ctx, now); err != nil {
		return nil, err
	}
	ev := tx.Event()
	free := ev.Remaining()
	if free <= 0 {
		return nil, nil
	}
	live, err := tx.CountLiveClaims(ctx)
	if err != nil {
		return nil, err
	}

	var notified []model.AttendanceRecord
	for live < free {
		next, err := tx.NextUnnotified(ctx)
		if errors.Is(err, repository.ErrNoRecordFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		expires := now.Add(window)
		if err := tx.MarkNotified(ctx, next.UserID, now, expires); err != nil {
			return nil, err
		}
		notifiedAt := now
		next.WaitlistNotifiedAt = &notifiedAt
		next.WaitlistExpiresAt = &expires
		notified = append(notified, *next)
		live++
	}
	return notified, nil
}
