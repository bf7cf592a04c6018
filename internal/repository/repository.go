// Package repository implements persistence for the RSVP and waitlist
// system. It uses pgx directly (no ORM) for transparency and performance,
// behind a single Store interface so the coordinator logic can be
// exercised against an in-memory double.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/OmishaPatel/pasera/internal/model"
)

// Typed domain failures. Precondition violations are returned to the
// caller as one of these, never silently coerced into another action.
var (
	// ErrNotFound is returned when a requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrEventCancelled is returned for any RSVP or waitlist action on a
	// cancelled event.
	ErrEventCancelled = errors.New("event is cancelled")

	// ErrEventFull is returned when a "going" transition would exceed
	// max_capacity. The caller should offer the waitlist path instead.
	ErrEventFull = errors.New("event is at capacity")

	// ErrEventNotFull is returned when joining the waitlist of an event
	// that still has open spots.
	ErrEventNotFull = errors.New("event still has open spots")

	// ErrAlreadyGoing is returned when a confirmed attendee tries to join
	// the waitlist.
	ErrAlreadyGoing = errors.New("already attending this event")

	// ErrNotOnWaitlist is returned for waitlist actions by a user whose
	// record is not in waitlist status.
	ErrNotOnWaitlist = errors.New("not on the waitlist")

	// ErrNotNotified is returned when claiming before a spot was offered.
	ErrNotNotified = errors.New("no open spot has been offered yet")

	// ErrClaimWindowExpired is returned when claiming after the offer
	// deadline has passed.
	ErrClaimWindowExpired = errors.New("claim window has expired")

	// ErrNoRecordFound is returned when a (event, user) attendance record
	// does not exist.
	ErrNoRecordFound = errors.New("no rsvp found")

	// ErrCapacityTooLow is returned when an organizer tries to set
	// max_capacity below the current number of confirmed attendees.
	ErrCapacityTooLow = errors.New("capacity cannot be below the number of confirmed attendees")

	// ErrNotOrganizer is returned for organizer-only actions by other users.
	ErrNotOrganizer = errors.New("only the organizer can perform this action")

	// ErrStoreConflict signals a benign serialization conflict between two
	// concurrent transitions; the coordinator retries it once.
	ErrStoreConflict = errors.New("conflicting concurrent update")
)

// Store is the single persistence interface for events, attendance
// records, and profiles. All capacity-affecting mutations go through
// UpdateEvent so the record write and the capacity adjustment commit as
// one atomic unit.
type Store interface {
	CreateEvent(ctx context.Context, ev *model.Event) error
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	ListEvents(ctx context.Context) ([]model.Event, error)

	GetAttendance(ctx context.Context, eventID, userID string) (*model.AttendanceRecord, error)
	ListAttendees(ctx context.Context, eventID string) ([]model.AttendanceRecord, error)
	CountAttendees(ctx context.Context, eventID string) (model.AttendeeCounts, error)

	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	UpsertProfile(ctx context.Context, p *model.Profile) error

	// LapsedClaimEventIDs returns the ids of events with at least one
	// waitlist claim window that expired before now. Used by the sweep.
	LapsedClaimEventIDs(ctx context.Context, now time.Time) ([]string, error)

	// UpdateEvent runs fn inside a transaction that holds an exclusive
	// lock on the event row, serializing all conflicting transitions for
	// that event. Returning an error from fn rolls everything back.
	// Missing events yield ErrNotFound.
	UpdateEvent(ctx context.Context, eventID string, fn func(tx Tx) error) error
}

// Tx exposes the capacity ledger and attendance record store for one
// event while its row is locked. No other code path may write
// current_capacity or waitlist_position.
type Tx interface {
	// Event returns the locked event snapshot. Capacity mutations made
	// through this Tx are reflected in the snapshot.
	Event() *model.Event

	// SetStatus overrides the event status (cancelled/completed).
	SetStatus(ctx context.Context, status string) error

	// SetMaxCapacity changes max_capacity and re-derives the full/active
	// status from the current count.
	SetMaxCapacity(ctx context.Context, max int) error

	// AdjustCapacity applies a +1/-1 delta to current_capacity and flips
	// the event between active and full accordingly.
	AdjustCapacity(ctx context.Context, delta int) error

	// Record returns the attendance record for userID, or ErrNoRecordFound.
	Record(ctx context.Context, userID string) (*model.AttendanceRecord, error)

	// UpsertRecord inserts or replaces the record keyed (event, user).
	UpsertRecord(ctx context.Context, rec *model.AttendanceRecord) error

	// DeleteRecord removes the record for userID.
	DeleteRecord(ctx context.Context, userID string) error

	// MaxWaitlistPosition returns the highest assigned position (0 if the
	// waitlist is empty). Positions are append-only and never reused.
	MaxWaitlistPosition(ctx context.Context) (int, error)

	// NextUnnotified returns the waitlisted record with the smallest
	// position among those not holding a claim window, or ErrNoRecordFound.
	NextUnnotified(ctx context.Context) (*model.AttendanceRecord, error)

	// ClearLapsedClaims resets notification fields on waitlisted records
	// whose claim window expired before now, returning them to plain
	// waitlisted with their original position.
	ClearLapsedClaims(ctx context.Context, now time.Time) (int, error)

	// CountLiveClaims returns how many waitlisted records currently hold
	// a claim window.
	CountLiveClaims(ctx context.Context) (int, error)

	// MarkNotified stamps the claim window on userID's record.
	MarkNotified(ctx context.Context, userID string, notifiedAt, expiresAt time.Time) error
}
