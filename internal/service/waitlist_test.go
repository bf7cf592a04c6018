package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OmishaPatel/pasera/internal/model"
	"github.com/OmishaPatel/pasera/internal/notifier"
	"github.com/OmishaPatel/pasera/internal/repository"
)

// fakeNotifier records every notification instead of delivering it.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []notifier.SpotNotification
}

func (f *fakeNotifier) NotifySpotAvailable(_ context.Context, n notifier.SpotNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeNotifier) emails() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, n := range f.sent {
		out = append(out, n.Email)
	}
	return out
}

// env wires the services against the in-memory store with a controllable
// clock shared by all of them.
type env struct {
	store    *repository.Memory
	events   *EventService
	rsvps    *RSVPService
	waitlist *WaitlistService
	notif    *fakeNotifier
	now      *time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := repository.NewMemory()
	notif := &fakeNotifier{}
	dispatcher := NewDispatcher(store, notif, "https://pasera.example.com")

	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	now := &base
	clock := func() time.Time { return *now }

	e := &env{
		store:    store,
		events:   NewEventService(store, dispatcher, DefaultClaimWindow),
		rsvps:    NewRSVPService(store, dispatcher, DefaultClaimWindow),
		waitlist: NewWaitlistService(store, dispatcher, DefaultClaimWindow),
		notif:    notif,
		now:      now,
	}
	e.events.now = clock
	e.rsvps.now = clock
	e.waitlist.now = clock
	return e
}

func (e *env) advance(d time.Duration) {
	*e.now = e.now.Add(d)
}

// createEvent makes an active event owned by "organizer".
func (e *env) createEvent(t *testing.T, capacity int) string {
	t.Helper()
	ev, err := e.events.CreateEvent(context.Background(), "organizer", model.CreateEventRequest{
		Title:       "Sunrise Hike",
		Category:    "hiking",
		EventDate:   "2026-07-15",
		MaxCapacity: capacity,
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	return ev.ID
}

// fill RSVPs n distinct users as going.
func (e *env) fill(t *testing.T, eventID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		userID := fmt.Sprintf("filler-%d", i)
		if _, err := e.rsvps.SetStatus(context.Background(), eventID, userID, model.StatusGoing); err != nil {
			t.Fatalf("fill %s: %v", userID, err)
		}
	}
}

// profileFor seeds a profile so the dispatcher can resolve the user.
func (e *env) profileFor(t *testing.T, userID string) {
	t.Helper()
	err := e.store.UpsertProfile(context.Background(), &model.Profile{
		ID:    userID,
		Email: userID + "@example.com",
	})
	if err != nil {
		t.Fatalf("UpsertProfile %s: %v", userID, err)
	}
}

func (e *env) record(t *testing.T, eventID, userID string) *model.AttendanceRecord {
	t.Helper()
	rec, err := e.store.GetAttendance(context.Background(), eventID, userID)
	if err != nil {
		t.Fatalf("GetAttendance %s: %v", userID, err)
	}
	return rec
}

func (e *env) event(t *testing.T, eventID string) *model.Event {
	t.Helper()
	ev, err := e.store.GetEvent(context.Background(), eventID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	return ev
}

func TestJoinAssignsPositionsInOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	eventID := e.createEvent(t, 2)
	e.fill(t, eventID, 2)

	resp, err := e.waitlist.Join(ctx, eventID, "alice")
	if err != nil {
		t.Fatalf("Join alice: %v", err)
	}
	if resp.Position != 1 || resp.AlreadyOnWaitlist {
		t.Errorf("alice: got position=%d already=%v, want position=1 already=false", resp.Position, resp.AlreadyOnWaitlist)
	}

	resp, err = e.waitlist.Join(ctx, eventID, "bob")
	if err != nil {
		t.Fatalf("Join bob: %v", err)
	}
	if resp.Position != 2 {
		t.Errorf("bob: got position %d, want 2", resp.Position)
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	eventID := e.createEvent(t, 1)
	e.fill(t, eventID, 1)

	first, err := e.waitlist.Join(ctx, eventID, "alice")
	if err != nil {
		t.Fatalf("first Join: %v", err)
	}
	second, err := e.waitlist.Join(ctx, eventID, "alice")
	if err != nil {
		t.Fatalf("second Join: %v", err)
	}
	if !second.AlreadyOnWaitlist {
		t.Error("second join should report already_on_waitlist")
	}
	if second.Position != first.Position {
		t.Errorf("position changed on repeat join: %d vs %d", second.Position, first.Position)
	}

	counts, err := e.store.CountAttendees(ctx, eventID)
	if err != nil {
		t.Fatalf("CountAttendees: %v", err)
	}
	if counts.Waitlist != 1 {
		t.Errorf("got %d waitlist records, want 1", counts.Waitlist)
	}
}

func TestJoinRejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	t.Run("EventNotFull", func(t *testing.T) {
		eventID := e.createEvent(t, 5)
		if _, err := e.waitlist.Join(ctx, eventID, "alice"); !errors.Is(err, repository.ErrEventNotFull) {
			t.Errorf("got %v, want ErrEventNotFull", err)
		}
	})

	t.Run("AlreadyGoing", func(t *testing.T) {
		eventID := e.createEvent(t, 2)
		e.fill(t, eventID, 1)
		if _, err := e.rsvps.SetStatus(ctx, eventID, "alice", model.StatusGoing); err != nil {
			t.Fatalf("SetStatus: %v", err)
		}
		if _, err := e.waitlist.Join(ctx, eventID, "alice"); !errors.Is(err, repository.ErrAlreadyGoing) {
			t.Errorf("got %v, want ErrAlreadyGoing", err)
		}
	})

	t.Run("CancelledEvent", func(t *testing.T) {
		eventID := e.createEvent(t, 1)
		e.fill(t, eventID, 1)
		if err := e.events.CancelEvent(ctx, eventID, "organizer"); err != nil {
			t.Fatalf("CancelEvent: %v", err)
		}
		if _, err := e.waitlist.Join(ctx, eventID, "alice"); !errors.Is(err, repository.ErrEventCancelled) {
			t.Errorf("got %v, want ErrEventCancelled", err)
		}
	})

	t.Run("UnknownEvent", func(t *testing.T) {
		if _, err := e.waitlist.Join(ctx, "nope", "alice"); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})
}

// A freed slot notifies exactly the first waitlisted user, who can then
// claim it.
func TestFreedSlotNotifiesFirstInLine(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	eventID := e.createEvent(t, 1)
	e.fill(t, eventID, 1)
	e.profileFor(t, "alice")
	e.profileFor(t, "bob")

	mustJoin(t, e, eventID, "alice")
	mustJoin(t, e, eventID, "bob")

	if err := e.rsvps.Cancel(ctx, eventID, "filler-0"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	alice := e.record(t, eventID, "alice")
	if !alice.Notified() {
		t.Fatal("alice should hold a claim window")
	}
	wantExpiry := e.now.Add(DefaultClaimWindow)
	if !alice.WaitlistExpiresAt.Equal(wantExpiry) {
		t.Errorf("claim window expires at %v, want %v", alice.WaitlistExpiresAt, wantExpiry)
	}
	if bob := e.record(t, eventID, "bob"); bob.Notified() {
		t.Error("bob should not be notified while alice holds the only open slot")
	}

	emails := e.notif.emails()
	if len(emails) != 1 || emails[0] != "alice@example.com" {
		t.Errorf("notifications sent to %v, want exactly [alice@example.com]", emails)
	}
	if !strings.Contains(e.notif.sent[0].ClaimURL, eventID) {
		t.Errorf("claim URL %q should reference the event", e.notif.sent[0].ClaimURL)
	}

	rec, err := e.waitlist.Claim(ctx, eventID, "alice")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if rec.Status != model.StatusGoing {
		t.Errorf("claimed record status %q, want going", rec.Status)
	}
	if rec.WaitlistPosition != nil || rec.Notified() {
		t.Error("waitlist fields should be cleared after a claim")
	}

	ev := e.event(t, eventID)
	if ev.CurrentCapacity != 1 || ev.Status != model.EventStatusFull {
		t.Errorf("event capacity=%d status=%q, want 1/full", ev.CurrentCapacity, ev.Status)
	}
}

// An unclaimed window lapses and the offer moves to the next person; the
// original holder keeps their place in line.
func TestExpiredWindowAdvancesToNext(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	eventID := e.createEvent(t, 1)
	e.fill(t, eventID, 1)
	e.profileFor(t, "alice")
	e.profileFor(t, "bob")

	mustJoin(t, e, eventID, "alice")
	mustJoin(t, e, eventID, "bob")

	if err := e.rsvps.Cancel(ctx, eventID, "filler-0"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	e.advance(DefaultClaimWindow + time.Second)

	n, err := e.waitlist.SweepEvent(ctx, eventID)
	if err != nil {
		t.Fatalf("SweepEvent: %v", err)
	}
	if n != 1 {
		t.Fatalf("sweep notified %d, want 1", n)
	}

	alice := e.record(t, eventID, "alice")
	if alice.Notified() {
		t.Error("alice's lapsed window should be cleared")
	}
	if alice.Status != model.StatusWaitlist || alice.WaitlistPosition == nil || *alice.WaitlistPosition != 1 {
		t.Error("alice should stay waitlisted at position 1")
	}

	bob := e.record(t, eventID, "bob")
	if !bob.Notified() {
		t.Fatal("bob should now hold the claim window")
	}

	if _, err := e.waitlist.Claim(ctx, eventID, "alice"); !errors.Is(err, repository.ErrNotNotified) {
		t.Errorf("alice claim after lapse: got %v, want ErrNotNotified", err)
	}
	if _, err := e.waitlist.Claim(ctx, eventID, "bob"); err != nil {
		t.Fatalf("bob Claim: %v", err)
	}
}

func TestClaimWindowBoundary(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	setup := func(t *testing.T) string {
		eventID := e.createEvent(t, 1)
		e.fill(t, eventID, 1)
		mustJoin(t, e, eventID, "alice")
		if err := e.rsvps.Cancel(ctx, eventID, "filler-0"); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		return eventID
	}

	t.Run("AtExpiryInstant", func(t *testing.T) {
		eventID := setup(t)
		e.advance(DefaultClaimWindow)
		if _, err := e.waitlist.Claim(ctx, eventID, "alice"); err != nil {
			t.Errorf("claim exactly at expiry should succeed, got %v", err)
		}
	})

	t.Run("PastExpiry", func(t *testing.T) {
		eventID := setup(t)
		e.advance(DefaultClaimWindow + time.Second)
		if _, err := e.waitlist.Claim(ctx, eventID, "alice"); !errors.Is(err, repository.ErrClaimWindowExpired) {
			t.Errorf("got %v, want ErrClaimWindowExpired", err)
		}
	})
}

func TestClaimRejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	eventID := e.createEvent(t, 1)
	e.fill(t, eventID, 1)

	t.Run("NoRecord", func(t *testing.T) {
		if _, err := e.waitlist.Claim(ctx, eventID, "ghost"); !errors.Is(err, repository.ErrNoRecordFound) {
			t.Errorf("got %v, want ErrNoRecordFound", err)
		}
	})

	t.Run("NotWaitlisted", func(t *testing.T) {
		if _, err := e.waitlist.Claim(ctx, eventID, "filler-0"); !errors.Is(err, repository.ErrNotOnWaitlist) {
			t.Errorf("got %v, want ErrNotOnWaitlist", err)
		}
	})

	t.Run("NotNotified", func(t *testing.T) {
		mustJoin(t, e, eventID, "alice")
		if _, err := e.waitlist.Claim(ctx, eventID, "alice"); !errors.Is(err, repository.ErrNotNotified) {
			t.Errorf("got %v, want ErrNotNotified", err)
		}
	})
}

// If someone else takes the open slot between notification and claim, the
// claim fails but the claimant keeps their window and position.
func TestClaimLosesRaceToDirectRSVP(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	eventID := e.createEvent(t, 1)
	e.fill(t, eventID, 1)
	mustJoin(t, e, eventID, "alice")

	if err := e.rsvps.Cancel(ctx, eventID, "filler-0"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	// The event briefly has an open slot, so a direct RSVP can slip in.
	if _, err := e.rsvps.SetStatus(ctx, eventID, "mallory", model.StatusGoing); err != nil {
		t.Fatalf("SetStatus mallory: %v", err)
	}

	if _, err := e.waitlist.Claim(ctx, eventID, "alice"); !errors.Is(err, repository.ErrEventFull) {
		t.Fatalf("got %v, want ErrEventFull", err)
	}

	alice := e.record(t, eventID, "alice")
	if alice.Status != model.StatusWaitlist || !alice.Notified() {
		t.Error("failed claim must leave the record's position and window intact")
	}
}

func TestLeaveWaitlist(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	eventID := e.createEvent(t, 1)
	e.fill(t, eventID, 1)
	e.profileFor(t, "bob")

	mustJoin(t, e, eventID, "alice")
	mustJoin(t, e, eventID, "bob")

	t.Run("NotOnWaitlist", func(t *testing.T) {
		if err := e.waitlist.Leave(ctx, eventID, "ghost"); !errors.Is(err, repository.ErrNotOnWaitlist) {
			t.Errorf("got %v, want ErrNotOnWaitlist", err)
		}
		if err := e.waitlist.Leave(ctx, eventID, "filler-0"); !errors.Is(err, repository.ErrNotOnWaitlist) {
			t.Errorf("going user: got %v, want ErrNotOnWaitlist", err)
		}
	})

	t.Run("LeaverWithLiveWindowPassesItOn", func(t *testing.T) {
		if err := e.rsvps.Cancel(ctx, eventID, "filler-0"); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if !e.record(t, eventID, "alice").Notified() {
			t.Fatal("alice should be notified first")
		}

		if err := e.waitlist.Leave(ctx, eventID, "alice"); err != nil {
			t.Fatalf("Leave: %v", err)
		}
		if _, err := e.store.GetAttendance(ctx, eventID, "alice"); !errors.Is(err, repository.ErrNoRecordFound) {
			t.Error("alice's record should be gone")
		}
		if !e.record(t, eventID, "bob").Notified() {
			t.Error("the open slot should be offered to bob")
		}
	})
}

// Positions come from an append-only counter; departures never cause
// renumbering.
func TestPositionsAreNeverReused(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	eventID := e.createEvent(t, 1)
	e.fill(t, eventID, 1)

	mustJoin(t, e, eventID, "alice") // 1
	mustJoin(t, e, eventID, "bob")   // 2
	if err := e.waitlist.Leave(ctx, eventID, "alice"); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	resp, err := e.waitlist.Join(ctx, eventID, "carol")
	if err != nil {
		t.Fatalf("Join carol: %v", err)
	}
	if resp.Position != 3 {
		t.Errorf("carol got position %d, want 3 (positions are never recompacted)", resp.Position)
	}
	if bob := e.record(t, eventID, "bob"); *bob.WaitlistPosition != 2 {
		t.Errorf("bob's position changed to %d, want 2", *bob.WaitlistPosition)
	}
}

func TestSweepAll(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// Two events, each with a lapsed claim window and a successor in line.
	var eventIDs []string
	for i := 0; i < 2; i++ {
		eventID := e.createEvent(t, 1)
		e.fill(t, eventID, 1)
		mustJoin(t, e, eventID, "first")
		mustJoin(t, e, eventID, "second")
		if err := e.rsvps.Cancel(ctx, eventID, "filler-0"); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		eventIDs = append(eventIDs, eventID)
	}

	e.advance(DefaultClaimWindow + time.Minute)

	n, err := e.waitlist.SweepAll(ctx)
	if err != nil {
		t.Fatalf("SweepAll: %v", err)
	}
	if n != 2 {
		t.Errorf("swept %d notifications, want 2", n)
	}
	for _, eventID := range eventIDs {
		if !e.record(t, eventID, "second").Notified() {
			t.Errorf("event %s: second in line should be notified", eventID)
		}
	}

	// Nothing left to do; a repeat sweep is a no-op.
	n, err = e.waitlist.SweepAll(ctx)
	if err != nil {
		t.Fatalf("second SweepAll: %v", err)
	}
	if n != 0 {
		t.Errorf("repeat sweep notified %d, want 0", n)
	}
}

func mustJoin(t *testing.T, e *env, eventID, userID string) {
	t.Helper()
	if _, err := e.waitlist.Join(context.Background(), eventID, userID); err != nil {
		t.Fatalf("Join %s: %v", userID, err)
	}
}
