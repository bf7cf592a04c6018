package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/OmishaPatel/pasera/internal/model"
)

// Memory is an in-memory Store double used by tests and local
// development. A single mutex plays the role of the database's row lock:
// UpdateEvent transactions are fully serialized, and a transaction that
// returns an error leaves the store untouched.
type Memory struct {
	mu        sync.Mutex
	events    map[string]*model.Event
	attendees map[string]map[string]*model.AttendanceRecord
	profiles  map[string]*model.Profile
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		events:    make(map[string]*model.Event),
		attendees: make(map[string]map[string]*model.AttendanceRecord),
		profiles:  make(map[string]*model.Profile),
	}
}

var _ Store = (*Memory)(nil)

func copyEvent(ev *model.Event) *model.Event {
	dup := *ev
	return &dup
}

func copyRecord(rec *model.AttendanceRecord) *model.AttendanceRecord {
	dup := *rec
	if rec.WaitlistPosition != nil {
		p := *rec.WaitlistPosition
		dup.WaitlistPosition = &p
	}
	if rec.WaitlistNotifiedAt != nil {
		t := *rec.WaitlistNotifiedAt
		dup.WaitlistNotifiedAt = &t
	}
	if rec.WaitlistExpiresAt != nil {
		t := *rec.WaitlistExpiresAt
		dup.WaitlistExpiresAt = &t
	}
	return &dup
}

func copyProfile(p *model.Profile) *model.Profile {
	dup := *p
	if p.ExpoPushToken != nil {
		t := *p.ExpoPushToken
		dup.ExpoPushToken = &t
	}
	return &dup
}

func (s *Memory) CreateEvent(_ context.Context, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.ID] = copyEvent(ev)
	if _, ok := s.attendees[ev.ID]; !ok {
		s.attendees[ev.ID] = make(map[string]*model.AttendanceRecord)
	}
	return nil
}

func (s *Memory) GetEvent(_ context.Context, id string) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEvent(ev), nil
}

func (s *Memory) ListEvents(_ context.Context) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]model.Event, 0, len(s.events))
	for _, ev := range s.events {
		events = append(events, *copyEvent(ev))
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].EventDate.Equal(events[j].EventDate) {
			return events[i].EventDate.Before(events[j].EventDate)
		}
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
	return events, nil
}

func (s *Memory) GetAttendance(_ context.Context, eventID, userID string) (*model.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.attendees[eventID][userID]
	if !ok {
		return nil, ErrNoRecordFound
	}
	return copyRecord(rec), nil
}

func (s *Memory) ListAttendees(_ context.Context, eventID string) ([]model.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recs []model.AttendanceRecord
	for _, rec := range s.attendees[eventID] {
		recs = append(recs, *copyRecord(rec))
	}
	sort.Slice(recs, func(i, j int) bool {
		wi, wj := recs[i].Status == model.StatusWaitlist, recs[j].Status == model.StatusWaitlist
		if wi != wj {
			return !wi
		}
		if wi && wj {
			return *recs[i].WaitlistPosition < *recs[j].WaitlistPosition
		}
		return recs[i].RespondedAt.Before(recs[j].RespondedAt)
	})
	return recs, nil
}

func (s *Memory) CountAttendees(_ context.Context, eventID string) (model.AttendeeCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var counts model.AttendeeCounts
	for _, rec := range s.attendees[eventID] {
		switch rec.Status {
		case model.StatusGoing:
			counts.Going++
		case model.StatusMaybe:
			counts.Maybe++
		case model.StatusInterested:
			counts.Interested++
		case model.StatusWaitlist:
			counts.Waitlist++
		}
	}
	return counts, nil
}

func (s *Memory) GetProfile(_ context.Context, userID string) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyProfile(p), nil
}

func (s *Memory) UpsertProfile(_ context.Context, p *model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = copyProfile(p)
	return nil
}

func (s *Memory) LapsedClaimEventIDs(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for eventID, recs := range s.attendees {
		for _, rec := range recs {
			if rec.Status == model.StatusWaitlist && rec.WaitlistExpiresAt != nil &&
				rec.WaitlistExpiresAt.Before(now) {
				ids = append(ids, eventID)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Memory) UpdateEvent(_ context.Context, eventID string, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventID]
	if !ok {
		return ErrNotFound
	}

	// Work on copies so a failed transaction leaves the store untouched.
	tx := &memTx{ev: copyEvent(ev), recs: make(map[string]*model.AttendanceRecord)}
	for userID, rec := range s.attendees[eventID] {
		tx.recs[userID] = copyRecord(rec)
	}

	if err := fn(tx); err != nil {
		return err
	}

	s.events[eventID] = tx.ev
	s.attendees[eventID] = tx.recs
	return nil
}

// memTx implements Tx against copied state under the store mutex.
type memTx struct {
	ev   *model.Event
	recs map[string]*model.AttendanceRecord
}

var _ Tx = (*memTx)(nil)

func (t *memTx) Event() *model.Event { return t.ev }

func (t *memTx) SetStatus(_ context.Context, status string) error {
	t.ev.Status = status
	t.ev.UpdatedAt = time.Now()
	return nil
}

func (t *memTx) deriveStatus() {
	if t.ev.Status == model.EventStatusCancelled || t.ev.Status == model.EventStatusCompleted {
		return
	}
	if t.ev.IsFull() {
		t.ev.Status = model.EventStatusFull
	} else {
		t.ev.Status = model.EventStatusActive
	}
}

func (t *memTx) SetMaxCapacity(_ context.Context, max int) error {
	t.ev.MaxCapacity = max
	t.ev.UpdatedAt = time.Now()
	t.deriveStatus()
	return nil
}

func (t *memTx) AdjustCapacity(_ context.Context, delta int) error {
	t.ev.CurrentCapacity += delta
	t.ev.UpdatedAt = time.Now()
	t.deriveStatus()
	return nil
}

func (t *memTx) Record(_ context.Context, userID string) (*model.AttendanceRecord, error) {
	rec, ok := t.recs[userID]
	if !ok {
		return nil, ErrNoRecordFound
	}
	return copyRecord(rec), nil
}

func (t *memTx) UpsertRecord(_ context.Context, rec *model.AttendanceRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.RespondedAt
	}
	dup := copyRecord(rec)
	dup.EventID = t.ev.ID
	t.recs[rec.UserID] = dup
	return nil
}

func (t *memTx) DeleteRecord(_ context.Context, userID string) error {
	delete(t.recs, userID)
	return nil
}

func (t *memTx) MaxWaitlistPosition(_ context.Context) (int, error) {
	max := 0
	for _, rec := range t.recs {
		if rec.Status == model.StatusWaitlist && rec.WaitlistPosition != nil &&
			*rec.WaitlistPosition > max {
			max = *rec.WaitlistPosition
		}
	}
	return max, nil
}

func (t *memTx) NextUnnotified(_ context.Context) (*model.AttendanceRecord, error) {
	var next *model.AttendanceRecord
	for _, rec := range t.recs {
		if rec.Status != model.StatusWaitlist || rec.WaitlistNotifiedAt != nil {
			continue
		}
		if next == nil || *rec.WaitlistPosition < *next.WaitlistPosition {
			next = rec
		}
	}
	if next == nil {
		return nil, ErrNoRecordFound
	}
	return copyRecord(next), nil
}

func (t *memTx) ClearLapsedClaims(_ context.Context, now time.Time) (int, error) {
	cleared := 0
	for _, rec := range t.recs {
		if rec.Status == model.StatusWaitlist && rec.WaitlistExpiresAt != nil &&
			rec.WaitlistExpiresAt.Before(now) {
			rec.WaitlistNotifiedAt = nil
			rec.WaitlistExpiresAt = nil
			cleared++
		}
	}
	return cleared, nil
}

func (t *memTx) CountLiveClaims(_ context.Context) (int, error) {
	n := 0
	for _, rec := range t.recs {
		if rec.Status == model.StatusWaitlist && rec.WaitlistNotifiedAt != nil {
			n++
		}
	}
	return n, nil
}

func (t *memTx) MarkNotified(_ context.Context, userID string, notifiedAt, expiresAt time.Time) error {
	rec, ok := t.recs[userID]
	if !ok {
		return ErrNoRecordFound
	}
	rec.WaitlistNotifiedAt = &notifiedAt
	rec.WaitlistExpiresAt = &expiresAt
	return nil
}
