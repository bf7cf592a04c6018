// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the repository layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/OmishaPatel/pasera/internal/model"
	"github.com/OmishaPatel/pasera/internal/repository"
)

// EventService orchestrates event-related business operations.
type EventService struct {
	store      repository.Store
	dispatcher *Dispatcher
	window     time.Duration
	now        func() time.Time
}

// NewEventService constructs an EventService with its dependencies.
func NewEventService(store repository.Store, dispatcher *Dispatcher, window time.Duration) *EventService {
	if window <= 0 {
		window = DefaultClaimWindow
	}
	return &EventService{
		store:      store,
		dispatcher: dispatcher,
		window:     window,
		now:        time.Now,
	}
}

// CreateEvent validates the request and persists a new active event.
func (s *EventService) CreateEvent(ctx context.Context, organizerID string, req model.CreateEventRequest) (*model.Event, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return nil, fmt.Errorf("event title is required")
	}
	if req.MaxCapacity <= 0 {
		return nil, fmt.Errorf("max_capacity must be a positive integer")
	}
	if req.MaxCapacity > 100_000 {
		return nil, fmt.Errorf("max_capacity cannot exceed 100,000")
	}
	if req.Category == "" {
		req.Category = "other"
	}
	if !slices.Contains(model.Categories, req.Category) {
		return nil, fmt.Errorf("unknown category %q", req.Category)
	}
	if req.Difficulty != "" && !slices.Contains(model.Difficulties, req.Difficulty) {
		return nil, fmt.Errorf("unknown difficulty %q", req.Difficulty)
	}
	eventDate, err := time.Parse("2006-01-02", req.EventDate)
	if err != nil {
		return nil, fmt.Errorf("event_date must be YYYY-MM-DD")
	}

	now := s.now()
	event := &model.Event{
		ID:              uuid.New().String(),
		OrganizerID:     organizerID,
		Title:           req.Title,
		Description:     strings.TrimSpace(req.Description),
		Category:        req.Category,
		EventDate:       eventDate,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		LocationName:    strings.TrimSpace(req.LocationName),
		LocationAddress: strings.TrimSpace(req.LocationAddress),
		Difficulty:      req.Difficulty,
		MaxCapacity:     req.MaxCapacity,
		CurrentCapacity: 0,
		Status:          model.EventStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return event, nil
}

// ListEvents returns all events.
func (s *EventService) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.store.ListEvents(ctx)
}

// GetEvent returns a single event with its per-status attendee counts.
func (s *EventService) GetEvent(ctx context.Context, id string) (*model.EventWithStats, error) {
	if id == "" {
		return nil, fmt.Errorf("event id is required")
	}
	event, err := s.store.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	counts, err := s.store.CountAttendees(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count attendees: %w", err)
	}
	return &model.EventWithStats{Event: *event, AttendeeCounts: counts}, nil
}

// ListAttendees returns all attendance records for an event.
func (s *EventService) ListAttendees(ctx context.Context, eventID string) ([]model.AttendanceRecord, error) {
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		return nil, repository.ErrNotFound
	}
	return s.store.ListAttendees(ctx, eventID)
}

// CancelEvent marks an event cancelled. Only the organizer may cancel;
// cancelling twice is a no-op.
func (s *EventService) CancelEvent(ctx context.Context, eventID, organizerID string) error {
	return retryOnConflict(func() error {
		return s.store.UpdateEvent(ctx, eventID, func(tx repository.Tx) error {
			ev := tx.Event()
			if ev.OrganizerID != organizerID {
				return repository.ErrNotOrganizer
			}
			if ev.Status == model.EventStatusCancelled {
				return nil
			}
			return tx.SetStatus(ctx, model.EventStatusCancelled)
		})
	})
}

// UpdateCapacity changes max_capacity. The new value can never go below
// the current going-count. Raising capacity on a full event frees slots
// and advances the waitlist within the same transaction.
func (s *EventService) UpdateCapacity(ctx context.Context, eventID, organizerID string, maxCapacity int) (*model.Event, error) {
	if maxCapacity <= 0 {
		return nil, fmt.Errorf("max_capacity must be a positive integer")
	}

	var notified []model.AttendanceRecord
	var evSnap model.Event
	err := retryOnConflict(func() error {
		notified = nil
		return s.store.UpdateEvent(ctx, eventID, func(tx repository.Tx) error {
			ev := tx.Event()
			if ev.OrganizerID != organizerID {
				return repository.ErrNotOrganizer
			}
			if ev.Status == model.EventStatusCancelled {
				return repository.ErrEventCancelled
			}
			if maxCapacity < ev.CurrentCapacity {
				return repository.ErrCapacityTooLow
			}
			if err := tx.SetMaxCapacity(ctx, maxCapacity); err != nil {
				return err
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
		return nil, err
	}
	s.dispatcher.Dispatch(ctx, &evSnap, notified)
	return &evSnap, nil
}
