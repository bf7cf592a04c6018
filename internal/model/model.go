// Package model defines the core domain types for the outdoor event
// RSVP and waitlist system.
package model

import "time"

// Event statuses. "full" is derived from capacity and maintained only by
// capacity transitions, never set independently.
const (
	EventStatusActive    = "active"
	EventStatusFull      = "full"
	EventStatusCancelled = "cancelled"
	EventStatusCompleted = "completed"
)

// Attendee statuses.
const (
	StatusGoing      = "going"
	StatusMaybe      = "maybe"
	StatusInterested = "interested"
	StatusWaitlist   = "waitlist"
)

// Categories lists the accepted event categories.
var Categories = []string{
	"outdoor_adventure", "hiking", "camping", "climbing",
	"biking", "kayaking", "skiing", "other",
}

// Difficulties lists the accepted difficulty levels.
var Difficulties = []string{"easy", "moderate", "hard"}

// Event represents an outdoor event created by an organizer.
type Event struct {
	ID              string    `json:"id"`
	OrganizerID     string    `json:"organizer_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Category        string    `json:"category"`
	EventDate       time.Time `json:"event_date"`
	StartTime       string    `json:"start_time"`
	EndTime         string    `json:"end_time"`
	LocationName    string    `json:"location_name"`
	LocationAddress string    `json:"location_address"`
	Difficulty      string    `json:"difficulty,omitempty"`
	MaxCapacity     int       `json:"max_capacity"`
	CurrentCapacity int       `json:"current_capacity"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Remaining returns the number of open going-spots.
func (e *Event) Remaining() int {
	return e.MaxCapacity - e.CurrentCapacity
}

// IsFull returns true when no going-spots remain.
func (e *Event) IsFull() bool {
	return e.CurrentCapacity >= e.MaxCapacity
}

// AttendanceRecord is a user's RSVP for an event. There is exactly one
// record per (event, user) pair. waitlist_position is non-null iff
// status = waitlist; waitlist_notified_at and waitlist_expires_at are
// always both null or both set.
type AttendanceRecord struct {
	ID                 string     `json:"id"`
	EventID            string     `json:"event_id"`
	UserID             string     `json:"user_id"`
	Status             string     `json:"status"`
	RespondedAt        time.Time  `json:"responded_at"`
	WaitlistPosition   *int       `json:"waitlist_position,omitempty"`
	WaitlistNotifiedAt *time.Time `json:"waitlist_notified_at,omitempty"`
	WaitlistExpiresAt  *time.Time `json:"waitlist_expires_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Notified reports whether the record currently holds a claim window.
func (r *AttendanceRecord) Notified() bool {
	return r.WaitlistNotifiedAt != nil
}

// Profile holds the user data the notification dispatcher needs. The id
// matches the subject issued by the identity provider.
type Profile struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	FullName      string    `json:"full_name"`
	ExpoPushToken *string   `json:"expo_push_token,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// AttendeeCounts aggregates attendance records by status for one event.
type AttendeeCounts struct {
	Going      int `json:"going"`
	Maybe      int `json:"maybe"`
	Interested int `json:"interested"`
	Waitlist   int `json:"waitlist"`
}

// EventWithStats is an event plus its per-status attendee counts.
type EventWithStats struct {
	Event
	AttendeeCounts AttendeeCounts `json:"attendee_counts"`
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	Category        string `json:"category"`
	EventDate       string `json:"event_date"` // YYYY-MM-DD
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	LocationName    string `json:"location_name"`
	LocationAddress string `json:"location_address"`
	Difficulty      string `json:"difficulty"`
	MaxCapacity     int    `json:"max_capacity"`
}

// SetStatusRequest is the payload for updating an RSVP.
type SetStatusRequest struct {
	Status string `json:"status"`
}

// UpdateCapacityRequest is the payload for an organizer capacity change.
type UpdateCapacityRequest struct {
	MaxCapacity int `json:"max_capacity"`
}

// UpsertProfileRequest is the payload for creating or updating a profile,
// including the Expo push token subscription.
type UpsertProfileRequest struct {
	Email         string  `json:"email"`
	FullName      string  `json:"full_name"`
	ExpoPushToken *string `json:"expo_push_token"`
}

// RSVPResponse is returned by the RSVP endpoints. RedirectToWaitlist is
// set when a "going" request was refused because the event is full.
type RSVPResponse struct {
	Success            bool              `json:"success"`
	Error              string            `json:"error,omitempty"`
	RedirectToWaitlist bool              `json:"redirect_to_waitlist,omitempty"`
	Record             *AttendanceRecord `json:"record,omitempty"`
}

// JoinWaitlistResponse reports the assigned FIFO position.
type JoinWaitlistResponse struct {
	Position          int  `json:"position"`
	AlreadyOnWaitlist bool `json:"already_on_waitlist"`
}

// SweepResponse reports how many waitlisted users a sweep notified.
type SweepResponse struct {
	Notified int `json:"notified"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
