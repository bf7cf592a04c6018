// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/OmishaPatel/pasera/internal/auth"
	"github.com/OmishaPatel/pasera/internal/model"
	"github.com/OmishaPatel/pasera/internal/repository"
	"github.com/OmishaPatel/pasera/internal/service"
)

// EventHandler holds all HTTP handlers for the RSVP and waitlist API.
type EventHandler struct {
	events     *service.EventService
	rsvps      *service.RSVPService
	waitlist   *service.WaitlistService
	profiles   *service.ProfileService
	sweepToken string
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(
	events *service.EventService,
	rsvps *service.RSVPService,
	waitlist *service.WaitlistService,
	profiles *service.ProfileService,
	sweepToken string,
) *EventHandler {
	return &EventHandler{
		events:     events,
		rsvps:      rsvps,
		waitlist:   waitlist,
		profiles:   profiles,
		sweepToken: sweepToken,
	}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func currentUser(w http.ResponseWriter, r *http.Request) (auth.User, bool) {
	user, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
	}
	return user, ok
}

// writeDomainError maps the typed domain failures to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, repository.ErrNoRecordFound):
		writeError(w, http.StatusNotFound, "no rsvp found")
	case errors.Is(err, repository.ErrEventCancelled):
		writeError(w, http.StatusConflict, "event is cancelled")
	case errors.Is(err, repository.ErrEventFull):
		writeError(w, http.StatusConflict, "event is at capacity")
	case errors.Is(err, repository.ErrAlreadyGoing):
		writeError(w, http.StatusConflict, "you are already attending this event")
	case errors.Is(err, repository.ErrStoreConflict):
		writeError(w, http.StatusConflict, "conflicting update, please retry")
	case errors.Is(err, repository.ErrClaimWindowExpired):
		writeError(w, http.StatusGone, "your claim window has expired")
	case errors.Is(err, repository.ErrNotOnWaitlist):
		writeError(w, http.StatusUnprocessableEntity, "you are not on the waitlist")
	case errors.Is(err, repository.ErrNotNotified):
		writeError(w, http.StatusUnprocessableEntity, "you have not been notified of an open spot yet")
	case errors.Is(err, repository.ErrEventNotFull):
		writeError(w, http.StatusUnprocessableEntity, "event is not full, you can rsvp directly")
	case errors.Is(err, repository.ErrCapacityTooLow):
		writeError(w, http.StatusUnprocessableEntity, "capacity cannot be below the number of confirmed attendees")
	case errors.Is(err, repository.ErrNotOrganizer):
		writeError(w, http.StatusForbidden, "only the organizer can perform this action")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

// ─── Event handlers ───────────────────────────────────────────────────────────

// CreateEvent handles POST /events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req model.CreateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	event, err := h.events.CreateEvent(r.Context(), user.ID, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListEvents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.events.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// ListAttendees handles GET /events/{id}/attendees
func (h *EventHandler) ListAttendees(w http.ResponseWriter, r *http.Request) {
	recs, err := h.events.ListAttendees(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to list attendees")
		return
	}
	if recs == nil {
		recs = []model.AttendanceRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// CancelEvent handles POST /events/{id}/cancel
func (h *EventHandler) CancelEvent(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.events.CancelEvent(r.Context(), chi.URLParam(r, "id"), user.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.RSVPResponse{Success: true})
}

// UpdateCapacity handles PATCH /events/{id}/capacity
func (h *EventHandler) UpdateCapacity(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req model.UpdateCapacityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	event, err := h.events.UpdateCapacity(r.Context(), chi.URLParam(r, "id"), user.ID, req.MaxCapacity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// ─── RSVP handlers ────────────────────────────────────────────────────────────

// SetRSVP handles PUT /events/{id}/rsvp
// A "going" request on a full event is answered with a waitlist redirect
// signal rather than silently enqueuing the user.
func (h *EventHandler) SetRSVP(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req model.SetStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	rec, err := h.rsvps.SetStatus(r.Context(), chi.URLParam(r, "id"), user.ID, req.Status)
	if err != nil {
		if errors.Is(err, repository.ErrEventFull) {
			writeJSON(w, http.StatusConflict, model.RSVPResponse{
				Error:              "event is at capacity",
				RedirectToWaitlist: true,
			})
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.RSVPResponse{Success: true, Record: rec})
}

// GetRSVP handles GET /events/{id}/rsvp
func (h *EventHandler) GetRSVP(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	rec, err := h.rsvps.Get(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CancelRSVP handles DELETE /events/{id}/rsvp
// If the removed record was going, the freed slot advances the waitlist.
func (h *EventHandler) CancelRSVP(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.rsvps.Cancel(r.Context(), chi.URLParam(r, "id"), user.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.RSVPResponse{Success: true})
}

// ─── Waitlist handlers ────────────────────────────────────────────────────────

// JoinWaitlist handles POST /events/{id}/waitlist
func (h *EventHandler) JoinWaitlist(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	resp, err := h.waitlist.Join(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.AlreadyOnWaitlist {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// ClaimSpot handles POST /events/{id}/waitlist/claim
func (h *EventHandler) ClaimSpot(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	rec, err := h.waitlist.Claim(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.RSVPResponse{Success: true, Record: rec})
}

// LeaveWaitlist handles DELETE /events/{id}/waitlist
func (h *EventHandler) LeaveWaitlist(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.waitlist.Leave(r.Context(), chi.URLParam(r, "id"), user.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.RSVPResponse{Success: true})
}

// Sweep handles POST /internal/waitlist/sweep
// Invoked by an external scheduler; guarded by a bearer token.
func (h *EventHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	expected := "Bearer " + h.sweepToken
	if h.sweepToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	notified, err := h.waitlist.SweepAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, model.SweepResponse{Notified: notified})
}

// ─── Profile handlers ─────────────────────────────────────────────────────────

// Me handles GET /me
func (h *EventHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	profile, err := h.profiles.Get(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get profile")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// UpsertProfile handles PUT /profile
func (h *EventHandler) UpsertProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req model.UpsertProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	profile, err := h.profiles.Upsert(r.Context(), user.ID, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
