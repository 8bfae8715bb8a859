package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"bdehub.org/internal/audit"
	"bdehub.org/internal/auth"
	"bdehub.org/internal/events"
)

type createBookingRequest struct {
	EventUUID string `json:"event_uuid"`
	UserUUID  string `json:"user_uuid"`
	Force     bool   `json:"force"`
}

func (a *API) handleBookings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	a.createBooking(w, r)
}

func (a *API) handleBookingResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/bookings/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	eventUUID, userUUID := parts[0], parts[1]
	switch r.Method {
	case http.MethodGet:
		a.getBooking(w, r, eventUUID, userUUID)
	case http.MethodDelete:
		a.deleteBooking(w, r, eventUUID, userUUID)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) createBooking(w http.ResponseWriter, r *http.Request) {
	_, subject, ok := a.requireSubject(w, r)
	if !ok {
		return
	}
	var req createBookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.EventUUID = strings.TrimSpace(req.EventUUID)
	req.UserUUID = strings.TrimSpace(req.UserUUID)
	if req.EventUUID == "" || req.UserUUID == "" {
		writeError(w, r, http.StatusBadRequest, "event_uuid and user_uuid are required")
		return
	}

	event, err := a.events.FindEvent(r.Context(), req.EventUUID)
	if errors.Is(err, events.ErrNotFound) {
		// The event is a reference here, not the resource itself.
		writeError(w, r, http.StatusBadRequest, "event does not exist")
		return
	}
	if err != nil {
		handleEventsError(w, r, err)
		return
	}

	if !auth.CanManageBooking(subject, req.UserUUID, event.BdeUUID) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	if !events.CanBookNow(event, time.Now().UTC()) {
		if !req.Force {
			writeError(w, r, http.StatusForbidden, "booking window is closed")
			return
		}
		if !auth.CanManageEvents(subject, event.BdeUUID) {
			writeError(w, r, http.StatusForbidden, "forbidden")
			return
		}
	}

	booking, err := a.events.CreateBooking(r.Context(), req.EventUUID, req.UserUUID)
	if err != nil {
		handleEventsError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "events.booking.create", map[string]any{
		"event_uuid":  booking.EventUUID,
		"target_uuid": booking.UserUUID,
		"forced":      req.Force,
	})
	w.Header().Set("Location", "/v1/bookings/"+booking.EventUUID+"/"+booking.UserUUID)
	writeJSON(w, http.StatusCreated, booking)
}

func (a *API) getBooking(w http.ResponseWriter, r *http.Request, eventUUID, userUUID string) {
	_, subject, ok := a.requireSubject(w, r)
	if !ok {
		return
	}
	event, err := a.events.FindEvent(r.Context(), eventUUID)
	if err != nil {
		handleEventsError(w, r, err)
		return
	}
	if !auth.CanManageBooking(subject, userUUID, event.BdeUUID) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	booking, err := a.events.FindBooking(r.Context(), eventUUID, userUUID)
	if err != nil {
		handleEventsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (a *API) deleteBooking(w http.ResponseWriter, r *http.Request, eventUUID, userUUID string) {
	_, subject, ok := a.requireSubject(w, r)
	if !ok {
		return
	}
	event, err := a.events.FindEvent(r.Context(), eventUUID)
	if err != nil {
		handleEventsError(w, r, err)
		return
	}
	if !auth.CanManageBooking(subject, userUUID, event.BdeUUID) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	if err := a.events.DeleteBooking(r.Context(), eventUUID, userUUID); err != nil {
		handleEventsError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "events.booking.delete", map[string]any{
		"event_uuid":  eventUUID,
		"target_uuid": userUUID,
	})
	w.WriteHeader(http.StatusNoContent)
}
