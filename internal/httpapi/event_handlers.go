package httpapi

import (
	"net/http"
	"strings"
	"time"

	"bdehub.org/internal/audit"
	"bdehub.org/internal/auth"
	"bdehub.org/internal/events"
)

type createEventRequest struct {
	BdeUUID      string     `json:"bde_uuid"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	IsDraft      bool       `json:"is_draft"`
	BookingStart *time.Time `json:"booking_start"`
	BookingEnd   *time.Time `json:"booking_end"`
	EventDate    *time.Time `json:"event_date"`
}

type updateEventRequest struct {
	BdeUUID      *string    `json:"bde_uuid"`
	Name         *string    `json:"name"`
	Description  *string    `json:"description"`
	IsDraft      *bool      `json:"is_draft"`
	BookingStart *time.Time `json:"booking_start"`
	BookingEnd   *time.Time `json:"booking_end"`
	EventDate    *time.Time `json:"event_date"`
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createEvent(w, r)
	case http.MethodGet:
		a.listEvents(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleEventResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/events/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			a.getEvent(w, r, parts[0])
		case http.MethodPatch:
			a.updateEvent(w, r, parts[0])
		case http.MethodDelete:
			a.deleteEvent(w, r, parts[0])
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
		}
	case len(parts) == 2 && parts[1] == "bookings":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.listEventBookings(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createEvent(w http.ResponseWriter, r *http.Request) {
	_, subject, ok := a.requireSubject(w, r)
	if !ok {
		return
	}
	var req createEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	// Structural validation precedes authorization: a malformed window is 400
	// no matter who asks.
	if req.BookingStart != nil && req.BookingEnd != nil && !req.BookingStart.Before(*req.BookingEnd) {
		writeError(w, r, http.StatusBadRequest, "booking_start must precede booking_end")
		return
	}
	if !auth.CanManageEvents(subject, strings.TrimSpace(req.BdeUUID)) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	event, err := a.events.CreateEvent(r.Context(), events.Event{
		BdeUUID:      req.BdeUUID,
		Name:         req.Name,
		Description:  req.Description,
		IsDraft:      req.IsDraft,
		BookingStart: req.BookingStart,
		BookingEnd:   req.BookingEnd,
		EventDate:    req.EventDate,
	})
	if err != nil {
		handleEventsError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "events.event.create", map[string]any{
		"event_uuid": event.UUID,
		"bde_uuid":   event.BdeUUID,
		"name":       event.Name,
	})
	w.Header().Set("Location", "/v1/events/"+event.UUID)
	writeJSON(w, http.StatusCreated, event)
}

// listEvents is public; drafts surface only for callers who manage the
// owning BDE.
func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	subject, authenticated := a.optionalSubject(r)

	all, err := a.events.ListEvents(r.Context())
	if err != nil {
		handleEventsError(w, r, err)
		return
	}
	visible := make([]events.Event, 0, len(all))
	for _, e := range all {
		if e.IsDraft && !(authenticated && auth.CanManageEvents(subject, e.BdeUUID)) {
			continue
		}
		visible = append(visible, e)
	}
	writeJSON(w, http.StatusOK, visible)
}

func (a *API) getEvent(w http.ResponseWriter, r *http.Request, uuid string) {
	event, err := a.events.FindEvent(r.Context(), uuid)
	if err != nil {
		handleEventsError(w, r, err)
		return
	}
	if event.IsDraft {
		subject, authenticated := a.optionalSubject(r)
		if !authenticated || !auth.CanManageEvents(subject, event.BdeUUID) {
			// Drafts are indistinguishable from absent events.
			writeError(w, r, http.StatusNotFound, events.ErrNotFound.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, event)
}

func (a *API) updateEvent(w http.ResponseWriter, r *http.Request, uuid string) {
	_, subject, ok := a.requireSubject(w, r)
	if !ok {
		return
	}
	current, err := a.events.FindEvent(r.Context(), uuid)
	if err != nil {
		handleEventsError(w, r, err)
		return
	}

	var req updateEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !auth.CanManageEvents(subject, current.BdeUUID) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	// Moving the event to another BDE needs management rights on both sides.
	if req.BdeUUID != nil && *req.BdeUUID != current.BdeUUID && !auth.CanManageEvents(subject, *req.BdeUUID) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	updated, err := a.events.UpdateEvent(r.Context(), uuid, events.EventUpdate{
		BdeUUID:      req.BdeUUID,
		Name:         req.Name,
		Description:  req.Description,
		IsDraft:      req.IsDraft,
		BookingStart: req.BookingStart,
		BookingEnd:   req.BookingEnd,
		EventDate:    req.EventDate,
	})
	if err != nil {
		handleEventsError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "events.event.update", map[string]any{
		"event_uuid": uuid,
		"bde_uuid":   updated.BdeUUID,
	})
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) deleteEvent(w http.ResponseWriter, r *http.Request, uuid string) {
	_, subject, ok := a.requireSubject(w, r)
	if !ok {
		return
	}
	event, err := a.events.FindEvent(r.Context(), uuid)
	if err != nil {
		handleEventsError(w, r, err)
		return
	}
	if !auth.CanManageEvents(subject, event.BdeUUID) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	if err := a.events.DeleteEvent(r.Context(), uuid); err != nil {
		handleEventsError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "events.event.delete", map[string]any{
		"event_uuid": uuid,
		"bde_uuid":   event.BdeUUID,
	})
	w.WriteHeader(http.StatusNoContent)
}

// listEventBookings requires authentication but applies no per-item filter,
// unlike the user-side listing.
// TODO: revisit once per-attendee visibility rules are settled.
func (a *API) listEventBookings(w http.ResponseWriter, r *http.Request, uuid string) {
	if _, _, ok := a.requireSubject(w, r); !ok {
		return
	}
	bookings, err := a.events.BookingsForEvent(r.Context(), uuid)
	if err != nil {
		handleEventsError(w, r, err)
		return
	}
	if bookings == nil {
		bookings = []events.Booking{}
	}
	writeJSON(w, http.StatusOK, bookings)
}
