package httpapi

import (
	"net/http"
	"strings"

	"bdehub.org/internal/audit"
	"bdehub.org/internal/auth"
	"bdehub.org/internal/directory"
	"bdehub.org/internal/events"
)

type createUserRequest struct {
	BdeUUID     string   `json:"bde_uuid"`
	Email       string   `json:"email"`
	Firstname   string   `json:"firstname"`
	Lastname    string   `json:"lastname"`
	Password    string   `json:"password"`
	Permissions []string `json:"permissions"`
}

type setPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	_, subject, ok := a.requireSubject(w, r)
	if !ok {
		return
	}

	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !auth.CanAddUser(subject, strings.TrimSpace(req.BdeUUID)) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	user, err := a.directory.CreateUser(r.Context(), directory.NewUser{
		BdeUUID:     req.BdeUUID,
		Email:       req.Email,
		Firstname:   req.Firstname,
		Lastname:    req.Lastname,
		Password:    req.Password,
		Permissions: req.Permissions,
	})
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "directory.user.create", map[string]any{
		"target_uuid": user.UUID,
		"bde_uuid":    user.BdeUUID,
		"email":       user.Email,
	})
	w.Header().Set("Location", "/v1/users/"+user.UUID)
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			a.getUser(w, r, parts[0])
		case http.MethodDelete:
			a.deleteUser(w, r, parts[0])
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		}
	case len(parts) == 2 && parts[1] == "permissions":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.setUserPermissions(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "bookings":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.listUserBookings(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// getUser exposes a profile to its owner and to managers of its BDE.
func (a *API) getUser(w http.ResponseWriter, r *http.Request, uuid string) {
	_, subject, ok := a.requireSubject(w, r)
	if !ok {
		return
	}
	user, err := a.directory.FindUser(r.Context(), uuid)
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	if !canViewUser(subject, user) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func canViewUser(subject auth.Subject, user directory.User) bool {
	if subject.UUID == user.UUID {
		return true
	}
	if subject.Has(auth.PermissionAll) {
		return true
	}
	return subject.Has(auth.PermissionManagePermissions) && subject.BdeUUID == user.BdeUUID
}

func (a *API) setUserPermissions(w http.ResponseWriter, r *http.Request, uuid string) {
	_, subject, ok := a.requireSubject(w, r)
	if !ok {
		return
	}
	target, err := a.directory.FindUser(r.Context(), uuid)
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}

	var req setPermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !auth.CanManagePermissions(subject, target.Subject()) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	updated, err := a.directory.SetUserPermissions(r.Context(), uuid, req.Permissions)
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "directory.user.permissions.update", map[string]any{
		"target_uuid": uuid,
		"permissions": updated.Permissions,
	})
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request, uuid string) {
	_, subject, ok := a.requireSubject(w, r)
	if !ok {
		return
	}
	target, err := a.directory.FindUser(r.Context(), uuid)
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	if !auth.CanManagePermissions(subject, target.Subject()) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	if err := a.directory.DeleteUser(r.Context(), uuid); err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "directory.user.delete", map[string]any{
		"target_uuid": uuid,
	})
	w.WriteHeader(http.StatusNoContent)
}

// listUserBookings filters per item: each booking is visible only when the
// caller could manage it against the owning event's BDE.
func (a *API) listUserBookings(w http.ResponseWriter, r *http.Request, uuid string) {
	_, subject, ok := a.requireSubject(w, r)
	if !ok {
		return
	}
	if _, err := a.directory.FindUser(r.Context(), uuid); err != nil {
		handleDirectoryError(w, r, err)
		return
	}

	bookings, err := a.events.BookingsForUser(r.Context(), uuid)
	if err != nil {
		handleEventsError(w, r, err)
		return
	}
	visible := make([]events.Booking, 0, len(bookings))
	for _, b := range bookings {
		event, err := a.events.FindEvent(r.Context(), b.EventUUID)
		if err != nil {
			continue
		}
		if auth.CanManageBooking(subject, b.UserUUID, event.BdeUUID) {
			visible = append(visible, b)
		}
	}
	writeJSON(w, http.StatusOK, visible)
}
