package httpapi

import (
	"net/http"
	"strings"

	"bdehub.org/internal/audit"
	"bdehub.org/internal/auth"
)

type createBDERequest struct {
	Name string `json:"name"`
}

func (a *API) handleBDEs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createBDE(w, r)
	case http.MethodGet:
		a.listBDEs(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleBDEResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/bdes/"), "/")
	if path == "" || strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	if _, _, ok := a.requireSubject(w, r); !ok {
		return
	}
	bde, err := a.directory.FindBDE(r.Context(), path)
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bde)
}

// createBDE is reserved for the ALL permission; BDEs anchor every other scope
// check, so only a platform operator may mint one.
func (a *API) createBDE(w http.ResponseWriter, r *http.Request) {
	_, subject, ok := a.requireSubject(w, r)
	if !ok {
		return
	}
	if !subject.Has(auth.PermissionAll) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	var req createBDERequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	bde, err := a.directory.CreateBDE(r.Context(), req.Name)
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "directory.bde.create", map[string]any{
		"bde_uuid": bde.UUID,
		"name":     bde.Name,
	})
	w.Header().Set("Location", "/v1/bdes/"+bde.UUID)
	writeJSON(w, http.StatusCreated, bde)
}

func (a *API) listBDEs(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := a.requireSubject(w, r); !ok {
		return
	}
	bdes, err := a.directory.ListBDEs(r.Context())
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bdes)
}
