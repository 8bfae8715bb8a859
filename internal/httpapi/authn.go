package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"bdehub.org/internal/auth"
	"bdehub.org/internal/directory"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/",
}

// withAuth decodes a bearer token when present and attaches the claims to the
// request context. A malformed or invalid token is rejected outright; a
// missing token passes through, since some endpoints are public and the rest
// demand a subject themselves.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		header := strings.TrimSpace(r.Header.Get(authHeader))
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(header)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := auth.ContextWithClaims(r.Context(), claims)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireSubject resolves the authenticated caller into a directory user and
// an evaluated subject. It writes the error response itself; callers must
// return when ok is false.
func (a *API) requireSubject(w http.ResponseWriter, r *http.Request) (directory.User, auth.Subject, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return directory.User{}, auth.Subject{}, false
	}
	user, err := a.directory.FindUser(r.Context(), claims.UserUUID())
	if errors.Is(err, directory.ErrNotFound) {
		writeError(w, r, http.StatusUnauthorized, "unknown user")
		return directory.User{}, auth.Subject{}, false
	}
	if err != nil {
		handleDirectoryError(w, r, err)
		return directory.User{}, auth.Subject{}, false
	}
	return user, user.Subject(), true
}

// optionalSubject resolves the caller when a valid token was presented.
// Anonymous requests and stale tokens both yield ok=false without writing a
// response.
func (a *API) optionalSubject(r *http.Request) (auth.Subject, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return auth.Subject{}, false
	}
	user, err := a.directory.FindUser(r.Context(), claims.UserUUID())
	if err != nil {
		return auth.Subject{}, false
	}
	return user.Subject(), true
}

func extractBearerToken(header string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
