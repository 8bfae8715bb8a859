package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"bdehub.org/internal/auth"
	"bdehub.org/internal/directory"
	"bdehub.org/internal/events"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	dir     *directory.InMemory
	ev      *events.InMemory
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("BDEHUB_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	dir := directory.NewInMemory()
	ev := events.NewInMemory(dir)
	api := New(ReadyProbe{}, "test", dir, ev)
	api.rateBurst = 1000
	api.ratePerSec = 1000

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		dir:     dir,
		ev:      ev,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

// seedBDE and seedUser go straight to the service layer so tests can build a
// directory without first minting an ALL token.
func (c *apiClient) seedBDE(name string) directory.BDE {
	c.t.Helper()
	b, err := c.dir.CreateBDE(context.Background(), name)
	if err != nil {
		c.t.Fatalf("seed bde: %v", err)
	}
	return b
}

func (c *apiClient) seedUser(bdeUUID, email string, perms []string) directory.User {
	c.t.Helper()
	u, err := c.dir.CreateUser(context.Background(), directory.NewUser{
		BdeUUID:     bdeUUID,
		Email:       email,
		Firstname:   "Test",
		Lastname:    "User",
		Password:    "pass-" + email,
		Permissions: perms,
	})
	if err != nil {
		c.t.Fatalf("seed user: %v", err)
	}
	return u
}

func (c *apiClient) obtainToken(email string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{
		"email":    email,
		"password": "pass-" + email,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func authed(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func wantStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("unexpected status: got %d, want %d", resp.StatusCode, want)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	api := newTestAPI(t)
	b := api.seedBDE("BDE Info")
	api.seedUser(b.UUID, "member@x.fr", nil)

	resp := api.post("/v1/auth/token", map[string]any{
		"email":    "member@x.fr",
		"password": "wrong",
	}, nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusUnauthorized)

	resp = api.post("/v1/auth/token", map[string]any{
		"email":    "ghost@x.fr",
		"password": "whatever",
	}, nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusUnauthorized)
}

func TestBDELifecycle(t *testing.T) {
	api := newTestAPI(t)
	root := api.seedBDE("Root")
	api.seedUser(root.UUID, "admin@x.fr", []string{auth.PermissionAll})
	api.seedUser(root.UUID, "member@x.fr", nil)

	adminToken := api.obtainToken("admin@x.fr")
	memberToken := api.obtainToken("member@x.fr")

	// Only ALL may create BDEs.
	resp := api.post("/v1/bdes", map[string]any{"name": "BDE Sciences"}, authed(memberToken))
	resp.Body.Close()
	wantStatus(t, resp, http.StatusForbidden)

	resp = api.post("/v1/bdes", map[string]any{"name": "BDE Sciences"}, authed(adminToken))
	wantStatus(t, resp, http.StatusCreated)
	created := decode[directory.BDE](t, resp)
	if created.UUID == "" || created.Name != "BDE Sciences" {
		t.Fatalf("unexpected bde: %+v", created)
	}

	resp = api.get("/v1/bdes", nil, authed(memberToken))
	wantStatus(t, resp, http.StatusOK)
	list := decode[[]directory.BDE](t, resp)
	if len(list) != 2 {
		t.Fatalf("expected 2 bdes, got %d", len(list))
	}

	resp = api.get("/v1/bdes/"+created.UUID, nil, authed(memberToken))
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.get("/v1/bdes/nope", nil, authed(memberToken))
	resp.Body.Close()
	wantStatus(t, resp, http.StatusNotFound)
}

func TestCreateUserRequiresAddUserInBDE(t *testing.T) {
	api := newTestAPI(t)
	b1 := api.seedBDE("One")
	b2 := api.seedBDE("Two")
	api.seedUser(b1.UUID, "recruiter@x.fr", []string{auth.PermissionAddUser})
	token := api.obtainToken("recruiter@x.fr")

	// Same BDE: allowed.
	resp := api.post("/v1/users", map[string]any{
		"bde_uuid":  b1.UUID,
		"email":     "new@x.fr",
		"firstname": "New",
		"lastname":  "Member",
		"password":  "secret",
	}, authed(token))
	wantStatus(t, resp, http.StatusCreated)
	created := decode[directory.User](t, resp)
	if created.BdeUUID != b1.UUID {
		t.Fatalf("unexpected user: %+v", created)
	}

	// Other BDE: scope check precedes everything else.
	resp = api.post("/v1/users", map[string]any{
		"bde_uuid":  b2.UUID,
		"email":     "other@x.fr",
		"firstname": "Other",
		"lastname":  "Member",
		"password":  "secret",
	}, authed(token))
	resp.Body.Close()
	wantStatus(t, resp, http.StatusForbidden)

	// Duplicate email maps to 400.
	resp = api.post("/v1/users", map[string]any{
		"bde_uuid":  b1.UUID,
		"email":     "new@x.fr",
		"firstname": "Dup",
		"lastname":  "Member",
		"password":  "secret",
	}, authed(token))
	resp.Body.Close()
	wantStatus(t, resp, http.StatusBadRequest)
}

func TestUserVisibility(t *testing.T) {
	api := newTestAPI(t)
	b1 := api.seedBDE("One")
	b2 := api.seedBDE("Two")
	target := api.seedUser(b1.UUID, "target@x.fr", nil)
	api.seedUser(b1.UUID, "peer@x.fr", nil)
	api.seedUser(b1.UUID, "manager@x.fr", []string{auth.PermissionManagePermissions})
	api.seedUser(b2.UUID, "foreign@x.fr", []string{auth.PermissionManagePermissions})

	// Self.
	resp := api.get("/v1/users/"+target.UUID, nil, authed(api.obtainToken("target@x.fr")))
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// Plain peer: denied.
	resp = api.get("/v1/users/"+target.UUID, nil, authed(api.obtainToken("peer@x.fr")))
	resp.Body.Close()
	wantStatus(t, resp, http.StatusForbidden)

	// Same-BDE manager: allowed.
	resp = api.get("/v1/users/"+target.UUID, nil, authed(api.obtainToken("manager@x.fr")))
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// Cross-BDE manager: scope wins over capability.
	resp = api.get("/v1/users/"+target.UUID, nil, authed(api.obtainToken("foreign@x.fr")))
	resp.Body.Close()
	wantStatus(t, resp, http.StatusForbidden)
}

func TestSetPermissions(t *testing.T) {
	api := newTestAPI(t)
	b1 := api.seedBDE("One")
	b2 := api.seedBDE("Two")
	target := api.seedUser(b1.UUID, "target@x.fr", []string{auth.PermissionAddUser})
	api.seedUser(b1.UUID, "manager@x.fr", []string{auth.PermissionManagePermissions})
	api.seedUser(b2.UUID, "foreign@x.fr", []string{auth.PermissionAll})

	managerToken := api.obtainToken("manager@x.fr")

	resp := api.do(http.MethodPut, "/v1/users/"+target.UUID+"/permissions", map[string]any{
		"permissions": []string{auth.PermissionManageEvents, "UNKNOWN"},
	}, authed(managerToken))
	wantStatus(t, resp, http.StatusOK)
	updated := decode[directory.User](t, resp)
	if len(updated.Permissions) != 1 || updated.Permissions[0] != auth.PermissionManageEvents {
		t.Fatalf("unknown names should drop: %v", updated.Permissions)
	}

	// Equal level target: denied. Manager (50) vs target now holding
	// MANAGE_PERMISSIONS as well.
	resp = api.do(http.MethodPut, "/v1/users/"+target.UUID+"/permissions", map[string]any{
		"permissions": []string{auth.PermissionManagePermissions},
	}, authed(managerToken))
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	resp = api.do(http.MethodPut, "/v1/users/"+target.UUID+"/permissions", map[string]any{
		"permissions": []string{},
	}, authed(managerToken))
	resp.Body.Close()
	wantStatus(t, resp, http.StatusForbidden)

	// ALL bypasses scope and level.
	resp = api.do(http.MethodPut, "/v1/users/"+target.UUID+"/permissions", map[string]any{
		"permissions": []string{},
	}, authed(api.obtainToken("foreign@x.fr")))
	wantStatus(t, resp, http.StatusOK)
	cleared := decode[directory.User](t, resp)
	if len(cleared.Permissions) != 0 {
		t.Fatalf("permissions not cleared: %v", cleared.Permissions)
	}
}

func TestEventWindowValidationPrecedesAuthorization(t *testing.T) {
	api := newTestAPI(t)
	b := api.seedBDE("One")
	api.seedUser(b.UUID, "member@x.fr", nil)
	token := api.obtainToken("member@x.fr")

	start := time.Now().UTC()
	end := start.Add(-time.Hour)
	resp := api.post("/v1/events", map[string]any{
		"bde_uuid":      b.UUID,
		"name":          "Gala",
		"booking_start": start,
		"booking_end":   end,
	}, authed(token))
	resp.Body.Close()
	// Caller holds no permission at all, yet the malformed window reports 400.
	wantStatus(t, resp, http.StatusBadRequest)
}

func TestEventLifecycle(t *testing.T) {
	api := newTestAPI(t)
	b1 := api.seedBDE("One")
	b2 := api.seedBDE("Two")
	api.seedUser(b1.UUID, "organizer@x.fr", []string{auth.PermissionManageEvents})
	api.seedUser(b1.UUID, "member@x.fr", nil)
	token := api.obtainToken("organizer@x.fr")

	resp := api.post("/v1/events", map[string]any{
		"bde_uuid": b1.UUID,
		"name":     "Ski trip",
	}, authed(api.obtainToken("member@x.fr")))
	resp.Body.Close()
	wantStatus(t, resp, http.StatusForbidden)

	resp = api.post("/v1/events", map[string]any{
		"bde_uuid": b1.UUID,
		"name":     "Ski trip",
	}, authed(token))
	wantStatus(t, resp, http.StatusCreated)
	created := decode[events.Event](t, resp)

	// Cross-BDE move requires rights on the destination too.
	resp = api.do(http.MethodPatch, "/v1/events/"+created.UUID, map[string]any{
		"bde_uuid": b2.UUID,
	}, authed(token))
	resp.Body.Close()
	wantStatus(t, resp, http.StatusForbidden)

	name := "Ski trip 2026"
	resp = api.do(http.MethodPatch, "/v1/events/"+created.UUID, map[string]any{
		"name": name,
	}, authed(token))
	wantStatus(t, resp, http.StatusOK)
	updated := decode[events.Event](t, resp)
	if updated.Name != name {
		t.Fatalf("patch not applied: %+v", updated)
	}

	resp = api.do(http.MethodDelete, "/v1/events/"+created.UUID, nil, authed(token))
	resp.Body.Close()
	wantStatus(t, resp, http.StatusNoContent)

	resp = api.get("/v1/events/"+created.UUID, nil, nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusNotFound)
}

func TestDraftVisibility(t *testing.T) {
	api := newTestAPI(t)
	b := api.seedBDE("One")
	api.seedUser(b.UUID, "organizer@x.fr", []string{auth.PermissionManageEvents})
	api.seedUser(b.UUID, "member@x.fr", nil)
	organizerToken := api.obtainToken("organizer@x.fr")

	resp := api.post("/v1/events", map[string]any{
		"bde_uuid": b.UUID,
		"name":     "Secret gala",
		"is_draft": true,
	}, authed(organizerToken))
	wantStatus(t, resp, http.StatusCreated)
	draft := decode[events.Event](t, resp)

	// Anonymous listing hides drafts.
	resp = api.get("/v1/events", nil, nil)
	wantStatus(t, resp, http.StatusOK)
	public := decode[[]events.Event](t, resp)
	if len(public) != 0 {
		t.Fatalf("draft leaked to anonymous listing: %v", public)
	}

	// Plain member: draft is indistinguishable from absent.
	resp = api.get("/v1/events/"+draft.UUID, nil, authed(api.obtainToken("member@x.fr")))
	resp.Body.Close()
	wantStatus(t, resp, http.StatusNotFound)

	// Manager sees it.
	resp = api.get("/v1/events", nil, authed(organizerToken))
	wantStatus(t, resp, http.StatusOK)
	mine := decode[[]events.Event](t, resp)
	if len(mine) != 1 || mine[0].UUID != draft.UUID {
		t.Fatalf("manager should see the draft: %v", mine)
	}
}

func TestBookingFlow(t *testing.T) {
	api := newTestAPI(t)
	b := api.seedBDE("One")
	api.seedUser(b.UUID, "organizer@x.fr", []string{auth.PermissionManageEvents, auth.PermissionManageBookings})
	member := api.seedUser(b.UUID, "member@x.fr", nil)
	other := api.seedUser(b.UUID, "other@x.fr", nil)

	event, err := api.ev.CreateEvent(context.Background(), events.Event{Name: "Gala", BdeUUID: b.UUID})
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}

	// No token: 401.
	resp := api.post("/v1/bookings", map[string]any{
		"event_uuid": event.UUID,
		"user_uuid":  member.UUID,
	}, nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusUnauthorized)

	memberToken := api.obtainToken("member@x.fr")

	// Booking someone else without MANAGE_BOOKINGS: 403.
	resp = api.post("/v1/bookings", map[string]any{
		"event_uuid": event.UUID,
		"user_uuid":  other.UUID,
	}, authed(memberToken))
	resp.Body.Close()
	wantStatus(t, resp, http.StatusForbidden)

	// Self-service booking succeeds and echoes the pairing.
	resp = api.post("/v1/bookings", map[string]any{
		"event_uuid": event.UUID,
		"user_uuid":  member.UUID,
	}, authed(memberToken))
	wantStatus(t, resp, http.StatusCreated)
	booking := decode[events.Booking](t, resp)
	if booking.EventUUID != event.UUID || booking.UserUUID != member.UUID {
		t.Fatalf("unexpected booking: %+v", booking)
	}

	// Duplicate: 400.
	resp = api.post("/v1/bookings", map[string]any{
		"event_uuid": event.UUID,
		"user_uuid":  member.UUID,
	}, authed(memberToken))
	resp.Body.Close()
	wantStatus(t, resp, http.StatusBadRequest)

	// Unknown event is a bad reference, not a missing resource.
	resp = api.post("/v1/bookings", map[string]any{
		"event_uuid": "nope",
		"user_uuid":  member.UUID,
	}, authed(memberToken))
	resp.Body.Close()
	wantStatus(t, resp, http.StatusBadRequest)

	// Organizer can book on behalf of others.
	resp = api.post("/v1/bookings", map[string]any{
		"event_uuid": event.UUID,
		"user_uuid":  other.UUID,
	}, authed(api.obtainToken("organizer@x.fr")))
	resp.Body.Close()
	wantStatus(t, resp, http.StatusCreated)

	// Event-side listing is authenticated and unfiltered.
	resp = api.get("/v1/events/"+event.UUID+"/bookings", nil, authed(memberToken))
	wantStatus(t, resp, http.StatusOK)
	all := decode[[]events.Booking](t, resp)
	if len(all) != 2 {
		t.Fatalf("expected 2 bookings, got %d", len(all))
	}

	// User-side listing filters to what the caller may manage.
	resp = api.get("/v1/users/"+other.UUID+"/bookings", nil, authed(memberToken))
	wantStatus(t, resp, http.StatusOK)
	visible := decode[[]events.Booking](t, resp)
	if len(visible) != 0 {
		t.Fatalf("member should not see another user's bookings: %v", visible)
	}

	// Deleting own booking.
	resp = api.do(http.MethodDelete, "/v1/bookings/"+event.UUID+"/"+member.UUID, nil, authed(memberToken))
	resp.Body.Close()
	wantStatus(t, resp, http.StatusNoContent)
}

func TestBookingWindow(t *testing.T) {
	api := newTestAPI(t)
	b := api.seedBDE("One")
	member := api.seedUser(b.UUID, "member@x.fr", nil)
	manager := api.seedUser(b.UUID, "organizer@x.fr", []string{auth.PermissionManageEvents})

	past := time.Now().UTC().Add(-2 * time.Hour)
	closed := past.Add(time.Hour)
	event, err := api.ev.CreateEvent(context.Background(), events.Event{
		Name:         "Gala",
		BdeUUID:      b.UUID,
		BookingStart: &past,
		BookingEnd:   &closed,
	})
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}

	memberToken := api.obtainToken("member@x.fr")

	// Window closed, no force: denied.
	resp := api.post("/v1/bookings", map[string]any{
		"event_uuid": event.UUID,
		"user_uuid":  member.UUID,
	}, authed(memberToken))
	resp.Body.Close()
	wantStatus(t, resp, http.StatusForbidden)

	// Force without MANAGE_EVENTS: denied.
	resp = api.post("/v1/bookings", map[string]any{
		"event_uuid": event.UUID,
		"user_uuid":  member.UUID,
		"force":      true,
	}, authed(memberToken))
	resp.Body.Close()
	wantStatus(t, resp, http.StatusForbidden)

	// Force with MANAGE_EVENTS: allowed, even for another user.
	resp = api.post("/v1/bookings", map[string]any{
		"event_uuid": event.UUID,
		"user_uuid":  manager.UUID,
		"force":      true,
	}, authed(api.obtainToken("organizer@x.fr")))
	resp.Body.Close()
	wantStatus(t, resp, http.StatusCreated)
}

func TestHealthAndInfo(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil, nil)
	wantStatus(t, resp, http.StatusOK)
	health := decode[map[string]any](t, resp)
	if health["status"] != "ok" {
		t.Fatalf("unexpected health payload: %v", health)
	}

	resp = api.get("/readyz", nil, nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusOK)

	resp = api.get("/v1/info", nil, nil)
	wantStatus(t, resp, http.StatusOK)
	info := decode[map[string]any](t, resp)
	if info["version"] != "test" {
		t.Fatalf("unexpected info payload: %v", info)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	api := newTestAPI(t)
	b := api.seedBDE("One")
	api.seedUser(b.UUID, "admin@x.fr", []string{auth.PermissionAll})
	token := api.obtainToken("admin@x.fr")

	resp := api.post("/v1/bdes", map[string]any{
		"name":    "BDE Sciences",
		"suprise": true,
	}, authed(token))
	resp.Body.Close()
	wantStatus(t, resp, http.StatusBadRequest)
}
