package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ampguard/telemetry-core/internal/identity"
	"github.com/ampguard/telemetry-core/pkg/apperr"
	"github.com/ampguard/telemetry-core/pkg/hub"
	"github.com/ampguard/telemetry-core/pkg/security"
	"github.com/ampguard/telemetry-core/pkg/storage"
	"github.com/ampguard/telemetry-core/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeStore implements just enough of storage.Store for router-level tests;
// everything else inherits storage.Store's nil method set and would panic
// if a handler under test ever reached it.
type fakeStore struct {
	storage.Store
	users   map[string]*types.User
	alerts  map[string]*types.Alert
	pingErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[string]*types.User{}, alerts: map[string]*types.Alert{}}
}

func (f *fakeStore) GetAlert(ctx context.Context, id string) (*types.Alert, error) {
	a, ok := f.alerts[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "alert not found").WithEntity(id)
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) AcknowledgeAlert(ctx context.Context, id string, ack types.Acknowledgement) error {
	a, ok := f.alerts[id]
	if !ok {
		return apperr.New(apperr.NotFound, "alert not found").WithEntity(id)
	}
	cp := ack
	a.Acknowledged = &cp
	return nil
}

func (f *fakeStore) ResolveAlert(ctx context.Context, id string, resolvedAt time.Time) error {
	a, ok := f.alerts[id]
	if !ok {
		return apperr.New(apperr.NotFound, "alert not found").WithEntity(id)
	}
	a.ResolvedAt = &resolvedAt
	return nil
}

func (f *fakeStore) CreateUser(ctx context.Context, user *types.User) error {
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeStore) GetUser(ctx context.Context, id string) (*types.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "user not found").WithEntity(id)
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) GetUserByLogin(ctx context.Context, login string) (*types.User, error) {
	for _, u := range f.users {
		if u.Login == login {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperr.New(apperr.NotFound, "user not found").WithEntity(login)
}

func (f *fakeStore) CreateSession(ctx context.Context, session *types.Session) error { return nil }

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

func newTestServer(t *testing.T) (*server, *fakeStore, *identity.Service) {
	t.Helper()
	store := newFakeStore()
	tokens := security.NewTokenIssuer([]byte("test-secret"), 30*time.Minute, 7*24*time.Hour)
	identitySvc := identity.New(store, tokens, 4, 1000)
	h := hub.New(func(string) string { return "" })

	deps := Dependencies{
		Store:       store,
		Identity:    identitySvc,
		Hub:         h,
		StoreHealth: StoreChecker{Store: store},
	}
	return New(deps), store, identitySvc
}

func seedUser(t *testing.T, identitySvc *identity.Service, login, password string, role types.Role) *types.User {
	t.Helper()
	user, err := identitySvc.CreateUser(context.Background(), login, login+"@example.com", password, role)
	require.NoError(t, err)
	return user
}

func doRequest(handler http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

func TestHealthEndpointReturnsOK(t *testing.T) {
	handler, _, _ := newTestServer(t)
	rec := doRequest(handler, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthReadyReflectsStoreFailure(t *testing.T) {
	handler, store, _ := newTestServer(t)
	store.pingErr = context.DeadlineExceeded

	rec := doRequest(handler, http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLogin_SucceedsAndMintsTokens(t *testing.T) {
	handler, _, identitySvc := newTestServer(t)
	seedUser(t, identitySvc, "alice", "correct horse battery", types.RoleEngineer)

	rec := doRequest(handler, http.MethodPost, "/api/v1/auth/login", "", loginRequest{
		Username: "alice", Password: "correct horse battery",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp loginResponse
	decodeBody(t, rec, &resp)
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)
	require.Equal(t, "alice", resp.User.Login)
}

func TestLogin_RejectsMalformedBody(t *testing.T) {
	handler, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// Malformed/invalid request bodies are a distinct failure mode from a
	// domain validation gate (e.g. ingest's range checks): the body never
	// reached a shape the handler could evaluate, so it maps to 422 rather
	// than 400.
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestLogin_RejectsWrongPassword(t *testing.T) {
	handler, _, identitySvc := newTestServer(t)
	seedUser(t, identitySvc, "alice", "correct horse battery", types.RoleEngineer)

	rec := doRequest(handler, http.MethodPost, "/api/v1/auth/login", "", loginRequest{
		Username: "alice", Password: "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoute_RejectsMissingToken(t *testing.T) {
	handler, _, _ := newTestServer(t)
	rec := doRequest(handler, http.MethodGet, "/api/v1/auth/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoute_AllowsValidToken(t *testing.T) {
	handler, _, identitySvc := newTestServer(t)
	seedUser(t, identitySvc, "alice", "correct horse battery", types.RoleViewer)

	loginRec := doRequest(handler, http.MethodPost, "/api/v1/auth/login", "", loginRequest{
		Username: "alice", Password: "correct horse battery",
	})
	var login loginResponse
	decodeBody(t, loginRec, &login)

	rec := doRequest(handler, http.MethodGet, "/api/v1/auth/me", login.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRequireRole_RejectsInsufficientRole(t *testing.T) {
	handler, _, identitySvc := newTestServer(t)
	seedUser(t, identitySvc, "viewer", "correct horse battery", types.RoleViewer)

	loginRec := doRequest(handler, http.MethodPost, "/api/v1/auth/login", "", loginRequest{
		Username: "viewer", Password: "correct horse battery",
	})
	var login loginResponse
	decodeBody(t, loginRec, &login)

	rec := doRequest(handler, http.MethodPost, "/api/v1/alerts/"+uuid.NewString()+"/acknowledge", login.AccessToken, acknowledgeRequest{})
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())

	var envelope errorEnvelope
	decodeBody(t, rec, &envelope)
	require.Contains(t, envelope.Detail, "Engineer access required")
}

func TestAcknowledgeAlert_SecondCallReturnsBadRequest(t *testing.T) {
	handler, store, identitySvc := newTestServer(t)
	seedUser(t, identitySvc, "engineer", "correct horse battery", types.RoleEngineer)
	store.alerts["alert-1"] = &types.Alert{ID: "alert-1", BatteryID: "BAT-1"}

	loginRec := doRequest(handler, http.MethodPost, "/api/v1/auth/login", "", loginRequest{
		Username: "engineer", Password: "correct horse battery",
	})
	var login loginResponse
	decodeBody(t, loginRec, &login)

	first := doRequest(handler, http.MethodPost, "/api/v1/alerts/alert-1/acknowledge", login.AccessToken, acknowledgeRequest{})
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())

	second := doRequest(handler, http.MethodPost, "/api/v1/alerts/alert-1/acknowledge", login.AccessToken, acknowledgeRequest{})
	require.Equal(t, http.StatusBadRequest, second.Code, second.Body.String())

	var envelope errorEnvelope
	decodeBody(t, second, &envelope)
	require.Contains(t, envelope.Detail, "Alert has already been acknowledged")
}

func TestResolveAlert_SecondCallReturnsBadRequest(t *testing.T) {
	handler, store, identitySvc := newTestServer(t)
	seedUser(t, identitySvc, "engineer", "correct horse battery", types.RoleEngineer)
	store.alerts["alert-1"] = &types.Alert{ID: "alert-1", BatteryID: "BAT-1"}

	loginRec := doRequest(handler, http.MethodPost, "/api/v1/auth/login", "", loginRequest{
		Username: "engineer", Password: "correct horse battery",
	})
	var login loginResponse
	decodeBody(t, loginRec, &login)

	first := doRequest(handler, http.MethodPost, "/api/v1/alerts/alert-1/resolve", login.AccessToken, nil)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())

	second := doRequest(handler, http.MethodPost, "/api/v1/alerts/alert-1/resolve", login.AccessToken, nil)
	require.Equal(t, http.StatusBadRequest, second.Code, second.Body.String())

	var envelope errorEnvelope
	decodeBody(t, second, &envelope)
	require.Contains(t, envelope.Detail, "Alert has already been resolved")
}

func TestStream_RejectsMissingToken(t *testing.T) {
	handler, _, _ := newTestServer(t)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close error, got %v", err)
	require.Equal(t, streamCloseAuthFailed, closeErr.Code)
}

func TestStream_RejectsInsufficientRole(t *testing.T) {
	handler, _, identitySvc := newTestServer(t)
	seedUser(t, identitySvc, "viewer", "correct horse battery", types.RoleViewer)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	loginRec := doRequest(handler, http.MethodPost, "/api/v1/auth/login", "", loginRequest{
		Username: "viewer", Password: "correct horse battery",
	})
	var login loginResponse
	decodeBody(t, loginRec, &login)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream?token=" + login.AccessToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close error, got %v", err)
	require.Equal(t, streamCloseAuthFailed, closeErr.Code)
	require.Contains(t, closeErr.Text, "Engineer access required")
}

func TestStream_AllowsEngineerToken(t *testing.T) {
	handler, _, identitySvc := newTestServer(t)
	seedUser(t, identitySvc, "engineer", "correct horse battery", types.RoleEngineer)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	loginRec := doRequest(handler, http.MethodPost, "/api/v1/auth/login", "", loginRequest{
		Username: "engineer", Password: "correct horse battery",
	})
	var login loginResponse
	decodeBody(t, loginRec, &login)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream?token=" + login.AccessToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var frame serverFrame
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, "connected", frame.Type)
}

func TestStatusForKind_MapsKnownKinds(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.Validation:       http.StatusBadRequest,
		apperr.AlreadyProcessed: http.StatusBadRequest,
		apperr.BodyValidation:   http.StatusUnprocessableEntity,
		apperr.Unauthorized:     http.StatusUnauthorized,
		apperr.Forbidden:        http.StatusForbidden,
		apperr.NotFound:         http.StatusNotFound,
		apperr.Conflict:         http.StatusConflict,
		apperr.RateLimited:      http.StatusTooManyRequests,
	}
	for kind, want := range cases {
		require.Equal(t, want, statusForKind(kind), "kind %s", kind)
	}
}
