package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"brightnest/api/internal/store"
)

// memoryStore layers an in-memory user table on fakeStore so the full
// signup/signin/session round trip runs against one handler.
type memoryStore struct {
	fakeStore
	mu    sync.Mutex
	users map[string]store.User
}

func newMemoryStore() *memoryStore {
	return &memoryStore{users: make(map[string]store.User)}
}

func (m *memoryStore) CreateUser(ctx context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.Email] = user
	return nil
}

func (m *memoryStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[email]; ok {
		return user, nil
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memoryStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.ID == id {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func postJSON(t *testing.T, handler http.Handler, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestSignUpSignInSessionRoundTrip(t *testing.T) {
	svc, _ := newTestService(newMemoryStore())
	server := NewHTTPServer(svc, "*")
	handler := server.Handler()

	rr := postJSON(t, handler, "/api/auth/signup", `{"email":"dana@example.com","password":"password123","displayName":"Dana"}`, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = postJSON(t, handler, "/api/auth/signin", `{"email":"dana@example.com","password":"password123"}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("signin: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse signin response: %v", err)
	}
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatal("expected access token")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	sessionRR := httptest.NewRecorder()
	handler.ServeHTTP(sessionRR, req)

	var session map[string]any
	if err := json.Unmarshal(sessionRR.Body.Bytes(), &session); err != nil {
		t.Fatalf("parse session response: %v", err)
	}
	if session["authenticated"] != true {
		t.Fatalf("expected authenticated session, got %v", session)
	}
	if session["email"] != "dana@example.com" {
		t.Errorf("unexpected email %v", session["email"])
	}
}

func TestSignInBadCredentials(t *testing.T) {
	svc, _ := newTestService(newMemoryStore())
	server := NewHTTPServer(svc, "*")
	handler := server.Handler()

	postJSON(t, handler, "/api/auth/signup", `{"email":"dana@example.com","password":"password123","displayName":"Dana"}`, "")

	rr := postJSON(t, handler, "/api/auth/signin", `{"email":"dana@example.com","password":"wrong"}`, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestSessionWithoutTokenIsAnonymous(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["authenticated"] != false {
		t.Errorf("expected unauthenticated, got %v", payload)
	}
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/children", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestSignOutRevokesAccessToken(t *testing.T) {
	ms := newMemoryStore()
	var revokedJTI string
	ms.revokeAccessTokenFn = func(ctx context.Context, jti string, _ time.Time) error {
		revokedJTI = jti
		return nil
	}
	svc, _ := newTestService(ms)
	server := NewHTTPServer(svc, "*")
	handler := server.Handler()

	rr := postJSON(t, handler, "/api/auth/signup", `{"email":"dana@example.com","password":"password123","displayName":"Dana"}`, "")
	var payload map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &payload)
	token, _ := payload["token"].(string)

	rr = postJSON(t, handler, "/api/auth/signout", `{}`, token)
	if rr.Code != http.StatusOK {
		t.Fatalf("signout: expected 200, got %d", rr.Code)
	}
	if revokedJTI == "" {
		t.Fatal("expected access token JTI to be revoked")
	}
}
