package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"brightnest/api/internal/store"
)

func signedUpToken(t *testing.T, handler http.Handler) string {
	t.Helper()
	rr := postJSON(t, handler, "/api/auth/signup", `{"email":"dana@example.com","password":"password123","displayName":"Dana"}`, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse signup response: %v", err)
	}
	token, _ := payload["token"].(string)
	return token
}

func TestCreateAndListChildrenOverHTTP(t *testing.T) {
	ms := newMemoryStore()
	var created []store.Child
	ms.createChildFn = func(ctx context.Context, child store.Child) error {
		created = append(created, child)
		return nil
	}
	ms.listChildrenFn = func(ctx context.Context, parentID string) ([]store.Child, error) {
		return created, nil
	}
	svc, _ := newTestService(ms)
	handler := NewHTTPServer(svc, "*").Handler()
	token := signedUpToken(t, handler)

	rr := postJSON(t, handler, "/api/children", `{"name":"Ann"}`, token)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create child: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/children", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	listRR := httptest.NewRecorder()
	handler.ServeHTTP(listRR, req)

	var payload struct {
		Children []map[string]any `json:"children"`
	}
	if err := json.Unmarshal(listRR.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse list response: %v", err)
	}
	if len(payload.Children) != 1 || payload.Children[0]["name"] != "Ann" {
		t.Fatalf("unexpected children payload %v", payload.Children)
	}
}

func TestLogEntryOverHTTP(t *testing.T) {
	ms := newMemoryStore()
	ms.getChildFn = func(ctx context.Context, childID string) (store.Child, error) {
		if childID != "chd_1" {
			return store.Child{}, sql.ErrNoRows
		}
		return store.Child{ID: "chd_1", Name: "Ann", ParentID: anyCreatedUserID(ms)}, nil
	}
	svc, _ := newTestService(ms)
	handler := NewHTTPServer(svc, "*").Handler()
	token := signedUpToken(t, handler)

	rr := postJSON(t, handler, "/api/children/chd_1/entries",
		`{"date":"2026-08-20","emotion":"Angry","trigger":"Toy taken","resolution":"Deep breaths"}`, token)
	if rr.Code != http.StatusCreated {
		t.Fatalf("log entry: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}

	var entry map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &entry); err != nil {
		t.Fatalf("parse entry response: %v", err)
	}
	if entry["emotion"] != "Angry" || entry["date"] != "2026-08-20" {
		t.Fatalf("unexpected entry payload %v", entry)
	}

	rr = postJSON(t, handler, "/api/children/chd_1/entries",
		`{"emotion":"Furious","trigger":"t","resolution":"r"}`, token)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid emotion: expected 422, got %d", rr.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	svc, _ := newTestService(newMemoryStore())
	handler := NewHTTPServer(svc, "*").Handler()
	token := signedUpToken(t, handler)

	req := httptest.NewRequest(http.MethodGet, "/api/nonsense", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func anyCreatedUserID(ms *memoryStore) string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, user := range ms.users {
		return user.ID
	}
	return ""
}
