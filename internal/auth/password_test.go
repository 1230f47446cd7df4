package auth

import (
	"context"
	"errors"
	"testing"

	"brightnest/api/internal/store"
)

// mockUserStore is a mock implementation of UserStore for testing
type mockUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string // email -> userID
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      make(map[string]store.User),
		emailIndex: make(map[string]string),
	}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[email]; ok {
		return m.users[userID], nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) error {
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	return nil
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	creds := NewCredentials(newMockUserStore())

	t.Run("successful sign up", func(t *testing.T) {
		user, err := creds.SignUp(ctx, SignUpRequest{
			Email:       "test@example.com",
			Password:    "password123",
			DisplayName: "Test User",
		})
		if err != nil {
			t.Fatalf("SignUp failed: %v", err)
		}
		if user.ID == "" {
			t.Error("expected non-empty user ID")
		}
		if user.PasswordHash == "password123" {
			t.Error("password stored in the clear")
		}
	})

	t.Run("duplicate email rejected", func(t *testing.T) {
		_, err := creds.SignUp(ctx, SignUpRequest{
			Email:       "test@example.com",
			Password:    "password456",
			DisplayName: "Other User",
		})
		if err == nil {
			t.Error("expected error for duplicate email")
		}
	})

	t.Run("short password rejected", func(t *testing.T) {
		_, err := creds.SignUp(ctx, SignUpRequest{
			Email:       "short@example.com",
			Password:    "short",
			DisplayName: "Short",
		})
		if err == nil {
			t.Error("expected error for short password")
		}
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		_, err := creds.SignUp(ctx, SignUpRequest{Email: "x@example.com"})
		if err == nil {
			t.Error("expected error for missing fields")
		}
	})

	t.Run("email normalized to lower case", func(t *testing.T) {
		user, err := creds.SignUp(ctx, SignUpRequest{
			Email:       "  Mixed@Example.COM ",
			Password:    "password123",
			DisplayName: "Mixed",
		})
		if err != nil {
			t.Fatalf("SignUp failed: %v", err)
		}
		if user.Email != "mixed@example.com" {
			t.Errorf("expected normalized email, got %q", user.Email)
		}
	})
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	creds := NewCredentials(newMockUserStore())

	created, err := creds.SignUp(ctx, SignUpRequest{
		Email:       "dana@example.com",
		Password:    "correct-horse",
		DisplayName: "Dana",
	})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	t.Run("valid credentials", func(t *testing.T) {
		user, err := creds.SignIn(ctx, "dana@example.com", "correct-horse")
		if err != nil {
			t.Fatalf("SignIn failed: %v", err)
		}
		if user.ID != created.ID {
			t.Errorf("expected user %s, got %s", created.ID, user.ID)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := creds.SignIn(ctx, "dana@example.com", "wrong")
		if err == nil {
			t.Error("expected error for wrong password")
		}
	})

	t.Run("unknown email", func(t *testing.T) {
		_, errUnknown := creds.SignIn(ctx, "nobody@example.com", "correct-horse")
		_, errWrong := creds.SignIn(ctx, "dana@example.com", "wrong")
		if errUnknown == nil || errWrong == nil {
			t.Fatal("expected errors")
		}
		if errUnknown.Error() != errWrong.Error() {
			t.Error("unknown email and wrong password must be indistinguishable")
		}
	})
}
