package session

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"too short", "short", true},
		{"minimum", "12345678", false},
		{"bcrypt limit", strings.Repeat("x", maxPasswordLen), false},
		{"over bcrypt limit", strings.Repeat("x", maxPasswordLen+1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePassword err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrWeakPassword) {
				t.Errorf("err = %v, want ErrWeakPassword", err)
			}
		})
	}
}

func TestRegisterAndLogin(t *testing.T) {
	m, store, _ := newTestManager(t, Config{})
	ctx := context.Background()

	u, err := m.Register(ctx, "  Ada@Example.com ", "correct horse", "Ada")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Email != "ada@example.com" {
		t.Errorf("stored email = %q, want normalized", u.Email)
	}
	if u.PasswordHash == "" || u.PasswordHash == "correct horse" {
		t.Error("password not hashed")
	}

	got, err := m.Login(ctx, "ADA@example.com", "correct horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("Login user = %s, want %s", got.ID, u.ID)
	}

	if _, err := m.Register(ctx, "ada@example.com", "another password", ""); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("duplicate Register err = %v, want ErrEmailTaken", err)
	}

	if err := store.SetUserActive(ctx, u.ID, false); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Login(ctx, "ada@example.com", "correct horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login for inactive user err = %v, want ErrInvalidCredentials", err)
	}
}

func TestRegister_Rejects(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	if _, err := m.Register(ctx, "not-an-email", "long enough", ""); !errors.Is(err, ErrInvalidEmail) {
		t.Errorf("Register bad email err = %v, want ErrInvalidEmail", err)
	}
	if _, err := m.Register(ctx, "bob@example.com", "short", ""); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("Register weak password err = %v, want ErrWeakPassword", err)
	}
}

func TestLogin_Failures(t *testing.T) {
	m, store, _ := newTestManager(t, Config{})
	ctx := context.Background()

	if _, err := m.Register(ctx, "carol@example.com", "right password", ""); err != nil {
		t.Fatal(err)
	}
	oauthOnly := seedUser(t, store, "oauth@example.com")

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "carol@example.com", "wrong password"},
		{"unknown email", "nobody@example.com", "right password"},
		{"no password credential", oauthOnly.Email, "anything at all"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Login(ctx, tt.email, tt.password); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("Login err = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}
