package api

import (
	"time"

	"github.com/rhuss/authcore/pkg/device"
	"github.com/rhuss/authcore/pkg/rbac"
)

// ---------------------------------------------------------------------------
// Stored records
// ---------------------------------------------------------------------------

// User is an account known to the credential store. Users are never deleted
// by this service; deactivation clears Active.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         rbac.Role `json:"role"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasPassword reports whether the user holds a password credential.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// View returns the public projection used in responses.
func (u *User) View() UserView {
	return UserView{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}

// Session binds a bearer token to a user and a device. Only the SHA-256
// digest of the token is stored.
type Session struct {
	ID         string
	TokenHash  string
	TokenHint  string
	UserID     string
	DeviceType device.Type
	DeviceName string
	UserAgent  string
	IPAddress  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// View returns the display-safe projection of the session.
func (s *Session) View(currentID string) SessionView {
	return SessionView{
		ID:         s.ID,
		TokenHint:  s.TokenHint,
		DeviceType: s.DeviceType,
		DeviceName: s.DeviceName,
		UserAgent:  s.UserAgent,
		IPAddress:  s.IPAddress,
		CreatedAt:  s.CreatedAt,
		Expires:    s.ExpiresAt,
		IsCurrent:  currentID != "" && s.ID == currentID,
	}
}

// OAuthAccount links a provider identity to a user. The pair
// (Provider, ProviderAccountID) is unique, and a user holds at most one
// account per provider.
type OAuthAccount struct {
	ID                string
	Provider          string
	ProviderAccountID string
	UserID            string
	Email             string
	Name              string
	AvatarURL         string
	LinkedAt          time.Time
}

// ---------------------------------------------------------------------------
// Wire shapes
// ---------------------------------------------------------------------------

// UserView is the user object embedded in responses.
type UserView struct {
	ID    string    `json:"id"`
	Email string    `json:"email"`
	Name  string    `json:"name"`
	Role  rbac.Role `json:"role"`
}

// SessionIssued is returned by every endpoint that mints a session. The
// token is only ever present in this response.
type SessionIssued struct {
	SessionToken string    `json:"sessionToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	User         UserView  `json:"user"`
}

// SessionView is one entry of the session list.
type SessionView struct {
	ID         string      `json:"id"`
	TokenHint  string      `json:"tokenHint"`
	DeviceType device.Type `json:"deviceType"`
	DeviceName string      `json:"deviceName"`
	UserAgent  string      `json:"userAgent"`
	IPAddress  string      `json:"ipAddress"`
	CreatedAt  time.Time   `json:"createdAt"`
	Expires    time.Time   `json:"expires"`
	IsCurrent  bool        `json:"isCurrent"`
}

// LinkedAccount is one entry of the linked-accounts list.
type LinkedAccount struct {
	Provider string    `json:"provider"`
	LinkedAt time.Time `json:"linkedAt"`
}

// ListResponse wraps list payloads.
type ListResponse[T any] struct {
	Success bool `json:"success"`
	Data    []T  `json:"data"`
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// RegisterRequest creates a password user.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// LoginRequest authenticates with email and password.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest rotates a session token. The token may instead be sent in
// the Authorization header.
type RefreshRequest struct {
	SessionToken string `json:"sessionToken"`
}

// OAuthCodeRequest carries a provider authorization code.
type OAuthCodeRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirectUri"`
}

// UpdateProfileRequest changes the caller's display name.
type UpdateProfileRequest struct {
	Name string `json:"name"`
}

// UpdateRoleRequest changes a user's role.
type UpdateRoleRequest struct {
	Role string `json:"role"`
}
