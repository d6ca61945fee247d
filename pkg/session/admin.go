package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/rhuss/authcore/pkg/api"
	"github.com/rhuss/authcore/pkg/rbac"
)

// ListUsers returns every user in creation order.
func (m *Manager) ListUsers(ctx context.Context) ([]api.UserView, error) {
	users, err := m.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	views := make([]api.UserView, 0, len(users))
	for _, u := range users {
		views = append(views, u.View())
	}
	return views, nil
}

// GetUser returns a single user for the admin view.
func (m *Manager) GetUser(ctx context.Context, userID string) (*api.User, error) {
	user, err := m.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user %s: %w", userID, err)
	}
	return user, nil
}

// UpdateName changes the caller's own display name.
func (m *Manager) UpdateName(ctx context.Context, userID, name string) (*api.User, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return nil, ErrInvalidName
	}
	if err := m.users.UpdateUserName(ctx, userID, name); err != nil {
		return nil, fmt.Errorf("updating name of %s: %w", userID, err)
	}
	return m.GetUser(ctx, userID)
}

// SetRole changes a user's role. Sessions stay valid; the new role applies
// to the next request because every request re-reads the user.
func (m *Manager) SetRole(ctx context.Context, userID string, role rbac.Role) (*api.User, error) {
	if err := m.users.UpdateUserRole(ctx, userID, role); err != nil {
		return nil, fmt.Errorf("updating role of %s: %w", userID, err)
	}
	user, err := m.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user %s: %w", userID, err)
	}
	slog.Info("user role changed", "user_id", userID, "role", role)
	return user, nil
}

// Deactivate marks the user inactive and revokes all of their sessions.
// It returns the number of sessions removed.
func (m *Manager) Deactivate(ctx context.Context, userID string) (int, error) {
	if err := m.users.SetUserActive(ctx, userID, false); err != nil {
		return 0, fmt.Errorf("deactivating %s: %w", userID, err)
	}
	n, err := m.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	slog.Info("user deactivated", "user_id", userID, "sessions_revoked", n)
	return n, nil
}

// PromoteAdmins grants the ADMIN role to the users with the given emails.
// Unknown emails are skipped.
func (m *Manager) PromoteAdmins(ctx context.Context, emails []string) error {
	for _, email := range emails {
		user, err := m.users.GetUserByEmail(ctx, api.NormalizeEmail(email))
		if err != nil {
			slog.Warn("admin bootstrap skipped", "email", email, "error", err)
			continue
		}
		if user.Role == rbac.RoleAdmin {
			continue
		}
		if _, err := m.SetRole(ctx, user.ID, rbac.RoleAdmin); err != nil {
			return err
		}
	}
	return nil
}
