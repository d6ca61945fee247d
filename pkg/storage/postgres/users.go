package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rhuss/authcore/pkg/api"
	"github.com/rhuss/authcore/pkg/rbac"
	"github.com/rhuss/authcore/pkg/storage"
)

const userColumns = `id, email, name, password_hash, role, active, created_at, updated_at`

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// CreateUser inserts a user.
func (s *Store) CreateUser(ctx context.Context, u *api.User) error {
	return insertUser(ctx, s.pool, u)
}

func insertUser(ctx context.Context, db execer, u *api.User) error {
	_, err := db.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		u.ID, u.Email, u.Name, nullString(u.PasswordHash), string(u.Role), u.Active, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*api.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetUserByEmail returns a user by email, case-insensitively.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*api.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

// ListUsers returns all users in creation order.
func (s *Store) ListUsers(ctx context.Context) ([]*api.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, seq`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []*api.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// UpdateUserRole changes a user's role.
func (s *Store) UpdateUserRole(ctx context.Context, id string, role rbac.Role) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`,
		id, string(role), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("updating role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateUserName changes a user's display name.
func (s *Store) UpdateUserName(ctx context.Context, id, name string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET name = $2, updated_at = $3 WHERE id = $1`,
		id, name, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("updating name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SetUserActive flips a user's active flag.
func (s *Store) SetUserActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET active = $2, updated_at = $3 WHERE id = $1`,
		id, active, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("updating active flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*api.User, error) {
	var (
		u            api.User
		passwordHash *string
		role         string
	)
	err := row.Scan(&u.ID, &u.Email, &u.Name, &passwordHash, &role, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	if passwordHash != nil {
		u.PasswordHash = *passwordHash
	}
	u.Role = rbac.Role(role)
	return &u, nil
}
