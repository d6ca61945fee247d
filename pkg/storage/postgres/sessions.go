package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rhuss/authcore/pkg/api"
	"github.com/rhuss/authcore/pkg/device"
	"github.com/rhuss/authcore/pkg/storage"
)

const sessionColumns = `id, token_hash, token_hint, user_id, device_type, device_name, user_agent, ip_address, created_at, expires_at`

// CreateSession inserts a session.
func (s *Store) CreateSession(ctx context.Context, sess *api.Session) error {
	return insertSession(ctx, s.pool, sess)
}

func insertSession(ctx context.Context, db execer, sess *api.Session) error {
	_, err := db.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		sess.ID, sess.TokenHash, sess.TokenHint, sess.UserID,
		string(sess.DeviceType), sess.DeviceName, sess.UserAgent, sess.IPAddress,
		sess.CreatedAt, sess.ExpiresAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		if isMissingParent(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// GetSessionByHash returns the live session with the given digest.
func (s *Store) GetSessionByHash(ctx context.Context, tokenHash string, now time.Time) (*api.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE token_hash = $1 AND expires_at > $2`,
		tokenHash, now,
	)
	return scanSession(row)
}

// RotateSession deletes the old session and inserts next in one
// transaction. The owning user row is locked first, which serializes
// rotation against DeleteUserSessions and against other rotations of the
// same token; the losers see zero rows and return ErrNotFound.
func (s *Store) RotateSession(ctx context.Context, oldHash string, next *api.Session, now time.Time) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockUser(ctx, tx, next.UserID); err != nil {
			return err
		}
		var id string
		err := tx.QueryRow(ctx, `
			DELETE FROM sessions
			WHERE token_hash = $1 AND expires_at > $2 AND user_id = $3
			RETURNING id
		`, oldHash, now, next.UserID).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("deleting rotated session: %w", err)
		}
		return insertSession(ctx, tx, next)
	})
}

// DeleteSessionByHash removes a session if present.
func (s *Store) DeleteSessionByHash(ctx context.Context, tokenHash string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteSessionByID removes a session owned by userID. Ownership is part
// of the DELETE predicate, not a prior read.
func (s *Store) DeleteSessionByID(ctx context.Context, userID, sessionID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sessions WHERE id = $1 AND user_id = $2`,
		sessionID, userID,
	)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteUserSessions removes every session of userID under the user row
// lock, so a rotation committing concurrently cannot leave its new session
// outside the statement's snapshot.
func (s *Store) DeleteUserSessions(ctx context.Context, userID string) (int, error) {
	var n int
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockUser(ctx, tx, userID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
		if err != nil {
			return fmt.Errorf("deleting user sessions: %w", err)
		}
		n = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// lockUser takes the row lock on userID for the rest of tx.
func lockUser(ctx context.Context, tx pgx.Tx, userID string) error {
	var id string
	err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("locking user: %w", err)
	}
	return nil
}

// ListUserSessions returns live sessions of userID in creation order.
func (s *Store) ListUserSessions(ctx context.Context, userID string, now time.Time) ([]*api.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND expires_at > $2
		ORDER BY seq
	`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*api.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// DeleteExpiredSessions removes expired sessions.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanSession(row pgx.Row) (*api.Session, error) {
	var (
		sess       api.Session
		deviceType string
	)
	err := row.Scan(
		&sess.ID, &sess.TokenHash, &sess.TokenHint, &sess.UserID,
		&deviceType, &sess.DeviceName, &sess.UserAgent, &sess.IPAddress,
		&sess.CreatedAt, &sess.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	sess.DeviceType = device.Type(deviceType)
	return &sess, nil
}
