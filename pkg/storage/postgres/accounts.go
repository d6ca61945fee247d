package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rhuss/authcore/pkg/api"
	"github.com/rhuss/authcore/pkg/storage"
)

const accountColumns = `id, provider, provider_account_id, user_id, email, name, avatar_url, linked_at`

// GetAccount returns the account for a provider identity.
func (s *Store) GetAccount(ctx context.Context, provider, providerAccountID string) (*api.OAuthAccount, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM oauth_accounts WHERE provider = $1 AND provider_account_id = $2`,
		provider, providerAccountID,
	)
	return scanAccount(row)
}

// ListAccounts returns the user's accounts ordered by link time.
func (s *Store) ListAccounts(ctx context.Context, userID string) ([]*api.OAuthAccount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM oauth_accounts WHERE user_id = $1 ORDER BY linked_at, seq`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*api.OAuthAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accounts: %w", err)
	}
	return accounts, nil
}

// CreateAccount links an account to an existing user.
func (s *Store) CreateAccount(ctx context.Context, a *api.OAuthAccount) error {
	return insertAccount(ctx, s.pool, a)
}

func insertAccount(ctx context.Context, db execer, a *api.OAuthAccount) error {
	_, err := db.Exec(ctx, `
		INSERT INTO oauth_accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		a.ID, a.Provider, a.ProviderAccountID, a.UserID, a.Email, a.Name, a.AvatarURL, a.LinkedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		if isMissingParent(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("inserting account: %w", err)
	}
	return nil
}

// UpdateAccountProfile refreshes the cached profile of an account.
func (s *Store) UpdateAccountProfile(ctx context.Context, a *api.OAuthAccount) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE oauth_accounts SET email = $3, name = $4, avatar_url = $5
		WHERE provider = $1 AND provider_account_id = $2
	`, a.Provider, a.ProviderAccountID, a.Email, a.Name, a.AvatarURL)
	if err != nil {
		return fmt.Errorf("updating account profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CreateUserWithAccount inserts a user and its first account together.
func (s *Store) CreateUserWithAccount(ctx context.Context, u *api.User, a *api.OAuthAccount) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := insertUser(ctx, tx, u); err != nil {
			return err
		}
		return insertAccount(ctx, tx, a)
	})
}

// DeleteAccountIfNotLast unlinks the user's account for provider unless it
// is the user's last authentication method. The user row is locked for the
// duration of the check so concurrent unlinks for the same user serialize.
func (s *Store) DeleteAccountIfNotLast(ctx context.Context, userID, provider string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var hasPassword bool
		err := tx.QueryRow(ctx, `
			SELECT coalesce(password_hash, '') <> '' FROM users WHERE id = $1 FOR UPDATE
		`, userID).Scan(&hasPassword)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("locking user: %w", err)
		}

		var total, matching int
		err = tx.QueryRow(ctx, `
			SELECT count(*), count(*) FILTER (WHERE provider = $2)
			FROM oauth_accounts WHERE user_id = $1
		`, userID, provider).Scan(&total, &matching)
		if err != nil {
			return fmt.Errorf("counting accounts: %w", err)
		}
		if matching == 0 {
			return storage.ErrNotFound
		}

		remaining := total - matching
		if hasPassword {
			remaining++
		}
		if remaining < 1 {
			return storage.ErrLastAuthMethod
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM oauth_accounts WHERE user_id = $1 AND provider = $2`,
			userID, provider,
		); err != nil {
			return fmt.Errorf("deleting account: %w", err)
		}
		return nil
	})
}

func scanAccount(row pgx.Row) (*api.OAuthAccount, error) {
	var a api.OAuthAccount
	err := row.Scan(&a.ID, &a.Provider, &a.ProviderAccountID, &a.UserID, &a.Email, &a.Name, &a.AvatarURL, &a.LinkedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning account: %w", err)
	}
	return &a, nil
}
