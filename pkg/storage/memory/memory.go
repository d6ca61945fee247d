// Package memory provides an in-memory implementation of storage.Store for
// testing and single-instance deployments. Data is lost when the process
// restarts.
//
// A single RWMutex guards all maps, which makes every multi-record
// operation (rotation, unlink with last-method check, user plus account
// creation) trivially atomic.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rhuss/authcore/pkg/api"
	"github.com/rhuss/authcore/pkg/rbac"
	"github.com/rhuss/authcore/pkg/storage"
)

type accountKey struct {
	provider  string
	accountID string
}

// Store is an in-memory storage.Store.
type Store struct {
	mu sync.RWMutex

	// seq orders records by insertion, independent of clock resolution.
	seq uint64

	users    map[string]*userEntry    // id -> user
	emails   map[string]string        // email -> id
	sessions map[string]*sessionEntry // token hash -> session
	accounts map[accountKey]*accountEntry
}

type userEntry struct {
	user api.User
	seq  uint64
}

type sessionEntry struct {
	session api.Session
	seq     uint64
}

type accountEntry struct {
	account api.OAuthAccount
	seq     uint64
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		users:    make(map[string]*userEntry),
		emails:   make(map[string]string),
		sessions: make(map[string]*sessionEntry),
		accounts: make(map[accountKey]*accountEntry),
	}
}

func (s *Store) next() uint64 {
	s.seq++
	return s.seq
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts a user.
func (s *Store) CreateUser(_ context.Context, u *api.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createUserLocked(u)
}

func (s *Store) createUserLocked(u *api.User) error {
	if _, exists := s.users[u.ID]; exists {
		return storage.ErrConflict
	}
	if _, exists := s.emails[u.Email]; exists {
		return storage.ErrConflict
	}
	s.users[u.ID] = &userEntry{user: *u, seq: s.next()}
	s.emails[u.Email] = u.ID
	return nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(_ context.Context, id string) (*api.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	u := e.user
	return &u, nil
}

// GetUserByEmail returns a user by email.
func (s *Store) GetUserByEmail(_ context.Context, email string) (*api.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[email]
	if !ok {
		return nil, storage.ErrNotFound
	}
	u := s.users[id].user
	return &u, nil
}

// ListUsers returns all users in creation order.
func (s *Store) ListUsers(_ context.Context) ([]*api.User, error) {
	s.mu.RLock()
	entries := make([]*userEntry, 0, len(s.users))
	for _, e := range s.users {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]*api.User, len(entries))
	for i, e := range entries {
		u := e.user
		out[i] = &u
	}
	return out, nil
}

// UpdateUserRole changes a user's role.
func (s *Store) UpdateUserRole(_ context.Context, id string, role rbac.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	e.user.Role = role
	e.user.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateUserName changes a user's display name.
func (s *Store) UpdateUserName(_ context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	e.user.Name = name
	e.user.UpdatedAt = time.Now().UTC()
	return nil
}

// SetUserActive flips a user's active flag.
func (s *Store) SetUserActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	e.user.Active = active
	e.user.UpdatedAt = time.Now().UTC()
	return nil
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// CreateSession inserts a session.
func (s *Store) CreateSession(_ context.Context, sess *api.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.TokenHash]; exists {
		return storage.ErrConflict
	}
	s.sessions[sess.TokenHash] = &sessionEntry{session: *sess, seq: s.next()}
	return nil
}

// GetSessionByHash returns the live session with the given digest.
func (s *Store) GetSessionByHash(_ context.Context, tokenHash string, now time.Time) (*api.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sessions[tokenHash]
	if !ok || e.session.Expired(now) {
		return nil, storage.ErrNotFound
	}
	sess := e.session
	return &sess, nil
}

// RotateSession replaces the session identified by oldHash with next.
func (s *Store) RotateSession(ctx context.Context, oldHash string, next *api.Session, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.sessions[oldHash]
	if !ok || old.session.Expired(now) || old.session.UserID != next.UserID {
		return storage.ErrNotFound
	}
	if _, exists := s.sessions[next.TokenHash]; exists {
		return storage.ErrConflict
	}
	// A cancelled caller must not observe a half-applied rotation; check
	// before the first write, never between the two.
	if err := ctx.Err(); err != nil {
		return err
	}

	delete(s.sessions, oldHash)
	s.sessions[next.TokenHash] = &sessionEntry{session: *next, seq: s.next()}
	return nil
}

// DeleteSessionByHash removes a session if present.
func (s *Store) DeleteSessionByHash(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, tokenHash)
	return nil
}

// DeleteSessionByID removes a session owned by userID.
func (s *Store) DeleteSessionByID(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for hash, e := range s.sessions {
		if e.session.ID == sessionID {
			if e.session.UserID != userID {
				return storage.ErrNotFound
			}
			delete(s.sessions, hash)
			return nil
		}
	}
	return storage.ErrNotFound
}

// DeleteUserSessions removes every session of userID.
func (s *Store) DeleteUserSessions(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for hash, e := range s.sessions {
		if e.session.UserID == userID {
			delete(s.sessions, hash)
			n++
		}
	}
	return n, nil
}

// ListUserSessions returns live sessions of userID in creation order.
func (s *Store) ListUserSessions(_ context.Context, userID string, now time.Time) ([]*api.Session, error) {
	s.mu.RLock()
	var entries []*sessionEntry
	for _, e := range s.sessions {
		if e.session.UserID == userID && !e.session.Expired(now) {
			entries = append(entries, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]*api.Session, len(entries))
	for i, e := range entries {
		sess := e.session
		out[i] = &sess
	}
	return out, nil
}

// DeleteExpiredSessions removes expired sessions.
func (s *Store) DeleteExpiredSessions(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for hash, e := range s.sessions {
		if e.session.Expired(now) {
			delete(s.sessions, hash)
			n++
		}
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Linked accounts
// ---------------------------------------------------------------------------

// GetAccount returns the account for a provider identity.
func (s *Store) GetAccount(_ context.Context, provider, providerAccountID string) (*api.OAuthAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.accounts[accountKey{provider, providerAccountID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	a := e.account
	return &a, nil
}

// ListAccounts returns the user's accounts ordered by link time.
func (s *Store) ListAccounts(_ context.Context, userID string) ([]*api.OAuthAccount, error) {
	s.mu.RLock()
	entries := s.userAccountsLocked(userID)
	s.mu.RUnlock()

	out := make([]*api.OAuthAccount, len(entries))
	for i, e := range entries {
		a := e.account
		out[i] = &a
	}
	return out, nil
}

func (s *Store) userAccountsLocked(userID string) []*accountEntry {
	var entries []*accountEntry
	for _, e := range s.accounts {
		if e.account.UserID == userID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries
}

// CreateAccount links an account to an existing user.
func (s *Store) CreateAccount(_ context.Context, a *api.OAuthAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[a.UserID]; !ok {
		return storage.ErrNotFound
	}
	return s.createAccountLocked(a)
}

func (s *Store) createAccountLocked(a *api.OAuthAccount) error {
	if _, exists := s.accounts[accountKey{a.Provider, a.ProviderAccountID}]; exists {
		return storage.ErrConflict
	}
	for _, e := range s.accounts {
		if e.account.UserID == a.UserID && e.account.Provider == a.Provider {
			return storage.ErrConflict
		}
	}
	s.accounts[accountKey{a.Provider, a.ProviderAccountID}] = &accountEntry{account: *a, seq: s.next()}
	return nil
}

// UpdateAccountProfile refreshes the cached profile of an account.
func (s *Store) UpdateAccountProfile(_ context.Context, a *api.OAuthAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.accounts[accountKey{a.Provider, a.ProviderAccountID}]
	if !ok {
		return storage.ErrNotFound
	}
	e.account.Email = a.Email
	e.account.Name = a.Name
	e.account.AvatarURL = a.AvatarURL
	return nil
}

// CreateUserWithAccount inserts a user and its first account together.
func (s *Store) CreateUserWithAccount(_ context.Context, u *api.User, a *api.OAuthAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check both constraints before writing either record.
	if _, exists := s.users[u.ID]; exists {
		return storage.ErrConflict
	}
	if _, exists := s.emails[u.Email]; exists {
		return storage.ErrConflict
	}
	if _, exists := s.accounts[accountKey{a.Provider, a.ProviderAccountID}]; exists {
		return storage.ErrConflict
	}

	if err := s.createUserLocked(u); err != nil {
		return err
	}
	return s.createAccountLocked(a)
}

// DeleteAccountIfNotLast unlinks the user's account for provider unless it
// is the user's last authentication method.
func (s *Store) DeleteAccountIfNotLast(_ context.Context, userID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}

	entries := s.userAccountsLocked(userID)
	var target *accountEntry
	for _, e := range entries {
		if e.account.Provider == provider {
			target = e
			break
		}
	}
	if target == nil {
		return storage.ErrNotFound
	}

	remaining := len(entries) - 1
	if u.user.HasPassword() {
		remaining++
	}
	if remaining < 1 {
		return storage.ErrLastAuthMethod
	}

	delete(s.accounts, accountKey{target.account.Provider, target.account.ProviderAccountID})
	return nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// HealthCheck always succeeds for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
