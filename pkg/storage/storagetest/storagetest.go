// Package storagetest holds behavioural tests shared by every storage
// backend. Backend packages call these from their own _test.go files with a
// constructor for a fresh, empty store.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rhuss/authcore/pkg/api"
	"github.com/rhuss/authcore/pkg/device"
	"github.com/rhuss/authcore/pkg/rbac"
	"github.com/rhuss/authcore/pkg/storage"
)

// Now is the reference time used by the suites. It tracks the wall clock
// so that backends deriving key TTLs from ExpiresAt keep test records alive.
var Now = time.Now().UTC().Truncate(time.Second)

// NewUser returns an active USER with the given email.
func NewUser(email string) *api.User {
	return &api.User{
		ID:        api.NewID(),
		Email:     email,
		Name:      email,
		Role:      rbac.RoleUser,
		Active:    true,
		CreatedAt: Now,
		UpdatedAt: Now,
	}
}

// NewSession returns a session for userID expiring ttl after Now.
func NewSession(userID, hash string, ttl time.Duration) *api.Session {
	return &api.Session{
		ID:         api.NewID(),
		TokenHash:  hash,
		TokenHint:  "..." + hash[len(hash)-4:],
		UserID:     userID,
		DeviceType: device.TypeWeb,
		DeviceName: "Chrome on Linux",
		UserAgent:  "Mozilla/5.0",
		IPAddress:  "192.0.2.1",
		CreatedAt:  Now,
		ExpiresAt:  Now.Add(ttl),
	}
}

// NewAccount returns an account linking provider/accountID to userID.
func NewAccount(userID, provider, accountID string) *api.OAuthAccount {
	return &api.OAuthAccount{
		ID:                api.NewID(),
		Provider:          provider,
		ProviderAccountID: accountID,
		UserID:            userID,
		Email:             accountID + "@" + provider + ".example",
		LinkedAt:          Now,
	}
}

func hash(i int) string {
	return fmt.Sprintf("%064x", i)
}

// TestSessionStore exercises a storage.SessionStore. seedUser makes a user
// known to backends that validate ownership against a user table; it may be
// nil for session-only backends.
func TestSessionStore(t *testing.T, newStore func(t *testing.T) storage.SessionStore, seedUser func(t *testing.T, s storage.SessionStore, u *api.User)) {
	ctx := context.Background()

	setup := func(t *testing.T) (storage.SessionStore, *api.User) {
		s := newStore(t)
		u := NewUser(fmt.Sprintf("user-%s@example.com", api.NewID()[:8]))
		if seedUser != nil {
			seedUser(t, s, u)
		}
		return s, u
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		s, u := setup(t)
		sess := NewSession(u.ID, hash(1), time.Hour)
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}

		got, err := s.GetSessionByHash(ctx, hash(1), Now)
		if err != nil {
			t.Fatalf("GetSessionByHash: %v", err)
		}
		if got.ID != sess.ID || got.UserID != u.ID {
			t.Errorf("got session %+v, want id %s user %s", got, sess.ID, u.ID)
		}
		if got.DeviceType != device.TypeWeb {
			t.Errorf("DeviceType = %q, want web", got.DeviceType)
		}
	})

	t.Run("DuplicateHash", func(t *testing.T) {
		s, u := setup(t)
		if err := s.CreateSession(ctx, NewSession(u.ID, hash(2), time.Hour)); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		err := s.CreateSession(ctx, NewSession(u.ID, hash(2), time.Hour))
		if !errors.Is(err, storage.ErrConflict) {
			t.Errorf("duplicate CreateSession err = %v, want ErrConflict", err)
		}
	})

	t.Run("ExpiredIsAbsent", func(t *testing.T) {
		s, u := setup(t)
		if err := s.CreateSession(ctx, NewSession(u.ID, hash(3), time.Hour)); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		_, err := s.GetSessionByHash(ctx, hash(3), Now.Add(time.Hour))
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetSessionByHash at expiry err = %v, want ErrNotFound", err)
		}
	})

	t.Run("Rotate", func(t *testing.T) {
		s, u := setup(t)
		if err := s.CreateSession(ctx, NewSession(u.ID, hash(4), time.Hour)); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		next := NewSession(u.ID, hash(5), 2*time.Hour)
		if err := s.RotateSession(ctx, hash(4), next, Now); err != nil {
			t.Fatalf("RotateSession: %v", err)
		}
		if _, err := s.GetSessionByHash(ctx, hash(4), Now); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("old session still present: err = %v", err)
		}
		if _, err := s.GetSessionByHash(ctx, hash(5), Now); err != nil {
			t.Errorf("new session missing: %v", err)
		}

		// Rotating the consumed token again must fail and write nothing.
		again := NewSession(u.ID, hash(6), time.Hour)
		if err := s.RotateSession(ctx, hash(4), again, Now); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("second RotateSession err = %v, want ErrNotFound", err)
		}
		if _, err := s.GetSessionByHash(ctx, hash(6), Now); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("failed rotation persisted its session: err = %v", err)
		}
	})

	t.Run("RotateExpired", func(t *testing.T) {
		s, u := setup(t)
		if err := s.CreateSession(ctx, NewSession(u.ID, hash(7), time.Minute)); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		err := s.RotateSession(ctx, hash(7), NewSession(u.ID, hash(8), time.Hour), Now.Add(time.Minute))
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("RotateSession on expired err = %v, want ErrNotFound", err)
		}
	})

	t.Run("ConcurrentRotateSingleWinner", func(t *testing.T) {
		s, u := setup(t)
		if err := s.CreateSession(ctx, NewSession(u.ID, hash(10), time.Hour)); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}

		const racers = 8
		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				err := s.RotateSession(ctx, hash(10), NewSession(u.ID, hash(100+i), time.Hour), Now)
				if err == nil {
					wins.Add(1)
				} else if !errors.Is(err, storage.ErrNotFound) {
					t.Errorf("racer %d: unexpected error %v", i, err)
				}
			}(i)
		}
		close(start)
		wg.Wait()

		if got := wins.Load(); got != 1 {
			t.Fatalf("winners = %d, want exactly 1", got)
		}
		live, err := s.ListUserSessions(ctx, u.ID, Now)
		if err != nil {
			t.Fatalf("ListUserSessions: %v", err)
		}
		if len(live) != 1 {
			t.Errorf("live sessions after race = %d, want 1", len(live))
		}
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		s, u := setup(t)
		if err := s.CreateSession(ctx, NewSession(u.ID, hash(11), time.Hour)); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		if err := s.DeleteSessionByHash(ctx, hash(11)); err != nil {
			t.Fatalf("DeleteSessionByHash: %v", err)
		}
		if err := s.DeleteSessionByHash(ctx, hash(11)); err != nil {
			t.Errorf("second DeleteSessionByHash: %v", err)
		}
	})

	t.Run("DeleteByIDChecksOwner", func(t *testing.T) {
		s, u := setup(t)
		sess := NewSession(u.ID, hash(12), time.Hour)
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		if err := s.DeleteSessionByID(ctx, api.NewID(), sess.ID); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("DeleteSessionByID by stranger err = %v, want ErrNotFound", err)
		}
		if _, err := s.GetSessionByHash(ctx, hash(12), Now); err != nil {
			t.Errorf("session deleted by stranger: %v", err)
		}
		if err := s.DeleteSessionByID(ctx, u.ID, sess.ID); err != nil {
			t.Errorf("DeleteSessionByID by owner: %v", err)
		}
		if err := s.DeleteSessionByID(ctx, u.ID, sess.ID); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("DeleteSessionByID twice err = %v, want ErrNotFound", err)
		}
	})

	t.Run("DeleteUserSessionsAndList", func(t *testing.T) {
		s, u := setup(t)
		var ids []string
		for i := 0; i < 3; i++ {
			sess := NewSession(u.ID, hash(20+i), time.Hour)
			sess.CreatedAt = Now.Add(time.Duration(i) * time.Second)
			if err := s.CreateSession(ctx, sess); err != nil {
				t.Fatalf("CreateSession: %v", err)
			}
			ids = append(ids, sess.ID)
		}
		expired := NewSession(u.ID, hash(29), time.Second)
		if err := s.CreateSession(ctx, expired); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}

		list, err := s.ListUserSessions(ctx, u.ID, Now.Add(time.Minute))
		if err != nil {
			t.Fatalf("ListUserSessions: %v", err)
		}
		if len(list) != 3 {
			t.Fatalf("ListUserSessions len = %d, want 3", len(list))
		}
		for i, sess := range list {
			if sess.ID != ids[i] {
				t.Errorf("list[%d] = %s, want %s (creation order)", i, sess.ID, ids[i])
			}
		}

		n, err := s.DeleteUserSessions(ctx, u.ID)
		if err != nil {
			t.Fatalf("DeleteUserSessions: %v", err)
		}
		if n != 4 {
			t.Errorf("DeleteUserSessions removed %d, want 4", n)
		}
		for i := 0; i < 3; i++ {
			if _, err := s.GetSessionByHash(ctx, hash(20+i), Now); !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("session %d survived DeleteUserSessions", i)
			}
		}
	})

	t.Run("RotateRacingDeleteUserSessions", func(t *testing.T) {
		s, u := setup(t)
		for i := 0; i < 20; i++ {
			oldHash, nextHash := hash(200+2*i), hash(201+2*i)
			if err := s.CreateSession(ctx, NewSession(u.ID, oldHash, time.Hour)); err != nil {
				t.Fatalf("CreateSession: %v", err)
			}

			var wg sync.WaitGroup
			var rotateErr, deleteErr error
			start := make(chan struct{})
			wg.Add(2)
			go func() {
				defer wg.Done()
				<-start
				rotateErr = s.RotateSession(ctx, oldHash, NewSession(u.ID, nextHash, time.Hour), Now)
			}()
			go func() {
				defer wg.Done()
				<-start
				_, deleteErr = s.DeleteUserSessions(ctx, u.ID)
			}()
			close(start)
			wg.Wait()

			if deleteErr != nil {
				t.Fatalf("round %d: DeleteUserSessions: %v", i, deleteErr)
			}
			if rotateErr != nil && !errors.Is(rotateErr, storage.ErrNotFound) {
				t.Fatalf("round %d: RotateSession: %v", i, rotateErr)
			}
			if _, err := s.GetSessionByHash(ctx, oldHash, Now); !errors.Is(err, storage.ErrNotFound) {
				t.Fatalf("round %d: rotated-out session still live", i)
			}

			// A surviving session must still be listed, and therefore
			// revocable by the next logout-all.
			_, liveErr := s.GetSessionByHash(ctx, nextHash, Now)
			list, err := s.ListUserSessions(ctx, u.ID, Now)
			if err != nil {
				t.Fatalf("ListUserSessions: %v", err)
			}
			if liveErr == nil && len(list) != 1 {
				t.Fatalf("round %d: live session missing from list (%d listed)", i, len(list))
			}
			if _, err := s.DeleteUserSessions(ctx, u.ID); err != nil {
				t.Fatalf("DeleteUserSessions: %v", err)
			}
			if _, err := s.GetSessionByHash(ctx, nextHash, Now); !errors.Is(err, storage.ErrNotFound) {
				t.Fatalf("round %d: session survived a second logout-all", i)
			}
		}
	})

	t.Run("DeleteExpired", func(t *testing.T) {
		s, u := setup(t)
		if err := s.CreateSession(ctx, NewSession(u.ID, hash(30), time.Second)); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		if err := s.CreateSession(ctx, NewSession(u.ID, hash(31), time.Hour)); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		n, err := s.DeleteExpiredSessions(ctx, Now.Add(time.Minute))
		if err != nil {
			t.Fatalf("DeleteExpiredSessions: %v", err)
		}
		if n != 1 {
			t.Errorf("DeleteExpiredSessions = %d, want 1", n)
		}
		if _, err := s.GetSessionByHash(ctx, hash(31), Now); err != nil {
			t.Errorf("live session swept: %v", err)
		}
	})
}

// TestUserStore exercises a storage.UserStore.
func TestUserStore(t *testing.T, newStore func(t *testing.T) storage.Store) {
	ctx := context.Background()

	t.Run("CreateAndLookup", func(t *testing.T) {
		s := newStore(t)
		u := NewUser("ada@example.com")
		u.PasswordHash = "hash"
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}

		byID, err := s.GetUser(ctx, u.ID)
		if err != nil {
			t.Fatalf("GetUser: %v", err)
		}
		if byID.Email != u.Email || byID.PasswordHash != "hash" || !byID.Active {
			t.Errorf("GetUser = %+v", byID)
		}

		byEmail, err := s.GetUserByEmail(ctx, "ada@example.com")
		if err != nil {
			t.Fatalf("GetUserByEmail: %v", err)
		}
		if byEmail.ID != u.ID {
			t.Errorf("GetUserByEmail id = %s, want %s", byEmail.ID, u.ID)
		}

		if _, err := s.GetUser(ctx, api.NewID()); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetUser unknown err = %v, want ErrNotFound", err)
		}
		if _, err := s.GetUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetUserByEmail unknown err = %v, want ErrNotFound", err)
		}
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		s := newStore(t)
		if err := s.CreateUser(ctx, NewUser("dup@example.com")); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		if err := s.CreateUser(ctx, NewUser("dup@example.com")); !errors.Is(err, storage.ErrConflict) {
			t.Errorf("duplicate email err = %v, want ErrConflict", err)
		}
	})

	t.Run("RoleAndActive", func(t *testing.T) {
		s := newStore(t)
		u := NewUser("grace@example.com")
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		if err := s.UpdateUserRole(ctx, u.ID, rbac.RoleAdmin); err != nil {
			t.Fatalf("UpdateUserRole: %v", err)
		}
		if err := s.SetUserActive(ctx, u.ID, false); err != nil {
			t.Fatalf("SetUserActive: %v", err)
		}
		got, err := s.GetUser(ctx, u.ID)
		if err != nil {
			t.Fatalf("GetUser: %v", err)
		}
		if got.Role != rbac.RoleAdmin || got.Active {
			t.Errorf("after update: role=%s active=%v", got.Role, got.Active)
		}
		if err := s.UpdateUserRole(ctx, api.NewID(), rbac.RoleAdmin); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("UpdateUserRole unknown err = %v, want ErrNotFound", err)
		}
	})

	t.Run("UpdateName", func(t *testing.T) {
		s := newStore(t)
		u := NewUser("hedy@example.com")
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		if err := s.UpdateUserName(ctx, u.ID, "Hedy Lamarr"); err != nil {
			t.Fatalf("UpdateUserName: %v", err)
		}
		got, err := s.GetUser(ctx, u.ID)
		if err != nil {
			t.Fatalf("GetUser: %v", err)
		}
		if got.Name != "Hedy Lamarr" {
			t.Errorf("name = %q, want %q", got.Name, "Hedy Lamarr")
		}
		if err := s.UpdateUserName(ctx, api.NewID(), "x"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("UpdateUserName unknown err = %v, want ErrNotFound", err)
		}
	})

	t.Run("ListInCreationOrder", func(t *testing.T) {
		s := newStore(t)
		var want []string
		for i := 0; i < 3; i++ {
			u := NewUser(fmt.Sprintf("list-%d@example.com", i))
			u.CreatedAt = Now.Add(time.Duration(i) * time.Second)
			if err := s.CreateUser(ctx, u); err != nil {
				t.Fatalf("CreateUser: %v", err)
			}
			want = append(want, u.ID)
		}
		users, err := s.ListUsers(ctx)
		if err != nil {
			t.Fatalf("ListUsers: %v", err)
		}
		if len(users) != len(want) {
			t.Fatalf("ListUsers len = %d, want %d", len(users), len(want))
		}
		for i, u := range users {
			if u.ID != want[i] {
				t.Errorf("users[%d] = %s, want %s", i, u.ID, want[i])
			}
		}
	})
}

// TestAccountStore exercises a storage.AccountStore.
func TestAccountStore(t *testing.T, newStore func(t *testing.T) storage.Store) {
	ctx := context.Background()

	t.Run("CreateUserWithAccount", func(t *testing.T) {
		s := newStore(t)
		u := NewUser("new@example.com")
		a := NewAccount(u.ID, "google", "g-1")
		if err := s.CreateUserWithAccount(ctx, u, a); err != nil {
			t.Fatalf("CreateUserWithAccount: %v", err)
		}
		got, err := s.GetAccount(ctx, "google", "g-1")
		if err != nil {
			t.Fatalf("GetAccount: %v", err)
		}
		if got.UserID != u.ID {
			t.Errorf("account user = %s, want %s", got.UserID, u.ID)
		}
	})

	t.Run("CreateUserWithAccountIsAllOrNothing", func(t *testing.T) {
		s := newStore(t)
		first := NewUser("first@example.com")
		if err := s.CreateUserWithAccount(ctx, first, NewAccount(first.ID, "github", "gh-1")); err != nil {
			t.Fatalf("CreateUserWithAccount: %v", err)
		}

		// Same provider identity: the second user must not be created.
		second := NewUser("second@example.com")
		err := s.CreateUserWithAccount(ctx, second, NewAccount(second.ID, "github", "gh-1"))
		if !errors.Is(err, storage.ErrConflict) {
			t.Fatalf("conflicting CreateUserWithAccount err = %v, want ErrConflict", err)
		}
		if _, err := s.GetUserByEmail(ctx, "second@example.com"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("user without identity became visible: err = %v", err)
		}
	})

	t.Run("UniqueConstraints", func(t *testing.T) {
		s := newStore(t)
		u1 := NewUser("u1@example.com")
		u2 := NewUser("u2@example.com")
		for _, u := range []*api.User{u1, u2} {
			if err := s.CreateUser(ctx, u); err != nil {
				t.Fatalf("CreateUser: %v", err)
			}
		}
		if err := s.CreateAccount(ctx, NewAccount(u1.ID, "google", "g-1")); err != nil {
			t.Fatalf("CreateAccount: %v", err)
		}
		if err := s.CreateAccount(ctx, NewAccount(u2.ID, "google", "g-1")); !errors.Is(err, storage.ErrConflict) {
			t.Errorf("same identity for another user err = %v, want ErrConflict", err)
		}
		if err := s.CreateAccount(ctx, NewAccount(u1.ID, "google", "g-2")); !errors.Is(err, storage.ErrConflict) {
			t.Errorf("second google account for same user err = %v, want ErrConflict", err)
		}
		if err := s.CreateAccount(ctx, NewAccount(u1.ID, "github", "gh-1")); err != nil {
			t.Errorf("different provider: %v", err)
		}

		accounts, err := s.ListAccounts(ctx, u1.ID)
		if err != nil {
			t.Fatalf("ListAccounts: %v", err)
		}
		if len(accounts) != 2 || accounts[0].Provider != "google" || accounts[1].Provider != "github" {
			t.Errorf("ListAccounts = %+v, want [google github]", accounts)
		}
	})

	t.Run("UpdateProfile", func(t *testing.T) {
		s := newStore(t)
		u := NewUser("profile@example.com")
		a := NewAccount(u.ID, "google", "g-9")
		if err := s.CreateUserWithAccount(ctx, u, a); err != nil {
			t.Fatalf("CreateUserWithAccount: %v", err)
		}
		a.Name = "Renamed"
		a.AvatarURL = "https://img.example/a.png"
		if err := s.UpdateAccountProfile(ctx, a); err != nil {
			t.Fatalf("UpdateAccountProfile: %v", err)
		}
		got, err := s.GetAccount(ctx, "google", "g-9")
		if err != nil {
			t.Fatalf("GetAccount: %v", err)
		}
		if got.Name != "Renamed" || got.AvatarURL != a.AvatarURL {
			t.Errorf("profile not updated: %+v", got)
		}
	})

	t.Run("UnlinkLastMethodRefused", func(t *testing.T) {
		s := newStore(t)
		u := NewUser("oauth-only@example.com")
		if err := s.CreateUserWithAccount(ctx, u, NewAccount(u.ID, "google", "g-5")); err != nil {
			t.Fatalf("CreateUserWithAccount: %v", err)
		}
		if err := s.DeleteAccountIfNotLast(ctx, u.ID, "google"); !errors.Is(err, storage.ErrLastAuthMethod) {
			t.Fatalf("unlink last err = %v, want ErrLastAuthMethod", err)
		}
		accounts, err := s.ListAccounts(ctx, u.ID)
		if err != nil {
			t.Fatalf("ListAccounts: %v", err)
		}
		if len(accounts) != 1 {
			t.Errorf("accounts after refused unlink = %d, want 1", len(accounts))
		}
	})

	t.Run("UnlinkWithPassword", func(t *testing.T) {
		s := newStore(t)
		u := NewUser("both@example.com")
		u.PasswordHash = "hash"
		if err := s.CreateUserWithAccount(ctx, u, NewAccount(u.ID, "google", "g-6")); err != nil {
			t.Fatalf("CreateUserWithAccount: %v", err)
		}
		if err := s.DeleteAccountIfNotLast(ctx, u.ID, "google"); err != nil {
			t.Fatalf("unlink with password: %v", err)
		}
		if err := s.DeleteAccountIfNotLast(ctx, u.ID, "google"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("unlink twice err = %v, want ErrNotFound", err)
		}
	})

	t.Run("ConcurrentUnlinkKeepsOne", func(t *testing.T) {
		s := newStore(t)
		u := NewUser("race@example.com")
		if err := s.CreateUserWithAccount(ctx, u, NewAccount(u.ID, "google", "g-7")); err != nil {
			t.Fatalf("CreateUserWithAccount: %v", err)
		}
		if err := s.CreateAccount(ctx, NewAccount(u.ID, "github", "gh-7")); err != nil {
			t.Fatalf("CreateAccount: %v", err)
		}

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, provider := range []string{"google", "github"} {
			wg.Add(1)
			go func(i int, provider string) {
				defer wg.Done()
				errs[i] = s.DeleteAccountIfNotLast(ctx, u.ID, provider)
			}(i, provider)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, storage.ErrLastAuthMethod):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		if succeeded != 1 {
			t.Errorf("successful unlinks = %d, want 1", succeeded)
		}
		accounts, err := s.ListAccounts(ctx, u.ID)
		if err != nil {
			t.Fatalf("ListAccounts: %v", err)
		}
		if len(accounts) != 1 {
			t.Errorf("accounts left = %d, want 1", len(accounts))
		}
	})
}
