package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rhuss/authcore/pkg/api"
	"github.com/rhuss/authcore/pkg/storage"
	"github.com/rhuss/authcore/pkg/storage/storagetest"
)

func newStore(t *testing.T) storage.Store {
	t.Helper()
	return New()
}

func TestUserStore(t *testing.T) {
	storagetest.TestUserStore(t, newStore)
}

func TestSessionStore(t *testing.T) {
	storagetest.TestSessionStore(t,
		func(t *testing.T) storage.SessionStore { return New() },
		nil,
	)
}

func TestAccountStore(t *testing.T) {
	storagetest.TestAccountStore(t, newStore)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()

	u := storagetest.NewUser("copy@example.com")
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	u.Name = "mutated after insert"

	got, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Name == "mutated after insert" {
		t.Error("store aliases caller's struct")
	}

	got.Name = "mutated after read"
	again, _ := s.GetUser(ctx, u.ID)
	if again.Name == "mutated after read" {
		t.Error("store returns shared struct")
	}
}

func TestRotateSession_CancelledContextWritesNothing(t *testing.T) {
	s := New()
	u := storagetest.NewUser("cancel@example.com")
	old := storagetest.NewSession(u.ID, "aaaaaaaaaaaaaaaa", time.Hour)
	if err := s.CreateSession(context.Background(), old); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	next := storagetest.NewSession(u.ID, "bbbbbbbbbbbbbbbb", time.Hour)
	err := s.RotateSession(ctx, old.TokenHash, next, storagetest.Now)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RotateSession err = %v, want context.Canceled", err)
	}

	if _, err := s.GetSessionByHash(context.Background(), old.TokenHash, storagetest.Now); err != nil {
		t.Errorf("old session lost after cancelled rotation: %v", err)
	}
	if _, err := s.GetSessionByHash(context.Background(), next.TokenHash, storagetest.Now); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("new session persisted after cancelled rotation: %v", err)
	}
}

func TestRotateSession_UserMismatch(t *testing.T) {
	ctx := context.Background()
	s := New()
	old := storagetest.NewSession(api.NewID(), "cccccccccccccccc", time.Hour)
	if err := s.CreateSession(ctx, old); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	next := storagetest.NewSession(api.NewID(), "dddddddddddddddd", time.Hour)
	if err := s.RotateSession(ctx, old.TokenHash, next, storagetest.Now); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("RotateSession across users err = %v, want ErrNotFound", err)
	}
}
