package oauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rhuss/authcore/pkg/api"
	"github.com/rhuss/authcore/pkg/rbac"
	"github.com/rhuss/authcore/pkg/storage"
	"github.com/rhuss/authcore/pkg/storage/memory"
)

// fakeProvider returns a fixed profile per code.
type fakeProvider struct {
	name     string
	profiles map[string]*Profile
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthCodeURL(state, _ string) (string, error) {
	return "https://" + p.name + ".example/authorize?state=" + state, nil
}

func (p *fakeProvider) Exchange(_ context.Context, code, _ string) (*Profile, error) {
	profile, ok := p.profiles[code]
	if !ok {
		return nil, &ExchangeError{Provider: p.name, Stage: StageToken, Status: 400}
	}
	return profile, nil
}

func newTestLinker(t *testing.T, providers ...Provider) (*Linker, *memory.Store) {
	t.Helper()
	store := memory.New()
	return NewLinker(store, NewRegistry(providers...)), store
}

func createPasswordUser(t *testing.T, s storage.UserStore, email string) *api.User {
	t.Helper()
	u := &api.User{
		ID:           api.NewID(),
		Email:        email,
		Name:         "Password User",
		Role:         rbac.RoleUser,
		PasswordHash: "$2a$04$notarealhashbutnonempty",
		Active:       true,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func TestFindOrCreate_NewUser(t *testing.T) {
	l, store := newTestLinker(t)
	ctx := context.Background()
	profile := &Profile{AccountID: "g-1", Email: "New@Example.com", EmailVerified: true, Name: "New"}

	u, err := l.FindOrCreateUserFromProfile(ctx, "google", profile)
	if err != nil {
		t.Fatalf("FindOrCreateUserFromProfile: %v", err)
	}
	if u.Email != "new@example.com" || u.Role != rbac.RoleUser || !u.Active || u.HasPassword() {
		t.Errorf("created user = %+v", u)
	}

	again, err := l.FindOrCreateUserFromProfile(ctx, "google", profile)
	if err != nil {
		t.Fatalf("second FindOrCreateUserFromProfile: %v", err)
	}
	if again.ID != u.ID {
		t.Errorf("second sign-in created another user: %s != %s", again.ID, u.ID)
	}

	accounts, err := store.ListAccounts(ctx, u.ID)
	if err != nil || len(accounts) != 1 {
		t.Fatalf("accounts = %v, %v; want exactly one", accounts, err)
	}
}

// A provider returns a verified email that belongs to an existing
// password-only user: the identity is linked to that user.
func TestFindOrCreate_AutoLinksVerifiedEmail(t *testing.T) {
	l, _ := newTestLinker(t)
	ctx := context.Background()
	existing := createPasswordUser(t, l.store, "a@x.com")

	u, err := l.FindOrCreateUserFromProfile(ctx, "google", &Profile{AccountID: "g-42", Email: "A@x.com", EmailVerified: true})
	if err != nil {
		t.Fatalf("FindOrCreateUserFromProfile: %v", err)
	}
	if u.ID != existing.ID {
		t.Fatalf("got user %s, want existing %s", u.ID, existing.ID)
	}

	users, err := l.store.ListUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 {
		t.Errorf("users = %d, want 1 (no duplicate)", len(users))
	}
	linked, err := l.GetLinkedAccounts(ctx, existing.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(linked) != 1 || linked[0].Provider != "google" {
		t.Errorf("linked = %+v, want [google]", linked)
	}
}

func TestFindOrCreate_UnverifiedEmailNotLinked(t *testing.T) {
	l, _ := newTestLinker(t)
	createPasswordUser(t, l.store, "victim@example.com")

	_, err := l.FindOrCreateUserFromProfile(context.Background(), "github",
		&Profile{AccountID: "gh-1", Email: "victim@example.com", EmailVerified: false})
	if !errors.Is(err, ErrEmailUnverified) {
		t.Errorf("err = %v, want ErrEmailUnverified", err)
	}
}

func TestFindOrCreate_MissingEmail(t *testing.T) {
	l, _ := newTestLinker(t)
	_, err := l.FindOrCreateUserFromProfile(context.Background(), "github", &Profile{AccountID: "gh-2"})
	if !errors.Is(err, ErrEmailRequired) {
		t.Errorf("err = %v, want ErrEmailRequired", err)
	}
}

func TestFindOrCreate_InactiveUser(t *testing.T) {
	l, store := newTestLinker(t)
	ctx := context.Background()
	profile := &Profile{AccountID: "g-3", Email: "sleepy@example.com", EmailVerified: true}

	u, err := l.FindOrCreateUserFromProfile(ctx, "google", profile)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetUserActive(ctx, u.ID, false); err != nil {
		t.Fatal(err)
	}
	if _, err := l.FindOrCreateUserFromProfile(ctx, "google", profile); !errors.Is(err, ErrUserInactive) {
		t.Errorf("err = %v, want ErrUserInactive", err)
	}
}

func TestFindOrCreate_RefreshesCachedProfile(t *testing.T) {
	l, store := newTestLinker(t)
	ctx := context.Background()

	if _, err := l.FindOrCreateUserFromProfile(ctx, "google", &Profile{AccountID: "g-4", Email: "p@example.com", EmailVerified: true, Name: "Old"}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.FindOrCreateUserFromProfile(ctx, "google", &Profile{AccountID: "g-4", Email: "p@example.com", EmailVerified: true, Name: "New"}); err != nil {
		t.Fatal(err)
	}
	a, err := store.GetAccount(ctx, "google", "g-4")
	if err != nil {
		t.Fatal(err)
	}
	if a.Name != "New" {
		t.Errorf("cached name = %q, want New", a.Name)
	}
}

// racingStore lets another "request" create the same identity right before
// the linker's own insert, as a concurrent sign-in would.
type racingStore struct {
	*memory.Store
	raced bool
}

func (s *racingStore) CreateUserWithAccount(ctx context.Context, u *api.User, a *api.OAuthAccount) error {
	if !s.raced {
		s.raced = true
		winner := *u
		winner.ID = api.NewID()
		acct := *a
		acct.ID = api.NewID()
		acct.UserID = winner.ID
		if err := s.Store.CreateUserWithAccount(ctx, &winner, &acct); err != nil {
			return err
		}
	}
	return s.Store.CreateUserWithAccount(ctx, u, a)
}

func TestFindOrCreate_RetriesAfterConcurrentCreate(t *testing.T) {
	store := &racingStore{Store: memory.New()}
	l := NewLinker(store, NewRegistry())
	ctx := context.Background()

	u, err := l.FindOrCreateUserFromProfile(ctx, "google", &Profile{AccountID: "g-5", Email: "race@example.com", EmailVerified: true})
	if err != nil {
		t.Fatalf("FindOrCreateUserFromProfile: %v", err)
	}
	a, err := store.GetAccount(ctx, "google", "g-5")
	if err != nil {
		t.Fatal(err)
	}
	if a.UserID != u.ID {
		t.Errorf("returned user %s, but identity belongs to %s", u.ID, a.UserID)
	}
	users, _ := store.ListUsers(ctx)
	if len(users) != 1 {
		t.Errorf("users = %d, want 1", len(users))
	}
}

func TestLinkAccount(t *testing.T) {
	l, _ := newTestLinker(t)
	ctx := context.Background()
	alice := createPasswordUser(t, l.store, "alice@example.com")
	bob := createPasswordUser(t, l.store, "bob@example.com")

	gh := &Profile{AccountID: "gh-100", Email: "alice@example.com"}
	if err := l.LinkAccount(ctx, alice.ID, "github", gh); err != nil {
		t.Fatalf("LinkAccount: %v", err)
	}
	if err := l.LinkAccount(ctx, alice.ID, "github", gh); err != nil {
		t.Errorf("relinking own identity: %v", err)
	}
	if err := l.LinkAccount(ctx, bob.ID, "github", gh); !errors.Is(err, ErrAlreadyLinked) {
		t.Errorf("linking alice's identity to bob err = %v, want ErrAlreadyLinked", err)
	}
	if err := l.LinkAccount(ctx, alice.ID, "github", &Profile{AccountID: "gh-200"}); !errors.Is(err, ErrProviderAlreadyLinked) {
		t.Errorf("second github identity err = %v, want ErrProviderAlreadyLinked", err)
	}
	if err := l.LinkAccount(ctx, alice.ID, "google", &Profile{AccountID: "g-100"}); err != nil {
		t.Errorf("linking a second provider: %v", err)
	}

	linked, err := l.GetLinkedAccounts(ctx, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(linked) != 2 || linked[0].Provider != "github" || linked[1].Provider != "google" {
		t.Errorf("linked = %+v, want [github google]", linked)
	}
}

// A user who signed up through one provider and never set a password
// cannot unlink that provider; once a second provider is linked, one of
// them can go.
func TestUnlinkAccount_LastMethod(t *testing.T) {
	l, _ := newTestLinker(t)
	ctx := context.Background()

	u, err := l.FindOrCreateUserFromProfile(ctx, "google", &Profile{AccountID: "g-7", Email: "solo@example.com", EmailVerified: true})
	if err != nil {
		t.Fatal(err)
	}

	if err := l.UnlinkAccount(ctx, u.ID, "google"); !errors.Is(err, ErrCannotUnlinkLastMethod) {
		t.Fatalf("unlink last err = %v, want ErrCannotUnlinkLastMethod", err)
	}
	linked, _ := l.GetLinkedAccounts(ctx, u.ID)
	if len(linked) != 1 {
		t.Fatalf("refused unlink changed state: %+v", linked)
	}

	if err := l.LinkAccount(ctx, u.ID, "github", &Profile{AccountID: "gh-7"}); err != nil {
		t.Fatal(err)
	}
	if err := l.UnlinkAccount(ctx, u.ID, "google"); err != nil {
		t.Errorf("unlink with two methods: %v", err)
	}
	if err := l.UnlinkAccount(ctx, u.ID, "github"); !errors.Is(err, ErrCannotUnlinkLastMethod) {
		t.Errorf("unlink remaining err = %v, want ErrCannotUnlinkLastMethod", err)
	}
	if err := l.UnlinkAccount(ctx, u.ID, "gitlab"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unlink unlinked provider err = %v, want ErrNotFound", err)
	}
}

func TestUnlinkAccount_PasswordUser(t *testing.T) {
	l, _ := newTestLinker(t)
	ctx := context.Background()
	u := createPasswordUser(t, l.store, "pw@example.com")

	if err := l.LinkAccount(ctx, u.ID, "google", &Profile{AccountID: "g-8"}); err != nil {
		t.Fatal(err)
	}
	if err := l.UnlinkAccount(ctx, u.ID, "google"); err != nil {
		t.Errorf("password user unlinking only provider: %v", err)
	}
}

func TestSignIn(t *testing.T) {
	p := &fakeProvider{name: "google", profiles: map[string]*Profile{
		"good": {AccountID: "g-9", Email: "signin@example.com", EmailVerified: true},
	}}
	l, _ := newTestLinker(t, p)
	ctx := context.Background()

	u, err := l.SignIn(ctx, "google", "good", "")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if u.Email != "signin@example.com" {
		t.Errorf("user = %+v", u)
	}

	if _, err := l.SignIn(ctx, "google", "bad", ""); !errors.Is(err, ErrExchangeFailed) {
		t.Errorf("bad code err = %v, want ErrExchangeFailed", err)
	}
	if _, err := l.SignIn(ctx, "facebook", "good", ""); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("unknown provider err = %v, want ErrUnknownProvider", err)
	}

	url, err := l.AuthCodeURL("google", "st", "")
	if err != nil || url != "https://google.example/authorize?state=st" {
		t.Errorf("AuthCodeURL = %q, %v", url, err)
	}
}
