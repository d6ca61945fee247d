package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rhuss/authcore/pkg/api"
	"github.com/rhuss/authcore/pkg/debug"
	"github.com/rhuss/authcore/pkg/observability"
	"github.com/rhuss/authcore/pkg/rbac"
	"github.com/rhuss/authcore/pkg/storage"
)

// Linker errors.
var (
	// ErrAlreadyLinked: the provider identity belongs to another user.
	ErrAlreadyLinked = errors.New("provider account is linked to another user")

	// ErrProviderAlreadyLinked: the user already has a different identity
	// at this provider.
	ErrProviderAlreadyLinked = errors.New("a different account for this provider is already linked")

	// ErrCannotUnlinkLastMethod: the unlink would leave the user unable
	// to sign in.
	ErrCannotUnlinkLastMethod = errors.New("cannot unlink the last sign-in method")

	// ErrUserInactive: the identity resolves to a deactivated user.
	ErrUserInactive = errors.New("user is deactivated")

	// ErrEmailUnverified: the provider email matches an existing user but
	// the provider did not verify it, so the identity cannot be linked
	// automatically.
	ErrEmailUnverified = errors.New("email is registered but not verified by the provider")

	// ErrEmailRequired: a new user cannot be created without an email.
	ErrEmailRequired = errors.New("provider did not return an email address")
)

// Store is the slice of storage the Linker needs.
type Store interface {
	storage.UserStore
	storage.AccountStore
}

// Linker maps provider identities to users.
type Linker struct {
	store     Store
	providers *Registry
	now       func() time.Time
}

// NewLinker creates a Linker.
func NewLinker(store Store, providers *Registry) *Linker {
	return &Linker{
		store:     store,
		providers: providers,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Providers returns the configured provider names.
func (l *Linker) Providers() []string {
	return l.providers.Names()
}

// AuthCodeURL returns the named provider's consent URL.
func (l *Linker) AuthCodeURL(provider, state, redirectURI string) (string, error) {
	p, err := l.providers.Get(provider)
	if err != nil {
		return "", err
	}
	return p.AuthCodeURL(state, redirectURI)
}

// ExchangeAuthorizationCode trades code for a profile at the named provider.
func (l *Linker) ExchangeAuthorizationCode(ctx context.Context, provider, code, redirectURI string) (*Profile, error) {
	p, err := l.providers.Get(provider)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	profile, err := p.Exchange(ctx, code, redirectURI)
	observability.OAuthExchangeDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())

	if err != nil {
		observability.OAuthExchangesTotal.WithLabelValues(provider, "error").Inc()
		slog.Warn("oauth exchange failed", "provider", provider, "error", err)
		return nil, err
	}
	observability.OAuthExchangesTotal.WithLabelValues(provider, "ok").Inc()
	debug.Log(debug.OAuth, "exchange succeeded",
		"provider", provider, "account_id", profile.AccountID, "email_verified", profile.EmailVerified)
	return profile, nil
}

// SignIn exchanges code and resolves the resulting profile to a user.
func (l *Linker) SignIn(ctx context.Context, provider, code, redirectURI string) (*api.User, error) {
	profile, err := l.ExchangeAuthorizationCode(ctx, provider, code, redirectURI)
	if err != nil {
		return nil, err
	}
	return l.FindOrCreateUserFromProfile(ctx, provider, profile)
}

// FindOrCreateUserFromProfile returns the user owning the identity,
// linking it to the user with the same verified email or creating a new
// user when neither exists. A concurrent request creating the same user
// is resolved by retrying the lookup once.
func (l *Linker) FindOrCreateUserFromProfile(ctx context.Context, provider string, profile *Profile) (*api.User, error) {
	user, err := l.findOrCreate(ctx, provider, profile)
	if errors.Is(err, storage.ErrConflict) {
		debug.Log(debug.OAuth, "concurrent identity creation, retrying lookup", "provider", provider)
		user, err = l.findOrCreate(ctx, provider, profile)
	}
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, ErrUserInactive
	}
	return user, nil
}

func (l *Linker) findOrCreate(ctx context.Context, provider string, profile *Profile) (*api.User, error) {
	account, err := l.store.GetAccount(ctx, provider, profile.AccountID)
	switch {
	case err == nil:
		user, err := l.store.GetUser(ctx, account.UserID)
		if err != nil {
			return nil, fmt.Errorf("loading linked user: %w", err)
		}
		l.refreshProfile(ctx, account, profile)
		return user, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("looking up account: %w", err)
	}

	email := api.NormalizeEmail(profile.Email)
	if email == "" {
		return nil, ErrEmailRequired
	}

	user, err := l.store.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return l.autoLink(ctx, user, provider, profile)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("looking up user by email: %w", err)
	}

	now := l.now()
	user = &api.User{
		ID:        api.NewID(),
		Email:     email,
		Name:      profile.Name,
		Role:      rbac.RoleUser,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.CreateUserWithAccount(ctx, user, l.newAccount(user.ID, provider, profile)); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	slog.Info("user created from provider identity", "user_id", user.ID, "provider", provider)
	return user, nil
}

// autoLink attaches a new identity to an existing user found by email.
func (l *Linker) autoLink(ctx context.Context, user *api.User, provider string, profile *Profile) (*api.User, error) {
	if !profile.EmailVerified {
		return nil, ErrEmailUnverified
	}
	if !user.Active {
		return nil, ErrUserInactive
	}

	err := l.store.CreateAccount(ctx, l.newAccount(user.ID, provider, profile))
	if errors.Is(err, storage.ErrConflict) {
		if l.hasProvider(ctx, user.ID, provider, profile.AccountID) {
			return nil, ErrProviderAlreadyLinked
		}
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("linking account: %w", err)
	}
	slog.Info("provider identity linked by verified email", "user_id", user.ID, "provider", provider)
	return user, nil
}

// hasProvider reports whether userID already holds an identity at
// provider other than accountID.
func (l *Linker) hasProvider(ctx context.Context, userID, provider, accountID string) bool {
	accounts, err := l.store.ListAccounts(ctx, userID)
	if err != nil {
		return false
	}
	for _, a := range accounts {
		if a.Provider == provider && a.ProviderAccountID != accountID {
			return true
		}
	}
	return false
}

// refreshProfile updates the cached profile of an account. Failures are
// logged and otherwise ignored.
func (l *Linker) refreshProfile(ctx context.Context, account *api.OAuthAccount, profile *Profile) {
	if account.Email == profile.Email && account.Name == profile.Name && account.AvatarURL == profile.AvatarURL {
		return
	}
	account.Email = profile.Email
	account.Name = profile.Name
	account.AvatarURL = profile.AvatarURL
	if err := l.store.UpdateAccountProfile(ctx, account); err != nil {
		slog.Warn("refreshing cached provider profile", "provider", account.Provider, "error", err)
	}
}

func (l *Linker) newAccount(userID, provider string, profile *Profile) *api.OAuthAccount {
	return &api.OAuthAccount{
		ID:                api.NewID(),
		Provider:          provider,
		ProviderAccountID: profile.AccountID,
		UserID:            userID,
		Email:             profile.Email,
		Name:              profile.Name,
		AvatarURL:         profile.AvatarURL,
		LinkedAt:          l.now(),
	}
}

// GetLinkedAccounts lists the user's identities in link order.
func (l *Linker) GetLinkedAccounts(ctx context.Context, userID string) ([]api.LinkedAccount, error) {
	accounts, err := l.store.ListAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	linked := make([]api.LinkedAccount, 0, len(accounts))
	for _, a := range accounts {
		linked = append(linked, api.LinkedAccount{Provider: a.Provider, LinkedAt: a.LinkedAt})
	}
	return linked, nil
}

// LinkAccount attaches the identity to userID. Linking an identity the
// user already owns succeeds without change.
func (l *Linker) LinkAccount(ctx context.Context, userID, provider string, profile *Profile) error {
	existing, err := l.store.GetAccount(ctx, provider, profile.AccountID)
	switch {
	case err == nil:
		if existing.UserID == userID {
			return nil
		}
		return ErrAlreadyLinked
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("looking up account: %w", err)
	}

	err = l.store.CreateAccount(ctx, l.newAccount(userID, provider, profile))
	if errors.Is(err, storage.ErrConflict) {
		// Either a concurrent link won the identity, or the user already
		// has another identity at this provider.
		existing, lookupErr := l.store.GetAccount(ctx, provider, profile.AccountID)
		switch {
		case lookupErr == nil && existing.UserID == userID:
			return nil
		case lookupErr == nil:
			return ErrAlreadyLinked
		default:
			return ErrProviderAlreadyLinked
		}
	}
	if err != nil {
		return fmt.Errorf("linking account: %w", err)
	}
	slog.Info("provider identity linked", "user_id", userID, "provider", provider)
	return nil
}

// UnlinkAccount removes the user's identity at provider unless it is
// their last way to sign in.
func (l *Linker) UnlinkAccount(ctx context.Context, userID, provider string) error {
	err := l.store.DeleteAccountIfNotLast(ctx, userID, provider)
	switch {
	case err == nil:
		slog.Info("provider identity unlinked", "user_id", userID, "provider", provider)
		return nil
	case errors.Is(err, storage.ErrLastAuthMethod):
		return ErrCannotUnlinkLastMethod
	default:
		return fmt.Errorf("unlinking %s: %w", provider, err)
	}
}
