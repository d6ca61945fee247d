package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/rhuss/authcore/pkg/debug"
)

// Built-in provider presets.
const (
	ProviderGoogle = "google"
	ProviderGitHub = "github"
)

const (
	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	githubUserURL     = "https://api.github.com/user"
	githubEmailsURL   = "https://api.github.com/user/emails"

	// maxProfileBody bounds how much of a userinfo response is read.
	maxProfileBody = 1 << 20
)

// OAuth2Config configures an OAuth2Provider. Endpoint fields left empty
// take the preset values for Name.
type OAuth2Config struct {
	Name         string
	ClientID     string
	ClientSecret string
	Scopes       []string

	AuthURL     string
	TokenURL    string
	UserInfoURL string
	// EmailsURL is only used by the github preset.
	EmailsURL string

	RedirectURL         string
	AllowedRedirectURLs []string

	// HTTPClient is used for every upstream call. Nil means http.DefaultClient.
	HTTPClient *http.Client
}

// OAuth2Provider exchanges codes against an OAuth 2.0 authorization server
// and reads the user's profile from a userinfo endpoint.
type OAuth2Provider struct {
	name        string
	conf        oauth2.Config
	userInfoURL string
	emailsURL   string
	redirects   redirectPolicy
	httpClient  *http.Client
	fetch       func(ctx context.Context, p *OAuth2Provider, client *http.Client) (*Profile, error)
}

var _ Provider = (*OAuth2Provider)(nil)

// NewOAuth2Provider builds a provider from cfg. Name must be one of the
// built-in presets.
func NewOAuth2Provider(cfg OAuth2Config) (*OAuth2Provider, error) {
	p := &OAuth2Provider{
		name: cfg.Name,
		conf: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
		},
		userInfoURL: cfg.UserInfoURL,
		emailsURL:   cfg.EmailsURL,
		redirects:   redirectPolicy{defaultURI: cfg.RedirectURL, allowed: cfg.AllowedRedirectURLs},
		httpClient:  cfg.HTTPClient,
	}

	switch cfg.Name {
	case ProviderGoogle:
		p.conf.Endpoint = google.Endpoint
		p.fetch = fetchGoogleProfile
		if p.userInfoURL == "" {
			p.userInfoURL = googleUserInfoURL
		}
		if len(p.conf.Scopes) == 0 {
			p.conf.Scopes = []string{"openid", "email", "profile"}
		}
	case ProviderGitHub:
		p.conf.Endpoint = github.Endpoint
		p.fetch = fetchGitHubProfile
		if p.userInfoURL == "" {
			p.userInfoURL = githubUserURL
		}
		if p.emailsURL == "" {
			p.emailsURL = githubEmailsURL
		}
		if len(p.conf.Scopes) == 0 {
			p.conf.Scopes = []string{"read:user", "user:email"}
		}
	default:
		return nil, fmt.Errorf("%w: no oauth2 preset for %q", ErrUnknownProvider, cfg.Name)
	}

	if cfg.AuthURL != "" {
		p.conf.Endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		p.conf.Endpoint.TokenURL = cfg.TokenURL
	}
	return p, nil
}

// Name returns the provider key.
func (p *OAuth2Provider) Name() string { return p.name }

// AuthCodeURL returns the consent page URL.
func (p *OAuth2Provider) AuthCodeURL(state, redirectURI string) (string, error) {
	uri, err := p.redirects.resolve(redirectURI)
	if err != nil {
		return "", err
	}
	conf := p.conf
	conf.RedirectURL = uri
	return conf.AuthCodeURL(state), nil
}

// Exchange trades code for a token and reads the profile with it.
func (p *OAuth2Provider) Exchange(ctx context.Context, code, redirectURI string) (*Profile, error) {
	uri, err := p.redirects.resolve(redirectURI)
	if err != nil {
		return nil, err
	}
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	conf := p.conf
	conf.RedirectURL = uri
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, tokenError(p.name, err)
	}

	profile, err := p.fetch(ctx, p, conf.Client(ctx, tok))
	if err != nil {
		return nil, err
	}
	if profile.AccountID == "" {
		return nil, &ExchangeError{Provider: p.name, Stage: StageProfile, Err: errors.New("profile has no subject")}
	}
	return profile, nil
}

// tokenError converts an oauth2 token endpoint failure.
func tokenError(provider string, err error) error {
	xerr := &ExchangeError{Provider: provider, Stage: StageToken, Err: err}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.Response != nil {
			xerr.Status = rerr.Response.StatusCode
		}
		debug.Log(debug.OAuth, "token endpoint rejected exchange",
			"provider", provider, "status", xerr.Status, "error_code", rerr.ErrorCode,
			"body", debug.Body(debug.OAuth, rerr.Body))
		// RetrieveError's message embeds the response body.
		xerr.Err = nil
	}
	return xerr
}

// getJSON fetches url with client and decodes the body into v.
func getJSON(ctx context.Context, client *http.Client, provider, stage, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &ExchangeError{Provider: provider, Stage: stage, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return &ExchangeError{Provider: provider, Stage: stage, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBody))
	if err != nil {
		return &ExchangeError{Provider: provider, Stage: stage, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		debug.Log(debug.OAuth, "profile request rejected",
			"provider", provider, "stage", stage, "status", resp.StatusCode, "body", debug.Body(debug.OAuth, body))
		return &ExchangeError{Provider: provider, Stage: stage, Status: resp.StatusCode}
	}
	if err := json.Unmarshal(body, v); err != nil {
		debug.Log(debug.OAuth, "malformed profile payload",
			"provider", provider, "stage", stage, "body", debug.Body(debug.OAuth, body))
		return &ExchangeError{Provider: provider, Stage: stage, Status: resp.StatusCode, Err: errors.New("malformed payload")}
	}
	return nil
}

// flexBool accepts both JSON booleans and the strings "true"/"false",
// since some providers send email_verified as a string.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*b = flexBool(t)
	case string:
		parsed, err := strconv.ParseBool(t)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", t)
		}
		*b = flexBool(parsed)
	case nil:
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

func fetchGoogleProfile(ctx context.Context, p *OAuth2Provider, client *http.Client) (*Profile, error) {
	var info struct {
		Sub           string   `json:"sub"`
		Email         string   `json:"email"`
		EmailVerified flexBool `json:"email_verified"`
		Name          string   `json:"name"`
		Picture       string   `json:"picture"`
	}
	if err := getJSON(ctx, client, p.name, StageProfile, p.userInfoURL, &info); err != nil {
		return nil, err
	}
	return &Profile{
		AccountID:     info.Sub,
		Email:         info.Email,
		EmailVerified: bool(info.EmailVerified),
		Name:          info.Name,
		AvatarURL:     info.Picture,
	}, nil
}

func fetchGitHubProfile(ctx context.Context, p *OAuth2Provider, client *http.Client) (*Profile, error) {
	var user struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := getJSON(ctx, client, p.name, StageProfile, p.userInfoURL, &user); err != nil {
		return nil, err
	}

	// The public profile email is optional and carries no verification
	// state; the emails endpoint is authoritative.
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := getJSON(ctx, client, p.name, StageEmails, p.emailsURL, &emails); err != nil {
		return nil, err
	}

	profile := &Profile{
		Name:      user.Name,
		AvatarURL: user.AvatarURL,
	}
	if user.ID != 0 {
		profile.AccountID = strconv.FormatInt(user.ID, 10)
	}
	if profile.Name == "" {
		profile.Name = user.Login
	}
	for _, e := range emails {
		if e.Primary {
			profile.Email = e.Email
			profile.EmailVerified = e.Verified
			break
		}
	}
	return profile, nil
}
