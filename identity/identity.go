// Package identity adapts the hosted identity provider (Firebase Auth REST)
// into a token source for the sync layer.  The signed-in user and their
// refresh token persist in the local store so a restart stays signed in.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/israfil-hossain/mediremind/localstore"
)

const (
	defaultIdentityHost    = "identitytoolkit.googleapis.com"
	defaultSecureTokenHost = "securetoken.googleapis.com"

	storedUserMeta = "auth/user"

	// Credentials within this much of expiry are refreshed before use, so
	// most writes never see a 401 at all.
	expirySkew = 2 * time.Minute
)

var (
	ErrNotSignedIn = errors.New("no signed-in user")
)

// User is the signed-in identity as stored locally.
type User struct {
	UID          string `json:"uid"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName,omitempty"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
}

// Provider signs users in and serves bearer credentials, refreshing them when
// the identity provider reports them stale.
type Provider struct {
	store      *localstore.Store
	apiKey     string
	httpClient *http.Client

	scheme          string
	identityHost    string
	secureTokenHost string

	mu  sync.Mutex
	now func() time.Time
}

type ProviderOpt func(*Provider)

// WithHosts overrides the identity endpoints (tests).
func WithHosts(scheme, identityHost, secureTokenHost string) ProviderOpt {
	return func(p *Provider) {
		p.scheme = scheme
		p.identityHost = identityHost
		p.secureTokenHost = secureTokenHost
	}
}

func New(store *localstore.Store, apiKey string, opts ...ProviderOpt) *Provider {
	p := &Provider{
		store:           store,
		apiKey:          apiKey,
		httpClient:      &http.Client{Timeout: 15 * time.Second},
		scheme:          "https",
		identityHost:    defaultIdentityHost,
		secureTokenHost: defaultSecureTokenHost,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) loadUser() (*User, bool) {
	raw, ok, err := p.store.GetMeta(storedUserMeta)
	if err != nil || !ok {
		return nil, false
	}
	u := &User{}
	if err := json.Unmarshal(raw, u); err != nil {
		return nil, false
	}
	return u, true
}

func (p *Provider) saveUser(u *User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("while marshaling user: %w", err)
	}
	return p.store.SetMeta(storedUserMeta, raw)
}

// CurrentUser returns the stored identity, if any.
func (p *Provider) CurrentUser() (*User, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadUser()
}

// UserID returns the signed-in uid, or "" when signed out.
func (p *Provider) UserID() string {
	u, ok := p.CurrentUser()
	if !ok {
		return ""
	}
	return u.UID
}

// Token returns a bearer credential, refreshing first when the cached one is
// at or near expiry.
func (p *Provider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.loadUser()
	if !ok {
		return "", ErrNotSignedIn
	}

	if tokenFresh(u.IDToken, p.now().Add(expirySkew)) {
		return u.IDToken, nil
	}
	return p.refreshLocked(ctx, u)
}

// Refresh forces a credential refresh, returning the new token.
func (p *Provider) Refresh(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.loadUser()
	if !ok {
		return "", ErrNotSignedIn
	}
	return p.refreshLocked(ctx, u)
}

// tokenFresh reports whether the credential's exp claim is after deadline.
// The claim is read without signature verification; the remote store is the
// party that actually authenticates the token.
func tokenFresh(idToken string, deadline time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Time.After(deadline)
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
}

func (p *Provider) refreshLocked(ctx context.Context, u *User) (string, error) {
	endpoint := &url.URL{
		Scheme:   p.scheme,
		Host:     p.secureTokenHost,
		Path:     "/v1/token",
		RawQuery: url.Values{"key": {p.apiKey}}.Encode(),
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {u.RefreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("while making refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("while refreshing credential: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bad status code %d from token refresh", resp.StatusCode)
	}

	body := &refreshResponse{}
	if err := json.NewDecoder(resp.Body).Decode(body); err != nil {
		return "", fmt.Errorf("while unmarshaling refresh response: %w", err)
	}

	u.IDToken = body.IDToken
	if body.RefreshToken != "" {
		u.RefreshToken = body.RefreshToken
	}
	if err := p.saveUser(u); err != nil {
		return "", fmt.Errorf("while storing refreshed credential: %w", err)
	}

	slog.InfoContext(ctx, "Refreshed identity credential", slog.String("uid", u.UID))
	return u.IDToken, nil
}

type signInResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	Error        *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// SignInWithPassword runs the email/password sign-in flow and stores the
// resulting identity.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*User, error) {
	endpoint := &url.URL{
		Scheme:   p.scheme,
		Host:     p.identityHost,
		Path:     "/v1/accounts:signInWithPassword",
		RawQuery: url.Values{"key": {p.apiKey}}.Encode(),
	}

	payload, err := json.Marshal(map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
	if err != nil {
		return nil, fmt.Errorf("while marshaling sign-in request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("while making sign-in request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("while signing in: %w", err)
	}
	defer resp.Body.Close()

	body := &signInResponse{}
	if err := json.NewDecoder(resp.Body).Decode(body); err != nil {
		return nil, fmt.Errorf("while unmarshaling sign-in response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := "sign in failed"
		if body.Error != nil && body.Error.Message != "" {
			msg = body.Error.Message
		}
		return nil, fmt.Errorf("%s (status %d)", msg, resp.StatusCode)
	}

	u := &User{
		UID:          body.LocalID,
		Email:        body.Email,
		DisplayName:  body.DisplayName,
		IDToken:      body.IDToken,
		RefreshToken: body.RefreshToken,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.saveUser(u); err != nil {
		return nil, err
	}
	return u, nil
}

// SignOut clears the stored identity.  Callers are responsible for tearing
// down dependent sync state.
func (p *Provider) SignOut() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.DeleteMeta(storedUserMeta)
}
