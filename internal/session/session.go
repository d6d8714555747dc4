// Package session wraps the external identity provider session: the
// current identity, its bearer credential, and change notifications.
// Token issuance and refresh happen outside this program; the adapter
// only holds what the provider handed over.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/domain"
)

// ErrAuthExpired means the bearer credential is missing or was rejected.
// The funnel restarts from Anonymous; the user must re-authenticate with
// the provider.
var ErrAuthExpired = errors.New("bearer credential missing or rejected")

// TokenSource yields the current bearer credential. Implementations may
// refresh it behind the scenes.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a TokenSource for a fixed token.
func StaticTokenSource(token string) TokenSource {
	return staticToken(token)
}

type staticToken string

func (t staticToken) Token(ctx context.Context) (string, error) {
	if t == "" {
		return "", ErrAuthExpired
	}
	return string(t), nil
}

// Adapter is the identity session adapter. It is deliberately thin: the
// identity hint it derives from the token is display/scoping material,
// never an authorization input — the server re-verifies every request.
type Adapter struct {
	mu       sync.Mutex
	token    string
	identity *domain.Identity
	onChange func(*domain.Identity)
}

// NewAdapter creates an empty (signed out) adapter.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// OnIdentityChange registers the identity-change callback. It fires with
// the current identity (possibly nil) immediately so subscribers start in
// a consistent state.
func (a *Adapter) OnIdentityChange(fn func(*domain.Identity)) {
	a.mu.Lock()
	a.onChange = fn
	id := a.identity
	a.mu.Unlock()
	fn(id)
}

// SetToken installs a fresh bearer credential and notifies subscribers.
func (a *Adapter) SetToken(token string) {
	a.mu.Lock()
	a.token = token
	a.identity = IdentityHintFromToken(token)
	fn := a.onChange
	id := a.identity
	a.mu.Unlock()
	if fn != nil {
		fn(id)
	}
}

// SignOut drops the credential and notifies subscribers with nil.
func (a *Adapter) SignOut() {
	a.mu.Lock()
	a.token = ""
	a.identity = nil
	fn := a.onChange
	a.mu.Unlock()
	if fn != nil {
		fn(nil)
	}
}

// Current returns the current identity hint, or nil when signed out.
func (a *Adapter) Current() *domain.Identity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity
}

// Token implements TokenSource.
func (a *Adapter) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token == "" {
		return "", ErrAuthExpired
	}
	return a.token, nil
}

// IdentityHintFromToken decodes the claims segment of a provider JWT
// without verifying it. Good enough for greeting the user and scoping the
// local cache; worthless as authority, which is the point.
func IdentityHintFromToken(token string) *domain.Identity {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil
	}
	var claims struct {
		Email         string `json:"email"`
		Name          string `json:"name"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Email == "" {
		return nil
	}
	return &domain.Identity{
		Email:         claims.Email,
		Name:          claims.Name,
		EmailVerified: claims.EmailVerified,
	}
}
