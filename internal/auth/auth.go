// Package auth verifies bearer tokens against the identity provider's
// REST lookup endpoint and injects the verified principal into the
// request context.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/domain"
)

const verdictTTL = 5 * time.Minute

// ErrInvalidToken covers missing, malformed, expired and revoked tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

type contextKey int

const identityKey contextKey = iota

// IdentityFromContext extracts the verified identity, or nil.
func IdentityFromContext(ctx context.Context) *domain.Identity {
	if v, ok := ctx.Value(identityKey).(*domain.Identity); ok {
		return v
	}
	return nil
}

// WithIdentity returns a context carrying the identity. Exported for
// handler tests.
func WithIdentity(ctx context.Context, id *domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

type cachedVerdict struct {
	identity domain.Identity
	expires  time.Time
}

// Verifier checks ID tokens against the provider's accounts:lookup
// endpoint. Verdicts are cached briefly so a chatty client does not
// turn every streamed message into a provider round trip.
type Verifier struct {
	lookupURL string
	apiKey    string
	httpc     *http.Client

	mu    sync.Mutex
	cache map[string]cachedVerdict
}

// NewVerifier creates a token verifier. lookupURL is the provider's
// accounts:lookup endpoint; apiKey is appended as the key query param.
func NewVerifier(lookupURL, apiKey string, httpc *http.Client) *Verifier {
	if httpc == nil {
		httpc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Verifier{
		lookupURL: lookupURL,
		apiKey:    apiKey,
		httpc:     httpc,
		cache:     make(map[string]cachedVerdict),
	}
}

type lookupResponse struct {
	Users []struct {
		Email         string `json:"email"`
		DisplayName   string `json:"displayName"`
		EmailVerified bool   `json:"emailVerified"`
	} `json:"users"`
}

// Verify resolves a raw ID token to a verified identity.
func (v *Verifier) Verify(ctx context.Context, token string) (*domain.Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	v.mu.Lock()
	if entry, ok := v.cache[token]; ok && time.Now().Before(entry.expires) {
		id := entry.identity
		v.mu.Unlock()
		return &id, nil
	}
	v.mu.Unlock()

	body, err := json.Marshal(map[string]string{"idToken": token})
	if err != nil {
		return nil, fmt.Errorf("marshal lookup request: %w", err)
	}

	url := v.lookupURL
	if v.apiKey != "" {
		url += "?key=" + v.apiKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// The provider answers 400 for expired and malformed tokens alike.
		return nil, ErrInvalidToken
	}

	var lookup lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&lookup); err != nil {
		return nil, fmt.Errorf("decode lookup response: %w", err)
	}
	if len(lookup.Users) == 0 || lookup.Users[0].Email == "" {
		return nil, ErrInvalidToken
	}

	identity := domain.Identity{
		Email:         strings.ToLower(lookup.Users[0].Email),
		Name:          lookup.Users[0].DisplayName,
		EmailVerified: lookup.Users[0].EmailVerified,
	}

	v.mu.Lock()
	v.cache[token] = cachedVerdict{identity: identity, expires: time.Now().Add(verdictTTL)}
	// Lazy eviction keeps the map bounded without a background goroutine.
	for k, entry := range v.cache {
		if time.Now().After(entry.expires) {
			delete(v.cache, k)
		}
	}
	v.mu.Unlock()

	return &identity, nil
}

// Middleware enforces bearer authentication and injects the identity.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				unauthorized(w, "missing or invalid Authorization header")
				return
			}

			identity, err := v.Verify(r.Context(), token)
			if err != nil {
				if !errors.Is(err, ErrInvalidToken) {
					slog.Warn("token verification failed", "error", err)
				}
				unauthorized(w, "invalid authentication")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
