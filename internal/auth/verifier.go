// Package auth verifies bearer tokens on the watch management endpoints
// against a remote JWKS.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Caller is the authenticated principal behind a management request.
type Caller struct {
	Subject string `json:"subject"`
	Email   string `json:"email"`
}

// Verifier validates JWTs with a cached JWKS so the hot path never blocks
// on a key fetch.
type Verifier struct {
	jwksURL    string
	cache      *jwk.Cache
	keySet     jwk.Set
	mu         sync.RWMutex
	refreshTTL time.Duration
}

// NewVerifier registers the JWKS URL, warms the key cache and starts a
// background refresh loop.
func NewVerifier(jwksURL string) (*Verifier, error) {
	v := &Verifier{
		jwksURL:    jwksURL,
		refreshTTL: 5 * time.Minute,
	}

	cache := jwk.NewCache(context.Background())
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(v.refreshTTL)); err != nil {
		return nil, fmt.Errorf("register JWKS URL: %w", err)
	}
	v.cache = cache

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	keySet, err := v.fetchKeySet(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial JWKS fetch: %w", err)
	}
	v.keySet = keySet

	go v.backgroundRefresh()

	return v, nil
}

func (v *Verifier) fetchKeySet(ctx context.Context) (jwk.Set, error) {
	keySet, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return jwk.Fetch(ctx, v.jwksURL)
	}
	return keySet, nil
}

func (v *Verifier) backgroundRefresh() {
	ticker := time.NewTicker(v.refreshTTL)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		keySet, err := v.fetchKeySet(ctx)
		cancel()
		if err != nil {
			continue // stale keys stay usable until the next tick
		}
		v.mu.Lock()
		v.keySet = keySet
		v.mu.Unlock()
	}
}

func (v *Verifier) keys() jwk.Set {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.keySet
}

// CallerFromRequest validates the Authorization header and returns the
// token's principal. jwt.ParseRequest strips the "Bearer " prefix itself.
func (v *Verifier) CallerFromRequest(r *http.Request) (*Caller, error) {
	token, err := jwt.ParseRequest(
		r,
		jwt.WithKeySet(v.keys()),
		jwt.WithValidate(true),
	)
	if err != nil {
		return nil, fmt.Errorf("parse bearer token: %w", err)
	}

	subject := token.Subject()
	if subject == "" {
		return nil, fmt.Errorf("token missing subject")
	}

	var email string
	if claim, ok := token.Get("email"); ok {
		email, _ = claim.(string)
	}

	return &Caller{Subject: subject, Email: email}, nil
}
