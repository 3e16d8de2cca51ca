package gmailapi

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/relaykit/gmailhook/internal/mailbox"
)

// Dialer authenticates a new session for a mailbox.
type Dialer func(ctx context.Context, mb mailbox.Mailbox) (Client, error)

// SessionCache maps mailbox id to an authenticated session for the lifetime
// of the process. Sessions are built lazily on first use and never expire; an
// invalidated credential requires a restart.
//
// Concurrent lookups for the same mailbox may authenticate twice; the first
// session stored wins and the duplicate is discarded.
type SessionCache struct {
	dial     Dialer
	mu       sync.RWMutex
	sessions map[string]Client
}

// NewSessionCache creates an empty cache around the given dialer.
func NewSessionCache(dial Dialer) *SessionCache {
	return &SessionCache{dial: dial, sessions: make(map[string]Client)}
}

// For returns the cached session for the mailbox, dialing one if needed.
func (c *SessionCache) For(ctx context.Context, mb mailbox.Mailbox) (Client, error) {
	c.mu.RLock()
	client, ok := c.sessions[mb.ID]
	c.mu.RUnlock()
	if ok {
		return client, nil
	}

	client, err := c.dial(ctx, mb)
	if err != nil {
		return nil, fmt.Errorf("authenticate mailbox %s: %w", mb.ID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.sessions[mb.ID]; ok {
		return existing, nil
	}
	c.sessions[mb.ID] = client
	return client, nil
}

// ServiceAccountDialer builds sessions from a Google service-account key,
// impersonating each mailbox's address as the JWT subject.
func ServiceAccountDialer(keyJSON []byte, scopes []string) Dialer {
	if len(scopes) == 0 {
		scopes = []string{gmail.GmailReadonlyScope}
	}
	return func(ctx context.Context, mb mailbox.Mailbox) (Client, error) {
		cfg, err := google.JWTConfigFromJSON(keyJSON, scopes...)
		if err != nil {
			return nil, fmt.Errorf("parse service account key: %w", err)
		}
		cfg.Subject = mb.Email

		svc, err := gmail.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx)))
		if err != nil {
			return nil, fmt.Errorf("create gmail service: %w", err)
		}
		return NewGoogleClient(svc), nil
	}
}
