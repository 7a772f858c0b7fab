// Package session holds the in-memory view of "am I authenticated right now".
// The secure store is a best-effort mirror; this cache is authoritative for
// the lifetime of the process.
package session

import (
	"sync"
	"time"

	"github.com/aussiebroadwan/arise/pkg/domain"
)

// Cache stores the current credentials and token.
type Cache struct {
	mu          sync.RWMutex
	credentials *domain.Credentials
	token       *domain.StoredToken
}

func New() *Cache { return &Cache{} }

// SetToken replaces the current token.
func (c *Cache) SetToken(t domain.StoredToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = &t
}

// SetCredentials replaces the current credentials.
func (c *Cache) SetCredentials(clientID, clientSecret string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credentials = &domain.Credentials{ClientID: clientID, ClientSecret: clientSecret}
}

// ClearToken drops the token but keeps credentials for a later re-authentication.
func (c *Cache) ClearToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = nil
}

// Clear drops everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = nil
	c.credentials = nil
}

// Token returns a copy of the current token, or nil.
func (c *Cache) Token() *domain.StoredToken {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == nil {
		return nil
	}
	t := *c.token
	return &t
}

// Credentials returns a copy of the current credentials, or nil.
func (c *Cache) Credentials() *domain.Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.credentials == nil {
		return nil
	}
	creds := *c.credentials
	return &creds
}

// CurrentAccessToken returns the access token if one is cached and still valid
// at now. It never triggers a refresh.
func (c *Cache) CurrentAccessToken(now time.Time) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == nil || !c.token.IsValid(now) {
		return "", false
	}
	return c.token.AccessToken, true
}
