package securestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/arise/pkg/cryptox"
	"github.com/aussiebroadwan/arise/pkg/domain"
)

// CredentialStore persists the SDK's four logical records on top of a
// Backend. Every record is JSON encoded and sealed with AES-GCM, so a tampered
// or foreign record fails to open instead of being trusted.
//
// Writes may fail (storage unavailable, entitlement missing). Callers log and
// swallow those failures; the in-memory session stays authoritative.
type CredentialStore struct {
	backend Backend
	sealer  *cryptox.Sealer
	now     func() time.Time
}

// New creates a CredentialStore. now defaults to time.Now.
func New(backend Backend, sealer *cryptox.Sealer, now func() time.Time) *CredentialStore {
	if now == nil {
		now = time.Now
	}
	return &CredentialStore{backend: backend, sealer: sealer, now: now}
}

// Backend exposes the underlying driver (for Ping/Close and housekeeping).
func (s *CredentialStore) Backend() Backend { return s.backend }

// ============================================================================
// OAuth token
// ============================================================================

// Save persists the OAuth token.
func (s *CredentialStore) Save(ctx context.Context, token domain.StoredToken) error {
	return s.put(ctx, KeyToken, token, 0)
}

// Load returns the persisted token, or nil when none is stored.
func (s *CredentialStore) Load(ctx context.Context) (*domain.StoredToken, error) {
	var token domain.StoredToken
	ok, err := s.get(ctx, KeyToken, &token)
	if !ok {
		return nil, err
	}
	return &token, nil
}

// Clear removes the persisted token. Credentials are left untouched.
func (s *CredentialStore) Clear(ctx context.Context) error {
	return s.delete(ctx, KeyToken)
}

// ============================================================================
// Credentials
// ============================================================================

// SaveCredentials persists the client credentials.
func (s *CredentialStore) SaveCredentials(ctx context.Context, clientID, clientSecret string) error {
	return s.put(ctx, KeyCredentials, domain.Credentials{ClientID: clientID, ClientSecret: clientSecret}, 0)
}

// LoadCredentials returns the persisted credentials, or nil when none are stored.
func (s *CredentialStore) LoadCredentials(ctx context.Context) (*domain.Credentials, error) {
	var creds domain.Credentials
	ok, err := s.get(ctx, KeyCredentials, &creds)
	if !ok {
		return nil, err
	}
	return &creds, nil
}

// ClearCredentials removes the persisted credentials (logout).
func (s *CredentialStore) ClearCredentials(ctx context.Context) error {
	return s.delete(ctx, KeyCredentials)
}

// ============================================================================
// Device JWT
// ============================================================================

// SaveDeviceJwt persists the device JWT until expiresAt. An already expired
// token is not written and any previous one is removed.
func (s *CredentialStore) SaveDeviceJwt(ctx context.Context, token string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return s.ClearDeviceJwt(ctx)
	}
	return s.put(ctx, KeyDeviceJWT, domain.DeviceJwtToken{Token: token, ExpiresAt: expiresAt}, ttl)
}

// LoadDeviceJwt returns the persisted device JWT, or nil when it is absent or
// expired.
func (s *CredentialStore) LoadDeviceJwt(ctx context.Context) (*domain.DeviceJwtToken, error) {
	var jwt domain.DeviceJwtToken
	ok, err := s.get(ctx, KeyDeviceJWT, &jwt)
	if !ok {
		return nil, err
	}
	if !jwt.IsValid(s.now()) {
		return nil, nil
	}
	return &jwt, nil
}

// ClearDeviceJwt removes the persisted device JWT.
func (s *CredentialStore) ClearDeviceJwt(ctx context.Context) error {
	return s.delete(ctx, KeyDeviceJWT)
}

// ============================================================================
// Device identity
// ============================================================================

type deviceIdentityRecord struct {
	DeviceID string `json:"deviceId"`
}

// SaveDeviceIdentity persists the installation's device identifier.
func (s *CredentialStore) SaveDeviceIdentity(ctx context.Context, deviceID string) error {
	return s.put(ctx, KeyDeviceIdentity, deviceIdentityRecord{DeviceID: deviceID}, 0)
}

// LoadDeviceIdentity returns the persisted identifier, or "" when none exists.
func (s *CredentialStore) LoadDeviceIdentity(ctx context.Context) (string, error) {
	var rec deviceIdentityRecord
	ok, err := s.get(ctx, KeyDeviceIdentity, &rec)
	if !ok {
		return "", err
	}
	return rec.DeviceID, nil
}

// ============================================================================
// Helpers
// ============================================================================

func (s *CredentialStore) put(ctx context.Context, key string, v any, ttl time.Duration) error {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("securestore: encode %s: %w", key, err)
	}

	sealed, err := s.sealer.Seal(key, plaintext)
	if err != nil {
		return fmt.Errorf("securestore: seal %s: %w", key, err)
	}

	if err := s.backend.Put(ctx, key, sealed, ttl); err != nil {
		return fmt.Errorf("securestore: put %s: %w", key, err)
	}
	return nil
}

// get reports ok=false with a nil error when the record does not exist.
func (s *CredentialStore) get(ctx context.Context, key string, v any) (bool, error) {
	sealed, err := s.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("securestore: get %s: %w", key, err)
	}

	plaintext, err := s.sealer.Open(key, sealed)
	if err != nil {
		return false, fmt.Errorf("securestore: open %s: %w", key, err)
	}

	if err := json.Unmarshal(plaintext, v); err != nil {
		return false, fmt.Errorf("securestore: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *CredentialStore) delete(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("securestore: delete %s: %w", key, err)
	}
	return nil
}
