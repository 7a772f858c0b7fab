package securestore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by a Backend when the key has no live record.
	ErrNotFound = errors.New("securestore: not found")
)

// Record keys. Each logical record is independently readable and clearable.
const (
	KeyToken          = "oauth_token"
	KeyCredentials    = "oauth_credentials"
	KeyDeviceIdentity = "device_identity"
	KeyDeviceJWT      = "device_ttp_jwt"
)

// Backend is a raw, app-private key/value store. Concrete drivers (memory,
// sqlite, redis) implement this. Values handed to a Backend are already
// sealed, so drivers never see plaintext credentials.
type Backend interface {
	// Get returns the value for key or ErrNotFound when it is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put upserts value. A ttl <= 0 means the record never expires.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any underlying resources.
	Close() error
}

// Purger is implemented by backends that cannot expire records on their own
// and need periodic housekeeping.
type Purger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}
