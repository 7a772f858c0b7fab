package arise

import (
	"errors"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/arise/pkg/domain"
	"github.com/aussiebroadwan/arise/pkg/taptopay"
	"github.com/prometheus/client_golang/prometheus"
)

// StoreDriver selects the secure store backend.
type StoreDriver string

const (
	StoreMemory StoreDriver = "memory"
	StoreSQLite StoreDriver = "sqlite"
	StoreRedis  StoreDriver = "redis"
)

// DefaultSQLiteDSN is used by the sqlite driver when no DSN is given.
const DefaultSQLiteDSN = "arise.db"

// StoreConfig configures the secure store.
type StoreConfig struct {
	Driver StoreDriver // default memory

	// DSN is the sqlite database path.
	DSN string

	RedisAddr     string
	RedisUsername string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// MasterKeyPath points at the key material used to seal records. Without
	// it, ARISE_MASTER_KEY is used, and failing that an ephemeral key.
	MasterKeyPath string

	// HousekeepingInterval is how often expired sqlite records are purged.
	HousekeepingInterval time.Duration
}

// DeviceConfig holds the local device facts used by the compatibility check.
type DeviceConfig struct {
	Model                string // e.g. "iPhone15,2"
	OSVersion            string // e.g. "18.1"
	LocationPermission   domain.LocationPermission
	EntitlementAvailable bool
}

// Config wires an SDK instance.
type Config struct {
	BaseURL     string
	HTTPTimeout time.Duration

	// RateLimit caps outgoing requests per second; zero disables it.
	RateLimit float64
	RateBurst int

	Store  StoreConfig
	Device DeviceConfig

	// Reader enables Tap to Pay. Platform overrides the facts in Device.
	Reader             taptopay.Reader
	Platform           taptopay.Platform
	PerformanceLogging bool

	Logger *slog.Logger

	// Registerer receives the SDK metrics. Metrics are off when nil.
	Registerer prometheus.Registerer

	Now func() time.Time
}

func (c Config) validate() error {
	if c.BaseURL == "" {
		return errors.New("arise: base URL is required")
	}
	return nil
}

func (c Config) platform() taptopay.Platform {
	if c.Platform != nil {
		return c.Platform
	}
	return taptopay.StaticPlatform{
		Model:       c.Device.Model,
		Version:     c.Device.OSVersion,
		Location:    c.Device.LocationPermission,
		Entitlement: c.Device.EntitlementAvailable,
	}
}
