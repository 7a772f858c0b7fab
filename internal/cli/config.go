package cli

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/aussiebroadwan/arise/pkg/arise"
	"github.com/aussiebroadwan/arise/pkg/domain"
)

// Config is the CLI configuration. Values come from, lowest first: defaults,
// the YAML profile, the environment (including .env) and command-line flags.
type Config struct {
	BaseURL     string        `yaml:"base_url"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	RateLimit   float64       `yaml:"rate_limit"`
	RateBurst   int           `yaml:"rate_burst"`

	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	Store  StoreConfig  `yaml:"store"`
	Device DeviceConfig `yaml:"device"`

	PerformanceLogging bool `yaml:"performance_logging"`

	Env       string `yaml:"env"`        // dev, staging, prod
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // json, text
}

type StoreConfig struct {
	Driver        string `yaml:"driver"` // memory, sqlite, redis
	DSN           string `yaml:"dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
	MasterKeyPath string `yaml:"master_key_path"`
}

type DeviceConfig struct {
	Model       string `yaml:"model"`
	OSVersion   string `yaml:"os_version"`
	Location    string `yaml:"location"` // granted, denied, undetermined
	Entitlement bool   `yaml:"entitlement"`
}

func defaultConfig() Config {
	return Config{
		BaseURL:     "http://localhost:8080",
		HTTPTimeout: 10 * time.Second,
		Store: StoreConfig{
			Driver: string(arise.StoreSQLite),
			DSN:    arise.DefaultSQLiteDSN,
		},
		Device: DeviceConfig{
			Model:       "iPhone15,2",
			OSVersion:   "18.1",
			Location:    string(domain.LocationGranted),
			Entitlement: true,
		},
		Env:       "dev",
		LogLevel:  "warn",
		LogFormat: "text",
	}
}

// LoadConfig builds the configuration. path is an optional YAML profile.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load(".env")

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.BaseURL = getEnvOrDefault("ARISE_BASE_URL", cfg.BaseURL)
	cfg.HTTPTimeout = getEnvDurationOrDefault("ARISE_HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.RateLimit = getEnvFloatOrDefault("ARISE_RATE_LIMIT", cfg.RateLimit)
	cfg.RateBurst = getEnvIntOrDefault("ARISE_RATE_BURST", cfg.RateBurst)
	cfg.ClientID = getEnvOrDefault("ARISE_CLIENT_ID", cfg.ClientID)
	cfg.ClientSecret = getEnvOrDefault("ARISE_CLIENT_SECRET", cfg.ClientSecret)

	cfg.Store.Driver = getEnvOrDefault("ARISE_STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.DSN = getEnvOrDefault("ARISE_STORE_DSN", cfg.Store.DSN)
	cfg.Store.RedisAddr = getEnvOrDefault("ARISE_REDIS_ADDR", cfg.Store.RedisAddr)
	cfg.Store.RedisPassword = getEnvOrDefault("ARISE_REDIS_PASSWORD", cfg.Store.RedisPassword)
	cfg.Store.RedisDB = getEnvIntOrDefault("ARISE_REDIS_DB", cfg.Store.RedisDB)
	cfg.Store.RedisPrefix = getEnvOrDefault("ARISE_REDIS_PREFIX", cfg.Store.RedisPrefix)
	cfg.Store.MasterKeyPath = getEnvOrDefault("ARISE_MASTER_KEY_PATH", cfg.Store.MasterKeyPath)

	cfg.Device.Model = getEnvOrDefault("ARISE_DEVICE_MODEL", cfg.Device.Model)
	cfg.Device.OSVersion = getEnvOrDefault("ARISE_OS_VERSION", cfg.Device.OSVersion)
	cfg.Device.Location = getEnvOrDefault("ARISE_LOCATION_PERMISSION", cfg.Device.Location)
	cfg.Device.Entitlement = getEnvBoolOrDefault("ARISE_TTP_ENTITLEMENT", cfg.Device.Entitlement)
	cfg.PerformanceLogging = getEnvBoolOrDefault("ARISE_PERFORMANCE_LOGGING", cfg.PerformanceLogging)

	cfg.Env = getEnvOrDefault("ENV", cfg.Env)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnvOrDefault("LOG_FORMAT", cfg.LogFormat)

	return cfg, nil
}

// SDKConfig maps the CLI configuration onto the SDK's.
func (c Config) SDKConfig() arise.Config {
	return arise.Config{
		BaseURL:     c.BaseURL,
		HTTPTimeout: c.HTTPTimeout,
		RateLimit:   c.RateLimit,
		RateBurst:   c.RateBurst,
		Store: arise.StoreConfig{
			Driver:        arise.StoreDriver(c.Store.Driver),
			DSN:           c.Store.DSN,
			RedisAddr:     c.Store.RedisAddr,
			RedisPassword: c.Store.RedisPassword,
			RedisDB:       c.Store.RedisDB,
			RedisPrefix:   c.Store.RedisPrefix,
			MasterKeyPath: c.Store.MasterKeyPath,
		},
		Device: arise.DeviceConfig{
			Model:                c.Device.Model,
			OSVersion:            c.Device.OSVersion,
			LocationPermission:   domain.ParseLocationPermission(c.Device.Location),
			EntitlementAvailable: c.Device.Entitlement,
		},
		PerformanceLogging: c.PerformanceLogging,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "10s", "1m")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
