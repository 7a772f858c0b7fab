package arise

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/arise/pkg/securestore"
	"github.com/aussiebroadwan/arise/pkg/securestore/drivers/memory"
	"github.com/aussiebroadwan/arise/pkg/securestore/drivers/redis"
	"github.com/aussiebroadwan/arise/pkg/securestore/drivers/sqlite"
)

// OpenStore opens the backend selected by cfg. sqlite databases are
// migrated before they are returned.
func OpenStore(ctx context.Context, cfg StoreConfig, now func() time.Time) (securestore.Backend, error) {
	switch cfg.Driver {
	case "", StoreMemory:
		return memory.New(time.Minute), nil

	case StoreSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = DefaultSQLiteDSN
		}
		st, err := sqlite.NewStore(dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		if now != nil {
			st.WithClock(now)
		}
		if err := st.ApplyMigrations(); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to migrate sqlite store: %w", err)
		}
		return st, nil

	case StoreRedis:
		st, err := redis.New(ctx, redis.Config{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open redis store: %w", err)
		}
		return st, nil

	default:
		return nil, fmt.Errorf("arise: unknown store driver %q", cfg.Driver)
	}
}

// startHousekeeping purges expired records for backends that need it.
func startHousekeeping(backend securestore.Backend, logger *slog.Logger, interval time.Duration) *securestore.Housekeeper {
	purger, ok := backend.(securestore.Purger)
	if !ok {
		return nil
	}
	h := securestore.NewHousekeeper(purger, logger, interval)
	h.Start()
	return h
}
