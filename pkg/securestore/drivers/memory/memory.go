package memory

import (
	"context"
	"time"

	"github.com/aussiebroadwan/arise/pkg/securestore"
	gocache "github.com/patrickmn/go-cache"
)

// Store keeps sealed records in process memory. Nothing survives a restart,
// which makes it the right driver for tests and for hosts without a
// writable data directory.
type Store struct{ c *gocache.Cache }

// New creates an in-memory store whose janitor sweeps expired records every
// cleanupInterval (defaults to one minute).
func New(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &Store{c: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, securestore.ErrNotFound
	}
	b, _ := v.([]byte)
	return append([]byte(nil), b...), nil
}

func (s *Store) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	s.c.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.c.Delete(key)
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error {
	s.c.Flush()
	return nil
}
