package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/arise/pkg/securestore"
	"github.com/aussiebroadwan/arise/pkg/securestore/drivers/sqlite"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore(t *testing.T) (*sqlite.Store, *fakeClock) {
	t.Helper()

	s, err := sqlite.NewStore(filepath.Join(t.TempDir(), "secure.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())

	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s.WithClock(clock.Now)
	return s, clock
}

func TestSQLiteStore_PutGetDelete(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, securestore.ErrNotFound)

	require.NoError(t, s.Put(ctx, "k", []byte("one"), 0))
	require.NoError(t, s.Put(ctx, "k", []byte("two"), 0))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("two"), got)

	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))

	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, securestore.ErrNotFound)
}

func TestSQLiteStore_ExpiryAndPurge(t *testing.T) {
	s, clock := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "jwt", []byte("v"), time.Minute))
	require.NoError(t, s.Put(ctx, "forever", []byte("v"), 0))

	_, err := s.Get(ctx, "jwt")
	require.NoError(t, err)

	clock.Advance(time.Minute)

	_, err = s.Get(ctx, "jwt")
	require.ErrorIs(t, err, securestore.ErrNotFound)

	n, err := s.DeleteExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = s.Get(ctx, "forever")
	require.NoError(t, err)
}

func TestSQLiteStore_MigrationsAreIdempotent(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.ApplyMigrations())
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secure.db")
	ctx := context.Background()

	s, err := sqlite.NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.ApplyMigrations())
	require.NoError(t, s.Put(ctx, "device_identity", []byte("sealed"), 0))
	require.NoError(t, s.Close())

	s, err = sqlite.NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations())

	got, err := s.Get(ctx, "device_identity")
	require.NoError(t, err)
	require.Equal(t, []byte("sealed"), got)
}
