package session_test

import (
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/arise/pkg/domain"
	"github.com/aussiebroadwan/arise/pkg/session"
	"github.com/stretchr/testify/require"
)

func TestCache_TokenLifecycle(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := session.New()

	require.Nil(t, c.Token())
	_, ok := c.CurrentAccessToken(now)
	require.False(t, ok)

	c.SetToken(domain.NewStoredToken("A", "R", "Bearer", 60, now))
	at, ok := c.CurrentAccessToken(now)
	require.True(t, ok)
	require.Equal(t, "A", at)

	_, ok = c.CurrentAccessToken(now.Add(time.Minute))
	require.False(t, ok, "expired tokens are not served")
	require.NotNil(t, c.Token(), "expired token is still visible for refresh decisions")

	c.ClearToken()
	require.Nil(t, c.Token())
}

func TestCache_ClearDropsCredentials(t *testing.T) {
	t.Parallel()
	c := session.New()

	c.SetCredentials("cid", "secret")
	c.SetToken(domain.StoredToken{AccessToken: "A"})

	c.ClearToken()
	require.Equal(t, &domain.Credentials{ClientID: "cid", ClientSecret: "secret"}, c.Credentials())

	c.Clear()
	require.Nil(t, c.Credentials())
	require.Nil(t, c.Token())
}

func TestCache_ReturnsCopies(t *testing.T) {
	t.Parallel()
	c := session.New()
	c.SetToken(domain.StoredToken{AccessToken: "A"})

	tok := c.Token()
	tok.AccessToken = "mutated"
	require.Equal(t, "A", c.Token().AccessToken)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	now := time.Now()
	c := session.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.SetToken(domain.NewStoredToken("A", "R", "Bearer", 60, now))
		}()
		go func() {
			defer wg.Done()
			_, _ = c.CurrentAccessToken(now)
			_ = c.Token()
		}()
	}
	wg.Wait()

	at, ok := c.CurrentAccessToken(now)
	require.True(t, ok)
	require.Equal(t, "A", at)
}
