package token

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/arise/pkg/api"
	"github.com/aussiebroadwan/arise/pkg/api/apitest"
	"github.com/aussiebroadwan/arise/pkg/cryptox"
	"github.com/aussiebroadwan/arise/pkg/domain"
	"github.com/aussiebroadwan/arise/pkg/metrics"
	"github.com/aussiebroadwan/arise/pkg/securestore"
	"github.com/aussiebroadwan/arise/pkg/securestore/drivers/memory"
	"github.com/aussiebroadwan/arise/pkg/session"
	"github.com/aussiebroadwan/arise/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	backend *apitest.Backend
	session *session.Cache
	store   *securestore.CredentialStore
	clock   *clock
	orch    *Orchestrator
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	b := apitest.New()
	t.Cleanup(b.Close)

	sealer, err := cryptox.NewSealer([]byte("token-tests"))
	require.NoError(t, err)

	c := &clock{now: epoch}
	store := securestore.New(memory.New(0), sealer, c.Now)
	sess := session.New()

	opts = append([]Option{WithLogger(slogx.Discard()), WithClock(c.Now)}, opts...)
	client := api.NewClient(b.URL(), api.WithLogger(slogx.Discard()))

	return &harness{
		backend: b,
		session: sess,
		store:   store,
		clock:   c,
		orch:    New(client, sess, store, opts...),
	}
}

// seed installs a token as if a previous process had authenticated.
func (h *harness) seed(t *testing.T, access, refresh string, expiresAt time.Time) {
	t.Helper()
	tok := domain.StoredToken{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer", ExpiresAt: expiresAt}
	h.session.SetToken(tok)
	h.session.SetCredentials(apitest.ClientID, apitest.ClientSecret)
	require.NoError(t, h.store.Save(context.Background(), tok))
}

type failingBackend struct{}

var errStorage = errors.New("secure storage unavailable")

func (failingBackend) Get(context.Context, string) ([]byte, error)                 { return nil, errStorage }
func (failingBackend) Put(context.Context, string, []byte, time.Duration) error { return errStorage }
func (failingBackend) Delete(context.Context, string) error                       { return errStorage }
func (failingBackend) Ping(context.Context) error                                 { return errStorage }
func (failingBackend) Close() error                                               { return nil }

type registrarFunc func(ctx context.Context) error

func (f registrarFunc) Register(ctx context.Context) error { return f(ctx) }

// ============================================================================
// End-to-end scenarios
// ============================================================================

func TestAuthenticateThenGetAccessToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	result, err := h.orch.Authenticate(ctx, apitest.ClientID, apitest.ClientSecret)
	require.NoError(t, err)
	require.Equal(t, &domain.AuthenticationResult{
		AccessToken:  "A",
		RefreshToken: "R",
		TokenType:    "Bearer",
		ExpiresIn:    3600,
		ExpiresAt:    epoch.Add(time.Hour),
	}, result)

	at, ok := h.orch.GetAccessToken(ctx)
	require.True(t, ok)
	require.Equal(t, "A", at)
	require.Equal(t, 1, h.backend.TotalCalls())

	// Mirrored to the store
	stored, err := h.store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "A", stored.AccessToken)
	creds, err := h.store.LoadCredentials(ctx)
	require.NoError(t, err)
	require.Equal(t, apitest.ClientID, creds.ClientID)
}

func TestGetAccessTokenRefreshesExpiredToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, "old", "R", epoch.Add(-time.Minute))
	h.backend.SetRefreshToken("R")

	at, ok := h.orch.GetAccessToken(context.Background())
	require.True(t, ok)
	require.Equal(t, "A1", at)
	require.Equal(t, 1, h.backend.Calls(apitest.RouteRefresh))

	// The rotated refresh token replaces the old one
	require.Equal(t, "R1", h.session.Token().RefreshToken)
	require.Equal(t, StateIdle, h.orch.State())
}

func TestGetAccessTokenWithoutRefreshTokenClearsState(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "old", "", epoch.Add(-time.Minute))

	at, ok := h.orch.GetAccessToken(ctx)
	require.False(t, ok)
	require.Empty(t, at)
	require.Zero(t, h.backend.Calls(apitest.RouteRefresh))

	stored, err := h.store.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, stored)
	require.Nil(t, h.session.Token())

	// Credentials survive so the caller can re-authenticate silently
	require.NotNil(t, h.session.Credentials())
}

// ============================================================================
// Single-flight
// ============================================================================

func TestRefreshTokenIsSingleFlight(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, "old", "R", epoch.Add(-time.Minute))
	h.backend.SetRefreshToken("R")

	release := h.backend.HoldRefresh()
	defer release()

	const n = 8
	results := make([]*domain.AuthenticationResult, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.orch.RefreshToken(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool {
		return h.orch.waiters.Load() == n && h.backend.Calls(apitest.RouteRefresh) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, StateRefreshing, h.orch.State())

	release()
	wg.Wait()

	require.Equal(t, 1, h.backend.Calls(apitest.RouteRefresh))
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, results[0], results[i])
		require.Equal(t, "A1", results[i].AccessToken)
	}
}

func TestRefreshFailureIsSharedButNotSticky(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, "old", "revoked", epoch.Add(-time.Minute))
	h.backend.SetRefreshToken("R")

	release := h.backend.HoldRefresh()
	defer release()

	const n = 4
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.orch.RefreshToken(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool {
		return h.orch.waiters.Load() == n && h.backend.Calls(apitest.RouteRefresh) == 1
	}, 2*time.Second, 5*time.Millisecond)

	release()
	wg.Wait()

	require.Equal(t, 1, h.backend.Calls(apitest.RouteRefresh))
	for i := 0; i < n; i++ {
		require.ErrorIs(t, errs[i], domain.ErrAuthentication)
		require.Same(t, errs[0], errs[i])
	}
	require.Equal(t, StateFailed, h.orch.State())

	// A later attempt starts a fresh backend call
	h.seed(t, "old", "R", epoch.Add(-time.Minute))
	result, err := h.orch.RefreshToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "A1", result.AccessToken)
	require.Equal(t, 2, h.backend.Calls(apitest.RouteRefresh))
}

func TestRefreshSurvivesCallerCancellation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, "old", "R", epoch.Add(-time.Minute))
	h.backend.SetRefreshToken("R")

	release := h.backend.HoldRefresh()
	defer release()

	impatient, cancel := context.WithCancel(context.Background())
	impatientErr := make(chan error, 1)
	go func() {
		_, err := h.orch.RefreshToken(impatient)
		impatientErr <- err
	}()

	require.Eventually(t, func() bool {
		return h.backend.Calls(apitest.RouteRefresh) == 1
	}, 2*time.Second, 5*time.Millisecond)

	patient := make(chan string, 1)
	go func() {
		at, _ := h.orch.GetAccessToken(context.Background())
		patient <- at
	}()
	require.Eventually(t, func() bool { return h.orch.waiters.Load() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-impatientErr, context.Canceled)

	release()
	require.Equal(t, "A1", <-patient)
	require.Equal(t, 1, h.backend.Calls(apitest.RouteRefresh))
	require.Equal(t, "A1", h.session.Token().AccessToken)
}

func TestGetAccessTokenClearsStateOnRefreshFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "old", "revoked", epoch.Add(-time.Minute))
	h.backend.SetRefreshToken("R")

	_, ok := h.orch.GetAccessToken(ctx)
	require.False(t, ok)
	require.Nil(t, h.session.Token())

	stored, err := h.store.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, stored)
	require.Equal(t, StateIdle, h.orch.State())

	// A known-bad refresh token is not retried
	_, ok = h.orch.GetAccessToken(ctx)
	require.False(t, ok)
	require.Equal(t, 1, h.backend.Calls(apitest.RouteRefresh))
}

// ============================================================================
// Edge policies
// ============================================================================

func TestNegativeExpiresInIsClamped(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.backend.SetTokenResponse(map[string]any{
		"accessToken": "A",
		"tokenType":   "Bearer",
		"expiresIn":   -120,
	})

	result, err := h.orch.Authenticate(context.Background(), apitest.ClientID, apitest.ClientSecret)
	require.NoError(t, err)
	require.Zero(t, result.ExpiresIn)
	require.True(t, result.ExpiresAt.Equal(epoch))
	require.True(t, h.session.Token().ExpiresAt.Equal(epoch))

	// Immediately stale and not refreshable
	_, ok := h.orch.GetAccessToken(context.Background())
	require.False(t, ok)
}

func TestHugeExpiresInSaturates(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.backend.SetTokenResponse(map[string]any{
		"accessToken":  "A",
		"refreshToken": "R",
		"tokenType":    "Bearer",
		"expiresIn":    10_000_000_000,
	})

	result, err := h.orch.Authenticate(context.Background(), apitest.ClientID, apitest.ClientSecret)
	require.NoError(t, err)
	require.True(t, result.ExpiresAt.After(epoch))

	// Served from the session without a refresh
	at, ok := h.orch.GetAccessToken(context.Background())
	require.True(t, ok)
	require.Equal(t, "A", at)
	require.Zero(t, h.backend.Calls(apitest.RouteRefresh))
}

func TestStorageFailuresAreNotFatal(t *testing.T) {
	t.Parallel()
	b := apitest.New()
	t.Cleanup(b.Close)

	sealer, err := cryptox.NewSealer([]byte("token-tests"))
	require.NoError(t, err)

	c := &clock{now: epoch}
	sess := session.New()
	orch := New(
		api.NewClient(b.URL(), api.WithLogger(slogx.Discard())),
		sess,
		securestore.New(failingBackend{}, sealer, c.Now),
		WithLogger(slogx.Discard()),
		WithClock(c.Now),
	)
	ctx := context.Background()

	_, err = orch.Authenticate(ctx, apitest.ClientID, apitest.ClientSecret)
	require.NoError(t, err)

	at, ok := orch.GetAccessToken(ctx)
	require.True(t, ok)
	require.Equal(t, "A", at)

	c.Advance(2 * time.Hour)
	result, err := orch.RefreshToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "A1", result.AccessToken)

	at, ok = orch.GetAccessToken(ctx)
	require.True(t, ok)
	require.Equal(t, "A1", at)
}

func TestColdStartHydratesFromStore(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.store.SaveCredentials(ctx, apitest.ClientID, apitest.ClientSecret))
	require.NoError(t, h.store.Save(ctx, domain.StoredToken{
		AccessToken:  "persisted",
		RefreshToken: "R",
		TokenType:    "Bearer",
		ExpiresAt:    epoch.Add(time.Minute),
	}))
	h.backend.SetRefreshToken("R")

	at, ok := h.orch.GetAccessToken(ctx)
	require.True(t, ok)
	require.Equal(t, "persisted", at)
	require.Zero(t, h.backend.TotalCalls())

	h.clock.Advance(2 * time.Minute)
	at, ok = h.orch.GetAccessToken(ctx)
	require.True(t, ok)
	require.Equal(t, "A1", at)
	require.Equal(t, &domain.Credentials{ClientID: apitest.ClientID, ClientSecret: apitest.ClientSecret}, h.session.Credentials())
}

func TestNoTokenAtAll(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, ok := h.orch.GetAccessToken(context.Background())
	require.False(t, ok)

	_, err := h.orch.RefreshToken(context.Background())
	require.ErrorIs(t, err, domain.ErrAuthentication)
	require.Zero(t, h.backend.TotalCalls())
}

func TestAuthenticatePropagatesBackendErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Authenticate(ctx, apitest.ClientID, "wrong")
	require.ErrorIs(t, err, domain.ErrAuthentication)
	require.Nil(t, h.session.Token())

	h.backend.Fail(apitest.RouteToken, 503, 1)
	_, err = h.orch.Authenticate(ctx, apitest.ClientID, apitest.ClientSecret)
	require.ErrorIs(t, err, domain.ErrServer)
}

func TestLogoutClearsEverything(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Authenticate(ctx, apitest.ClientID, apitest.ClientSecret)
	require.NoError(t, err)

	h.orch.Logout(ctx)

	require.Nil(t, h.session.Token())
	require.Nil(t, h.session.Credentials())
	creds, err := h.store.LoadCredentials(ctx)
	require.NoError(t, err)
	require.Nil(t, creds)

	_, ok := h.orch.GetAccessToken(ctx)
	require.False(t, ok)
}

func TestLogoutDuringRefreshDiscardsResult(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "old", "R", epoch.Add(-time.Minute))
	h.backend.SetRefreshToken("R")

	release := h.backend.HoldRefresh()
	defer release()

	refreshErr := make(chan error, 1)
	go func() {
		_, err := h.orch.RefreshToken(ctx)
		refreshErr <- err
	}()
	require.Eventually(t, func() bool {
		return h.backend.Calls(apitest.RouteRefresh) == 1
	}, 2*time.Second, 5*time.Millisecond)

	h.orch.Logout(ctx)
	release()

	require.ErrorIs(t, <-refreshErr, domain.ErrAuthentication)
	require.Nil(t, h.session.Token())

	stored, err := h.store.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, stored)

	_, ok := h.orch.GetAccessToken(ctx)
	require.False(t, ok)
	require.Equal(t, StateIdle, h.orch.State())
}

func TestAuthenticateDuringRefreshWins(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "old", "R", epoch.Add(-time.Minute))
	h.backend.SetRefreshToken("R")

	release := h.backend.HoldRefresh()
	defer release()

	served := make(chan string, 1)
	go func() {
		at, _ := h.orch.GetAccessToken(ctx)
		served <- at
	}()
	require.Eventually(t, func() bool {
		return h.backend.Calls(apitest.RouteRefresh) == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err := h.orch.Authenticate(ctx, apitest.ClientID, apitest.ClientSecret)
	require.NoError(t, err)
	release()

	require.Equal(t, "A", <-served)
	require.Equal(t, "A", h.session.Token().AccessToken)

	stored, err := h.store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "A", stored.AccessToken)
}

// ============================================================================
// Background registration
// ============================================================================

func TestRegistrationRunsInBackground(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	started := make(chan struct{})
	unblock := make(chan struct{})
	boom := errors.New("registration offline")

	h := newHarness(t, WithMetrics(m))
	h.orch.SetRegistrar(registrarFunc(func(ctx context.Context) error {
		close(started)
		<-unblock
		return boom
	}))

	// Authentication returns while registration is still running
	_, err = h.orch.Authenticate(context.Background(), apitest.ClientID, apitest.ClientSecret)
	require.NoError(t, err)
	<-started

	close(unblock)
	require.ErrorIs(t, h.orch.WaitBackground(), boom)
	require.NoError(t, h.orch.WaitBackground(), "errors are reported once")
}

func TestRegistrationOutlivesCallerContext(t *testing.T) {
	t.Parallel()
	done := make(chan error, 1)

	h := newHarness(t, WithRegistrar(registrarFunc(func(ctx context.Context) error {
		done <- ctx.Err()
		return nil
	})))

	ctx, cancel := context.WithCancel(context.Background())
	_, err := h.orch.Authenticate(ctx, apitest.ClientID, apitest.ClientSecret)
	require.NoError(t, err)
	cancel()

	require.NoError(t, h.orch.WaitBackground())
	require.NoError(t, <-done)
}
