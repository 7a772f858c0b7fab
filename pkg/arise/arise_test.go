package arise_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aussiebroadwan/arise/pkg/api/apitest"
	"github.com/aussiebroadwan/arise/pkg/arise"
	"github.com/aussiebroadwan/arise/pkg/domain"
	"github.com/aussiebroadwan/arise/pkg/slogx"
	"github.com/aussiebroadwan/arise/pkg/taptopay"
	"github.com/aussiebroadwan/arise/pkg/taptopay/simreader"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func baseConfig(b *apitest.Backend) arise.Config {
	return arise.Config{
		BaseURL: b.URL(),
		Device: arise.DeviceConfig{
			Model:                "iPhone15,2",
			OSVersion:            "18.1",
			LocationPermission:   domain.LocationGranted,
			EntitlementAvailable: true,
		},
		Logger: slogx.Discard(),
	}
}

func newSDK(t *testing.T, cfg arise.Config) *arise.SDK {
	t.Helper()
	sdk, err := arise.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sdk.Close() })
	return sdk
}

func writeMasterKey(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "master.key")
	require.NoError(t, os.WriteFile(path, []byte("arise-test-master-key"), 0o600))
	return path
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := arise.New(context.Background(), arise.Config{})
	require.ErrorContains(t, err, "base URL")

	_, err = arise.New(context.Background(), arise.Config{
		BaseURL: "http://localhost",
		Store:   arise.StoreConfig{Driver: "etcd"},
		Logger:  slogx.Discard(),
	})
	require.ErrorContains(t, err, "etcd")
}

func TestAuthenticateRegistersDevice(t *testing.T) {
	t.Parallel()

	b := apitest.New()
	t.Cleanup(b.Close)

	cfg := baseConfig(b)
	cfg.Registerer = prometheus.NewRegistry()
	sdk := newSDK(t, cfg)
	ctx := context.Background()

	res, err := sdk.Authenticate(ctx, apitest.ClientID, apitest.ClientSecret)
	require.NoError(t, err)
	require.Equal(t, "A", res.AccessToken)

	token, ok := sdk.GetAccessToken(ctx)
	require.True(t, ok)
	require.Equal(t, "A", token)

	require.NoError(t, sdk.Tokens().WaitBackground())

	id := sdk.DeviceID(ctx)
	_, err = uuid.Parse(id)
	require.NoError(t, err)
	require.Equal(t, id, sdk.DeviceID(ctx))
	require.True(t, b.DeviceRegistered(id))
}

func TestLogout(t *testing.T) {
	t.Parallel()

	b := apitest.New()
	t.Cleanup(b.Close)

	sdk := newSDK(t, baseConfig(b))
	ctx := context.Background()

	_, err := sdk.Authenticate(ctx, apitest.ClientID, apitest.ClientSecret)
	require.NoError(t, err)
	id := sdk.DeviceID(ctx)

	sdk.Logout(ctx)

	_, ok := sdk.GetAccessToken(ctx)
	require.False(t, ok)
	require.Equal(t, id, sdk.DeviceID(ctx))

	_, err = sdk.API().GetPaymentConfiguration(ctx)
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestTapToPayRequiresReader(t *testing.T) {
	t.Parallel()

	b := apitest.New()
	t.Cleanup(b.Close)

	sdk := newSDK(t, baseConfig(b))
	_, err := sdk.TapToPay()
	require.ErrorIs(t, err, domain.ErrSDKNotInitialized)
}

func TestTapToPayEndToEnd(t *testing.T) {
	t.Parallel()

	b := apitest.New()
	t.Cleanup(b.Close)

	reader := simreader.New()
	cfg := baseConfig(b)
	cfg.Reader = reader
	sdk := newSDK(t, cfg)
	ctx := context.Background()

	_, err := sdk.Authenticate(ctx, apitest.ClientID, apitest.ClientSecret)
	require.NoError(t, err)
	require.NoError(t, sdk.Tokens().WaitBackground())

	ttp, err := sdk.TapToPay()
	require.NoError(t, err)
	require.True(t, ttp.CheckCompatibility().IsCompatible)

	require.NoError(t, ttp.Activate(ctx))
	require.True(t, b.DeviceEnabled(sdk.DeviceID(ctx)))
	require.NoError(t, ttp.Prepare(ctx))

	res, err := ttp.PerformTransaction(ctx, 42.5)
	require.NoError(t, err)
	require.Equal(t, domain.TransactionCompleted, res.Status)
	require.Equal(t, "AUD", res.CurrencyCode)

	sdk.Logout(ctx)
	require.Equal(t, taptopay.StateNotChecked, ttp.State())
	require.Equal(t, 1, reader.Calls(simreader.OpClear))
}

func TestTapToPayUsesConfiguredPlatform(t *testing.T) {
	t.Parallel()

	b := apitest.New()
	t.Cleanup(b.Close)

	cfg := baseConfig(b)
	cfg.Reader = simreader.New()
	cfg.Device.Model = "iPhone9,1"
	sdk := newSDK(t, cfg)

	ttp, err := sdk.TapToPay()
	require.NoError(t, err)
	compat := ttp.CheckCompatibility()
	require.False(t, compat.IsCompatible)
	require.False(t, compat.DeviceModelOK)
}

func TestSQLiteStoreSurvivesRestart(t *testing.T) {
	t.Parallel()

	b := apitest.New()
	t.Cleanup(b.Close)

	cfg := baseConfig(b)
	cfg.Store = arise.StoreConfig{
		Driver:        arise.StoreSQLite,
		DSN:           filepath.Join(t.TempDir(), "arise.db"),
		MasterKeyPath: writeMasterKey(t),
	}
	ctx := context.Background()

	first, err := arise.New(ctx, cfg)
	require.NoError(t, err)
	_, err = first.Authenticate(ctx, apitest.ClientID, apitest.ClientSecret)
	require.NoError(t, err)
	id := first.DeviceID(ctx)
	require.NoError(t, first.Close())

	second := newSDK(t, cfg)
	token, ok := second.GetAccessToken(ctx)
	require.True(t, ok)
	require.Equal(t, "A", token)
	require.Equal(t, id, second.DeviceID(ctx))
	require.Equal(t, 1, b.Calls(apitest.RouteToken))
}

func TestRedisStore(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	b := apitest.New()
	t.Cleanup(b.Close)

	cfg := baseConfig(b)
	cfg.Store = arise.StoreConfig{
		Driver:        arise.StoreRedis,
		RedisAddr:     mr.Addr(),
		RedisPrefix:   "pos-1:",
		MasterKeyPath: writeMasterKey(t),
	}
	sdk := newSDK(t, cfg)
	ctx := context.Background()

	_, err := sdk.Authenticate(ctx, apitest.ClientID, apitest.ClientSecret)
	require.NoError(t, err)

	keys := mr.Keys()
	require.NotEmpty(t, keys)
	for _, k := range keys {
		require.Contains(t, k, "pos-1:")
	}
}

func TestRedisStoreUnreachable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := arise.New(context.Background(), arise.Config{
		BaseURL: "http://localhost",
		Store:   arise.StoreConfig{Driver: arise.StoreRedis, RedisAddr: addr},
		Logger:  slogx.Discard(),
	})
	require.Error(t, err)
}
