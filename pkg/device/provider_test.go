package device_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aussiebroadwan/arise/pkg/api"
	"github.com/aussiebroadwan/arise/pkg/api/apitest"
	"github.com/aussiebroadwan/arise/pkg/cryptox"
	"github.com/aussiebroadwan/arise/pkg/device"
	"github.com/aussiebroadwan/arise/pkg/domain"
	"github.com/aussiebroadwan/arise/pkg/idx"
	"github.com/aussiebroadwan/arise/pkg/securestore"
	"github.com/aussiebroadwan/arise/pkg/securestore/drivers/memory"
	"github.com/aussiebroadwan/arise/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *securestore.CredentialStore {
	t.Helper()
	sealer, err := cryptox.NewSealer([]byte("device-tests"))
	require.NoError(t, err)
	return securestore.New(memory.New(0), sealer, nil)
}

// fakeStore counts calls and can fail reads or writes.
type fakeStore struct {
	mu      sync.Mutex
	id      string
	loadErr error
	saveErr error
	saves   int
	loads   int
}

func (s *fakeStore) LoadDeviceIdentity(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	return s.id, s.loadErr
}

func (s *fakeStore) SaveDeviceIdentity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.id = id
	return nil
}

func TestGetDeviceIdentifier_StableAndCanonical(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	ctx := context.Background()

	p := device.NewProvider(store, "iPhone15,2", slogx.Discard())
	first := p.GetDeviceIdentifier(ctx)
	second := p.GetDeviceIdentifier(ctx)

	require.Equal(t, first, second)
	require.True(t, idx.IsCanonicalDeviceID(first))

	// A new provider (next process) reads the same identity back
	persisted, err := store.LoadDeviceIdentity(ctx)
	require.NoError(t, err)
	require.Equal(t, first, persisted)
	require.Equal(t, first, device.NewProvider(store, "iPhone15,2", slogx.Discard()).GetDeviceIdentifier(ctx))
}

func TestGetDeviceIdentifier_NormalisesStoredValue(t *testing.T) {
	t.Parallel()
	store := &fakeStore{id: "3F2C1D4E-1B2A-4C3D-8E9F-0A1B2C3D4E5F"}

	p := device.NewProvider(store, "", slogx.Discard())
	require.Equal(t, "3f2c1d4e-1b2a-4c3d-8e9f-0a1b2c3d4e5f", p.GetDeviceIdentifier(context.Background()))
	require.Zero(t, store.saves)
}

func TestGetDeviceIdentifier_MalformedRecordIsNotOverwritten(t *testing.T) {
	t.Parallel()
	store := &fakeStore{id: "not-a-uuid"}

	p := device.NewProvider(store, "", slogx.Discard())
	id := p.GetDeviceIdentifier(context.Background())
	require.True(t, idx.IsCanonicalDeviceID(id))
	require.Equal(t, id, p.GetDeviceIdentifier(context.Background()))
	require.Equal(t, "not-a-uuid", store.id)
	require.Zero(t, store.saves)
	require.Equal(t, 1, store.loads)
}

func TestGetDeviceIdentifier_SaveFailureStillReturnsID(t *testing.T) {
	t.Parallel()
	store := &fakeStore{saveErr: errors.New("keychain locked")}
	ctx := context.Background()

	p := device.NewProvider(store, "", slogx.Discard())
	id := p.GetDeviceIdentifier(ctx)
	require.True(t, idx.IsCanonicalDeviceID(id))
	require.Equal(t, id, p.GetDeviceIdentifier(ctx))
	require.Equal(t, 1, store.saves)
}

func TestGetDeviceIdentifier_UnreadableStoreIsNotOverwritten(t *testing.T) {
	t.Parallel()
	store := &fakeStore{id: "ignored", loadErr: errors.New("storage unavailable")}
	ctx := context.Background()

	p := device.NewProvider(store, "", slogx.Discard())
	id := p.GetDeviceIdentifier(ctx)
	require.True(t, idx.IsCanonicalDeviceID(id))
	require.Equal(t, id, p.GetDeviceIdentifier(ctx))
	require.Zero(t, store.saves)
	require.Equal(t, 1, store.loads)
}

func TestGetDeviceIdentifier_Concurrent(t *testing.T) {
	t.Parallel()
	p := device.NewProvider(newStore(t), "", slogx.Discard())

	ids := make([]string, 16)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = p.GetDeviceIdentifier(context.Background())
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
}

func TestGetDeviceName(t *testing.T) {
	t.Parallel()
	require.Equal(t, "iPhone16,1", device.NewProvider(&fakeStore{}, "iPhone16,1", nil).GetDeviceName())
	require.Equal(t, "unknown", device.NewProvider(&fakeStore{}, "", nil).GetDeviceName())
}

type bearer string

func (b bearer) GetAccessToken(context.Context) (string, bool) { return string(b), true }
func (b bearer) RefreshToken(context.Context) (*domain.AuthenticationResult, error) {
	return nil, domain.ErrNotAuthenticated
}

func TestRegistrar(t *testing.T) {
	t.Parallel()
	b := apitest.New()
	t.Cleanup(b.Close)
	b.Accept("A")

	p := device.NewProvider(newStore(t), "iPhone15,2", slogx.Discard())
	reg := device.Registrar{
		Provider: p,
		API:      api.NewAuthorized(api.NewClient(b.URL(), api.WithLogger(slogx.Discard())), bearer("A")),
	}

	require.NoError(t, reg.Register(context.Background()))
	require.True(t, b.DeviceRegistered(p.GetDeviceIdentifier(context.Background())))
}
