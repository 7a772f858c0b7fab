package arise

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/arise/pkg/api"
	"github.com/aussiebroadwan/arise/pkg/cryptox"
	"github.com/aussiebroadwan/arise/pkg/device"
	"github.com/aussiebroadwan/arise/pkg/domain"
	"github.com/aussiebroadwan/arise/pkg/metrics"
	"github.com/aussiebroadwan/arise/pkg/securestore"
	"github.com/aussiebroadwan/arise/pkg/session"
	"github.com/aussiebroadwan/arise/pkg/slogx"
	"github.com/aussiebroadwan/arise/pkg/taptopay"
	"github.com/aussiebroadwan/arise/pkg/token"
)

// SDK owns every component of one SDK instance. Build it with New and
// release it with Close.
type SDK struct {
	logger *slog.Logger

	backend     securestore.Backend
	housekeeper *securestore.Housekeeper
	store       *securestore.CredentialStore
	session     *session.Cache

	client   *api.Client
	api      *api.Authorized
	tokens   *token.Orchestrator
	identity *device.Provider
	ttp      *taptopay.Service
}

// New opens the secure store and wires the session cache, backend client,
// token orchestrator and device identity. Tap to Pay is wired when
// cfg.Reader is set.
func New(ctx context.Context, cfg Config) (*SDK, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := slogx.OrDefault(cfg.Logger)
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	var m *metrics.Metrics
	if cfg.Registerer != nil {
		var err error
		if m, err = metrics.New(cfg.Registerer); err != nil {
			return nil, err
		}
	}

	sealer, ephemeral, err := cryptox.LoadSealer(cfg.Store.MasterKeyPath)
	if err != nil {
		return nil, err
	}
	if ephemeral && cfg.Store.Driver != "" && cfg.Store.Driver != StoreMemory {
		logger.Warn("no master key configured, persisted credentials will not survive a restart",
			slog.String("driver", string(cfg.Store.Driver)))
	}

	backend, err := OpenStore(ctx, cfg.Store, now)
	if err != nil {
		return nil, err
	}

	s := &SDK{
		logger:      logger,
		backend:     backend,
		housekeeper: startHousekeeping(backend, logger, cfg.Store.HousekeepingInterval),
		store:       securestore.New(backend, sealer, now),
		session:     session.New(),
	}

	s.client = api.NewClient(cfg.BaseURL,
		api.WithTimeout(cfg.HTTPTimeout),
		api.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		api.WithLogger(logger),
	)
	s.tokens = token.New(s.client, s.session, s.store,
		token.WithLogger(logger),
		token.WithMetrics(m),
		token.WithClock(now),
	)
	s.api = api.NewAuthorized(s.client, s.tokens)
	s.identity = device.NewProvider(s.store, cfg.Device.Model, logger)
	s.tokens.SetRegistrar(device.Registrar{Provider: s.identity, API: s.api})

	if cfg.Reader != nil {
		s.ttp, err = taptopay.New(taptopay.Config{
			Reader:             cfg.Reader,
			Platform:           cfg.platform(),
			Backend:            s.api,
			Identity:           s.identity,
			Store:              s.store,
			Logger:             logger,
			Metrics:            m,
			Now:                now,
			PerformanceLogging: cfg.PerformanceLogging,
		})
		if err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	return s, nil
}

// Authenticate exchanges client credentials for a token and registers the
// device in the background.
func (s *SDK) Authenticate(ctx context.Context, clientID, clientSecret string) (*domain.AuthenticationResult, error) {
	return s.tokens.Authenticate(ctx, clientID, clientSecret)
}

// GetAccessToken returns a valid access token, refreshing it when expired.
func (s *SDK) GetAccessToken(ctx context.Context) (string, bool) {
	return s.tokens.GetAccessToken(ctx)
}

// RefreshToken forces a token refresh.
func (s *SDK) RefreshToken(ctx context.Context) (*domain.AuthenticationResult, error) {
	return s.tokens.RefreshToken(ctx)
}

// Logout forgets the token, the credentials and any Tap to Pay session. The
// device identity is kept.
func (s *SDK) Logout(ctx context.Context) {
	s.tokens.Logout(ctx)
	if s.ttp != nil {
		s.ttp.Reset(ctx)
	}
}

// DeviceID returns the persistent device identifier.
func (s *SDK) DeviceID(ctx context.Context) string {
	return s.identity.GetDeviceIdentifier(ctx)
}

// API returns the authorized backend client.
func (s *SDK) API() *api.Authorized { return s.api }

// Tokens returns the token orchestrator.
func (s *SDK) Tokens() *token.Orchestrator { return s.tokens }

// TapToPay returns the Tap to Pay service. It fails when the SDK was built
// without a reader.
func (s *SDK) TapToPay() (*taptopay.Service, error) {
	if s.ttp == nil {
		return nil, domain.ErrSDKNotInitialized
	}
	return s.ttp, nil
}

// Close ends event streams, waits for background registration and releases
// the secure store.
func (s *SDK) Close() error {
	if s.ttp != nil {
		s.ttp.Teardown(context.Background())
	}
	if err := s.tokens.WaitBackground(); err != nil {
		s.logger.Debug("background tasks finished with errors", slog.Any("error", err))
	}
	if s.housekeeper != nil {
		s.housekeeper.Stop()
	}
	return s.backend.Close()
}
