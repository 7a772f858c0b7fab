package taptopay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/arise/pkg/domain"
	"github.com/aussiebroadwan/arise/pkg/metrics"
	"github.com/aussiebroadwan/arise/pkg/slogx"
	"golang.org/x/sync/singleflight"
)

const jwtKey = "device-jwt"

// JWTStore persists the device JWT. *securestore.CredentialStore implements it.
type JWTStore interface {
	SaveDeviceJwt(ctx context.Context, token string, expiresAt time.Time) error
	LoadDeviceJwt(ctx context.Context) (*domain.DeviceJwtToken, error)
	ClearDeviceJwt(ctx context.Context) error
}

// jwtCache serves the device JWT from memory, then the store, then the
// backend. Issuance is single-flight and independent of the OAuth refresh.
type jwtCache struct {
	issue   func(ctx context.Context) (*domain.DeviceJwtToken, error)
	store   JWTStore
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	group singleflight.Group

	mu    sync.Mutex
	token *domain.DeviceJwtToken

	// commitMu orders cache writes against clear. A load started before the
	// last clear does not cache or persist its result.
	commitMu   sync.Mutex
	generation uint64
}

func (c *jwtCache) cached() *domain.DeviceJwtToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil || !c.token.IsValid(c.now()) {
		return nil
	}
	t := *c.token
	return &t
}

func (c *jwtCache) set(t *domain.DeviceJwtToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = t
}

// get returns a valid device JWT.
func (c *jwtCache) get(ctx context.Context) (*domain.DeviceJwtToken, error) {
	if t := c.cached(); t != nil {
		return t, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(jwtKey, func() (any, error) {
		return c.load(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		t := *res.Val.(*domain.DeviceJwtToken)
		return &t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *jwtCache) load(ctx context.Context) (*domain.DeviceJwtToken, error) {
	l := slogx.FromContext(ctx, c.logger)

	if t := c.cached(); t != nil {
		return t, nil
	}

	c.commitMu.Lock()
	gen := c.generation
	c.commitMu.Unlock()

	if c.store != nil {
		stored, err := c.store.LoadDeviceJwt(ctx)
		if err != nil {
			l.Warn("failed to load persisted device jwt", slog.Any("error", err))
		} else if stored != nil && stored.IsValid(c.now()) {
			if !c.commit(ctx, gen, stored, false) {
				return nil, domain.ErrSDKNotInitialized
			}
			return stored, nil
		}
	}

	t, err := c.issue(ctx)
	if err != nil {
		return nil, err
	}
	c.metrics.IncDeviceJWTIssued()

	if !c.commit(ctx, gen, t, true) {
		l.Info("discarding device jwt, session was reset during issuance")
		return nil, domain.ErrSDKNotInitialized
	}

	l.Debug("device jwt issued", slog.Time("expires_at", t.ExpiresAt))
	return t, nil
}

// commit caches t, and persists it when persist is set, unless clear ran
// since gen was read.
func (c *jwtCache) commit(ctx context.Context, gen uint64, t *domain.DeviceJwtToken, persist bool) bool {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	if c.generation != gen {
		return false
	}

	c.set(t)
	if persist && c.store != nil {
		if err := c.store.SaveDeviceJwt(ctx, t.Token, t.ExpiresAt); err != nil {
			slogx.FromContext(ctx, c.logger).Warn("failed to persist device jwt", slog.Any("error", err))
		}
	}
	return true
}

// clear drops the JWT from memory and the store.
func (c *jwtCache) clear(ctx context.Context) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	c.generation++

	c.set(nil)
	if c.store == nil {
		return
	}
	if err := c.store.ClearDeviceJwt(ctx); err != nil {
		slogx.FromContext(ctx, c.logger).Warn("failed to clear persisted device jwt", slog.Any("error", err))
	}
}
