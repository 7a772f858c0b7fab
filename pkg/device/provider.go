// Package device provides the stable per-installation device identity used
// for backend registration, JWT issuance and Tap to Pay activation.
package device

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aussiebroadwan/arise/pkg/idx"
	"github.com/aussiebroadwan/arise/pkg/slogx"
)

// IdentityStore persists the identifier. *securestore.CredentialStore
// implements it.
type IdentityStore interface {
	LoadDeviceIdentity(ctx context.Context) (string, error)
	SaveDeviceIdentity(ctx context.Context, deviceID string) error
}

// Provider hands out the installation's device identifier. The identifier is
// generated lazily on first use and never regenerated once persisted.
type Provider struct {
	store  IdentityStore
	name   string
	logger *slog.Logger

	mu sync.Mutex
	id string
}

// NewProvider creates a provider. deviceName is the hardware model
// identifier, e.g. "iPhone15,2".
func NewProvider(store IdentityStore, deviceName string, logger *slog.Logger) *Provider {
	if deviceName == "" {
		deviceName = "unknown"
	}
	return &Provider{store: store, name: deviceName, logger: slogx.OrDefault(logger)}
}

// GetDeviceIdentifier returns the persisted identifier, or generates and
// persists a new one. It always returns a lower-case canonical UUID.
//
// When the store cannot be read, or holds a value that is not a UUID, an
// ephemeral identifier is used for the rest of the process and nothing is
// written, so an existing record is never overwritten.
func (p *Provider) GetDeviceIdentifier(ctx context.Context) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.id != "" {
		return p.id
	}

	l := slogx.FromContext(ctx, p.logger)

	stored, err := p.store.LoadDeviceIdentity(ctx)
	if err != nil {
		p.id = idx.NewDeviceID()
		l.Warn("device identity unreadable, using ephemeral identifier",
			slog.String("device_id", p.id),
			slog.Any("error", err),
		)
		return p.id
	}

	if stored != "" {
		id, err := idx.ParseDeviceID(stored)
		if err == nil {
			p.id = id
			return p.id
		}
		p.id = idx.NewDeviceID()
		l.Warn("stored device identity is malformed, using ephemeral identifier",
			slog.String("device_id", p.id),
			slog.Any("error", err),
		)
		return p.id
	}

	p.id = idx.NewDeviceID()
	if err := p.store.SaveDeviceIdentity(ctx, p.id); err != nil {
		l.Warn("failed to persist device identity", slog.Any("error", err))
	}
	return p.id
}

// GetDeviceName returns the hardware model identifier.
func (p *Provider) GetDeviceName() string { return p.name }
