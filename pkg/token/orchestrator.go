// Package token owns the OAuth token lifecycle: client-credential exchange,
// single-flight refresh and serving valid access tokens to every caller.
package token

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/arise/pkg/api"
	"github.com/aussiebroadwan/arise/pkg/cryptox"
	"github.com/aussiebroadwan/arise/pkg/domain"
	"github.com/aussiebroadwan/arise/pkg/metrics"
	"github.com/aussiebroadwan/arise/pkg/session"
	"github.com/aussiebroadwan/arise/pkg/slogx"
	"golang.org/x/sync/singleflight"
)

// refreshKey is the only key in the refresh group: one refresh per orchestrator.
const refreshKey = "refresh"

// registrationTimeout bounds the detached device registration call.
const registrationTimeout = 30 * time.Second

// Backend is the unauthenticated token API. *api.Client implements it.
type Backend interface {
	RequestToken(ctx context.Context, clientID, clientSecret string) (*api.TokenResponse, error)
	RefreshToken(ctx context.Context, refreshToken, clientID, clientSecret string) (*api.TokenResponse, error)
}

// Store is the durable mirror of the session. *securestore.CredentialStore
// implements it.
type Store interface {
	Save(ctx context.Context, token domain.StoredToken) error
	Load(ctx context.Context) (*domain.StoredToken, error)
	Clear(ctx context.Context) error
	SaveCredentials(ctx context.Context, clientID, clientSecret string) error
	LoadCredentials(ctx context.Context) (*domain.Credentials, error)
	ClearCredentials(ctx context.Context) error
}

// Registrar announces the device to the backend after authentication.
type Registrar interface {
	Register(ctx context.Context) error
}

// State describes the orchestrator's refresh state.
type State int32

const (
	StateIdle State = iota
	StateRefreshing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Orchestrator issues, refreshes and serves access tokens. At most one
// backend refresh is in flight at any time; concurrent callers share it.
type Orchestrator struct {
	backend Backend
	session *session.Cache
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	refresh singleflight.Group
	state   atomic.Int32
	waiters atomic.Int32

	// commitMu orders token writes against clears. generation changes on every
	// Authenticate, ClearStoredToken and Logout; a refresh started under an
	// older generation does not write its result.
	commitMu   sync.Mutex
	generation uint64

	mu        sync.Mutex
	registrar Registrar
	bg        sync.WaitGroup
	bgErrs    []error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

func WithRegistrar(r Registrar) Option { return func(o *Orchestrator) { o.registrar = r } }

// New creates an orchestrator over an explicit backend, session and store.
func New(backend Backend, sess *session.Cache, store Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend: backend,
		session: sess,
		store:   store,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = slogx.OrDefault(o.logger)
	return o
}

// SetRegistrar wires device registration once the authorized API exists.
func (o *Orchestrator) SetRegistrar(r Registrar) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.registrar = r
}

// State reports the current refresh state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// ============================================================================
// Operations
// ============================================================================

// Authenticate exchanges client credentials for a token. Credentials and
// token are cached in the session first and then persisted best-effort.
// Device registration runs in the background and never fails authentication.
func (o *Orchestrator) Authenticate(ctx context.Context, clientID, clientSecret string) (*domain.AuthenticationResult, error) {
	l := slogx.FromContext(ctx, o.logger)

	resp, err := o.backend.RequestToken(ctx, clientID, clientSecret)
	if err != nil {
		l.Info("client credential exchange failed", slog.String("client_id", clientID), slog.Any("error", err))
		return nil, err
	}

	token := domain.NewStoredToken(resp.AccessToken, resp.RefreshToken, resp.TokenType, resp.ExpiresIn, o.now())

	o.commitMu.Lock()
	o.generation++

	// 1. Session is authoritative
	o.session.SetCredentials(clientID, clientSecret)
	o.session.SetToken(token)
	o.state.Store(int32(StateIdle))

	// 2. Persist best-effort
	if err := o.store.SaveCredentials(ctx, clientID, clientSecret); err != nil {
		l.Warn("failed to persist credentials", slog.Any("error", err))
	}
	if err := o.store.Save(ctx, token); err != nil {
		l.Warn("failed to persist token", slog.Any("error", err))
	}
	o.commitMu.Unlock()

	// 3. Fire-and-forget registration
	o.registerInBackground(ctx)

	l.Debug("authenticated",
		slog.String("client_id", clientID),
		slog.String("token_fp", cryptox.FingerprintToken(token.AccessToken)),
		slog.Time("expires_at", token.ExpiresAt),
	)
	return domain.ResultFromToken(token, resp.ExpiresIn), nil
}

// GetAccessToken returns a valid access token, refreshing when the cached one
// has expired. It returns false when no token can be obtained; after a failed
// refresh all local token state is cleared so the caller re-authenticates.
func (o *Orchestrator) GetAccessToken(ctx context.Context) (string, bool) {
	if at, ok := o.session.CurrentAccessToken(o.now()); ok {
		return at, true
	}

	token := o.currentToken(ctx)
	if token == nil {
		return "", false
	}
	if token.IsValid(o.now()) {
		return token.AccessToken, true
	}

	if !token.HasRefreshToken() {
		o.ClearStoredToken(ctx)
		return "", false
	}

	result, err := o.RefreshToken(ctx)
	if err != nil {
		// Only this caller gave up; the shared refresh may still succeed
		if ctx.Err() != nil {
			return "", false
		}
		// Authenticate ran while the refresh was in flight
		if at, ok := o.session.CurrentAccessToken(o.now()); ok {
			return at, true
		}
		slogx.FromContext(ctx, o.logger).Info("refresh failed, clearing token state", slog.Any("error", err))
		o.ClearStoredToken(ctx)
		return "", false
	}
	return result.AccessToken, true
}

// RefreshToken exchanges the refresh token for a new token. Concurrent calls
// share one backend call and all receive its outcome. The shared call is
// detached from any single caller's context, so a caller that gives up does
// not fail the others.
func (o *Orchestrator) RefreshToken(ctx context.Context) (*domain.AuthenticationResult, error) {
	o.waiters.Add(1)
	o.metrics.AddRefreshWaiters(1)
	defer func() {
		o.waiters.Add(-1)
		o.metrics.AddRefreshWaiters(-1)
	}()

	detached := context.WithoutCancel(ctx)
	ch := o.refresh.DoChan(refreshKey, func() (any, error) {
		return o.doRefresh(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		result := *res.Val.(*domain.AuthenticationResult)
		return &result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ClearStoredToken drops the token from the session and the store. Credentials
// are kept.
func (o *Orchestrator) ClearStoredToken(ctx context.Context) {
	o.commitMu.Lock()
	defer o.commitMu.Unlock()
	o.generation++

	o.session.ClearToken()
	if err := o.store.Clear(ctx); err != nil {
		slogx.FromContext(ctx, o.logger).Warn("failed to clear persisted token", slog.Any("error", err))
	}
	o.state.Store(int32(StateIdle))
}

// Logout drops credentials and token from the session and the store.
func (o *Orchestrator) Logout(ctx context.Context) {
	l := slogx.FromContext(ctx, o.logger)

	o.commitMu.Lock()
	defer o.commitMu.Unlock()
	o.generation++

	o.session.Clear()
	if err := o.store.Clear(ctx); err != nil {
		l.Warn("failed to clear persisted token", slog.Any("error", err))
	}
	if err := o.store.ClearCredentials(ctx); err != nil {
		l.Warn("failed to clear persisted credentials", slog.Any("error", err))
	}
	o.state.Store(int32(StateIdle))
}

// WaitBackground blocks until background tasks started so far have finished
// and returns their errors, which are otherwise only logged.
func (o *Orchestrator) WaitBackground() error {
	o.bg.Wait()

	o.mu.Lock()
	defer o.mu.Unlock()
	err := errors.Join(o.bgErrs...)
	o.bgErrs = nil
	return err
}

// ============================================================================
// Internals
// ============================================================================

// doRefresh runs inside the singleflight group. It must not use a caller's
// cancellation.
func (o *Orchestrator) doRefresh(ctx context.Context) (*domain.AuthenticationResult, error) {
	l := slogx.FromContext(ctx, o.logger)
	o.state.Store(int32(StateRefreshing))

	o.commitMu.Lock()
	gen := o.generation
	o.commitMu.Unlock()

	token := o.currentToken(ctx)
	if token == nil || !token.HasRefreshToken() {
		o.state.Store(int32(StateFailed))
		return nil, domain.NewAuthenticationError("no refresh token available", nil)
	}

	var clientID, clientSecret string
	if creds := o.currentCredentials(ctx); creds != nil {
		clientID, clientSecret = creds.ClientID, creds.ClientSecret
	}

	resp, err := o.backend.RefreshToken(ctx, token.RefreshToken, clientID, clientSecret)
	o.metrics.ObserveRefresh(err)
	if err != nil {
		o.state.Store(int32(StateFailed))
		l.Info("token refresh failed", slog.Any("error", err))
		return nil, err
	}

	// Keep the previous refresh token when the backend does not rotate it
	refreshToken := resp.RefreshToken
	if refreshToken == "" {
		refreshToken = token.RefreshToken
	}

	next := domain.NewStoredToken(resp.AccessToken, refreshToken, resp.TokenType, resp.ExpiresIn, o.now())

	o.commitMu.Lock()
	if o.generation != gen {
		o.commitMu.Unlock()
		o.state.Store(int32(StateIdle))
		l.Info("discarding refreshed token, session was cleared or replaced during refresh")
		return nil, domain.NewAuthenticationError("session changed during refresh", nil)
	}
	o.session.SetToken(next)
	if err := o.store.Save(ctx, next); err != nil {
		l.Warn("failed to persist refreshed token", slog.Any("error", err))
	}
	o.commitMu.Unlock()

	o.state.Store(int32(StateIdle))
	l.Debug("token refreshed",
		slog.String("token_fp", cryptox.FingerprintToken(next.AccessToken)),
		slog.Time("expires_at", next.ExpiresAt),
	)
	return domain.ResultFromToken(next, resp.ExpiresIn), nil
}

// currentToken returns the session token, hydrating it from the store on a
// cold start.
func (o *Orchestrator) currentToken(ctx context.Context) *domain.StoredToken {
	if t := o.session.Token(); t != nil {
		return t
	}

	stored, err := o.store.Load(ctx)
	if err != nil {
		slogx.FromContext(ctx, o.logger).Warn("failed to load persisted token", slog.Any("error", err))
		return nil
	}
	if stored == nil {
		return nil
	}

	o.session.SetToken(*stored)
	return stored
}

// currentCredentials returns the session credentials, hydrating them from the
// store when memory is empty.
func (o *Orchestrator) currentCredentials(ctx context.Context) *domain.Credentials {
	if c := o.session.Credentials(); c != nil {
		return c
	}

	creds, err := o.store.LoadCredentials(ctx)
	if err != nil {
		slogx.FromContext(ctx, o.logger).Warn("failed to load persisted credentials", slog.Any("error", err))
		return nil
	}
	if creds == nil {
		return nil
	}

	o.session.SetCredentials(creds.ClientID, creds.ClientSecret)
	return creds
}

func (o *Orchestrator) registerInBackground(ctx context.Context) {
	o.mu.Lock()
	r := o.registrar
	o.mu.Unlock()
	if r == nil {
		return
	}

	l := slogx.FromContext(ctx, o.logger)
	detached := context.WithoutCancel(ctx)

	o.bg.Add(1)
	go func() {
		defer o.bg.Done()

		ctx, cancel := context.WithTimeout(detached, registrationTimeout)
		defer cancel()

		err := r.Register(ctx)
		o.metrics.ObserveRegistration(err)
		if err != nil {
			l.Warn("device registration failed", slog.Any("error", err))
			o.mu.Lock()
			o.bgErrs = append(o.bgErrs, err)
			o.mu.Unlock()
			return
		}
		l.Debug("device registered")
	}()
}

var _ api.TokenSource = (*Orchestrator)(nil)
