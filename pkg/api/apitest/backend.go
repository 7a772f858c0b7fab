// Package apitest provides an in-process fake of the ARISE backend for tests
// and local development.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

// Route names used by Calls and Fail.
const (
	RouteToken          = "POST /token"
	RouteRefresh        = "POST /token/refresh"
	RouteRegisterDevice = "POST /devices"
	RouteDeviceJWT      = "POST /devices/{id}/tap-to-pay/jwt"
	RouteActivate       = "POST /devices/{id}/tap-to-pay/activate"
	RouteGetDevice      = "GET /devices/{id}"
	RouteConfiguration  = "GET /configurations/payments"
)

// Default credentials accepted by POST /token.
const (
	ClientID     = "cid"
	ClientSecret = "secret"
)

type failure struct {
	status int
	times  int // < 0 means always
}

type device struct {
	name    string
	enabled bool
}

// Backend is a fake ARISE backend. All methods are safe for concurrent use.
type Backend struct {
	Server *httptest.Server

	mu       sync.Mutex
	calls    map[string]int
	failures map[string]*failure
	clients  map[string]string
	issued   map[string]bool
	devices  map[string]*device
	seq      int

	// tokenBody is served by POST /token as-is.
	tokenBody map[string]any

	// refreshToken is the only refresh token currently accepted (rotation).
	refreshToken string

	refreshExpiresIn int
	refreshGate      chan struct{}

	config        map[string]any
	jwtTTL        time.Duration
	omitJWTExpiry bool
	jwtSigningKey []byte
	activateHook  func()
}

// New starts a fake backend. Close it with t.Cleanup(b.Close).
func New() *Backend {
	b := &Backend{
		calls:    make(map[string]int),
		failures: make(map[string]*failure),
		clients:  map[string]string{ClientID: ClientSecret},
		issued:   make(map[string]bool),
		devices:  make(map[string]*device),
		tokenBody: map[string]any{
			"accessToken":  "A",
			"refreshToken": "R",
			"tokenType":    "Bearer",
			"expiresIn":    3600,
		},
		refreshExpiresIn: 3600,
		config: map[string]any{
			"companyName":       "Bar Tab",
			"mccCode":           "5812",
			"currencyCode":      "AUD",
			"countryCode":       "AU",
			"terminalProfileId": "tp-1",
		},
		jwtTTL:        10 * time.Minute,
		jwtSigningKey: []byte("apitest"),
	}

	r := chi.NewRouter()
	r.Post("/token", b.route(RouteToken, b.handleToken))
	r.Post("/token/refresh", b.route(RouteRefresh, b.handleRefresh))
	r.Post("/devices", b.route(RouteRegisterDevice, b.requireBearer(b.handleRegisterDevice)))
	r.Post("/devices/{id}/tap-to-pay/jwt", b.route(RouteDeviceJWT, b.requireBearer(b.handleDeviceJWT)))
	r.Post("/devices/{id}/tap-to-pay/activate", b.route(RouteActivate, b.requireBearer(b.handleActivate)))
	r.Get("/devices/{id}", b.route(RouteGetDevice, b.requireBearer(b.handleGetDevice)))
	r.Get("/configurations/payments", b.route(RouteConfiguration, b.requireBearer(b.handleConfiguration)))

	b.Server = httptest.NewServer(r)
	return b
}

// URL is the base URL of the fake.
func (b *Backend) URL() string { return b.Server.URL }

func (b *Backend) Close() { b.Server.Close() }

// ============================================================================
// Configuration
// ============================================================================

// Calls returns how many requests reached route.
func (b *Backend) Calls(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[route]
}

// TotalCalls returns the number of requests across all routes.
func (b *Backend) TotalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		n += c
	}
	return n
}

// Fail makes the next times requests to route answer with status. A negative
// times fails forever.
func (b *Backend) Fail(route string, status, times int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[route] = &failure{status: status, times: times}
}

// SetTokenResponse replaces the body served by POST /token.
func (b *Backend) SetTokenResponse(body map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokenBody = body
}

// SetRefreshToken makes refresh accept token (as if previously issued).
func (b *Backend) SetRefreshToken(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshToken = token
}

// SetRefreshExpiresIn sets expiresIn for refreshed tokens.
func (b *Backend) SetRefreshExpiresIn(seconds int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshExpiresIn = seconds
}

// HoldRefresh blocks refresh requests until the returned func is called.
func (b *Backend) HoldRefresh() (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.refreshGate = gate
	b.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Accept marks an access token as valid for authorized routes.
func (b *Backend) Accept(accessToken string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.issued[accessToken] = true
}

// Revoke makes authorized routes answer 401 for accessToken.
func (b *Backend) Revoke(accessToken string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.issued, accessToken)
}

// SetPaymentConfiguration replaces the body of GET /configurations/payments.
func (b *Backend) SetPaymentConfiguration(body map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config = body
}

// SetDeviceEnabled registers deviceID with the given Tap-to-Pay flag.
func (b *Backend) SetDeviceEnabled(deviceID string, enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.devices[deviceID]
	if !ok {
		d = &device{}
		b.devices[deviceID] = d
	}
	d.enabled = enabled
}

// DeviceEnabled reports the stored Tap-to-Pay flag of deviceID.
func (b *Backend) DeviceEnabled(deviceID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.devices[deviceID]
	return ok && d.enabled
}

// DeviceRegistered reports whether deviceID was registered.
func (b *Backend) DeviceRegistered(deviceID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.devices[deviceID]
	return ok
}

// SetJWTTTL sets the lifetime of issued device JWTs. When omitExpiresAt is
// set, the response carries only the JWT and its exp claim.
func (b *Backend) SetJWTTTL(ttl time.Duration, omitExpiresAt bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jwtTTL = ttl
	b.omitJWTExpiry = omitExpiresAt
}

// OnActivate runs fn inside the activate handler before it answers.
func (b *Backend) OnActivate(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activateHook = fn
}

// ============================================================================
// Handlers
// ============================================================================

func (b *Backend) route(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.calls[name]++
		f := b.failures[name]
		status := 0
		if f != nil && f.times != 0 {
			status = f.status
			if f.times > 0 {
				f.times--
			}
		}
		b.mu.Unlock()

		if status != 0 {
			writeError(w, status, "INJECTED_FAILURE", "injected failure")
			return
		}
		h(w, r)
	}
}

// requireBearer runs inside route so rejected calls are still counted.
func (b *Backend) requireBearer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")

		b.mu.Lock()
		valid := ok && b.issued[token]
		b.mu.Unlock()

		if !valid {
			writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "the access token is invalid or expired")
			return
		}
		next(w, r)
	}
}

func (b *Backend) handleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID     string `json:"clientId"`
		ClientSecret string `json:"clientSecret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed body")
		return
	}

	b.mu.Lock()
	secret, known := b.clients[req.ClientID]
	if !known || secret != req.ClientSecret {
		b.mu.Unlock()
		writeError(w, http.StatusUnauthorized, "INVALID_CLIENT", "invalid client credentials")
		return
	}

	body := b.tokenBody
	if at, ok := body["accessToken"].(string); ok {
		b.issued[at] = true
	}
	if rt, ok := body["refreshToken"].(string); ok {
		b.refreshToken = rt
	}
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, body)
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed body")
		return
	}

	b.mu.Lock()
	gate := b.refreshGate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	if req.RefreshToken == "" || req.RefreshToken != b.refreshToken {
		b.mu.Unlock()
		writeError(w, http.StatusUnauthorized, "INVALID_GRANT", "refresh token is invalid or was already used")
		return
	}

	b.seq++
	access := fmt.Sprintf("A%d", b.seq)
	refresh := fmt.Sprintf("R%d", b.seq)
	b.issued[access] = true
	b.refreshToken = refresh
	expiresIn := b.refreshExpiresIn
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  access,
		"refreshToken": refresh,
		"tokenType":    "Bearer",
		"expiresIn":    expiresIn,
	})
}

func (b *Backend) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID   string `json:"deviceId"`
		DeviceName string `json:"deviceName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "deviceId is required")
		return
	}

	b.mu.Lock()
	d, ok := b.devices[req.DeviceID]
	if !ok {
		d = &device{}
		b.devices[req.DeviceID] = d
	}
	d.name = req.DeviceName
	b.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"deviceId": req.DeviceID})
}

func (b *Backend) handleDeviceJWT(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b.mu.Lock()
	ttl, omit, key := b.jwtTTL, b.omitJWTExpiry, b.jwtSigningKey
	b.seq++
	seq := b.seq
	b.mu.Unlock()

	expiresAt := time.Now().Add(ttl).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   id,
		ID:        fmt.Sprintf("jwt-%d", seq),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}).SignedString(key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SIGNING_FAILED", err.Error())
		return
	}

	body := map[string]any{"jwtToken": token}
	if !omit {
		body["expiresAt"] = expiresAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, body)
}

func (b *Backend) handleActivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b.mu.Lock()
	hook := b.activateHook
	b.mu.Unlock()
	if hook != nil {
		hook()
	}

	b.mu.Lock()
	d, ok := b.devices[id]
	if !ok {
		d = &device{}
		b.devices[id] = d
	}
	d.enabled = true
	b.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b.mu.Lock()
	d, ok := b.devices[id]
	var name string
	var enabled bool
	if ok {
		name, enabled = d.name, d.enabled
	}
	b.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "DEVICE_NOT_FOUND", "device not registered")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deviceId":        id,
		"deviceName":      name,
		"tapToPayEnabled": enabled,
	})
}

func (b *Backend) handleConfiguration(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	body := b.config
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, body)
}

// ============================================================================
// Helpers
// ============================================================================

// CorrelationID is echoed on every error response.
const CorrelationID = "corr-apitest"

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("X-Correlation-ID", CorrelationID)
	writeJSON(w, status, map[string]any{
		"errorCode":     code,
		"message":       message,
		"source":        "apitest",
		"correlationId": CorrelationID,
	})
}
