package domain

import (
	"math"
	"time"
)

// Credentials are the client credentials used to mint or refresh tokens.
type Credentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// IsZero reports whether no credentials are set.
func (c Credentials) IsZero() bool {
	return c.ClientID == "" && c.ClientSecret == ""
}

// StoredToken is the OAuth-style token held by the session cache and mirrored
// to the secure store.
type StoredToken struct {
	AccessToken string `json:"accessToken"`

	// RefreshToken is empty when the backend did not issue one.
	RefreshToken string `json:"refreshToken,omitempty"`

	TokenType string    `json:"tokenType"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// maxLifetime is the longest lifetime a time.Duration can hold in whole seconds.
const maxLifetime = math.MaxInt64 / int64(time.Second)

// NewStoredToken builds a token issued at issuedAt. Negative lifetimes are
// clamped to zero so the token is immediately stale rather than back-dated.
// Lifetimes beyond what time.Duration can represent saturate.
func NewStoredToken(accessToken, refreshToken, tokenType string, expiresIn int, issuedAt time.Time) StoredToken {
	seconds := min(int64(ClampExpiresIn(expiresIn)), maxLifetime)
	return StoredToken{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    tokenType,
		ExpiresAt:    issuedAt.Add(time.Duration(seconds) * time.Second),
	}
}

// ClampExpiresIn returns max(0, expiresIn).
func ClampExpiresIn(expiresIn int) int {
	if expiresIn < 0 {
		return 0
	}
	return expiresIn
}

// IsValid reports whether the access token is still usable at now.
func (t StoredToken) IsValid(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt)
}

// HasRefreshToken reports whether a refresh is possible.
func (t StoredToken) HasRefreshToken() bool {
	return t.RefreshToken != ""
}

// AuthenticationResult is returned by Authenticate and RefreshToken.
type AuthenticationResult struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int // seconds, already clamped
	ExpiresAt    time.Time
}

// ResultFromToken converts a stored token into an AuthenticationResult.
func ResultFromToken(t StoredToken, expiresIn int) *AuthenticationResult {
	return &AuthenticationResult{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		ExpiresIn:    ClampExpiresIn(expiresIn),
		ExpiresAt:    t.ExpiresAt,
	}
}

// DeviceJwtToken is the short-lived credential scoped to Tap-to-Pay sessions.
// It is cached independently of StoredToken.
type DeviceJwtToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IsValid reports whether the JWT can still be used at now.
func (t DeviceJwtToken) IsValid(now time.Time) bool {
	return t.Token != "" && now.Before(t.ExpiresAt)
}
