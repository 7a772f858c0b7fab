package api

import (
	"time"

	"github.com/aussiebroadwan/arise/pkg/domain"
	"github.com/aussiebroadwan/arise/pkg/jwtx"
)

// ============================================================================
// Token Types
// ============================================================================

// TokenResponse is the body of POST /token and POST /token/refresh.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string // empty when not issued
	TokenType    string
	ExpiresIn    int // seconds, 0 when the backend omitted it
}

type tokenRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

type tokenWire struct {
	AccessToken  *string `json:"accessToken"`
	RefreshToken *string `json:"refreshToken"`
	TokenType    *string `json:"tokenType"`
	ExpiresIn    *int    `json:"expiresIn"`
}

func (w tokenWire) toResponse() (*TokenResponse, error) {
	if w.AccessToken == nil || *w.AccessToken == "" {
		return nil, domain.NewMissingRequiredField("accessToken", "TokenResponse")
	}

	resp := &TokenResponse{
		AccessToken: *w.AccessToken,
		TokenType:   "Bearer",
	}
	if w.RefreshToken != nil {
		resp.RefreshToken = *w.RefreshToken
	}
	if w.TokenType != nil && *w.TokenType != "" {
		resp.TokenType = *w.TokenType
	}
	if w.ExpiresIn != nil {
		resp.ExpiresIn = *w.ExpiresIn
	}
	return resp, nil
}

// ============================================================================
// Device Types
// ============================================================================

// Device is the backend's device record.
type Device struct {
	ID              string
	Name            string
	TapToPayEnabled bool
}

type registerDeviceRequest struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
}

type deviceWire struct {
	DeviceID        string `json:"deviceId"`
	DeviceName      string `json:"deviceName"`
	TapToPayEnabled *bool  `json:"tapToPayEnabled"`
}

func (w deviceWire) toDevice(requestedID string) (*Device, error) {
	if w.TapToPayEnabled == nil {
		return nil, domain.NewMissingRequiredField("tapToPayEnabled", "Device")
	}

	id := w.DeviceID
	if id == "" {
		id = requestedID
	}
	return &Device{ID: id, Name: w.DeviceName, TapToPayEnabled: *w.TapToPayEnabled}, nil
}

type deviceJWTWire struct {
	JWTToken  *string    `json:"jwtToken"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// toToken falls back to the JWT's own exp claim when expiresAt is omitted.
func (w deviceJWTWire) toToken() (*domain.DeviceJwtToken, error) {
	if w.JWTToken == nil || *w.JWTToken == "" {
		return nil, domain.NewMissingRequiredField("jwtToken", "DeviceJwt")
	}

	if w.ExpiresAt != nil {
		return &domain.DeviceJwtToken{Token: *w.JWTToken, ExpiresAt: *w.ExpiresAt}, nil
	}

	exp, err := jwtx.Expiry(*w.JWTToken)
	if err != nil {
		return nil, domain.NewMissingRequiredField("expiresAt", "DeviceJwt")
	}
	return &domain.DeviceJwtToken{Token: *w.JWTToken, ExpiresAt: exp}, nil
}

// ============================================================================
// Configuration Types
// ============================================================================

type paymentConfigurationWire struct {
	CompanyName       *string `json:"companyName"`
	MCCCode           *string `json:"mccCode"`
	CurrencyCode      *string `json:"currencyCode"`
	CountryCode       *string `json:"countryCode"`
	TerminalProfileID string  `json:"terminalProfileId"`

	ZeroCostProcessingOptionID *int     `json:"zeroCostProcessingOptionId"`
	SurchargeRate              *float64 `json:"surchargeRate"`
	DualPricingRate            *float64 `json:"dualPricingRate"`
}

func (w paymentConfigurationWire) toMerchant() (*domain.MerchantConfiguration, error) {
	const entity = "PaymentConfiguration"

	required := []struct {
		field string
		value *string
	}{
		{"companyName", w.CompanyName},
		{"mccCode", w.MCCCode},
		{"currencyCode", w.CurrencyCode},
		{"countryCode", w.CountryCode},
	}
	for _, r := range required {
		if r.value == nil || *r.value == "" {
			return nil, domain.NewMissingRequiredField(r.field, entity)
		}
	}

	return &domain.MerchantConfiguration{
		BannerName:                 *w.CompanyName,
		CategoryCode:               *w.MCCCode,
		CurrencyCode:               *w.CurrencyCode,
		CountryCode:                *w.CountryCode,
		TerminalProfileID:          w.TerminalProfileID,
		ZeroCostProcessingOptionID: w.ZeroCostProcessingOptionID,
		SurchargeRate:              w.SurchargeRate,
		DualPricingRate:            w.DualPricingRate,
	}, nil
}
