package api

import (
	"context"
	"net/url"

	"github.com/aussiebroadwan/arise/pkg/domain"
)

func devicePath(deviceID string, suffix string) string {
	return "/devices/" + url.PathEscape(deviceID) + suffix
}

// RegisterDevice announces this installation to the backend (POST /devices).
func (a *Authorized) RegisterDevice(ctx context.Context, deviceID, deviceName string) error {
	return a.Post(ctx, "/devices", registerDeviceRequest{DeviceID: deviceID, DeviceName: deviceName}, nil)
}

// IssueDeviceJWT requests a Tap-to-Pay JWT for deviceID.
func (a *Authorized) IssueDeviceJWT(ctx context.Context, deviceID string) (*domain.DeviceJwtToken, error) {
	var wire deviceJWTWire
	if err := a.Post(ctx, devicePath(deviceID, "/tap-to-pay/jwt"), nil, &wire); err != nil {
		return nil, err
	}
	return wire.toToken()
}

// ActivateTapToPay records that the reader was activated on deviceID.
func (a *Authorized) ActivateTapToPay(ctx context.Context, deviceID string) error {
	return a.Post(ctx, devicePath(deviceID, "/tap-to-pay/activate"), nil, nil)
}

// GetDevice fetches the device record.
func (a *Authorized) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	var wire deviceWire
	if err := a.Get(ctx, devicePath(deviceID, ""), &wire); err != nil {
		return nil, err
	}
	return wire.toDevice(deviceID)
}

// GetPaymentConfiguration fetches the merchant configuration.
func (a *Authorized) GetPaymentConfiguration(ctx context.Context) (*domain.MerchantConfiguration, error) {
	var wire paymentConfigurationWire
	if err := a.Get(ctx, "/configurations/payments", &wire); err != nil {
		return nil, err
	}
	return wire.toMerchant()
}
