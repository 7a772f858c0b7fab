package device

import "context"

// RegistrationAPI is the backend call used by Registrar. *api.Authorized
// implements it.
type RegistrationAPI interface {
	RegisterDevice(ctx context.Context, deviceID, deviceName string) error
}

// Registrar registers this device with the backend. The token orchestrator
// runs it in the background after each authentication.
type Registrar struct {
	Provider *Provider
	API      RegistrationAPI
}

func (r Registrar) Register(ctx context.Context) error {
	return r.API.RegisterDevice(ctx, r.Provider.GetDeviceIdentifier(ctx), r.Provider.GetDeviceName())
}
