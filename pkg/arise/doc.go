/*
Package arise is the entry point of the ARISE payments SDK.

# Overview

An SDK instance bundles the components a point-of-sale app needs to talk to
the ARISE backend and to take card-present payments with Tap to Pay:

  - a secure credential store (memory, sqlite or redis, sealed with AES-GCM)
  - an in-memory session cache holding the current token and credentials
  - a token orchestrator that refreshes expired tokens exactly once for any
    number of concurrent callers
  - a persistent device identity, registered with the backend after login
  - the Tap to Pay state machine driving a card reader

Build one with New and release it with Close:

	sdk, err := arise.New(ctx, arise.Config{
		BaseURL: "https://api.sandbox.arise.example",
		Store: arise.StoreConfig{
			Driver:        arise.StoreSQLite,
			DSN:           "/var/lib/pos/arise.db",
			MasterKeyPath: "/etc/pos/arise.key",
		},
		Device: arise.DeviceConfig{
			Model:                "iPhone15,2",
			OSVersion:            "18.1",
			LocationPermission:   domain.LocationGranted,
			EntitlementAvailable: true,
		},
		Reader: reader,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer sdk.Close()

# Authentication

Authenticate exchanges client credentials for an access token. The token
and the credentials are cached in memory and mirrored to the secure store,
so a restarted process picks them up again:

	if _, err := sdk.Authenticate(ctx, clientID, clientSecret); err != nil {
		return err
	}

	token, ok := sdk.GetAccessToken(ctx)

GetAccessToken refreshes an expired token transparently. When the refresh
fails the local token is cleared and ok is false; the app should ask the
user to sign in again.

Backend calls made through API() attach the token and retry once after a
refresh when the backend answers 401.

# Tap to Pay

	ttp, err := sdk.TapToPay()

	compat := ttp.CheckCompatibility()
	if !compat.IsCompatible {
		show(compat.Reasons)
	}

	if err := ttp.Activate(ctx); err != nil { ... } // once per device
	if err := ttp.Prepare(ctx); err != nil { ... }  // on every launch

	result, err := ttp.PerformTransaction(ctx, 12.50)

Merchants using surcharge pricing must charge through
PerformTransactionWithCalculation; the simple form fails with
domain.ErrCalculationRequired before the reader is touched.

Reader events are available through Subscribe:

	events, stop := ttp.Subscribe(ctx)
	defer stop()
	for ev := range events {
		render(ev)
	}

# Errors

Every error surfaced by the SDK is a *domain.Error. Match on its Kind, or
use errors.Is with the sentinels in package domain:

	switch {
	case errors.Is(err, domain.ErrAuthentication):
		// sign in again
	case errors.Is(err, domain.ErrCalculationRequired):
		// use the calculation-aware transaction
	case errors.Is(err, domain.ErrDeviceNotCompatible):
		// show the reasons
	}
*/
package arise
