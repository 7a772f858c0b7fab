package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/arise/pkg/cryptox"
)

type authOutput struct {
	TokenType   string    `json:"tokenType"`
	Fingerprint string    `json:"fingerprint"`
	ExpiresAt   time.Time `json:"expiresAt"`
	DeviceID    string    `json:"deviceId"`
}

func (a *app) authCmd() *cobra.Command {
	var clientID, clientSecret string

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Exchange client credentials for a token and register this device",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if clientID == "" {
				clientID = a.cfg.ClientID
			}
			if clientSecret == "" {
				clientSecret = a.cfg.ClientSecret
			}
			if clientID == "" || clientSecret == "" {
				return errors.New("client id and secret are required (--client-id/--client-secret or ARISE_CLIENT_ID/ARISE_CLIENT_SECRET)")
			}

			ctx := cmd.Context()
			sdk, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer sdk.Close()

			res, err := sdk.Authenticate(ctx, clientID, clientSecret)
			if err != nil {
				return err
			}
			if err := sdk.Tokens().WaitBackground(); err != nil {
				a.logger.Warn("device registration failed", "error", err)
			}

			return printJSON(cmd, authOutput{
				TokenType:   res.TokenType,
				Fingerprint: cryptox.FingerprintToken(res.AccessToken),
				ExpiresAt:   res.ExpiresAt,
				DeviceID:    sdk.DeviceID(ctx),
			})
		},
	}

	cmd.Flags().StringVar(&clientID, "client-id", "", "client id")
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "client secret")
	return cmd
}

func (a *app) tokenCmd() *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a valid access token, refreshing it if needed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			sdk, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer sdk.Close()

			token, ok := sdk.GetAccessToken(ctx)
			if !ok {
				return errors.New("not authenticated, run `arise auth` first")
			}

			if show {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cryptox.FingerprintToken(token))
			return err
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "print the raw token instead of its fingerprint")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token and credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			sdk, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer sdk.Close()

			sdk.Logout(ctx)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return err
		},
	}
}

func (a *app) deviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Device identity",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "id",
		Short: "Print the persistent device identifier",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			sdk, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer sdk.Close()

			_, err = fmt.Fprintln(cmd.OutOrStdout(), sdk.DeviceID(ctx))
			return err
		},
	})

	return cmd
}
