package api

import (
	"context"
	"net/http"
)

// RequestToken exchanges client credentials for a token (POST /token).
func (c *Client) RequestToken(ctx context.Context, clientID, clientSecret string) (*TokenResponse, error) {
	return c.requestToken(ctx, "/token", tokenRequest{ClientID: clientID, ClientSecret: clientSecret})
}

// RefreshToken exchanges a refresh token for a new token (POST
// /token/refresh). Credentials are sent when known so the backend can bind
// the refresh to the client.
func (c *Client) RefreshToken(ctx context.Context, refreshToken, clientID, clientSecret string) (*TokenResponse, error) {
	return c.requestToken(ctx, "/token/refresh", refreshRequest{
		RefreshToken: refreshToken,
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
}

func (c *Client) requestToken(ctx context.Context, path string, payload any) (*TokenResponse, error) {
	body, err := encodeBody(payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, http.MethodPost, path, body, "")
	if err != nil {
		return nil, err
	}

	var wire tokenWire
	if err := decodeJSON(resp, &wire); err != nil {
		return nil, err
	}

	return wire.toResponse()
}
