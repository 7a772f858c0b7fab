package api

import (
	"context"
	"net/http"

	"github.com/aussiebroadwan/arise/pkg/domain"
)

// TokenSource supplies bearer tokens for authorized calls. The token
// orchestrator implements it.
type TokenSource interface {
	// GetAccessToken returns a valid access token, refreshing if needed.
	GetAccessToken(ctx context.Context) (string, bool)

	// RefreshToken forces a (single-flight) refresh.
	RefreshToken(ctx context.Context) (*domain.AuthenticationResult, error)
}

// Authorized performs bearer-authenticated calls. A 401 triggers at most one
// refresh through the TokenSource followed by one retry.
type Authorized struct {
	client *Client
	tokens TokenSource
}

// NewAuthorized binds client to a token source.
func NewAuthorized(client *Client, tokens TokenSource) *Authorized {
	return &Authorized{client: client, tokens: tokens}
}

// Get performs GET path and decodes the response into out (which may be nil).
func (a *Authorized) Get(ctx context.Context, path string, out any) error {
	return a.do(ctx, http.MethodGet, path, nil, out)
}

// Post performs POST path with in as JSON (nil for no body).
func (a *Authorized) Post(ctx context.Context, path string, in, out any) error {
	return a.do(ctx, http.MethodPost, path, in, out)
}

func (a *Authorized) do(ctx context.Context, method, path string, in, out any) error {
	body, err := encodeBody(in)
	if err != nil {
		return err
	}

	token, ok := a.tokens.GetAccessToken(ctx)
	if !ok {
		return domain.ErrNotAuthenticated
	}

	resp, err := a.client.doRequest(ctx, method, path, body, token)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)

		retry, err := a.replacementToken(ctx, token)
		if err != nil {
			return err
		}

		resp, err = a.client.doRequest(ctx, method, path, body, retry)
		if err != nil {
			return err
		}
	}

	return decodeJSON(resp, out)
}

// replacementToken returns the token to retry with after rejected got a 401.
// A newer token already in the session (another caller refreshed meanwhile)
// is reused without another refresh.
func (a *Authorized) replacementToken(ctx context.Context, rejected string) (string, error) {
	if current, ok := a.tokens.GetAccessToken(ctx); ok && current != rejected {
		return current, nil
	}

	result, err := a.tokens.RefreshToken(ctx)
	if err != nil {
		return "", err
	}
	return result.AccessToken, nil
}
