package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/medjbersoundous/backend-ramassage-packers/pkg/errors"
)

// TokenGrant is the result of a token exchange. ExpiresIn is zero when the
// platform did not say how long the token lives.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// PasswordGrant signs in with email and password.
func (c *Client) PasswordGrant(ctx context.Context, email, password string) (TokenGrant, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return TokenGrant{}, pkgerrors.New(pkgerrors.CodeValidation, "email and password are required")
	}
	return c.exchange(ctx, "password", map[string]string{
		"email":    email,
		"password": password,
	})
}

// RefreshGrant trades a refresh token for a new access token.
func (c *Client) RefreshGrant(ctx context.Context, refreshToken string) (TokenGrant, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return TokenGrant{}, pkgerrors.New(pkgerrors.CodeValidation, "refresh token is required")
	}
	return c.exchange(ctx, "refresh_token", map[string]string{
		"refresh_token": refreshToken,
	})
}

func (c *Client) exchange(ctx context.Context, grantType string, body map[string]string) (TokenGrant, error) {
	if c == nil {
		return TokenGrant{}, pkgerrors.New(pkgerrors.CodeDependency, "upstream client not configured")
	}

	req, err := c.newRequest(ctx, http.MethodPost, "auth/v1/token?grant_type="+grantType, body, "")
	if err != nil {
		return TokenGrant{}, err
	}
	resp, err := c.do(req, grantType+" grant")
	if err != nil {
		return TokenGrant{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return TokenGrant{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode token response")
	}

	access := out.AccessToken
	if access == "" {
		access = out.Token
	}
	if access == "" {
		return TokenGrant{}, pkgerrors.New(pkgerrors.CodeUnauthorized, grantType+" grant returned no access token")
	}

	grant := TokenGrant{AccessToken: access, RefreshToken: out.RefreshToken}
	if out.ExpiresIn > 0 {
		grant.ExpiresIn = time.Duration(out.ExpiresIn) * time.Second
	}
	return grant, nil
}
