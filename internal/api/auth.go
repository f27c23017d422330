package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/minex/haulsync/internal/domain"
)

// loginResponse is the identity provider's login/refresh response shape.
type loginResponse struct {
	Token        string       `json:"token"`
	RefreshToken string       `json:"refreshToken"`
	User         *domain.User `json:"user,omitempty"`
}

// Login authenticates with email/password and stores the returned tokens
// and user identity. The user is returned for immediate display.
func (c *Client) Login(ctx context.Context, email, password string) (domain.User, error) {
	body := map[string]string{"email": email, "password": password}

	// Login must not trigger the 401 refresh path: a 401 here means bad
	// credentials, not an expired session.
	data, err := c.doRetry(ctx, http.MethodPost, "/auth/login", nil, mustMarshal(body), false)
	if err != nil {
		return domain.User{}, fmt.Errorf("api.Client.Login: %w", err)
	}

	var resp loginResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return domain.User{}, fmt.Errorf("api.Client.Login: decode: %w", err)
	}
	if resp.Token == "" || resp.User == nil {
		return domain.User{}, fmt.Errorf("api.Client.Login: response missing token or user")
	}

	if err := c.creds.SetTokens(ctx, resp.Token, resp.RefreshToken); err != nil {
		return domain.User{}, fmt.Errorf("api.Client.Login: %w", err)
	}
	if err := c.creds.SetUser(ctx, *resp.User); err != nil {
		return domain.User{}, fmt.Errorf("api.Client.Login: %w", err)
	}
	return *resp.User, nil
}

// Logout discards the stored session. Purely local: the token simply stops
// being attached.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.creds.Clear(ctx); err != nil {
		return fmt.Errorf("api.Client.Logout: %w", err)
	}
	return nil
}

// refreshSession exchanges the stored refresh token for a new session.
// Called at most once per logical API call, from do().
func (c *Client) refreshSession(ctx context.Context) error {
	refresh := c.creds.RefreshToken(ctx)
	if refresh == "" {
		return fmt.Errorf("api: no refresh token stored: %w", domain.ErrUnauthorized)
	}

	body := map[string]string{"refreshToken": refresh}
	data, err := c.doRetry(ctx, http.MethodPost, "/auth/refresh", nil, mustMarshal(body), false)
	if err != nil {
		return fmt.Errorf("api: refresh session: %w", err)
	}

	var resp loginResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("api: refresh session: decode: %w", err)
	}
	if resp.Token == "" {
		return fmt.Errorf("api: refresh session: response missing token")
	}

	// The provider may rotate the refresh token; keep the old one if not.
	if resp.RefreshToken == "" {
		resp.RefreshToken = refresh
	}
	if err := c.creds.SetTokens(ctx, resp.Token, resp.RefreshToken); err != nil {
		return fmt.Errorf("api: refresh session: %w", err)
	}
	return nil
}

// mustMarshal marshals a value that cannot fail (maps of strings).
func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
