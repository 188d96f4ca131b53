package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/config"
)

const (
	tokenCacheKey = "keycloak:admin_token"
	// tokenCacheSlack is shaved off the token lifetime so a cached token is
	// never handed out moments before it expires.
	tokenCacheSlack = 30 * time.Second
)

// Provider is the identity-provider surface the deletion saga depends on.
// Credential exchange and the authenticated delete are separate calls so
// the saga can tell an authentication failure from a delete failure.
type Provider interface {
	AdminToken(ctx context.Context) (string, error)
	DeleteUser(ctx context.Context, token, keycloakID string) error
}

// Client talks to the Keycloak token and admin endpoints. When a Redis
// client is supplied, admin tokens are cached between calls with a TTL
// derived from the token response.
type Client struct {
	cfg    config.KeycloakConfig
	http   *http.Client
	cache  *redis.Client
	logger *zap.Logger
}

// NewClient builds a client. cache may be nil to disable token caching.
func NewClient(cfg config.KeycloakConfig, cache *redis.Client, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout()},
		cache:  cache,
		logger: logger,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// AdminToken exchanges the configured admin credential for an access token
// at the token endpoint, reusing a cached token while its TTL holds.
func (c *Client) AdminToken(ctx context.Context) (string, error) {
	if c.cache != nil {
		if cached, err := c.cache.Get(ctx, tokenCacheKey).Result(); err == nil && cached != "" {
			return cached, nil
		}
	}

	form := url.Values{
		"grant_type":    {"password"},
		"client_id":     {c.cfg.ClientID},
		"username":      {c.cfg.AdminUsername},
		"password":      {c.cfg.AdminPassword},
		"client_secret": {c.cfg.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenEndpoint(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	if c.cache != nil {
		ttl := time.Duration(token.ExpiresIn)*time.Second - tokenCacheSlack
		if ttl > 0 {
			if err := c.cache.Set(ctx, tokenCacheKey, token.AccessToken, ttl).Err(); err != nil {
				c.logger.Warn("unable to cache admin token", zap.Error(err))
			}
		}
	}

	return token.AccessToken, nil
}

// DeleteUser issues an authenticated delete for the principal against the
// admin endpoint. Any non-2xx status is a failure; the caller decides what
// that means for local state.
func (c *Client) DeleteUser(ctx context.Context, token, keycloakID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.cfg.AdminUserEndpoint(keycloakID), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("admin delete request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("admin delete returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
