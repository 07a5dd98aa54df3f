// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package credential obtains OAuth access tokens for the mail API from the
// deployment's connector service and caches them in process memory until
// they expire.
package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// AuthError means no usable token could be obtained: the connector is not
// configured or the exchange failed. It fails the whole cycle tick.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return "auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// Config identifies the connector that holds the mail OAuth grant.
type Config struct {
	// Hostname of the connector service. A bare host is called over https.
	Hostname      string
	ConnectorName string
	// Exactly one of the two tokens is needed; the identity token wins.
	IdentityToken string
	RenewalToken  string
	HTTPClient    *http.Client
}

// connectionResponse is the connector listing returned by the service.
type connectionResponse struct {
	Items []struct {
		Settings struct {
			AccessToken string `json:"access_token"`
			ExpiresAt   string `json:"expires_at"`
			OAuth       struct {
				Credentials struct {
					AccessToken string `json:"access_token"`
				} `json:"credentials"`
			} `json:"oauth"`
		} `json:"settings"`
	} `json:"items"`
}

// Cache holds the last fetched token. Refreshes are single-flight so
// concurrent callers never trigger parallel exchanges.
type Cache struct {
	cfg    Config
	client *http.Client
	now    func() time.Time

	mu    sync.Mutex
	token *oauth2.Token
	group singleflight.Group
}

// NewCache creates a credential cache for the given connector.
func NewCache(cfg Config) *Cache {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.ConnectorName == "" {
		cfg.ConnectorName = "google-mail"
	}
	return &Cache{
		cfg:    cfg,
		client: client,
		now:    time.Now,
	}
}

// AccessToken returns a valid access token string.
func (c *Cache) AccessToken(ctx context.Context) (string, error) {
	tok, err := c.Token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Token returns the cached token while now < expiry, otherwise performs a
// fresh exchange against the connector and replaces the cache.
func (c *Cache) Token(ctx context.Context) (*oauth2.Token, error) {
	if tok := c.cached(); tok != nil {
		return tok, nil
	}

	v, err, _ := c.group.Do("token", func() (interface{}, error) {
		if tok := c.cached(); tok != nil {
			return tok, nil
		}
		tok, err := c.exchange(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.token = tok
		c.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

// Invalidate drops the cached token, forcing the next call to refresh.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}

func (c *Cache) cached() *oauth2.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil || c.token.Expiry.IsZero() {
		return nil
	}
	if c.now().Before(c.token.Expiry) {
		return c.token
	}
	return nil
}

// exchange fetches the connector record and extracts the access token.
func (c *Cache) exchange(ctx context.Context) (*oauth2.Token, error) {
	if strings.TrimSpace(c.cfg.Hostname) == "" {
		return nil, &AuthError{Reason: "connector hostname not configured"}
	}

	var authHeader string
	switch {
	case c.cfg.IdentityToken != "":
		authHeader = "identity " + c.cfg.IdentityToken
	case c.cfg.RenewalToken != "":
		authHeader = "renewal " + c.cfg.RenewalToken
	default:
		return nil, &AuthError{Reason: "connector identity token not configured"}
	}

	base := c.cfg.Hostname
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	params := url.Values{}
	params.Set("include_secrets", "true")
	params.Set("connector_names", c.cfg.ConnectorName)
	endpoint := strings.TrimRight(base, "/") + "/api/v2/connection?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &AuthError{Reason: "build connector request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Connector-Token", authHeader)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &AuthError{Reason: "fetch connector", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &AuthError{Reason: fmt.Sprintf("connector returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	var payload connectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &AuthError{Reason: "decode connector response", Err: err}
	}
	if len(payload.Items) == 0 {
		return nil, &AuthError{Reason: "mail connector not connected"}
	}

	settings := payload.Items[0].Settings
	access := settings.AccessToken
	if access == "" {
		access = settings.OAuth.Credentials.AccessToken
	}
	if access == "" {
		return nil, &AuthError{Reason: "connector record has no access token"}
	}

	tok := &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
	if settings.ExpiresAt != "" {
		if exp, err := time.Parse(time.RFC3339, settings.ExpiresAt); err == nil {
			tok.Expiry = exp
		} else {
			slog.Warn("connector expiry not parseable, token will not be cached",
				"expires_at", settings.ExpiresAt,
				"error", err,
			)
		}
	}

	slog.Debug("mail access token refreshed",
		"connector", c.cfg.ConnectorName,
		"expires_at", tok.Expiry,
	)
	return tok, nil
}

// TokenSource adapts the cache to oauth2.TokenSource so it can back an
// authenticated *http.Client. The context is used for refresh requests.
func (c *Cache) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, cache: c}
}

type tokenSource struct {
	ctx   context.Context
	cache *Cache
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	return s.cache.Token(s.ctx)
}
