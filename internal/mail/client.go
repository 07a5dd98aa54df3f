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

// Package mail adapts the mailbox HTTP API to the narrow operations the
// ingestion cycle needs: listing candidate message ids and fetching one
// message as decoded text. Every API call is rate limited, bounded by a
// per-call timeout, retried with backoff and guarded by a circuit breaker.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/casalead/ingestion/internal/credential"
	"github.com/casalead/ingestion/internal/models"
)

const mailboxUser = "me"

// ErrCircuitOpen is returned while the breaker rejects calls after a run
// of failures.
var ErrCircuitOpen = errors.New("mail api circuit open")

// Config tunes the client. Zero values fall back to the defaults below.
type Config struct {
	// BaseURL overrides the API endpoint; it must end with a slash.
	BaseURL     string
	PageSize    int64
	MaxPages    int
	CallTimeout time.Duration
	MaxRetries  int
	Backoff     time.Duration
	// RatePerSecond <= 0 disables client-side rate limiting.
	RatePerSecond float64
	Burst         int
	// HTTPClient is used when no token source is given.
	HTTPClient *http.Client
}

func (c *Config) withDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 5
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
}

// Client is the mailbox adapter.
type Client struct {
	svc     *gmail.Service
	cfg     Config
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker
}

// NewClient builds a client whose requests are authorized by ts. The token
// source is consulted on every request so expiry is handled by the source.
func NewClient(ctx context.Context, cfg Config, ts oauth2.TokenSource) (*Client, error) {
	cfg.withDefaults()

	httpClient := cfg.HTTPClient
	if ts != nil {
		base := http.DefaultTransport
		if cfg.HTTPClient != nil && cfg.HTTPClient.Transport != nil {
			base = cfg.HTTPClient.Transport
		}
		httpClient = &http.Client{Transport: &oauth2.Transport{Source: ts, Base: base}}
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create mail service: %w", err)
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mail-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Client{
		svc:     svc,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		cb:      cb,
	}, nil
}

// ListCandidateMessages returns ids of messages from any of senders received
// after since, newest first. Paging stops once stopAt (the previous
// watermark) is seen, which is excluded from the result, when no pages
// remain, or after MaxPages pages.
func (c *Client) ListCandidateMessages(ctx context.Context, senders []string, since time.Time, stopAt string) ([]string, error) {
	query := BuildQuery(senders, since)
	if query == "" {
		return nil, nil
	}

	var ids []string
	pageToken := ""
	for page := 0; page < c.cfg.MaxPages; page++ {
		var resp *gmail.ListMessagesResponse
		err := c.do(ctx, "list messages", func(ctx context.Context) error {
			call := c.svc.Users.Messages.List(mailboxUser).
				Q(query).
				MaxResults(c.cfg.PageSize).
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			r, err := call.Do()
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		if err != nil {
			return nil, err
		}

		for _, m := range resp.Messages {
			if stopAt != "" && m.Id == stopAt {
				return ids, nil
			}
			ids = append(ids, m.Id)
		}

		if resp.NextPageToken == "" {
			return ids, nil
		}
		pageToken = resp.NextPageToken
	}

	slog.Warn("page limit reached before watermark, older messages may be skipped",
		"max_pages", c.cfg.MaxPages,
		"ids", len(ids),
		"watermark", stopAt,
	)
	return ids, nil
}

// FetchMessage retrieves one message and decodes its headers and body.
func (c *Client) FetchMessage(ctx context.Context, id string) (*models.MailMessage, error) {
	var msg *gmail.Message
	err := c.do(ctx, "get message", func(ctx context.Context) error {
		m, err := c.svc.Users.Messages.Get(mailboxUser, id).Format("full").Context(ctx).Do()
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toMailMessage(msg), nil
}

func toMailMessage(msg *gmail.Message) *models.MailMessage {
	out := &models.MailMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
	}
	if msg.Payload != nil {
		out.Subject = headerValue(msg.Payload.Headers, "Subject")
		out.From = headerValue(msg.Payload.Headers, "From")
		if d := headerValue(msg.Payload.Headers, "Date"); d != "" {
			if t, err := mail.ParseDate(d); err == nil {
				out.Date = t
			}
		}
		out.Body = DecodeBody(msg.Payload)
	}
	if out.Date.IsZero() && msg.InternalDate > 0 {
		out.Date = time.UnixMilli(msg.InternalDate)
	}
	return out
}

// do runs fn under the rate limiter, circuit breaker and per-call timeout,
// retrying transient failures with exponential backoff.
func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := c.cfg.Backoff << (attempt - 1)
			slog.Debug("retrying mail api call",
				"op", op,
				"attempt", attempt+1,
				"backoff", wait,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", op, ctx.Err())
			case <-time.After(wait):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limit wait: %w", op, err)
		}

		_, err := c.cb.Execute(func() (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
			defer cancel()
			return nil, fn(callCtx)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%s: %w: %w", op, ErrCircuitOpen, err)
		}

		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

// retryable reports whether err is worth another attempt: rate limiting,
// server errors, timeouts and transport failures are; auth and other client
// errors are not.
func retryable(err error) bool {
	var authErr *credential.AuthError
	if errors.As(err, &authErr) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	return true
}
