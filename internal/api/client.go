// Package api provides the resilient HTTP client for the genealogical
// record API. Every remote call funnels through one response-classification
// and retry policy.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/mossyoak/genfetch/internal/common"
)

// TokenSource supplies the bearer token for outgoing requests and replaces
// it when the API rejects it.
type TokenSource interface {
	Token() string
	Refresh(ctx context.Context) (string, error)
}

// Config holds client configuration.
type Config struct {
	// BaseURL is the API root, e.g. https://api.example.org.
	BaseURL string
	// Collection is the record collection URI used when searching for
	// unattached sources.
	Collection string
	// Tokens supplies bearer tokens.
	Tokens TokenSource
	// WarnLog receives non-fatal failure reports. May be nil.
	WarnLog *common.WarnLog
	// RequestsPerSecond caps the sustained request rate. Defaults to 5.
	RequestsPerSecond float64
	// Burst is the rate limiter burst size. Defaults to 1.
	Burst int
}

// DefaultCollection is the records collection searched for unattached
// sources when none is configured.
const DefaultCollection = "https://familysearch.org/platform/collections/records"

// Validate ensures required fields are present and fills defaults.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("api: base URL is required")
	}
	if c.Tokens == nil {
		return fmt.Errorf("api: token source is required")
	}
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return nil
}

// outcome is the terminal-or-continue classification of one HTTP response.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeEmpty
	outcomeReauth
	outcomeThrottled
	outcomeServerError
	outcomeFailed
)

func classify(status int) outcome {
	switch {
	case status == http.StatusOK:
		return outcomeSuccess
	case status == http.StatusNoContent:
		return outcomeEmpty
	case status == http.StatusUnauthorized:
		return outcomeReauth
	case status == http.StatusTooManyRequests:
		return outcomeThrottled
	case status >= 500:
		return outcomeServerError
	default:
		return outcomeFailed
	}
}

// Client is a rate-limited, authentication-aware GET client. Each endpoint
// method is a thin instantiation of the same classification loop with its
// own URL and decoding.
type Client struct {
	http    *resty.Client
	tokens  TokenSource
	warn    *common.WarnLog
	limiter *rate.Limiter

	baseURL    string
	collection string

	// Retry policy knobs. Fixed in production, shrunk in tests.
	serverWait       time.Duration
	maxServerRetries int
	throttleFallback time.Duration
	sleep            func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client with the uniform retry policy.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := resty.New()
	httpClient.SetTimeout(2 * time.Minute)
	httpClient.SetHeader("Accept", "application/json")

	return &Client{
		http:             httpClient,
		tokens:           cfg.Tokens,
		warn:             cfg.WarnLog,
		limiter:          rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		baseURL:          cfg.BaseURL,
		collection:       cfg.Collection,
		serverWait:       time.Minute,
		maxServerRetries: 3,
		throttleFallback: 30 * time.Second,
		sleep:            sleepContext,
	}, nil
}

// get runs one logical GET to completion: a bounded loop over response
// classifications. It returns (body, true, nil) on success, (nil, false,
// nil) when the result is empty or the call was abandoned after logging,
// and a non-nil error only for fatal conditions (context cancellation,
// token provider failure).
//
// Server-error retries are bounded at maxServerRetries per logical call;
// the counter is local to the call, so it resets naturally between calls.
// Reauthentication and throttling re-loop without bound.
func (c *Client) get(ctx context.Context, op, load, url string) ([]byte, bool, error) {
	serverRetries := 0

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, false, err
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("Authorization", "Bearer "+c.tokens.Token()).
			Get(url)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			// Transport failures follow the server-error policy.
			if serverRetries >= c.maxServerRetries {
				c.warnf(op, load, "Retries maxed out. Last error was %v.", err)
				return nil, false, nil
			}
			serverRetries++
			slog.Warn("Request failed, waiting before retry",
				"op", op, "load", load, "error", err, "wait", c.serverWait)
			if err := c.sleep(ctx, c.serverWait); err != nil {
				return nil, false, err
			}
			continue
		}

		switch classify(resp.StatusCode()) {
		case outcomeSuccess:
			return resp.Body(), true, nil

		case outcomeEmpty:
			return nil, false, nil

		case outcomeReauth:
			slog.Info("Unauthorized, refreshing token", "op", op, "load", load)
			if _, err := c.tokens.Refresh(ctx); err != nil {
				return nil, false, err
			}

		case outcomeThrottled:
			wait := c.throttleWait(resp.Header().Get("Retry-After"))
			slog.Info("Throttled, waiting", "op", op, "load", load, "wait", wait)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, false, err
			}

		case outcomeServerError:
			if serverRetries >= c.maxServerRetries {
				c.warnf(op, load, "Retries maxed out. Last status was %d.", resp.StatusCode())
				return nil, false, nil
			}
			serverRetries++
			slog.Warn("Server-side error, waiting before retry",
				"op", op, "load", load, "status", resp.StatusCode(), "wait", c.serverWait)
			if err := c.sleep(ctx, c.serverWait); err != nil {
				return nil, false, err
			}

		case outcomeFailed:
			c.warnf(op, load, "HTTP status code %d", resp.StatusCode())
			return nil, false, nil
		}
	}
}

// throttleWait reads a Retry-After seconds value and pads it by 10%.
func (c *Client) throttleWait(retryAfter string) time.Duration {
	secs, err := strconv.ParseFloat(retryAfter, 64)
	if err != nil || secs < 0 {
		slog.Warn("Unparsable Retry-After header, using fallback", "value", retryAfter)
		return c.throttleFallback
	}
	return time.Duration(secs * 1.1 * float64(time.Second))
}

func (c *Client) warnf(op, load, format string, args ...any) {
	c.warn.Warn(fmt.Sprintf(format, args...), op, load)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
