package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the Dropbox RPC endpoint root.
const DefaultBaseURL = "https://api.dropboxapi.com/2"

const defaultAgent = "dropsync/0.1"

// Client is an HTTP client for the Dropbox API. The access token is supplied
// per call because one process serves many tenants' connections.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	userAgent  string
	pageLimit  int
	retry      retryPolicy

	// sleepFunc is called to wait between retries. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithRateLimit caps outgoing requests per second. Zero or negative disables it.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}

		c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
	}
}

// WithPageLimit sets the list_folder page size hint (Dropbox caps it at 2000).
func WithPageLimit(n int) Option {
	return func(c *Client) {
		c.pageLimit = n
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// NewClient creates a Dropbox API client. baseURL is typically DefaultBaseURL.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Inf, 0),
		logger:     logger,
		userAgent:  defaultAgent,
		retry:      defaultRetry,
		sleepFunc:  sleepContext,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// rpc POSTs args as JSON to endpoint and decodes the response into out
// (which may be nil). Retries transient failures with backoff.
func (c *Client) rpc(ctx context.Context, token, endpoint string, args, out any) error {
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("dropbox: encoding %s arguments: %w", endpoint, err)
	}

	resp, err := c.do(ctx, token, endpoint, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("dropbox: decoding %s response: %w", endpoint, err)
	}

	return nil
}

// do sends one RPC, repeating it while Dropbox reports a transient
// condition. The caller closes the body on success.
func (c *Client) do(ctx context.Context, token, endpoint string, payload []byte) (*http.Response, error) {
	url := c.baseURL + endpoint

	for try := 0; ; try++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("dropbox: rate limiter: %w", err)
		}

		resp, err := c.doOnce(ctx, token, url, payload)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("dropbox: %s canceled: %w", endpoint, ctx.Err())
			}

			if try >= c.retry.retries {
				return nil, fmt.Errorf("%w: %s unreachable after %d tries: %w", ErrRequestFailed, endpoint, try+1, err)
			}

			if err := c.pause(ctx, endpoint, try, nil, slog.String("transport_error", err.Error())); err != nil {
				return nil, err
			}

			continue
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("dropbox rpc ok",
				slog.String("rpc", endpoint),
				slog.Int("http_status", resp.StatusCode),
				slog.Int("tries", try+1),
			)

			return resp, nil
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			body = []byte("(unreadable error body)")
		}

		apiErr := newAPIError(resp, body)

		if apiErr.transient() && try < c.retry.retries {
			if err := c.pause(ctx, endpoint, try, apiErr,
				slog.Int("http_status", apiErr.StatusCode),
				slog.String("error_summary", apiErr.Summary),
				slog.String("request_id", apiErr.RequestID),
			); err != nil {
				return nil, err
			}

			continue
		}

		if try > 0 {
			c.logger.Error("dropbox rpc gave up",
				slog.String("rpc", endpoint),
				slog.Int("http_status", apiErr.StatusCode),
				slog.String("error_summary", apiErr.Summary),
				slog.Int("tries", try+1),
			)
		}

		return nil, apiErr
	}
}

// pause logs a pending repeat and waits for it.
func (c *Client) pause(ctx context.Context, endpoint string, try int, apiErr *APIError, attrs ...any) error {
	wait := c.retry.wait(try, apiErr)

	c.logger.Warn("dropbox rpc backing off",
		append([]any{
			slog.String("rpc", endpoint),
			slog.Int("try", try+1),
			slog.Duration("wait", wait),
		}, attrs...)...,
	)

	if err := c.sleepFunc(ctx, wait); err != nil {
		return fmt.Errorf("dropbox: %s canceled while backing off: %w", endpoint, err)
	}

	return nil
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, token, url string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/json")

	return c.httpClient.Do(req)
}
