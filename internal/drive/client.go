package drive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry and renewal bounds.
const (
	maxRetries       = 5
	defaultBackoff   = 1 * time.Second
	maxBackoff       = 60 * time.Second
	maxTokenRenewals = 3
	userAgent        = "onedrived/0.1"
)

// TokenSource provides bearer tokens and supports forced renewal when the
// API reports credential expiry. Defined at the consumer per Go convention
// "accept interfaces, return structs".
type TokenSource interface {
	// Token returns a currently valid access token.
	Token(ctx context.Context) (string, error)

	// Renew discards any cached token and obtains a fresh one.
	Renew(ctx context.Context) error
}

// Client is an HTTP client for the remote drive API. It handles request
// construction, authentication, transparent credential renewal, bounded
// retry with exponential backoff, and error classification.
//
// Callers never observe credential expiry directly: a 401 response triggers
// one renewal followed by one re-issue of the same call, bounded by
// maxTokenRenewals per request to avoid infinite renewal loops.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger

	// retryBase is the initial backoff between retries. Tests shrink it
	// to avoid real delays.
	retryBase time.Duration
}

// NewClient creates a drive API client.
// baseURL is typically "https://graph.microsoft.com/v1.0".
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		retryBase:  defaultBackoff,
	}
}

// bodyFunc produces a fresh request body for each attempt. nil means no body.
type bodyFunc func() (io.Reader, error)

// do executes an HTTP request with retry, renewal, and classification.
// On success the caller owns the response body. contentType is applied
// when mkBody is non-nil.
func (c *Client) do(ctx context.Context, method, path, contentType string, mkBody bodyFunc) (*http.Response, error) {
	url := c.baseURL + path

	var (
		resp     *http.Response
		renewals int
	)

	backoff := retry.WithMaxRetries(maxRetries, retry.WithCappedDuration(maxBackoff, retry.NewExponential(c.retryBase)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, sendErr := c.send(ctx, method, url, contentType, mkBody)
		if sendErr != nil {
			if ctx.Err() != nil {
				return sendErr
			}

			c.logger.Warn("retrying after network error",
				slog.String("method", method),
				slog.String("path", path),
				slog.String("error", sendErr.Error()),
			)

			return retry.RetryableError(sendErr)
		}

		if r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices {
			resp = r
			return nil
		}

		remoteErr := readError(r)

		if r.StatusCode == http.StatusUnauthorized {
			if renewals >= maxTokenRenewals {
				c.logger.Error("token renewal budget exhausted",
					slog.String("path", path),
					slog.Int("renewals", renewals),
				)

				return remoteErr
			}

			renewals++

			if renewErr := c.token.Renew(ctx); renewErr != nil {
				return fmt.Errorf("drive: renewing credentials: %w", renewErr)
			}

			c.logger.Info("credentials renewed, re-issuing request",
				slog.String("method", method),
				slog.String("path", path),
			)

			return retry.RetryableError(remoteErr)
		}

		if isRetryableStatus(r.StatusCode) {
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", r.StatusCode),
			)

			return retry.RetryableError(remoteErr)
		}

		return remoteErr
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// send executes a single HTTP request attempt.
func (c *Client) send(ctx context.Context, method, url, contentType string, mkBody bodyFunc) (*http.Response, error) {
	var body io.Reader

	if mkBody != nil {
		b, err := mkBody()
		if err != nil {
			return nil, fmt.Errorf("drive: preparing request body: %w", err)
		}

		body = b
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("drive: creating request: %w", err)
	}

	tok, err := c.token.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("drive: obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)

	if mkBody != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return c.httpClient.Do(req)
}

// readError drains an error response into a RemoteError and closes the body.
func readError(resp *http.Response) *RemoteError {
	errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	resp.Body.Close()

	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	return &RemoteError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("request-id"),
		Message:    string(errBody),
		Err:        classifyStatus(resp.StatusCode),
	}
}

// maxErrorBodyBytes bounds how much of an error payload is retained.
const maxErrorBodyBytes = 64 * 1024
