// Package drive provides the HTTP client for the remote storage API with
// transparent credential renewal, bounded retry, and error classification.
package drive

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status classification.
// Use errors.Is(err, drive.ErrNotFound) to check.
var (
	ErrCredentialsExpired = errors.New("drive: credentials expired")
	ErrBadRequest         = errors.New("drive: bad request")
	ErrForbidden          = errors.New("drive: forbidden")
	ErrNotFound           = errors.New("drive: not found")
	ErrNameConflict       = errors.New("drive: name conflict")
	ErrThrottled          = errors.New("drive: throttled")
	ErrServerError        = errors.New("drive: server error")
)

// RemoteError wraps a sentinel error with the HTTP status code and the API
// error payload for diagnostics.
type RemoteError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *RemoteError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("drive: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("drive: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusUnauthorized:
		return ErrCredentialsExpired
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrNameConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryableStatus reports whether an HTTP status code is worth retrying
// with backoff (throttling and server-side failures).
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether a remote call error is transient: worth
// re-queueing the owning task with backoff rather than failing it terminally.
// Credential expiry is handled inside the client and never reaches callers
// except when renewal itself is exhausted, in which case it is terminal.
func IsRetryable(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return isRetryableStatus(re.StatusCode)
	}

	// Non-HTTP failures (connection reset, DNS, timeouts) are transient.
	return err != nil && !errors.Is(err, ErrCredentialsExpired)
}
