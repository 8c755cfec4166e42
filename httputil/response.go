package httputil

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

var ErrBodyTooLarge = errors.New("response body too large")

// ReadLimitedResponseBody reads at most limit bytes and fails with
// ErrBodyTooLarge when the body is longer.
func ReadLimitedResponseBody(resp *http.Response, limit int64) ([]byte, error) {
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if nil != err {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if int64(len(respBody)) > limit {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrBodyTooLarge, limit)
	}

	return respBody, nil
}

// IsRetryableStatus reports whether a request that got code may succeed when
// sent again.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// ErrorMessage extracts a human readable message from an error response body.
// JSON bodies are searched for the common message keys; anything else is
// returned as text, truncated.
func ErrorMessage(b []byte) string {
	const maxLen = 256

	if gjson.ValidBytes(b) {
		for _, key := range []string{"message", "userMessage", "error.message", "error"} {
			if v := gjson.GetBytes(b, key); v.Type == gjson.String {
				return v.String()
			}
		}
	}

	if len(b) > maxLen {
		return string(b[:maxLen]) + "..."
	}

	return string(b)
}
