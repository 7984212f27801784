package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Veraticus/fitcheck/internal/common"
)

const maxErrorBody = 300

// statusError classifies a non-200 provider response. A server error that
// names a Retry-After delay is marked retryable with that delay.
func statusError(provider string, status int, header http.Header, body []byte) error {
	msg := apiErrorMessage(body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s API (status %d): %s", common.ErrInvalidCredentials, provider, status, msg)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s API (status %d): %s", common.ErrQuotaExceeded, provider, status, msg)
	case status >= http.StatusInternalServerError:
		err := fmt.Errorf("%w: %s API (status %d): %s", common.ErrNetwork, provider, status, msg)
		if after := retryAfter(header); after > 0 {
			return &common.RetryableError{Err: err, After: after, Retryable: true}
		}
		return err
	default:
		// 4xx other than auth and quota: the request or response shape is wrong.
		return fmt.Errorf("%w: %s API (status %d): %s", common.ErrMalformedResponse, provider, status, msg)
	}
}

// transportError classifies a failure to reach the provider.
func transportError(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s request canceled: %w", provider, err)
	}
	return fmt.Errorf("%w: %s request failed: %w", common.ErrNetwork, provider, err)
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(header http.Header) time.Duration {
	secs, err := strconv.Atoi(header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func malformed(provider, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", common.ErrMalformedResponse, provider, fmt.Sprintf(format, args...))
}

// apiErrorMessage extracts {"error":{"message":...}} as both providers send it.
func apiErrorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
