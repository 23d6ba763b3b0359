package speech

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTransient covers timeouts, resets, 5xx responses and busy providers.
	ErrTransient = errors.New("transient provider failure")
	// ErrQuotaExceeded means the account's character quota is used up.
	ErrQuotaExceeded = errors.New("provider quota exceeded")
	// ErrUnauthorized means the credential was rejected (401/403).
	ErrUnauthorized = errors.New("provider rejected credential")
	// ErrMalformedRequest is a caller bug and is never retried.
	ErrMalformedRequest = errors.New("malformed synthesis request")
)

func wrap(marker error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", marker, fmt.Sprintf(format, args...))
}

type retryReason string

const (
	reasonTransient    retryReason = "transient"
	reasonQuota        retryReason = "quota"
	reasonUnauthorized retryReason = "unauthorized"
)

// classify maps a provider error to its recovery. Unclassified errors are
// treated as transient.
func classify(err error) (retryReason, bool) {
	switch {
	case errors.Is(err, ErrMalformedRequest), errors.Is(err, context.Canceled):
		return "", false
	case errors.Is(err, ErrQuotaExceeded):
		return reasonQuota, true
	case errors.Is(err, ErrUnauthorized):
		return reasonUnauthorized, true
	default:
		return reasonTransient, true
	}
}

// errorFromCode maps provider error codes shared by the streaming and exec
// providers.
func errorFromCode(code, message string, status int) error {
	switch code {
	case "quota_exceeded":
		return wrap(ErrQuotaExceeded, "%s", message)
	case "system_busy", "too_many_concurrent_requests", "rate_limited":
		return wrap(ErrTransient, "%s: %s", code, message)
	case "auth_error", "invalid_api_key", "unauthorized", "missing_permissions":
		return wrap(ErrUnauthorized, "%s: %s", code, message)
	}
	if status == 401 || status == 403 {
		return wrap(ErrUnauthorized, "%s: %s", code, message)
	}
	return wrap(ErrTransient, "%s: %s", code, message)
}
