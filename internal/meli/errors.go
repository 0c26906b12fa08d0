package meli

import (
	"errors"
	"fmt"
)

// RefreshFailedError marks one account's token refresh as failed. It is
// scoped to that account; batch operations drop the account and continue.
type RefreshFailedError struct {
	Nickname string
	Cause    error
}

func (e *RefreshFailedError) Error() string {
	return fmt.Sprintf("Could not refresh token for '%s'. Cause: %v", e.Nickname, e.Cause)
}

func (e *RefreshFailedError) Unwrap() error {
	return e.Cause
}

// NoAuthenticatedAccountsError is returned when, after filtering and
// authenticating, no usable account remains for an operation that needs
// at least one. It distinguishes "nothing could be authenticated" from a
// legitimately empty result set.
type NoAuthenticatedAccountsError struct{}

func (e *NoAuthenticatedAccountsError) Error() string {
	return "no authenticated accounts configured"
}

// UpstreamRequestError reports a non-2xx or failed marketplace API call.
// Payload holds the decoded upstream error body when one was returned.
type UpstreamRequestError struct {
	Method     string
	Resource   string
	StatusCode int
	Message    string
	Payload    map[string]any
	Cause      error
}

func (e *UpstreamRequestError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s '%s' request failed: status=%d message=%s", e.Method, e.Resource, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s '%s' request failed: %s", e.Method, e.Resource, e.Message)
}

func (e *UpstreamRequestError) Unwrap() error {
	return e.Cause
}

// MalformedResourceError indicates a templated resource was invoked
// without its required data parameter. This is a caller bug and is never
// converted into outcome data.
type MalformedResourceError struct {
	Resource string
}

func (e *MalformedResourceError) Error() string {
	return fmt.Sprintf("could not build request url: resource '%s' requires a data parameter", e.Resource)
}

// ErrorPayload renders an error as the response shape carried by
// error-shaped outcomes: the upstream error body when available, always
// with message and, when known, status.
func ErrorPayload(err error) map[string]any {
	payload := map[string]any{}

	var upstream *UpstreamRequestError
	if errors.As(err, &upstream) {
		for k, v := range upstream.Payload {
			payload[k] = v
		}
		if upstream.StatusCode > 0 {
			payload["status"] = upstream.StatusCode
		}
	}

	if _, ok := payload["message"]; !ok {
		payload["message"] = err.Error()
	}
	return payload
}
