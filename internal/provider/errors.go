package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/retry"
)

// Kind classifies a delivery failure.
type Kind string

const (
	// KindConnection: the provider could not be reached.
	KindConnection Kind = "connection"
	// KindAuth: credentials were rejected.
	KindAuth Kind = "auth"
	// KindSend: the provider refused the message.
	KindSend Kind = "send"
	// KindRateLimit: the provider asked us to slow down.
	KindRateLimit Kind = "rate_limit"
	// KindTimeout: the attempt exceeded its deadline.
	KindTimeout Kind = "timeout"
	// KindUnavailable: the provider reported a temporary server fault.
	KindUnavailable Kind = "unavailable"
	// KindRequest: the request itself was malformed or incomplete.
	KindRequest Kind = "request"
)

// Sentinel errors matched by errors.Is against a *DeliveryError.
var (
	ErrTimeout       = errors.New("provider: timeout")
	ErrRateLimited   = errors.New("provider: rate limited")
	ErrAuth          = errors.New("provider: authentication failed")
	ErrNotConfigured = errors.New("provider: not configured")
)

// DeliveryError is returned by every adapter when an attempt fails.
type DeliveryError struct {
	Kind       Kind
	Provider   domain.ProviderType
	StatusCode int
	// RetryAfter is the server-suggested wait, when one was sent.
	RetryAfter time.Duration
	Err        error
}

func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("%s %s error", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += " (status " + strconv.Itoa(e.StatusCode) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Is maps kinds onto the package sentinels.
func (e *DeliveryError) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrRateLimited:
		return e.Kind == KindRateLimit
	case ErrAuth:
		return e.Kind == KindAuth
	}
	return false
}

// Transient reports whether another attempt may succeed.
func (e *DeliveryError) Transient() bool {
	switch e.Kind {
	case KindRateLimit, KindTimeout, KindUnavailable, KindConnection:
		return true
	}
	return false
}

// IsTransient reports whether err carries a transient *DeliveryError.
func IsTransient(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Transient()
	}
	return false
}

// RetryAfter returns the server-suggested wait carried by err, if any.
func RetryAfter(err error) time.Duration {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.RetryAfter
	}
	return 0
}

func newError(p domain.ProviderType, kind Kind, err error) *DeliveryError {
	return &DeliveryError{Kind: kind, Provider: p, Err: err}
}

// transportError classifies a failure that happened before any reply was
// read. Cancellation of the caller's context is passed through unchanged
// so the orchestrator can tell it apart from a provider fault.
func transportError(parent context.Context, p domain.ProviderType, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%s: %w", p, parent.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(p, KindTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return newError(p, KindTimeout, err)
	}
	return newError(p, KindConnection, err)
}

// statusError maps a non-2xx HTTP reply onto a Kind.
func statusError(p domain.ProviderType, code int, body []byte, retryAfter string) *DeliveryError {
	detail := strings.TrimSpace(string(body))
	if detail == "" {
		detail = http.StatusText(code)
	}
	de := &DeliveryError{
		Provider:   p,
		StatusCode: code,
		Err:        errors.New(truncate(detail, 512)),
	}
	switch {
	case code == 401 || code == 403:
		de.Kind = KindAuth
	case code == 429:
		de.Kind = KindRateLimit
		de.RetryAfter = parseRetryAfter(retryAfter)
	case code >= 500 && retry.IsRetryableStatus(code):
		de.Kind = KindUnavailable
		de.RetryAfter = parseRetryAfter(retryAfter)
	case code >= 500:
		de.Kind = KindSend
	default:
		de.Kind = KindRequest
	}
	return de
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
