package resilience

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrRateLimited marks a backend that explicitly signalled throttling (HTTP 429).
	ErrRateLimited = errors.New("backend rate limited")

	// ErrTransport marks a transient failure: network error, timeout or unexpected status.
	ErrTransport = errors.New("transport failure")

	// ErrBackendRejected marks a permanent client error for one backend. Never retried.
	ErrBackendRejected = errors.New("backend rejected request")

	// ErrExhaustedRetries is returned once a backend's attempt budget runs out.
	ErrExhaustedRetries = errors.New("retries exhausted")

	// ErrLimiterDenied is recorded when a rate limiter refuses a token within its timeout.
	ErrLimiterDenied = errors.New("rate limiter denied request")
)

// FailureKind classifies a single failed attempt.
type FailureKind int

const (
	// KindNone means the attempt succeeded.
	KindNone FailureKind = iota
	// KindRateLimited is an explicit throttling signal.
	KindRateLimited
	// KindTransient covers timeouts, connection errors and 5xx responses.
	KindTransient
	// KindRejected is a permanent client error.
	KindRejected
)

func (k FailureKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// StatusError carries a non-2xx response from a remote backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("unexpected status code %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, body)
}

// Is lets errors.Is match a StatusError against the taxonomy sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrBackendRejected:
		return classifyStatus(e.StatusCode) == KindRejected
	case ErrTransport:
		return classifyStatus(e.StatusCode) == KindTransient
	}
	return false
}

func classifyStatus(code int) FailureKind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestTimeout || code == http.StatusTooEarly:
		return KindTransient
	case code >= 400 && code < 500:
		return KindRejected
	default:
		return KindTransient
	}
}

// Classify maps any attempt error onto the failure taxonomy.
// Errors that carry no explicit signal are treated as transient.
func Classify(err error) FailureKind {
	if err == nil {
		return KindNone
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.StatusCode)
	}

	switch {
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrBackendRejected):
		return KindRejected
	default:
		return KindTransient
	}
}

// RetryReason says why a retry loop gave up on a backend.
type RetryReason int

const (
	ReasonExhausted RetryReason = iota
	ReasonRejected
	ReasonCancelled
)

func (r RetryReason) String() string {
	switch r {
	case ReasonExhausted:
		return "exhausted"
	case ReasonRejected:
		return "rejected"
	case ReasonCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Attempt records the outcome of one call made by the retry loop.
// Attempts are ephemeral and live only as long as the logical call.
type Attempt struct {
	Backend string
	Number  int // 1-based
	Kind    FailureKind
	Err     error
	Delay   time.Duration // backoff slept after this attempt, zero if none
}

// RetryError is returned by RetryWithResult when a backend could not produce a result.
type RetryError struct {
	Backend  string
	Reason   RetryReason
	Attempts []Attempt
	Err      error // last attempt error, or the context error when cancelled
}

func (e *RetryError) Error() string {
	switch e.Reason {
	case ReasonRejected:
		return fmt.Sprintf("%s: %v: %v", e.Backend, ErrBackendRejected, e.Err)
	case ReasonCancelled:
		return fmt.Sprintf("%s: retry cancelled after %d attempts: %v", e.Backend, len(e.Attempts), e.Err)
	default:
		return fmt.Sprintf("%s: %v after %d attempts: %v", e.Backend, ErrExhaustedRetries, len(e.Attempts), e.Err)
	}
}

func (e *RetryError) Unwrap() []error {
	switch e.Reason {
	case ReasonRejected:
		return []error{ErrBackendRejected, e.Err}
	case ReasonCancelled:
		return []error{e.Err}
	default:
		return []error{ErrExhaustedRetries, e.Err}
	}
}
