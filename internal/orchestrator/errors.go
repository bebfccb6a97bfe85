package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agatticelli/grounded-answers/internal/platform/resilience"
)

var (
	// ErrAllBackendsFailed is the only failure that crosses the orchestrator boundary.
	ErrAllBackendsFailed = errors.New("all backends failed")

	// ErrNoProvider is the failure recorded when no search provider has a
	// credential. It reaches callers inside an AllBackendsFailedError.
	ErrNoProvider = errors.New("no search provider configured")
)

// BackendFailure records why one backend of a chain did not produce a result.
type BackendFailure struct {
	Backend  string
	Reason   string
	Attempts int
	Err      error
}

func (f BackendFailure) String() string {
	return fmt.Sprintf("%s: %s: %v", f.Backend, f.Reason, f.Err)
}

// AllBackendsFailedError carries per-backend diagnostics for a failed chain run.
type AllBackendsFailedError struct {
	Operation string
	Failures  []BackendFailure
}

func (e *AllBackendsFailedError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("%s: %v", e.Operation, ErrAllBackendsFailed)
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.String()
	}
	return fmt.Sprintf("%s: %v: %s", e.Operation, ErrAllBackendsFailed, strings.Join(parts, "; "))
}

func (e *AllBackendsFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	errs = append(errs, ErrAllBackendsFailed)
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Reasons recorded in BackendFailure.
const (
	ReasonCircuitOpen   = "circuit_open"
	ReasonLimiterDenied = "limiter_denied"
	ReasonCancelled     = "cancelled"
	ReasonNoProvider    = "no_provider"
)

func newBackendFailure(backend string, err error) BackendFailure {
	f := BackendFailure{Backend: backend, Err: err}

	var retryErr *resilience.RetryError
	switch {
	case errors.As(err, &retryErr):
		f.Reason = retryErr.Reason.String()
		f.Attempts = len(retryErr.Attempts)
	case errors.Is(err, resilience.ErrCircuitOpen):
		f.Reason = ReasonCircuitOpen
	case errors.Is(err, resilience.ErrLimiterDenied):
		f.Reason = ReasonLimiterDenied
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		f.Reason = ReasonCancelled
	default:
		f.Reason = resilience.Classify(err).String()
	}
	return f
}
