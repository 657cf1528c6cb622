// Package errors classifies and wraps errors the way every component in
// this repository reports them: a small set of canonical kinds, each
// pre-classified as retryable or not, with context attached at the point
// of failure rather than reconstructed from a message string.
package errors

import (
	"errors"
	"fmt"
	"time"

	"github.com/c360/labrecorder/pkg/retry"
)

// Kind is the canonical classification of an error surfaced anywhere in
// the system: the acquisition pipeline, the writer, or the control plane.
type Kind int

const (
	KindUnknown Kind = iota
	KindSourceUnavailable
	KindSourceLost
	KindTransient
	KindOrderViolation
	KindIOError
	KindInvalidState
	KindBadRequest
	KindNoSelection
)

// String returns the UpperCamel wire form used in control responses.
func (k Kind) String() string {
	switch k {
	case KindSourceUnavailable:
		return "SourceUnavailable"
	case KindSourceLost:
		return "SourceLost"
	case KindTransient:
		return "Transient"
	case KindOrderViolation:
		return "OrderViolation"
	case KindIOError:
		return "IOError"
	case KindInvalidState:
		return "InvalidState"
	case KindBadRequest:
		return "BadRequest"
	case KindNoSelection:
		return "NoSelection"
	default:
		return "Unknown"
	}
}

// Retryable reports whether an error of this kind should be retried by an
// acquisition worker's backoff loop.
func (k Kind) Retryable() bool {
	switch k {
	case KindSourceUnavailable, KindSourceLost, KindTransient:
		return true
	default:
		return false
	}
}

// Sentinel errors, one per Kind, for errors.Is comparisons.
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrSourceLost        = errors.New("source lost")
	ErrTransient         = errors.New("transient error")
	ErrOrderViolation    = errors.New("chunk ordering violation")
	ErrIOError           = errors.New("i/o error")
	ErrInvalidState      = errors.New("invalid state for operation")
	ErrBadRequest        = errors.New("bad request")
	ErrNoSelection       = errors.New("no streams selected")
)

// ClassifiedError carries a Kind plus the component/operation it occurred
// in, following the "%s.%s: %s failed: %w" wrapping convention used
// throughout this codebase.
type ClassifiedError struct {
	Kind      Kind
	Err       error
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string { return ce.Err.Error() }
func (ce *ClassifiedError) Unwrap() error { return ce.Err }

// Is lets errors.Is(err, ErrSourceLost) etc. match through the sentinel
// even when the ClassifiedError wraps a lower-level cause.
func (ce *ClassifiedError) Is(target error) bool {
	switch ce.Kind {
	case KindSourceUnavailable:
		return target == ErrSourceUnavailable
	case KindSourceLost:
		return target == ErrSourceLost
	case KindTransient:
		return target == ErrTransient
	case KindOrderViolation:
		return target == ErrOrderViolation
	case KindIOError:
		return target == ErrIOError
	case KindInvalidState:
		return target == ErrInvalidState
	case KindBadRequest:
		return target == ErrBadRequest
	case KindNoSelection:
		return target == ErrNoSelection
	}
	return false
}

// ClassifyKind returns the Kind of err, KindUnknown if it was never
// wrapped by this package.
func ClassifyKind(err error) Kind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// Wrap formats err with component/method/action context, matching the
// "%s.%s: %s failed: %w" convention without attaching a Kind.
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapKind(kind Kind, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Kind:      kind,
		Err:       Wrap(err, component, method, action),
		Component: component,
		Operation: method,
	}
}

func WrapSourceUnavailable(err error, component, method string) error {
	return wrapKind(KindSourceUnavailable, err, component, method, "acquire source")
}

func WrapSourceLost(err error, component, method string) error {
	return wrapKind(KindSourceLost, err, component, method, "read from source")
}

func WrapTransient(err error, component, method, action string) error {
	return wrapKind(KindTransient, err, component, method, action)
}

func WrapOrderViolation(err error, component, method string) error {
	return wrapKind(KindOrderViolation, err, component, method, "chunk ordering")
}

func WrapIO(err error, component, method, action string) error {
	return wrapKind(KindIOError, err, component, method, action)
}

func WrapInvalidState(err error, component, method string) error {
	return wrapKind(KindInvalidState, err, component, method, "state check")
}

func WrapBadRequest(err error, component, method string) error {
	return wrapKind(KindBadRequest, err, component, method, "validate request")
}

func WrapNoSelection(err error, component, method string) error {
	return wrapKind(KindNoSelection, err, component, method, "check selection")
}

// ErrAlreadyStopped is a generic lifecycle sentinel for components (like
// pkg/buffer's CircularBuffer) that reject further use after Close.
var ErrAlreadyStopped = errors.New("already stopped")

// WrapInvalid wraps err as an InvalidState-kind error with a free-form
// message, for components that reject a call due to their own internal
// state rather than a caller-supplied value (see WrapBadRequest for that
// case).
func WrapInvalid(err error, component, method, message string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Kind:      KindInvalidState,
		Err:       fmt.Errorf("%s.%s: %s: %w", component, method, message, err),
		Component: component,
		Operation: method,
	}
}

// WrapFatal wraps err as an unrecoverable IOError-kind error: something
// external failed in a way no amount of retrying will fix.
func WrapFatal(err error, component, method, message string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Kind:      KindIOError,
		Err:       fmt.Errorf("%s.%s: %s: %w", component, method, message, err),
		Component: component,
		Operation: method,
	}
}

// RetryConfig mirrors the acquisition worker's reconnect policy (spec:
// 0.5s, 1s, 2s, 4s, capped at 10s) in terms this package's Kind-aware
// callers can reason about directly.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultReconnectConfig returns the acquisition worker's reconnect
// backoff: 0.5s, 1s, 2s, 4s, capped at 10s, retried indefinitely (the
// worker itself decides when to give up, via its own shutdown signal).
func DefaultReconnectConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  0, // caller loops itself; retry.Config wants >0, set per-call
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// ToRetryConfig converts to pkg/retry's Config for a bounded number of
// attempts, enabling jitter for production resilience.
func (rc RetryConfig) ToRetryConfig(maxAttempts int) retry.Config {
	return retry.Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.Multiplier,
		AddJitter:    true,
	}
}
