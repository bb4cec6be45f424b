// Package enginerr provides the sentinel and structured error vocabulary
// shared by every C1-C11 component, mirroring the classify-then-wrap
// pattern used throughout the orchestration runtime.
package enginerr

import (
	"errors"
	"fmt"

	"github.com/fluxorch/engine/pkg/models"
)

// Sentinel errors returned by the registry, interrupt manager, delegation
// coordinator, and budget manager.
var (
	ErrExecutionNotFound      = errors.New("execution not found")
	ErrInterruptNotFound      = errors.New("interrupt not found")
	ErrInterruptExpired       = errors.New("interrupt expired")
	ErrInterruptInFlight      = errors.New("an interrupt is already in flight for this execution")
	ErrAlreadyResolved        = errors.New("interrupt already resolved")
	ErrDelegationDepthExceeded = errors.New("delegation depth exceeded")
	ErrBudgetExceeded         = errors.New("budget exceeded")
	ErrToolUnknown            = errors.New("tool unknown")
	ErrToolInvalidArgs        = errors.New("tool arguments invalid")
	ErrModelUnknown           = errors.New("model unknown")
	ErrToolBindingUnsupported = errors.New("tool binding unsupported by provider")
	ErrProviderUnavailable    = errors.New("provider unavailable")
	ErrCheckpointNotFound     = errors.New("checkpoint not found")
)

// ClassifiedError is the structured error type every component wraps a
// sentinel or low-level cause in before returning it across a package
// boundary, so callers can branch on Kind without string matching.
type ClassifiedError struct {
	Kind      models.ErrorKind
	Message   string
	Cause     error
	Retriable bool
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

// Unwrap returns the underlying error so errors.Is/As see through it.
func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// Classify wraps cause in a ClassifiedError of the given kind. A nil cause
// still produces a non-nil ClassifiedError (useful when the message alone
// carries the failure, e.g. validation).
func Classify(kind models.ErrorKind, message string, cause error) *ClassifiedError {
	return &ClassifiedError{
		Kind:      kind,
		Message:   message,
		Cause:     cause,
		Retriable: kind == models.ErrorKindTimeout || kind == models.ErrorKindProviderUnavailable,
	}
}

// KindOf extracts the ErrorKind from err if it is (or wraps) a
// ClassifiedError, defaulting to validation_error otherwise — an
// unclassified error is treated as a caller mistake, not a system fault.
func KindOf(err error) models.ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return models.ErrorKindValidation
}
