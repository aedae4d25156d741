// Package apperr defines the error taxonomy shared by the orchestration core.
// Every failure that can reach a caller is one of a fixed set of kinds, and each
// kind maps to exactly one HTTP status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for status mapping and degraded-mode handling.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindAuth              Kind = "auth"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindNotFound          Kind = "not_found"
	KindProviderRejected  Kind = "provider_rejected"
	KindProviderTimeout   Kind = "provider_timeout"
	KindUnavailable       Kind = "unavailable"
	KindInternal          Kind = "internal"
)

// Reason explains why a collaborator was considered unavailable.
type Reason string

const (
	ReasonMissingConfig Reason = "missing_config"
	ReasonNetwork       Reason = "network_error"
	ReasonAuth          Reason = "auth_error"
	ReasonOther         Reason = "other"
)

// Error is the single concrete error type of the taxonomy.
type Error struct {
	// Kind drives the HTTP status and whether degraded mode may swallow it.
	Kind Kind

	// Message is safe to show to callers.
	Message string

	// Reason is set for KindUnavailable.
	Reason Reason

	// Collaborator names the dependency that failed (ledger, records, assets, provider name).
	Collaborator string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports a malformed request or a missing required input.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Unauthenticated reports that no caller identity could be resolved.
func Unauthenticated(msg string) *Error {
	if msg == "" {
		msg = "authentication required"
	}
	return &Error{Kind: KindAuth, Message: msg}
}

// InsufficientFunds reports that the ledger refused a debit.
func InsufficientFunds(balance, required int64) *Error {
	return &Error{
		Kind:    KindInsufficientFunds,
		Message: fmt.Sprintf("Insufficient credits: balance %d, required %d", balance, required),
	}
}

// NotFound reports an unknown or disabled resource.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// ProviderRejected reports that a provider explicitly failed the generation.
func ProviderRejected(provider, detail string, cause error) *Error {
	msg := fmt.Sprintf("provider %s rejected the generation", provider)
	if detail != "" {
		msg += ": " + detail
	}
	return &Error{Kind: KindProviderRejected, Message: msg, Collaborator: provider, Err: cause}
}

// ProviderTimeout reports that polling exceeded the provider's deadline.
func ProviderTimeout(provider, taskID string) *Error {
	msg := fmt.Sprintf("provider %s timed out", provider)
	if taskID != "" {
		msg = fmt.Sprintf("provider %s timed out waiting for task %s", provider, taskID)
	}
	return &Error{Kind: KindProviderTimeout, Message: msg, Collaborator: provider}
}

// Unavailable reports that an infrastructure collaborator could not be used.
func Unavailable(collaborator string, reason Reason, cause error) *Error {
	return &Error{
		Kind:         KindUnavailable,
		Message:      fmt.Sprintf("%s unavailable (%s)", collaborator, reason),
		Reason:       reason,
		Collaborator: collaborator,
		Err:          cause,
	}
}

// Internal wraps an unexpected failure.
func Internal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: cause}
}

// As returns the taxonomy error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err. Errors outside the taxonomy are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsBusiness reports whether err is an expected outcome of a well-formed request
// rather than an infrastructure failure. Business errors are never downgraded.
func IsBusiness(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindAuth, KindInsufficientFunds, KindNotFound:
		return true
	}
	return false
}

// StatusCode maps an error to its HTTP status.
func StatusCode(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindInsufficientFunds:
		return http.StatusPaymentRequired
	case KindNotFound:
		return http.StatusNotFound
	case KindProviderRejected:
		return http.StatusBadGateway
	case KindProviderTimeout:
		return http.StatusGatewayTimeout
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the caller-visible message for err.
// Unclassified errors never leak their text.
func PublicMessage(err error) string {
	if e, ok := As(err); ok {
		return e.Error()
	}
	return "internal error"
}
