package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ============================================================================
// Error Kinds
// ============================================================================

// Kind classifies SDK errors. Callers branch on Kind (or errors.Is against the
// sentinels below) to drive UI.
type Kind string

const (
	KindNetwork              Kind = "network_failure"
	KindAuthentication       Kind = "authentication_failure"
	KindAPI                  Kind = "api_failure"
	KindDecoding             Kind = "decoding_failure"
	KindDeviceNotCompatible  Kind = "device_not_compatible"
	KindSDKNotInitialized    Kind = "tap_to_pay_sdk_not_initialized"
	KindNotActive            Kind = "tap_to_pay_not_active"
	KindActivationFailed     Kind = "tap_to_pay_activation_failed"
	KindTransactionFailed    Kind = "tap_to_pay_transaction_failed"
	KindAbortFailed          Kind = "tap_to_pay_abort_failed"
	KindMissingRequiredField Kind = "missing_required_field"
)

// APIFailure refines KindAPI by HTTP status family.
type APIFailure string

const (
	APIBadRequest  APIFailure = "bad_request"
	APIForbidden   APIFailure = "forbidden"
	APINotFound    APIFailure = "not_found"
	APIServerError APIFailure = "server_error"
	APIUnknown     APIFailure = "unknown"
)

// Well-known error codes raised by the SDK itself (reader codes pass through).
const (
	CodeCalculationRequired    = "CALCULATION_REQUIRED"
	CodeTransactionInProgress  = "TRANSACTION_IN_PROGRESS"
	CodeAccountNotLinked       = "ACCOUNT_NOT_LINKED"
	CodeActivationNotPersisted = "ACTIVATION_NOT_PERSISTED"
	CodeReadingStarted         = "READING_STARTED"
	CodeInvalidAmount          = "INVALID_AMOUNT"
)

// ErrorInfo carries structured diagnostics returned by the backend.
type ErrorInfo struct {
	StatusCode    int
	CorrelationID string
	ErrorCode     string
	Source        string
}

// ============================================================================
// Error
// ============================================================================

// Error is the single error type surfaced by the SDK. Only the fields relevant
// to Kind are populated.
type Error struct {
	Kind Kind

	// API is set for KindAPI.
	API APIFailure

	// Info is set for KindAPI and KindAuthentication when the backend answered.
	Info *ErrorInfo

	// Message is a human-readable description (reason for KindAbortFailed).
	Message string

	// Code is the hardware or SDK error code for Tap-to-Pay kinds.
	Code string

	// Reasons lists incompatibility reasons for KindDeviceNotCompatible.
	Reasons []string

	// Field and Entity are set for KindMissingRequiredField.
	Field  string
	Entity string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))

	switch e.Kind {
	case KindAPI:
		fmt.Fprintf(&b, " (%s)", e.API)
	case KindDeviceNotCompatible:
		if len(e.Reasons) > 0 {
			fmt.Fprintf(&b, ": %s", strings.Join(e.Reasons, "; "))
		}
	case KindMissingRequiredField:
		fmt.Fprintf(&b, ": %s.%s", e.Entity, e.Field)
	}

	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [code=%s]", e.Code)
	}
	if e.Info != nil && e.Info.StatusCode != 0 {
		fmt.Fprintf(&b, " [status=%d]", e.Info.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by Kind, and by API/Code when the sentinel sets them.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if t.API != "" && t.API != e.API {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return true
}

// ============================================================================
// Sentinels
// ============================================================================

var (
	ErrNetwork              = &Error{Kind: KindNetwork}
	ErrAuthentication       = &Error{Kind: KindAuthentication}
	ErrAPI                  = &Error{Kind: KindAPI}
	ErrBadRequest           = &Error{Kind: KindAPI, API: APIBadRequest}
	ErrForbidden            = &Error{Kind: KindAPI, API: APIForbidden}
	ErrNotFound             = &Error{Kind: KindAPI, API: APINotFound}
	ErrServer               = &Error{Kind: KindAPI, API: APIServerError}
	ErrDecoding             = &Error{Kind: KindDecoding}
	ErrDeviceNotCompatible  = &Error{Kind: KindDeviceNotCompatible}
	ErrSDKNotInitialized    = &Error{Kind: KindSDKNotInitialized, Message: "tap to pay reader has not been prepared"}
	ErrNotActive            = &Error{Kind: KindNotActive, Message: "tap to pay is not active for this device"}
	ErrActivationFailed     = &Error{Kind: KindActivationFailed}
	ErrTransactionFailed    = &Error{Kind: KindTransactionFailed}
	ErrAbortFailed          = &Error{Kind: KindAbortFailed}
	ErrMissingRequiredField = &Error{Kind: KindMissingRequiredField}

	// ErrNotAuthenticated is returned when no valid access token can be obtained.
	ErrNotAuthenticated = &Error{Kind: KindAuthentication, Message: "not authenticated"}

	// ErrCalculationRequired is returned by the simple-amount transaction path
	// when the merchant uses surcharge-based zero cost processing.
	ErrCalculationRequired = &Error{
		Kind:    KindTransactionFailed,
		Code:    CodeCalculationRequired,
		Message: "merchant uses surcharge pricing, perform the transaction with a calculation result",
	}

	// ErrTransactionInProgress is returned when a transaction is already running.
	ErrTransactionInProgress = &Error{
		Kind:    KindTransactionFailed,
		Code:    CodeTransactionInProgress,
		Message: "another transaction is already in progress",
	}
)

// ============================================================================
// Constructors
// ============================================================================

// NewNetworkError wraps a transport failure.
func NewNetworkError(err error) *Error {
	return &Error{Kind: KindNetwork, Err: err}
}

// NewAuthenticationError reports bad or expired credentials.
func NewAuthenticationError(message string, info *ErrorInfo) *Error {
	return &Error{Kind: KindAuthentication, Message: message, Info: info}
}

// NewAPIError reports a non-success backend response.
func NewAPIError(api APIFailure, message string, info *ErrorInfo) *Error {
	return &Error{Kind: KindAPI, API: api, Message: message, Info: info}
}

// NewDecodingError reports a malformed server response.
func NewDecodingError(err error) *Error {
	return &Error{Kind: KindDecoding, Err: err}
}

// NewDeviceNotCompatible reports the reasons verbatim.
func NewDeviceNotCompatible(reasons []string) *Error {
	return &Error{Kind: KindDeviceNotCompatible, Reasons: append([]string(nil), reasons...)}
}

// NewActivationFailed reports a failed activation step.
func NewActivationFailed(message, code string, cause error) *Error {
	return &Error{Kind: KindActivationFailed, Message: message, Code: code, Err: cause}
}

// NewTransactionFailed reports a failed transaction.
func NewTransactionFailed(message, code string, cause error) *Error {
	return &Error{Kind: KindTransactionFailed, Message: message, Code: code, Err: cause}
}

// NewAbortFailed reports that the reader refused to abort.
func NewAbortFailed(reason, code string) *Error {
	return &Error{Kind: KindAbortFailed, Message: reason, Code: code}
}

// NewMissingRequiredField reports a mapping-layer integrity failure.
func NewMissingRequiredField(field, entity string) *Error {
	return &Error{Kind: KindMissingRequiredField, Field: field, Entity: entity}
}

// KindOf returns the Kind of err, or "" when err is not an SDK error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
