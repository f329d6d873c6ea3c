package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for callers and for the HTTP boundary.
type Kind string

const (
	KindValidation   Kind = "validation_error"
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindPrecondition Kind = "precondition_failed"
	KindConflict     Kind = "concurrency_conflict"
	KindIntegrity    Kind = "integrity_failure"
	KindExternal     Kind = "external_provider_error"
	KindRateLimited  Kind = "rate_limited"
	KindInternal     Kind = "internal_error"
)

// Reason codes attached to precondition and integrity failures.
const (
	ReasonRequestNotPending    = "request_not_pending"
	ReasonRequestExpired       = "request_expired"
	ReasonDuplicateBid         = "duplicate_bid"
	ReasonInsufficientCredit   = "insufficient_credit"
	ReasonBidNotPending        = "bid_not_pending"
	ReasonBidExpired           = "bid_expired"
	ReasonBidMismatch          = "bid_mismatch"
	ReasonPendingTopUpExists   = "pending_topup_exists"
	ReasonTopUpAlreadyResolved = "topup_already_resolved"
	ReasonInvalidTransition    = "invalid_transition"
	ReasonTripNotCompleted     = "trip_not_completed"
	ReasonAlreadyRated         = "already_rated"
	ReasonDriverUnavailable    = "driver_unavailable"
	ReasonNoChargeToReverse    = "no_charge_to_reverse"

	ReasonNegativeBalance = "negative_balance"
	ReasonDuplicateCharge = "duplicate_charge"
)

// Sentinel errors
var (
	ErrIdempotencyConflict = errors.New("idempotency key conflict")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
)

// APIError represents a structured domain error
type APIError struct {
	Kind       Kind   `json:"kind"`
	Reason     string `json:"reason,omitempty"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind with its mapped status code.
func New(kind Kind, reason, message string) *APIError {
	return &APIError{
		Kind:       kind,
		Reason:     reason,
		Message:    message,
		StatusCode: StatusFor(kind),
	}
}

// StatusFor is the only place error kinds become HTTP status codes.
func StatusFor(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindPrecondition, KindIntegrity:
		return http.StatusUnprocessableEntity
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Validation(message string) *APIError {
	return New(KindValidation, "", message)
}

func NotFound(resource string) *APIError {
	return New(KindNotFound, "", fmt.Sprintf("%s not found", resource))
}

func Unauthorized(message string) *APIError {
	return New(KindUnauthorized, "", message)
}

func Forbidden(message string) *APIError {
	return New(KindForbidden, "", message)
}

func PreconditionFailed(reason, message string) *APIError {
	return New(KindPrecondition, reason, message)
}

func ConcurrencyConflict(message string) *APIError {
	return New(KindConflict, "", message)
}

func IntegrityFailure(reason, message string) *APIError {
	return New(KindIntegrity, reason, message)
}

func ExternalProvider(message string, err error) *APIError {
	e := New(KindExternal, "", message)
	e.Err = err
	return e
}

// Internal wraps a storage or infrastructure error. The cause is kept for logs only.
func Internal(message string, err error) *APIError {
	e := New(KindInternal, "", message)
	e.Err = err
	return e
}

func IdempotencyConflict() *APIError {
	e := New(KindConflict, "idempotency_conflict", "idempotency key already used with different request")
	e.Err = ErrIdempotencyConflict
	return e
}

func RateLimited() *APIError {
	return New(KindRateLimited, "", "too many requests, please try again later")
}

func InvalidTransition(from, to string) *APIError {
	return PreconditionFailed(ReasonInvalidTransition, fmt.Sprintf("cannot transition from %s to %s", from, to))
}

func InsufficientCredit() *APIError {
	return PreconditionFailed(ReasonInsufficientCredit, "insufficient credit")
}

func RequestExpired() *APIError {
	return PreconditionFailed(ReasonRequestExpired, "request expired")
}

// As returns the APIError in err's chain, if any.
func As(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// KindOf reports the kind of err. Errors outside the taxonomy are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if apiErr, ok := As(err); ok {
		return apiErr.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func ReasonOf(err error) string {
	if apiErr, ok := As(err); ok {
		return apiErr.Reason
	}
	return ""
}
