package domain

import (
	"errors"
	"fmt"
)

// Kind is the stable category callers branch on.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindInvalidTransition  Kind = "invalid_transition"
	KindUnauthorized       Kind = "unauthorized"
	KindPaymentDeclined    Kind = "payment_declined"
	KindPaymentUnavailable Kind = "payment_unavailable"
	KindValidation         Kind = "validation"
	KindConflict           Kind = "conflict"
	KindInternal           Kind = "internal"
)

// Reason narrows an invalid_transition failure.
type Reason string

const (
	ReasonAlreadyMatched          Reason = "already_matched"
	ReasonIneligibleProvider      Reason = "ineligible_provider"
	ReasonPendingAdjustmentsExist Reason = "pending_adjustments_exist"
	ReasonWrongStatus             Reason = "wrong_status"
	ReasonOfferExpired            Reason = "offer_expired"
	ReasonMatchingLapsed          Reason = "matching_lapsed"
	ReasonWorkNotCompleted        Reason = "work_not_completed"
	ReasonNotAccepted             Reason = "not_accepted"
	ReasonAlreadyDecided          Reason = "already_decided"
	ReasonAlreadyAuthorized       Reason = "already_authorized"
	ReasonAlreadyRated            Reason = "already_rated"
)

// Error is the error type returned by every dispatch operation.
type Error struct {
	Kind   Kind
	Reason Reason
	// Condition names the unmet eligibility input for ineligible_provider.
	Condition Condition
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
		if e.Reason != "" {
			msg += ": " + string(e.Reason)
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Kind, and on Reason when the target carries one, so
// errors.Is(err, ErrAlreadyMatched) and errors.Is(err, ErrInvalidTransition)
// both hold for an already-matched failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Sentinels for errors.Is.
var (
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrInvalidTransition       = &Error{Kind: KindInvalidTransition}
	ErrAlreadyMatched          = &Error{Kind: KindInvalidTransition, Reason: ReasonAlreadyMatched}
	ErrIneligibleProvider      = &Error{Kind: KindInvalidTransition, Reason: ReasonIneligibleProvider}
	ErrPendingAdjustmentsExist = &Error{Kind: KindInvalidTransition, Reason: ReasonPendingAdjustmentsExist}
	ErrUnauthorized            = &Error{Kind: KindUnauthorized}
	ErrPaymentDeclined         = &Error{Kind: KindPaymentDeclined}
	ErrPaymentUnavailable      = &Error{Kind: KindPaymentUnavailable}
	ErrValidation              = &Error{Kind: KindValidation}
	ErrConflict                = &Error{Kind: KindConflict}
)

// NotFoundf reports a missing entity.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransitionf reports a failed guard.
func InvalidTransitionf(reason Reason, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidTransition, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Unauthorizedf reports a caller that is not the entity's counterpart.
func Unauthorizedf(format string, args ...any) *Error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// Validationf reports malformed input.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Conflictf reports a write that lost a compare-and-set race.
func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// PaymentDeclined wraps a permanent gateway failure.
func PaymentDeclined(cause error) *Error {
	return &Error{Kind: KindPaymentDeclined, Message: "payment declined", Cause: cause}
}

// PaymentUnavailable wraps a transient gateway failure.
func PaymentUnavailable(cause error) *Error {
	return &Error{Kind: KindPaymentUnavailable, Message: "payment gateway unavailable", Cause: cause}
}

// KindOf extracts the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the caller may retry the same request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPaymentUnavailable)
}
