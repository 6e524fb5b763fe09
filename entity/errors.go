package entity

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrReferenceTaken = errors.New("booking reference already taken")

	// ErrSerialization marks a transaction aborted by a serialisation
	// failure or deadlock; the whole transaction may be retried.
	ErrSerialization = errors.New("serialization failure")

	// ErrIntentNotCancellable is returned by payment providers when an
	// intent has already captured money or is still processing it.
	ErrIntentNotCancellable = errors.New("payment intent cannot be cancelled")
)

// Kind classifies failures so the HTTP layer can map them to a status code.
type Kind string

const (
	KindValidation      Kind = "ValidationError"
	KindNotBookable     Kind = "NotBookable"
	KindInsufficient    Kind = "InsufficientCapacity"
	KindPricing         Kind = "PricingError"
	KindNotFound        Kind = "NotFound"
	KindAuthorization   Kind = "AuthorizationError"
	KindPaymentProvider Kind = "PaymentProviderError"
	KindConflict        Kind = "Conflict"
	KindInternal        Kind = "Internal"
)

type Error struct {
	Kind    Kind
	Message string
	Details map[string]any

	err error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func NewValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NewNotBookable(message string) *Error {
	return &Error{Kind: KindNotBookable, Message: message}
}

func NewInsufficientCapacity(requested, available int) *Error {
	return &Error{
		Kind:    KindInsufficient,
		Message: "insufficient capacity",
		Details: map[string]any{"requested": requested, "available": available},
	}
}

func NewPricingError(message string) *Error {
	return &Error{Kind: KindPricing, Message: message}
}

func NewNotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found", err: ErrNotFound}
}

func NewAuthorizationError(message string) *Error {
	return &Error{Kind: KindAuthorization, Message: message}
}

func NewPaymentProviderError(message string, cause error) *Error {
	return &Error{Kind: KindPaymentProvider, Message: message, err: cause}
}

func NewConflict(message string, cause error) *Error {
	if cause == nil {
		cause = ErrConflict
	}
	return &Error{Kind: KindConflict, Message: message, err: cause}
}

// KindOf returns the Kind of the first *Error in err's chain. Plain
// ErrNotFound and ErrConflict sentinels are recognised as well. A nil error
// has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrSerialization):
		return KindConflict
	}
	return KindInternal
}
