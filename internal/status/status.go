package status

import (
	"errors"
	"fmt"
)

// Kind classifies an operation failure for the caller's retry decision.
type Kind int

const (
	// KindValidation - bad input, never retried.
	KindValidation Kind = iota
	// KindNotFound - booking/payment/slot missing.
	KindNotFound
	// KindConflict - business-rule violation, not retried automatically.
	KindConflict
	// KindTransient - safe to retry with backoff.
	KindTransient
	// KindGateway - processor-reported failure, surfaced with its message.
	KindGateway
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindGateway:
		return "gateway"
	}
	return "unknown"
}

// Machine codes carried by Error.Code.
const (
	CodeInvalidAmount   = "invalid_amount"
	CodeInvalidInput    = "invalid_input"
	CodeSlotNotFound    = "slot_not_found"
	CodeSlotFull        = "slot_full"
	CodeBookingNotFound = "booking_not_found"
	CodePaymentNotFound = "payment_not_found"
	CodeNotCancellable  = "not_cancellable"
	CodePaymentExists   = "payment_exists"
	CodeNotRefundable   = "not_refundable"
	CodeNotFailed       = "not_failed"
	CodeAmountExceeded  = "amount_exceeded"
	CodeTimeout         = "timeout"
	CodeTxConflict      = "tx_conflict"
	CodeGatewayError    = "gateway_error"
)

// Error is the typed result every core operation returns on failure.
// No exceptions cross the public boundary.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFound(code, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Conflict(code, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Transient(code, format string, args ...any) *Error {
	return &Error{Kind: KindTransient, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Gateway wraps a processor-reported failure with its message.
func Gateway(message string, err error) *Error {
	return &Error{Kind: KindGateway, Code: CodeGatewayError, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain; unclassified errors
// are treated as transient so callers err on the side of retrying reads.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// CodeOf extracts the machine code, or "" for untyped errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func IsKind(err error, k Kind) bool { return err != nil && KindOf(err) == k }
