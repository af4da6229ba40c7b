package gpusort

import (
	"context"
	"errors"

	"github.com/gogpu/gpusort/kernel"
)

// Sentinel errors for each failure kind. Match them with errors.Is; the
// concrete value returned is always an *Error.
var (
	// ErrInvalidInput reports an input the network cannot address, such as
	// a slice longer than kernel.MaxLength, or an invalid option.
	ErrInvalidInput = errors.New("gpusort: invalid input")

	// ErrDevice reports a failure of the device or its driver.
	ErrDevice = errors.New("gpusort: device error")

	// ErrResourceExhausted reports that the working buffer does not fit
	// on the device.
	ErrResourceExhausted = errors.New("gpusort: resource exhausted")
)

// Kind classifies an Error.
type Kind uint8

const (
	// KindInvalidInput corresponds to ErrInvalidInput.
	KindInvalidInput Kind = iota + 1

	// KindDevice corresponds to ErrDevice.
	KindDevice

	// KindResourceExhausted corresponds to ErrResourceExhausted.
	KindResourceExhausted
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid input"
	case KindDevice:
		return "device error"
	case KindResourceExhausted:
		return "resource exhausted"
	default:
		return "unknown"
	}
}

// Error is the error type returned by Sorter operations.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Op is the operation that failed, e.g. "allocate" or "dispatch".
	Op string

	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	msg := "gpusort: " + e.Op + ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of e's Kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidInput:
		return e.Kind == KindInvalidInput
	case ErrDevice:
		return e.Kind == KindDevice
	case ErrResourceExhausted:
		return e.Kind == KindResourceExhausted
	}
	return false
}

func invalidInput(op string, err error) error {
	return &Error{Kind: KindInvalidInput, Op: op, Err: err}
}

// deviceError classifies a failure reported by a device. Context errors are
// returned unchanged so that cancellation stays distinguishable.
func deviceError(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, kernel.ErrBufferTooLarge):
		return &Error{Kind: KindResourceExhausted, Op: op, Err: err}
	default:
		return &Error{Kind: KindDevice, Op: op, Err: err}
	}
}
