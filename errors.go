package diskreg

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// RegistryError is the error type returned by all registry operations. Every
// error the registry produces wraps one of the sentinel values below, so
// callers can classify failures with errors.Is.
type RegistryError interface {
	error
	WithMessage(message string) RegistryError
	Wrap(err error) RegistryError
}

type baseRegistryError string

const rootError = baseRegistryError("")

// ErrInvalidAddress indicates a required driver handler was nil.
var ErrInvalidAddress = rootError.WithMessage("Invalid address")

// ErrInvalidNumber indicates a zero, overflowing, or out-of-range block size
// or block region.
var ErrInvalidNumber = rootError.WithMessage("Invalid number")

// ErrOutOfMemory indicates the device table could not grow to hold the
// requested slot. The table is left exactly as it was.
var ErrOutOfMemory = rootError.WithMessage("Out of memory")

// ErrResourceInUse indicates the device identifier is already occupied.
var ErrResourceInUse = rootError.WithMessage("Resource in use")

// ErrInvalidID indicates the identifier names no device, or names a device
// that is not eligible for the operation (e.g. a logical disk where a
// physical one is required).
var ErrInvalidID = rootError.WithMessage("Invalid identifier")

// ErrUnsatisfied indicates a collaborator the registry depends on (name
// publication, buffer cache initialization) failed.
var ErrUnsatisfied = rootError.WithMessage("Request not satisfied")

// ErrNotConfigured indicates the registry has not been initialized, or has
// already been shut down.
var ErrNotConfigured = rootError.WithMessage("Not configured")

func (e baseRegistryError) Error() string {
	return string(e)
}

func (e baseRegistryError) WithMessage(message string) RegistryError {
	return customRegistryError{
		message:       message,
		originalError: e,
	}
}

func (e baseRegistryError) Wrap(err error) RegistryError {
	return customRegistryError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// -----------------------------------------------------------------------------

type customRegistryError struct {
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a
// string describing the error.
func (e customRegistryError) Error() string {
	return e.message
}

func (e customRegistryError) WithMessage(message string) RegistryError {
	return customRegistryError{
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e customRegistryError) Wrap(err error) RegistryError {
	return customRegistryError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e customRegistryError) Unwrap() error {
	return e.originalError
}
