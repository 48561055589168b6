package cloud

import (
	"errors"
	"fmt"
)

// AuthenticationError is returned when a vendor rejects a login or token
// acquisition, for example because of bad credentials or a wrong region.
type AuthenticationError struct {
	Vendor  string
	Code    int
	Message string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s authentication failed (%d): %s", e.Vendor, e.Code, e.Message)
}

// RequestError is a non-success response envelope. Code and Message are the
// vendor's own values, unmodified.
type RequestError struct {
	Vendor  string
	Code    int
	Message string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s request failed (%d)", e.Vendor, e.Code)
	}
	return fmt.Sprintf("%s request failed (%d): %s", e.Vendor, e.Code, e.Message)
}

// ValidationError means the caller left out or malformed a mandatory
// parameter. It is always returned before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid is shorthand for building a *ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// VendorCode returns the vendor error code carried by err, if it wraps an
// *AuthenticationError or *RequestError.
func VendorCode(err error) (int, bool) {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Code, true
	}
	var ae *AuthenticationError
	if errors.As(err, &ae) {
		return ae.Code, true
	}
	return 0, false
}
