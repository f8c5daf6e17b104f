package service

import "errors"

var (
	// ErrNotFound is returned when a record does not exist or is not
	// visible to the caller
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the caller's role may not run an operation
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTransition is returned when the agreement is not in a state
	// that allows the operation
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrValidation is returned for malformed input
	ErrValidation = errors.New("validation failed")
	// ErrPaymentPending is returned when polling gave up before the
	// provider reported a final checkout state
	ErrPaymentPending = errors.New("payment still pending")
)
