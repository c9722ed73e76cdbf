package models

import "errors"

// Error taxonomy shared by services and handlers. Services wrap these with
// fmt.Errorf("%w: ...") so handlers can map them to HTTP status codes with
// errors.Is while keeping the detail message.
var (
	ErrValidation           = errors.New("validation failed")
	ErrConflict             = errors.New("conflict")
	ErrNotFound             = errors.New("not found")
	ErrTransaction          = errors.New("transaction submission failed")
	ErrTimeout              = errors.New("confirmation timed out")
	ErrAuthorization        = errors.New("not authorized")
	ErrAmountMismatch       = errors.New("amount mismatch")
	ErrInsufficientCoverage = errors.New("insufficient remaining coverage")
)
