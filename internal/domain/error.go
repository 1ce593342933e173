package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Payments
	ErrMalformedPayload  = errors.New("malformed invoice payload")
	ErrPayloadMismatch   = errors.New("invoice payload does not match payer")
	ErrWrongCurrency     = errors.New("unexpected payment currency")
	ErrNotRefundable     = errors.New("purchase is not refundable")
	ErrLessonUnavailable = errors.New("lesson is not available")

	// Broadcasts
	ErrInvalidKeyboard = errors.New("invalid inline keyboard descriptor")
	ErrJobNotWaiting   = errors.New("broadcast job is not waiting")
	ErrClaimLost       = errors.New("broadcast job claim lost")
	ErrSourceMissing   = errors.New("broadcast source message missing")

	// Transport
	ErrTransient = errors.New("transient transport error")

	// Access
	ErrForbidden = errors.New("forbidden")
)
