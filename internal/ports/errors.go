package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these sentinels so the
// rest of the bot can branch with errors.Is without knowing the transport.
var (
	// General Errors
	ErrUnknown         = errors.New("unknown error occurred")
	ErrInvalidRequest  = errors.New("invalid request parameters or format")
	ErrNotFound        = errors.New("resource not found")
	ErrTimeout         = errors.New("operation timed out")
	ErrContextCanceled = errors.New("operation canceled via context")

	// Broker Specific Errors
	ErrAuthenticationFailed = errors.New("broker authentication failed (check API token)")
	ErrConnectionFailed     = errors.New("failed to connect to the broker")
	ErrNotConnected         = errors.New("broker connection is not established")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrMarketClosed         = errors.New("market is closed for the instrument")
	ErrTradeRejected        = errors.New("trade proposal or buy was rejected")
	ErrMalformedMessage     = errors.New("malformed broker message")

	// Persistence Specific Errors
	ErrPersistence = errors.New("failed to persist state")
	ErrQueryFailed = errors.New("database query failed")
)
