package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes; the websocket
// layer maps them to error frames.
var (
	ErrInvalidOrder        = errors.New("invalid_order")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrOrderNotFound       = errors.New("order_not_found")
	ErrAlreadyTerminal     = errors.New("order_already_terminal")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrUserAlreadyExists   = errors.New("user_already_exists")
	ErrUserNotFound        = errors.New("user_not_found")
	ErrInvalidCredentials  = errors.New("invalid_credentials")
	ErrUnknownSymbol       = errors.New("unknown_symbol")
	ErrMalformedMessage    = errors.New("malformed_message")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
