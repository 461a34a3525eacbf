package domain

import "fmt"

// Error types for consistent error handling across the engine and its surfaces.

// ErrConfiguration indicates a card lacks the billing parameters that define
// its cycles. It is fatal to that card's computation and never defaulted.
type ErrConfiguration struct {
	CardID  string
	Field   string
	Message string
}

func (e *ErrConfiguration) Error() string {
	return fmt.Sprintf("card %s misconfigured: %s %s", e.CardID, e.Field, e.Message)
}

// ErrClassificationAmbiguous marks a transaction that could not be confidently
// classified. It is recorded in the audit trail, never returned to callers.
type ErrClassificationAmbiguous struct {
	TransactionID string
	Description   string
	Type          string
}

func (e *ErrClassificationAmbiguous) Error() string {
	return fmt.Sprintf("ambiguous classification for transaction %s (%q, type=%q): counted as purchase",
		e.TransactionID, e.Description, e.Type)
}

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}
