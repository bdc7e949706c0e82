package service

import "fmt"

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %d not found", e.Resource, e.ID)
}

// ValidationError represents a validation error
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}

// BusinessLogicError represents a business logic error
type BusinessLogicError struct {
	Message string
}

func (e *BusinessLogicError) Error() string {
	return fmt.Sprintf("business logic error: %s", e.Message)
}

// ConflictError represents a conflict error (e.g., duplicate)
type ConflictError struct {
	Resource string
	Message  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict with %s: %s", e.Resource, e.Message)
}

// ConcurrencyConflict is returned when an optimistic write lost: a stale
// rule version or a message claim that expired under the worker
type ConcurrencyConflict struct {
	Resource string
	ID       int
	Message  string
}

func (e *ConcurrencyConflict) Error() string {
	return fmt.Sprintf("concurrency conflict on %s %d: %s", e.Resource, e.ID, e.Message)
}

// TransientDeliveryError is a provider failure worth retrying later
type TransientDeliveryError struct {
	Channel string
	Reason  string
}

func (e *TransientDeliveryError) Error() string {
	return fmt.Sprintf("transient %s delivery failure: %s", e.Channel, e.Reason)
}

// PermanentDeliveryError is a provider failure that will not succeed on retry
type PermanentDeliveryError struct {
	Channel string
	Reason  string
}

func (e *PermanentDeliveryError) Error() string {
	return fmt.Sprintf("permanent %s delivery failure: %s", e.Channel, e.Reason)
}
