package errs

import "fmt"

// Typed errors returned by the marketplace components. Every error carries
// the entity id and the status that caused the rejection so callers can
// re-read and decide whether to retry or escalate.

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

type NotFoundError struct {
	EntityType string
	Key        string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.EntityType, e.Key)
}

// ConflictError means a conditional write lost a race: the entity's status
// changed between the caller's read and its write attempt.
type ConflictError struct {
	EntityType string
	EntityID   string
	Status     string // status observed at write time
	Expected   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s is %s, expected %s", e.EntityType, e.EntityID, e.Status, e.Expected)
}

// InvalidStateError means the entity is in a phase that does not permit the
// attempted transition at all.
type InvalidStateError struct {
	EntityType string
	EntityID   string
	Status     string
	Attempted  string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s in status %s cannot transition to %s", e.EntityType, e.EntityID, e.Status, e.Attempted)
}

// ServiceUnavailableError is returned by CreateBooking when the service
// claim failed because another booking already holds it.
type ServiceUnavailableError struct {
	ServiceID string
	Status    string
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("service %s is not available for booking (status %s)", e.ServiceID, e.Status)
}

// FundingFailedError wraps a payment-rail failure during escrow funding.
// The booking stays confirmed but unfunded; the caller must not proceed to
// delivery and must not blindly retry the transfer.
type FundingFailedError struct {
	EscrowID string
	Err      error
}

func (e *FundingFailedError) Error() string {
	return fmt.Sprintf("escrow %s funding failed: %v", e.EscrowID, e.Err)
}

func (e *FundingFailedError) Unwrap() error { return e.Err }

type AlreadyResolvedError struct {
	DisputeID string
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("dispute %s is already resolved", e.DisputeID)
}

// EscrowNotPendingError guards against resolving the same dispute twice
// from concurrent operator actions: the linked escrow already transitioned.
type EscrowNotPendingError struct {
	EscrowID string
	Status   string
}

func (e *EscrowNotPendingError) Error() string {
	return fmt.Sprintf("escrow %s already transitioned to %s", e.EscrowID, e.Status)
}
