/*
errors.go - Centralized error types for the settlement engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is / errors.As; the API layer maps the
  predicates at the bottom to HTTP status codes.

ERROR CATEGORIES:
  1. Precondition failures - bad pay configuration, nothing to settle
  2. Conflicts - a load or advance already claimed, duplicate period
  3. Workflow errors - invalid state transitions, validation failures
  4. Not-found errors - missing driver or settlement

PROPAGATION POLICY:
  Every failure detected before the generate transaction commits aborts
  with zero side effects. Nothing is retried inside the engine; retry is
  a caller decision (relevant for claim conflicts).
*/
package settlement

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMissingPayConfiguration is returned when a driver has no usable
	// pay type or rate and a load without a manual override must be paid.
	// Fatal for the generation attempt, not retried.
	ErrMissingPayConfiguration = errors.New("driver has no pay configuration")

	// ErrNoEligibleLoads is returned when nothing qualifies for settlement.
	// Reported to the caller, not an internal fault.
	ErrNoEligibleLoads = errors.New("no eligible loads for settlement")

	// ErrLoadAlreadySettled is returned when a requested load is claimed by
	// another settlement. The whole selection fails; no partial settlement
	// silently drops contested loads.
	ErrLoadAlreadySettled = errors.New("load already claimed by a settlement")

	// ErrAdvanceAlreadyClaimed is the advance-side claim conflict, raised by
	// the storage layer when a compare-and-set on an advance loses a race.
	ErrAdvanceAlreadyClaimed = errors.New("advance already claimed by a settlement")

	// ErrInvalidStateTransition is returned on approve/reject of a
	// settlement that is no longer PENDING. The workflow is strictly
	// one-shot; there is no revert from APPROVED.
	ErrInvalidStateTransition = errors.New("invalid settlement state transition")

	// ErrSettlementExists is returned when period-mode generation finds a
	// non-rejected settlement for the same driver and period.
	ErrSettlementExists = errors.New("settlement already exists for driver and period")

	// ErrSettlementNumberTaken is returned when a settlement number is
	// already in use. Rejected settlements keep their number, so a number
	// collision does not imply the period is already covered.
	ErrSettlementNumberTaken = errors.New("settlement number already in use")

	// ErrValidation is returned for malformed input detected before any
	// mutation (missing payment method on approve, empty reason on reject).
	ErrValidation = errors.New("validation failed")

	// ErrDriverNotFound / ErrSettlementNotFound identify missing records.
	ErrDriverNotFound     = errors.New("driver not found")
	ErrSettlementNotFound = errors.New("settlement not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// LoadAlreadySettledError reports the specific loads that were contested.
type LoadAlreadySettledError struct {
	LoadIDs []LoadID
}

func (e *LoadAlreadySettledError) Error() string {
	ids := make([]string, len(e.LoadIDs))
	for i, id := range e.LoadIDs {
		ids[i] = string(id)
	}
	return fmt.Sprintf("loads already claimed by another settlement: %s", strings.Join(ids, ", "))
}

func (e *LoadAlreadySettledError) Unwrap() error { return ErrLoadAlreadySettled }

// InvalidStateTransitionError reports the attempted transition.
type InvalidStateTransitionError struct {
	SettlementID SettlementID
	From         ApprovalStatus
	Attempted    ApprovalStatus
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("settlement %s is %s, cannot transition to %s",
		e.SettlementID, e.From, e.Attempted)
}

func (e *InvalidStateTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// ValidationError reports a rejected input field before any mutation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// SettlementExistsError names the settlement blocking a duplicate period.
type SettlementExistsError struct {
	SettlementNumber string
	DriverID         DriverID
}

func (e *SettlementExistsError) Error() string {
	return fmt.Sprintf("settlement %s already covers this period for driver %s",
		e.SettlementNumber, e.DriverID)
}

func (e *SettlementExistsError) Unwrap() error { return ErrSettlementExists }

// SettlementNumberTakenError names the colliding number.
type SettlementNumberTakenError struct {
	SettlementNumber string
}

func (e *SettlementNumberTakenError) Error() string {
	return fmt.Sprintf("settlement number %s is already in use", e.SettlementNumber)
}

func (e *SettlementNumberTakenError) Unwrap() error { return ErrSettlementNumberTaken }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConflict returns true for claim races and duplicate periods; the caller
// may retry with a corrected load set.
func IsConflict(err error) bool {
	return errors.Is(err, ErrLoadAlreadySettled) ||
		errors.Is(err, ErrAdvanceAlreadyClaimed) ||
		errors.Is(err, ErrSettlementExists) ||
		errors.Is(err, ErrSettlementNumberTaken) ||
		errors.Is(err, ErrInvalidStateTransition)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrMissingPayConfiguration) ||
		errors.Is(err, ErrNoEligibleLoads)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDriverNotFound) ||
		errors.Is(err, ErrSettlementNotFound)
}
