/*
errors.go - Error taxonomy for the cohort engine

PURPOSE:
  All error types in one place. Callers classify with errors.Is() against the
  sentinels, or with the Is* helpers below.

ERROR CATEGORIES:
  1. Validation  - caller error, no implied retry
  2. Precondition - business-rule rejection, not auto-retried
  3. Conflict    - safe to retry after investigation; the engine never retries
  4. Not found   - missing agreement, plan or member
  Anything else (lock infrastructure, storage) is fatal: the transaction is
  rolled back and nothing partial is committed.

SEE ALSO:
  - freeze.go: wraps these in *FreezeError
  - guard.go: wraps these in *EditError
  - api/handlers.go: maps categories to HTTP status
*/
package membership

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// Validation
	ErrInvalidMonthKey = errors.New("invalid month key")
	ErrMonthMismatch   = errors.New("requested month is not the open month")
	ErrInvalidMember   = errors.New("invalid member")

	// Precondition
	ErrAlreadyFrozen         = errors.New("month already frozen")
	ErrCannotFreezePastMonth = errors.New("cannot freeze a past month")
	ErrNotOpenMonth          = errors.New("month is not the open month")
	ErrPastMonthLocked       = errors.New("past months are locked")
	ErrMonthFrozen           = errors.New("month is frozen")
	ErrNoMembersToFreeze     = errors.New("agreement has no members to freeze")
	ErrPlanInactive          = errors.New("plan is not active")

	// Conflict / transient
	ErrConcurrentFreezeInProgress = errors.New("another freeze is in progress for this agreement")
	ErrNextMonthAlreadyExists     = errors.New("next month already has members")
	ErrEmptyMonth                 = errors.New("open month cohort is empty")
	ErrNothingCloned              = errors.New("no members were cloned")

	// Not found
	ErrAgreementNotFound = errors.New("agreement not found")
	ErrPlanNotFound      = errors.New("plan not found")
	ErrMemberNotFound    = errors.New("member not found")

	// ErrLockBusy is returned by a Locker when the wait bound elapses.
	ErrLockBusy = errors.New("lock busy")
)

// =============================================================================
// STRUCTURED ERRORS - Carry agreement/month context
// =============================================================================

// MonthKeyError describes a value that is not a valid month key.
type MonthKeyError struct {
	Value  string
	Reason string
}

func (e *MonthKeyError) Error() string {
	return fmt.Sprintf("invalid month key %q: %s", e.Value, e.Reason)
}

func (e *MonthKeyError) Unwrap() error { return ErrInvalidMonthKey }

// FreezeError wraps a freeze rejection with the agreement and month involved.
type FreezeError struct {
	AgreementID AgreementID
	Month       MonthKey
	Err         error
}

func (e *FreezeError) Error() string {
	if e.Month.IsZero() {
		return fmt.Sprintf("freeze agreement %d: %v", e.AgreementID, e.Err)
	}
	return fmt.Sprintf("freeze agreement %d month %s: %v", e.AgreementID, e.Month, e.Err)
}

func (e *FreezeError) Unwrap() error { return e.Err }

// EditError wraps an editability rejection.
type EditError struct {
	AgreementID AgreementID
	Month       MonthKey
	OpenMonth   MonthKey
	Err         error
}

func (e *EditError) Error() string {
	if !e.OpenMonth.IsZero() {
		return fmt.Sprintf("agreement %d month %s (open month %s): %v", e.AgreementID, e.Month, e.OpenMonth, e.Err)
	}
	return fmt.Sprintf("agreement %d month %s: %v", e.AgreementID, e.Month, e.Err)
}

func (e *EditError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true for malformed caller input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidMonthKey) ||
		errors.Is(err, ErrMonthMismatch) ||
		errors.Is(err, ErrInvalidMember)
}

// IsPrecondition returns true for business-rule rejections.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrAlreadyFrozen) ||
		errors.Is(err, ErrCannotFreezePastMonth) ||
		errors.Is(err, ErrNotOpenMonth) ||
		errors.Is(err, ErrPastMonthLocked) ||
		errors.Is(err, ErrMonthFrozen) ||
		errors.Is(err, ErrNoMembersToFreeze) ||
		errors.Is(err, ErrPlanInactive)
}

// IsConflict returns true for transient state conflicts.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentFreezeInProgress) ||
		errors.Is(err, ErrNextMonthAlreadyExists) ||
		errors.Is(err, ErrEmptyMonth) ||
		errors.Is(err, ErrNothingCloned)
}

// IsRetryable returns true if the same call might succeed later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentFreezeInProgress)
}

// IsNotFound returns true if a referenced record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAgreementNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrMemberNotFound)
}
