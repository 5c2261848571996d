/*
Package membership provides the monthly cohort engine for partner agreements.

PURPOSE:
  An agreement offers priced plans and enrolls members. Enrollment is recorded
  as monthly snapshots: every calendar month an agreement has exactly one
  "open" cohort, edited freely, which is then frozen to seal it and to spawn
  the next month's cohort by cloning members forward.

KEY CONCEPTS IN THIS FILE (types.go):
  - Agreement: a partner contract (owns plans and member snapshots)
  - Plan: a priced offering, optionally with a fixed duration in days
  - MemberSnapshot: one person's enrollment as it stood in one month
  - FreezeRecord: the sole source of truth that a month is locked

DESIGN PRINCIPLES:
  1. Snapshots never cross month boundaries: the next month is a clone
  2. Precision: prices use decimal.Decimal, never float64
  3. Type Safety: distinct ID types for agreements, plans and members

SEE ALSO:
  - month.go: month keys and the reference calendar
  - freeze.go: the freeze/rollover state transition
  - billing.go: per-row billing classification
*/
package membership

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AgreementID int64
type PlanID int64
type MemberID int64

// =============================================================================
// AGREEMENT
// =============================================================================

type AgreementStatus string

const (
	AgreementActive   AgreementStatus = "active"
	AgreementInactive AgreementStatus = "inactive"
)

// Agreement is a partner contract granting discounted membership terms.
type Agreement struct {
	ID        AgreementID
	Name      string
	Status    AgreementStatus
	CreatedAt time.Time
}

func (a Agreement) IsActive() bool { return a.Status == AgreementActive }

// =============================================================================
// PLAN
// =============================================================================

// Plan is a priced offering attached to an agreement.
// DurationDays is nil for open-ended plans.
type Plan struct {
	ID            PlanID
	AgreementID   AgreementID
	Name          string
	DurationDays  *int
	ListPrice     decimal.Decimal
	DiscountValue decimal.Decimal
	FinalPrice    decimal.Decimal
	Active        bool
	IsDefault     bool
}

// ComputeFinalPrice returns list price minus discount, never below zero.
func (p Plan) ComputeFinalPrice() decimal.Decimal {
	final := p.ListPrice.Sub(p.DiscountValue)
	if final.IsNegative() {
		return decimal.Zero
	}
	return final
}

// HasDuration reports whether clones on this plan get a computed expiration.
func (p Plan) HasDuration() bool { return p.DurationDays != nil }

// =============================================================================
// MEMBER SNAPSHOT
// =============================================================================

type AuthorizationState string

const (
	AuthorizationPending  AuthorizationState = "unauthorized"
	AuthorizationGranted  AuthorizationState = "authorized"
	AuthorizationRejected AuthorizationState = "rejected"
)

// Valid reports whether s is a known authorization state.
func (s AuthorizationState) Valid() bool {
	switch s {
	case AuthorizationPending, AuthorizationGranted, AuthorizationRejected:
		return true
	}
	return false
}

// MemberSnapshot is one person's enrollment as of a specific calendar month.
// CreatedAt determines the owning month.
type MemberSnapshot struct {
	ID          MemberID
	AgreementID AgreementID
	PlanID      *PlanID

	NationalID string
	Email      string
	Phone      string
	Name       string
	Notes      string

	CreatedAt     time.Time
	ExpiresAt     *time.Time
	Authorization AuthorizationState
}

// HasPlan reports whether a plan is attached.
func (m MemberSnapshot) HasPlan() bool { return m.PlanID != nil }

// =============================================================================
// FREEZE RECORD
// =============================================================================

// FreezeRecord marks (agreement, month) as sealed. Presence with Frozen=true is
// the only signal that a month is locked.
type FreezeRecord struct {
	ID          string
	AgreementID AgreementID
	Month       MonthKey
	Frozen      bool
	ClonedCount int
	FrozenAt    time.Time
}
