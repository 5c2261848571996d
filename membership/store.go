/*
store.go - Persistence interfaces for agreements, plans, snapshots and freezes

PURPOSE:
  Defines the boundary between the cohort engine and the database. The engine
  only needs the agreement/plan/member tables and the freeze marker; everything
  else about agreements is owned by other services.

KEY INTERFACES:
  Reader:  read-side queries (open month, cohort rows, plans, freeze state)
  Writer:  snapshot and freeze-marker writes
  Store:   Reader + Writer
  TxStore: Store + WithTx (all-or-nothing, one consistent snapshot)

TRANSACTIONS:
  WithTx must give fn a Store whose reads observe the same snapshot its writes
  commit to. The freeze relies on this: open-month resolution, the frozen
  check, the next-month check and the cohort count all run inside it.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: production SQLite
  - membership/store/memory.go: in-memory for tests and dev

SEE ALSO:
  - freeze.go: the main WithTx caller
*/
package membership

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Interfaces consumed by the engine
// =============================================================================

// Reader holds the read-side queries.
type Reader interface {
	// GetAgreement returns ErrAgreementNotFound when missing.
	GetAgreement(ctx context.Context, id AgreementID) (*Agreement, error)

	// GetPlan returns ErrPlanNotFound when missing.
	GetPlan(ctx context.Context, id PlanID) (*Plan, error)

	// ListPlans returns every plan of an agreement, ordered by id.
	ListPlans(ctx context.Context, agreementID AgreementID) ([]Plan, error)

	// GetMember returns ErrMemberNotFound when missing.
	GetMember(ctx context.Context, id MemberID) (*MemberSnapshot, error)

	// LatestMemberCreatedAt returns the maximum CreatedAt of the agreement's
	// snapshots, or nil if the agreement never had any.
	LatestMemberCreatedAt(ctx context.Context, agreementID AgreementID) (*time.Time, error)

	// ListMembersBetween returns snapshots with from <= CreatedAt < to, ordered by id.
	// A zero from means "since the beginning".
	ListMembersBetween(ctx context.Context, agreementID AgreementID, from, to time.Time) ([]MemberSnapshot, error)

	// CountMembersBetween counts snapshots with from <= CreatedAt < to.
	CountMembersBetween(ctx context.Context, agreementID AgreementID, from, to time.Time) (int, error)

	// GetFreezeRecord returns nil, nil when no record exists.
	GetFreezeRecord(ctx context.Context, agreementID AgreementID, month MonthKey) (*FreezeRecord, error)

	// ListFreezeRecords returns records newest month first.
	ListFreezeRecords(ctx context.Context, agreementID AgreementID) ([]FreezeRecord, error)
}

// Writer holds the write-side operations.
type Writer interface {
	// InsertMember persists m and assigns m.ID.
	InsertMember(ctx context.Context, m *MemberSnapshot) error

	// UpdateMember overwrites a snapshot in place. The caller guarantees the
	// row stays in its month.
	UpdateMember(ctx context.Context, m MemberSnapshot) error

	// DeleteMember removes a snapshot; ErrMemberNotFound when missing.
	DeleteMember(ctx context.Context, id MemberID) error

	// UpsertFreezeRecord inserts the record or flips an existing one.
	UpsertFreezeRecord(ctx context.Context, rec FreezeRecord) error
}

// Store is the full engine-facing persistence surface.
type Store interface {
	Reader
	Writer
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// openMonth resolves the open month of an agreement from its latest snapshot.
// ok is false when the agreement never had any snapshot.
func openMonth(ctx context.Context, r Reader, cal *Calendar, agreementID AgreementID) (MonthKey, bool, error) {
	latest, err := r.LatestMemberCreatedAt(ctx, agreementID)
	if err != nil {
		return MonthKey{}, false, err
	}
	if latest == nil {
		return MonthKey{}, false, nil
	}
	return cal.MonthKey(*latest), true, nil
}

func isFrozen(ctx context.Context, r Reader, agreementID AgreementID, month MonthKey) (bool, error) {
	rec, err := r.GetFreezeRecord(ctx, agreementID, month)
	if err != nil {
		return false, err
	}
	return rec != nil && rec.Frozen, nil
}
