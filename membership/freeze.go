/*
freeze.go - Freeze/rollover state transition

PURPOSE:
  Seals an agreement's open month and spawns the next month's cohort by
  cloning one snapshot per distinct person forward.

STATE MACHINE (per agreement, month):
  Open -> Frozen (terminal). Freezing month M leaves M+1 as the new open month.

ALGORITHM (Freeze):
  1. Acquire the per-agreement lock (bounded wait)
  2. Resolve the open month (latest snapshot's month)
  3. Reject past months, a mismatching requested month, an already frozen
     month, a next month that already has rows, and an empty cohort
  4. Pick one representative per PersonKey (highest id wins)
  5. Insert clones dated at the first instant of the next month
  6. Mark the month frozen
  Steps 2-6 run in a single store transaction; any error rolls back all of it.

CONCURRENCY:
  Freezes on the same agreement are serialized by the Locker. Different
  agreements freeze in parallel. The transaction snapshot closes the window
  where two callers would both see "not yet frozen".

SEE ALSO:
  - locker.go: Locker capability
  - identity.go: PersonKey and the clone identity guard
*/
package membership

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/warp/cohort-engine/logger"
)

// DefaultLockTimeout bounds the wait for a concurrent freeze to finish.
const DefaultLockTimeout = 10 * time.Second

// FreezeEngine orchestrates the locked Open -> Frozen transition.
type FreezeEngine struct {
	Store       TxStore
	Locker      Locker
	Calendar    *Calendar
	LockTimeout time.Duration
	Log         *logger.Logger
}

// FreezeResult summarizes a committed freeze.
type FreezeResult struct {
	FrozenMonth MonthKey
	NextMonth   MonthKey
	ClonedCount int

	// SkippedCount is the number of representatives dropped by the clone
	// identity guard (same national id or email as an earlier clone).
	SkippedCount int
}

// Freeze seals the open month of agreementID. When requested is non-nil it
// must equal the open month.
func (e *FreezeEngine) Freeze(ctx context.Context, agreementID AgreementID, requested *MonthKey) (*FreezeResult, error) {
	log := e.log().With("agreement_id", int64(agreementID))

	timeout := e.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}

	lock, err := e.Locker.TryAcquire(ctx, FreezeLockKey(agreementID), timeout)
	if err != nil {
		if errors.Is(err, ErrLockBusy) {
			log.Warn("freeze lock busy", "timeout", timeout.String())
			return nil, &FreezeError{AgreementID: agreementID, Err: ErrConcurrentFreezeInProgress}
		}
		return nil, fmt.Errorf("acquire freeze lock: %w", err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.Error("release freeze lock", "error", err)
		}
	}()

	var result *FreezeResult
	err = e.Store.WithTx(ctx, func(tx Store) error {
		r, err := e.freezeTx(ctx, tx, agreementID, requested)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		log.Info("freeze rejected", "error", err)
		return nil, err
	}

	log.Info("month frozen",
		"frozen_month", result.FrozenMonth.String(),
		"next_month", result.NextMonth.String(),
		"cloned", result.ClonedCount,
		"skipped", result.SkippedCount,
	)
	return result, nil
}

func (e *FreezeEngine) freezeTx(ctx context.Context, tx Store, agreementID AgreementID, requested *MonthKey) (*FreezeResult, error) {
	open, ok, err := openMonth(ctx, tx, e.Calendar, agreementID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &FreezeError{AgreementID: agreementID, Err: ErrNoMembersToFreeze}
	}

	fail := func(err error) (*FreezeResult, error) {
		return nil, &FreezeError{AgreementID: agreementID, Month: open, Err: err}
	}

	if open.Before(e.Calendar.Current()) {
		return fail(ErrCannotFreezePastMonth)
	}
	if requested != nil {
		want := e.Calendar.MonthKey(requested.Time)
		if !want.Equal(open) {
			// A repeated request for a month that was already sealed
			// reports AlreadyFrozen rather than a mismatch.
			done, err := isFrozen(ctx, tx, agreementID, want)
			if err != nil {
				return nil, err
			}
			if done {
				return nil, &FreezeError{AgreementID: agreementID, Month: want, Err: ErrAlreadyFrozen}
			}
			return fail(ErrMonthMismatch)
		}
	}

	frozen, err := isFrozen(ctx, tx, agreementID, open)
	if err != nil {
		return nil, err
	}
	if frozen {
		return fail(ErrAlreadyFrozen)
	}

	next := open.Next()
	nextCount, err := tx.CountMembersBetween(ctx, agreementID, next.Time, next.Next().Time)
	if err != nil {
		return nil, err
	}
	if nextCount > 0 {
		return fail(ErrNextMonthAlreadyExists)
	}

	cohort, err := tx.ListMembersBetween(ctx, agreementID, open.Time, next.Time)
	if err != nil {
		return nil, err
	}
	if len(cohort) == 0 {
		return fail(ErrEmptyMonth)
	}

	cloned, skipped, err := e.cloneForward(ctx, tx, cohort, next)
	if err != nil {
		return nil, err
	}
	if cloned == 0 {
		return fail(ErrNothingCloned)
	}

	rec := FreezeRecord{
		ID:          uuid.NewString(),
		AgreementID: agreementID,
		Month:       open,
		Frozen:      true,
		ClonedCount: cloned,
		FrozenAt:    e.Calendar.Now(),
	}
	if err := tx.UpsertFreezeRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("mark month frozen: %w", err)
	}

	return &FreezeResult{FrozenMonth: open, NextMonth: next, ClonedCount: cloned, SkippedCount: skipped}, nil
}

// cloneForward inserts one row per representative into next.
func (e *FreezeEngine) cloneForward(ctx context.Context, tx Store, cohort []MemberSnapshot, next MonthKey) (cloned, skipped int, err error) {
	reps := representatives(cohort)
	plans := make(map[PlanID]*Plan)
	written := newCloneIdentity()

	for _, rep := range reps {
		if written.seen(rep) {
			skipped++
			continue
		}

		expiresAt, err := e.cloneExpiration(ctx, tx, plans, rep, next)
		if err != nil {
			return 0, 0, err
		}

		clone := MemberSnapshot{
			AgreementID:   rep.AgreementID,
			PlanID:        rep.PlanID,
			NationalID:    rep.NationalID,
			Email:         rep.Email,
			Phone:         rep.Phone,
			Name:          rep.Name,
			Notes:         rep.Notes,
			CreatedAt:     next.Time,
			ExpiresAt:     expiresAt,
			Authorization: AuthorizationPending,
		}
		if err := tx.InsertMember(ctx, &clone); err != nil {
			return 0, 0, fmt.Errorf("clone member %d: %w", rep.ID, err)
		}
		written.add(rep)
		cloned++
	}
	return cloned, skipped, nil
}

// cloneExpiration keeps an existing expiration; otherwise a plan with a
// duration yields next + duration days; otherwise nil.
func (e *FreezeEngine) cloneExpiration(ctx context.Context, tx Store, plans map[PlanID]*Plan, rep MemberSnapshot, next MonthKey) (*time.Time, error) {
	if rep.ExpiresAt != nil {
		t := *rep.ExpiresAt
		return &t, nil
	}
	if !rep.HasPlan() {
		return nil, nil
	}

	plan, cached := plans[*rep.PlanID]
	if !cached {
		p, err := tx.GetPlan(ctx, *rep.PlanID)
		switch {
		case errors.Is(err, ErrPlanNotFound):
			p = nil
		case err != nil:
			return nil, err
		}
		plans[*rep.PlanID] = p
		plan = p
	}
	if plan == nil || !plan.HasDuration() {
		return nil, nil
	}
	t := next.Time.AddDate(0, 0, *plan.DurationDays)
	return &t, nil
}

// representatives picks the highest-id row per PersonKey, returned in
// ascending id order.
func representatives(cohort []MemberSnapshot) []MemberSnapshot {
	best := make(map[string]MemberSnapshot, len(cohort))
	for _, m := range cohort {
		k := PersonKey(m)
		if cur, ok := best[k]; !ok || m.ID > cur.ID {
			best[k] = m
		}
	}
	reps := make([]MemberSnapshot, 0, len(best))
	for _, m := range best {
		reps = append(reps, m)
	}
	sort.Slice(reps, func(i, j int) bool { return reps[i].ID < reps[j].ID })
	return reps
}

func (e *FreezeEngine) log() *logger.Logger {
	if e.Log == nil {
		return logger.Nop()
	}
	return e.Log
}
