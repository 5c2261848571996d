package membership_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cohort-engine/membership"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// ROLLOVER
// =============================================================================

func TestFreeze_SingleMemberWithoutPlan(t *testing.T) {
	// GIVEN: Open month 2025-01 with one member {national id 100, no plan}
	// WHEN: Freezing the agreement
	// THEN: January is frozen, one clone lands in February, and February
	//       becomes the default listing with the row billed
	f := newFixture(t, jan15)
	f.seed(t, membership.MemberSnapshot{NationalID: "100", Name: "Ana", CreatedAt: date(2025, time.January, 1)})

	result, err := f.svc.Freeze(f.ctx, f.agreement.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, "2025-01-01", result.FrozenMonth.String())
	assert.Equal(t, "2025-02-01", result.NextMonth.String())
	assert.Equal(t, 1, result.ClonedCount)
	assert.Equal(t, 0, result.SkippedCount)

	listing, err := f.svc.ListMembers(f.ctx, f.agreement.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "2025-02-01", listing.Month.String())
	assert.True(t, listing.IsOpenMonth)
	assert.False(t, listing.IsFrozen)
	require.Len(t, listing.Rows, 1)
	assert.True(t, listing.Rows[0].BillThisMonth)
	assert.False(t, listing.Rows[0].LockedThisMonth)

	rec, err := f.store.GetFreezeRecord(f.ctx, f.agreement.ID, f.month(2025, time.January))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Frozen)
	assert.Equal(t, 1, rec.ClonedCount)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, jan15, rec.FrozenAt)
}

func TestFreeze_PlanDuration_ComputesCloneExpiration(t *testing.T) {
	// GIVEN: A member on a 30-day plan without an expiration
	// WHEN: Freezing January
	// THEN: The clone expires 30 days after 2025-02-01
	f := newFixture(t, jan15)
	plan := f.plan(t, "Monthly", ptr(30))
	f.seed(t, membership.MemberSnapshot{PlanID: &plan.ID, NationalID: "100", Name: "Ana", CreatedAt: date(2025, time.January, 1)})

	_, err := f.svc.Freeze(f.ctx, f.agreement.ID, nil)
	require.NoError(t, err)

	clones := f.cohort(t, f.month(2025, time.February))
	require.Len(t, clones, 1)
	require.NotNil(t, clones[0].ExpiresAt)
	assert.Equal(t, date(2025, time.March, 3), *clones[0].ExpiresAt)
}

func TestFreeze_ClonesCopyFieldsAndResetAuthorization(t *testing.T) {
	f := newFixture(t, jan15)
	plan := f.plan(t, "Annual", ptr(365))
	exp := date(2025, time.June, 1)
	src := f.seed(t, membership.MemberSnapshot{
		PlanID:        &plan.ID,
		NationalID:    "100",
		Email:         "ana@acme.test",
		Phone:         "555",
		Name:          "Ana",
		Notes:         "VIP",
		CreatedAt:     time.Date(2025, time.January, 9, 14, 0, 0, 0, time.UTC),
		ExpiresAt:     &exp,
		Authorization: membership.AuthorizationGranted,
	})[0]

	_, err := f.svc.Freeze(f.ctx, f.agreement.ID, nil)
	require.NoError(t, err)

	clones := f.cohort(t, f.month(2025, time.February))
	require.Len(t, clones, 1)
	c := clones[0]
	assert.NotEqual(t, src.ID, c.ID)
	assert.Equal(t, src.PlanID, c.PlanID)
	assert.Equal(t, src.NationalID, c.NationalID)
	assert.Equal(t, src.Email, c.Email)
	assert.Equal(t, src.Phone, c.Phone)
	assert.Equal(t, src.Notes, c.Notes)
	assert.Equal(t, date(2025, time.February, 1), c.CreatedAt)
	assert.Equal(t, exp, *c.ExpiresAt, "existing expiration is inherited")
	assert.Equal(t, membership.AuthorizationPending, c.Authorization)
}

func TestFreeze_NoPlanAndNoExpiration_CloneHasNoExpiration(t *testing.T) {
	f := newFixture(t, jan15)
	open := f.plan(t, "Open-ended", nil)
	f.seed(t,
		membership.MemberSnapshot{NationalID: "1", Name: "A", CreatedAt: date(2025, time.January, 1)},
		membership.MemberSnapshot{PlanID: &open.ID, NationalID: "2", Name: "B", CreatedAt: date(2025, time.January, 1)},
	)

	_, err := f.svc.Freeze(f.ctx, f.agreement.ID, nil)
	require.NoError(t, err)

	for _, c := range f.cohort(t, f.month(2025, time.February)) {
		assert.Nil(t, c.ExpiresAt, c.Name)
	}
}

// =============================================================================
// DEDUPLICATION
// =============================================================================

func TestFreeze_OneClonePerPerson_HighestIDWins(t *testing.T) {
	// GIVEN: Two rows for national id 100, two rows for one email in
	//        different case, and one row without identity
	// WHEN: Freezing
	// THEN: Three clones; the later row of each person is the one copied
	f := newFixture(t, jan15)
	jan := date(2025, time.January, 1)
	rows := f.seed(t,
		membership.MemberSnapshot{NationalID: "100", Name: "Ana", Notes: "old", CreatedAt: jan},
		membership.MemberSnapshot{NationalID: "100", Name: "Ana", Notes: "new", CreatedAt: jan.Add(time.Hour)},
		membership.MemberSnapshot{Email: "Bo@Acme.test", Name: "Bo", Notes: "old", CreatedAt: jan},
		membership.MemberSnapshot{Email: "bo@acme.test", Name: "Bo", Notes: "new", CreatedAt: jan},
		membership.MemberSnapshot{Name: "Walk-in", CreatedAt: jan},
	)
	require.Len(t, rows, 5)

	result, err := f.svc.Freeze(f.ctx, f.agreement.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.ClonedCount)

	clones := f.cohort(t, f.month(2025, time.February))
	require.Len(t, clones, 3)
	notes := map[string]string{}
	for _, c := range clones {
		notes[c.Name] = c.Notes
	}
	assert.Equal(t, "new", notes["Ana"])
	assert.Equal(t, "new", notes["Bo"])
	assert.Contains(t, notes, "Walk-in")
}

func TestFreeze_CloneGuard_SkipsSharedEmailAcrossKeys(t *testing.T) {
	// GIVEN: One row keyed by national id and another keyed by the same email
	// THEN: PersonKey sees two people, the clone guard writes only the first
	f := newFixture(t, jan15)
	jan := date(2025, time.January, 1)
	f.seed(t,
		membership.MemberSnapshot{NationalID: "100", Email: "ana@acme.test", Name: "Ana", CreatedAt: jan},
		membership.MemberSnapshot{Email: "ANA@acme.test", Name: "Ana (dup)", CreatedAt: jan},
	)

	result, err := f.svc.Freeze(f.ctx, f.agreement.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.ClonedCount)
	assert.Equal(t, 1, result.SkippedCount)
	clones := f.cohort(t, f.month(2025, time.February))
	require.Len(t, clones, 1)
	assert.Equal(t, "Ana", clones[0].Name)
}

func TestFreeze_PhoneOnlyPeople_GroupedByPersonKey(t *testing.T) {
	f := newFixture(t, jan15)
	jan := date(2025, time.January, 1)
	f.seed(t,
		membership.MemberSnapshot{Phone: "555-1", Name: "P1", CreatedAt: jan},
		membership.MemberSnapshot{Phone: "555-2", Name: "P2", CreatedAt: jan},
		membership.MemberSnapshot{Phone: "555-1", Name: "P1 again", CreatedAt: jan},
	)

	result, err := f.svc.Freeze(f.ctx, f.agreement.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ClonedCount)
}

// =============================================================================
// REJECTIONS
// =============================================================================

func TestFreeze_SameMonthTwice_AlreadyFrozen(t *testing.T) {
	// GIVEN: January was frozen
	// WHEN: Freezing January again
	// THEN: AlreadyFrozen and no extra rows
	f := newFixture(t, jan15)
	f.seed(t, membership.MemberSnapshot{NationalID: "100", Name: "Ana", CreatedAt: date(2025, time.January, 1)})
	jan := f.month(2025, time.January)

	_, err := f.svc.Freeze(f.ctx, f.agreement.ID, &jan)
	require.NoError(t, err)
	before := len(f.cohort(t, f.month(2025, time.February)))

	_, err = f.svc.Freeze(f.ctx, f.agreement.ID, &jan)
	assert.ErrorIs(t, err, membership.ErrAlreadyFrozen)
	assert.True(t, membership.IsPrecondition(err))
	assert.Len(t, f.cohort(t, f.month(2025, time.February)), before)
}

func TestFreeze_OpenMonthFrozenWithoutClones_AlreadyFrozen(t *testing.T) {
	f := newFixture(t, jan15)
	f.seed(t, membership.MemberSnapshot{NationalID: "100", Name: "Ana", CreatedAt: date(2025, time.January, 1)})
	require.NoError(t, f.store.UpsertFreezeRecord(f.ctx, membership.FreezeRecord{
		ID: "manual", AgreementID: f.agreement.ID, Month: f.month(2025, time.January), Frozen: true,
	}))

	_, err := f.svc.Freeze(f.ctx, f.agreement.ID, nil)

	assert.ErrorIs(t, err, membership.ErrAlreadyFrozen)
	assert.Empty(t, f.cohort(t, f.month(2025, time.February)))
}

func TestFreeze_PastMonthCannotBeFrozen(t *testing.T) {
	// GIVEN: Open month is January, today is February 3
	// THEN: CannotFreezePastMonth
	f := newFixture(t, date(2025, time.February, 3))
	f.seed(t, membership.MemberSnapshot{NationalID: "100", Name: "Ana", CreatedAt: date(2025, time.January, 1)})

	_, err := f.svc.Freeze(f.ctx, f.agreement.ID, nil)

	assert.ErrorIs(t, err, membership.ErrCannotFreezePastMonth)
	var freezeErr *membership.FreezeError
	require.ErrorAs(t, err, &freezeErr)
	assert.Equal(t, "2025-01-01", freezeErr.Month.String())
}

func TestFreeze_RequestedMonthMustBeOpenMonth(t *testing.T) {
	f := newFixture(t, jan15)
	f.seed(t, membership.MemberSnapshot{NationalID: "100", Name: "Ana", CreatedAt: date(2025, time.January, 1)})
	feb := f.month(2025, time.February)

	_, err := f.svc.Freeze(f.ctx, f.agreement.ID, &feb)

	assert.ErrorIs(t, err, membership.ErrMonthMismatch)
	assert.True(t, membership.IsValidation(err))
}

func TestFreeze_AgreementWithoutMembers(t *testing.T) {
	f := newFixture(t, jan15)

	_, err := f.svc.Freeze(f.ctx, f.agreement.ID, nil)

	assert.ErrorIs(t, err, membership.ErrNoMembersToFreeze)
}

func TestFreeze_UnknownAgreement(t *testing.T) {
	f := newFixture(t, jan15)

	_, err := f.svc.Freeze(f.ctx, 999, nil)

	assert.ErrorIs(t, err, membership.ErrAgreementNotFound)
	assert.True(t, membership.IsNotFound(err))
}

// =============================================================================
// NO DOUBLE ROLLOVER
// =============================================================================

func TestFreeze_NextMonthHasRows_RejectedWithoutChanges(t *testing.T) {
	// GIVEN: The store reports January as the open month while February
	//        already holds a manually inserted row
	// WHEN: Freezing
	// THEN: NextMonthAlreadyExists and nothing is written
	f := newFixture(t, jan15)
	f.seed(t, membership.MemberSnapshot{NationalID: "100", Name: "Ana", CreatedAt: date(2025, time.January, 1)})

	st := &pinnedOpenMonth{TxStore: f.store, latest: date(2025, time.January, 1)}
	f.seed(t, membership.MemberSnapshot{NationalID: "200", Name: "Manual", CreatedAt: date(2025, time.February, 1)})
	svc := membership.NewService(st, f.locker, f.cal, nil)

	before, err := f.store.CountMembersBetween(f.ctx, f.agreement.ID, time.Time{}, date(2030, time.January, 1))
	require.NoError(t, err)

	_, err = svc.Freeze(f.ctx, f.agreement.ID, nil)

	assert.ErrorIs(t, err, membership.ErrNextMonthAlreadyExists)
	assert.True(t, membership.IsConflict(err))
	after, err := f.store.CountMembersBetween(f.ctx, f.agreement.ID, time.Time{}, date(2030, time.January, 1))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	rec, err := f.store.GetFreezeRecord(f.ctx, f.agreement.ID, f.month(2025, time.January))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

// pinnedOpenMonth reports a fixed latest created_at, as a store would whose
// next-month rows were written by another system with an older clock.
type pinnedOpenMonth struct {
	membership.TxStore
	latest time.Time
}

func (p *pinnedOpenMonth) LatestMemberCreatedAt(context.Context, membership.AgreementID) (*time.Time, error) {
	t := p.latest
	return &t, nil
}

func (p *pinnedOpenMonth) WithTx(ctx context.Context, fn func(membership.Store) error) error {
	return p.TxStore.WithTx(ctx, func(tx membership.Store) error {
		return fn(&pinnedTx{Store: tx, latest: p.latest})
	})
}

type pinnedTx struct {
	membership.Store
	latest time.Time
}

func (p *pinnedTx) LatestMemberCreatedAt(context.Context, membership.AgreementID) (*time.Time, error) {
	t := p.latest
	return &t, nil
}

// =============================================================================
// ATOMICITY
// =============================================================================

var errDiskFull = errors.New("disk full")

// failingInserts fails the n-th InsertMember inside a transaction.
type failingInserts struct {
	membership.TxStore
	failAt int
}

func (s *failingInserts) WithTx(ctx context.Context, fn func(membership.Store) error) error {
	n := 0
	return s.TxStore.WithTx(ctx, func(tx membership.Store) error {
		return fn(&failingTx{Store: tx, n: &n, failAt: s.failAt})
	})
}

type failingTx struct {
	membership.Store
	n      *int
	failAt int
}

func (tx *failingTx) InsertMember(ctx context.Context, m *membership.MemberSnapshot) error {
	*tx.n++
	if *tx.n == tx.failAt {
		return errDiskFull
	}
	return tx.Store.InsertMember(ctx, m)
}

func TestFreeze_FailureMidClone_RollsBackEverything(t *testing.T) {
	// GIVEN: Three people and a store that fails on the second clone insert
	// WHEN: Freezing
	// THEN: The error surfaces, no clone is committed, January is not frozen,
	//       and the lock is released
	f := newFixture(t, jan15)
	jan := date(2025, time.January, 1)
	f.seed(t,
		membership.MemberSnapshot{NationalID: "1", Name: "A", CreatedAt: jan},
		membership.MemberSnapshot{NationalID: "2", Name: "B", CreatedAt: jan},
		membership.MemberSnapshot{NationalID: "3", Name: "C", CreatedAt: jan},
	)
	svc := membership.NewService(&failingInserts{TxStore: f.store, failAt: 2}, f.locker, f.cal, nil)

	_, err := svc.Freeze(f.ctx, f.agreement.ID, nil)

	assert.ErrorIs(t, err, errDiskFull)
	assert.Empty(t, f.cohort(t, f.month(2025, time.February)))
	rec, err := f.store.GetFreezeRecord(f.ctx, f.agreement.ID, f.month(2025, time.January))
	require.NoError(t, err)
	assert.Nil(t, rec)

	// Lock was released: a healthy retry succeeds
	result, err := f.svc.Freeze(f.ctx, f.agreement.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.ClonedCount)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestFreeze_LockHeldElsewhere_ConcurrentFreezeInProgress(t *testing.T) {
	f := newFixture(t, jan15)
	f.seed(t, membership.MemberSnapshot{NationalID: "100", Name: "Ana", CreatedAt: date(2025, time.January, 1)})

	held, err := f.locker.TryAcquire(f.ctx, membership.FreezeLockKey(f.agreement.ID), time.Second)
	require.NoError(t, err)
	defer held.Release(f.ctx)

	f.svc.Engine.LockTimeout = 20 * time.Millisecond
	_, err = f.svc.Freeze(f.ctx, f.agreement.ID, nil)

	assert.ErrorIs(t, err, membership.ErrConcurrentFreezeInProgress)
	assert.True(t, membership.IsRetryable(err))
	assert.Empty(t, f.cohort(t, f.month(2025, time.February)))
}

func TestFreeze_ConcurrentCallers_ExactlyOneRollover(t *testing.T) {
	// GIVEN: Eight callers freezing January at once
	// THEN: One succeeds, the rest see AlreadyFrozen, February has one clone
	//       per person
	f := newFixture(t, jan15)
	jan := date(2025, time.January, 1)
	f.seed(t,
		membership.MemberSnapshot{NationalID: "1", Name: "A", CreatedAt: jan},
		membership.MemberSnapshot{NationalID: "2", Name: "B", CreatedAt: jan},
	)
	month := f.month(2025, time.January)

	const callers = 8
	errs := make([]error, callers)
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		i := i
		g.Go(func() error {
			_, errs[i] = f.svc.Freeze(f.ctx, f.agreement.ID, &month)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, membership.ErrAlreadyFrozen)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, f.cohort(t, f.month(2025, time.February)), 2)
}

func TestFreeze_DifferentAgreementsFreezeInParallel(t *testing.T) {
	f := newFixture(t, jan15)
	other := membership.Agreement{Name: "Other"}
	require.NoError(t, f.store.SaveAgreement(f.ctx, &other))

	jan := date(2025, time.January, 1)
	f.seed(t,
		membership.MemberSnapshot{NationalID: "1", Name: "A", CreatedAt: jan},
		membership.MemberSnapshot{AgreementID: other.ID, NationalID: "1", Name: "A", CreatedAt: jan},
	)

	g, ctx := errgroup.WithContext(f.ctx)
	for _, id := range []membership.AgreementID{f.agreement.ID, other.ID} {
		id := id
		g.Go(func() error {
			_, err := f.svc.Freeze(ctx, id, nil)
			return err
		})
	}
	require.NoError(t, g.Wait())

	history, err := f.svc.FreezeHistory(f.ctx, other.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "2025-01-01", history[0].Month.String())
}
