package membership_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/cohort-engine/membership"
	"github.com/warp/cohort-engine/membership/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// jan15 is "now" for most tests: the open month 2025-01 is the current month.
var jan15 = time.Date(2025, time.January, 15, 10, 30, 0, 0, time.UTC)

type fixture struct {
	ctx       context.Context
	cal       *membership.Calendar
	store     *store.Memory
	locker    *membership.MemoryLocker
	svc       *membership.Service
	agreement membership.Agreement
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()

	cal := membership.NewCalendar(time.UTC).WithClock(func() time.Time { return now })
	st := store.NewMemory()
	locker := membership.NewMemoryLocker()
	f := &fixture{
		ctx:    context.Background(),
		cal:    cal,
		store:  st,
		locker: locker,
		svc:    membership.NewService(st, locker, cal, nil),
	}
	f.agreement = membership.Agreement{Name: "Acme", Status: membership.AgreementActive, CreatedAt: now}
	require.NoError(t, st.SaveAgreement(f.ctx, &f.agreement))
	return f
}

func (f *fixture) plan(t *testing.T, name string, days *int) membership.Plan {
	t.Helper()
	p := membership.Plan{
		AgreementID:  f.agreement.ID,
		Name:         name,
		DurationDays: days,
		ListPrice:    decimal.NewFromInt(100),
		Active:       true,
	}
	p.FinalPrice = p.ComputeFinalPrice()
	require.NoError(t, f.store.SavePlan(f.ctx, &p))
	return p
}

// seed inserts rows directly, bypassing the edit guard.
func (f *fixture) seed(t *testing.T, rows ...membership.MemberSnapshot) []membership.MemberSnapshot {
	t.Helper()
	for i := range rows {
		if rows[i].AgreementID == 0 {
			rows[i].AgreementID = f.agreement.ID
		}
		if rows[i].Authorization == "" {
			rows[i].Authorization = membership.AuthorizationGranted
		}
		require.NoError(t, f.store.InsertMember(f.ctx, &rows[i]))
	}
	return rows
}

func (f *fixture) month(year int, m time.Month) membership.MonthKey {
	return f.cal.Month(year, m)
}

func (f *fixture) cohort(t *testing.T, month membership.MonthKey) []membership.MemberSnapshot {
	t.Helper()
	rows, err := f.store.ListMembersBetween(f.ctx, f.agreement.ID, month.Time, month.Next().Time)
	require.NoError(t, err)
	return rows
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }
