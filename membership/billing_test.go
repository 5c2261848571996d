package membership_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cohort-engine/membership"
)

func TestClassify_NoPlan_BilledAndUnlocked(t *testing.T) {
	cal := membership.NewCalendar(time.UTC)
	jan := cal.Month(2025, time.January)
	cohort := []membership.MemberSnapshot{{ID: 1, NationalID: "100", CreatedAt: jan.Time}}

	flags := membership.Classify(cal, jan, cohort, nil)

	require.Len(t, flags, 1)
	assert.True(t, flags[0].BillThisMonth)
	assert.False(t, flags[0].LockedThisMonth)
}

func TestClassify_FirstMonthOfCycle_BilledOnce(t *testing.T) {
	// GIVEN: The same person on the same plan and expiration for three months
	// WHEN: Classifying each month with its earlier rows as history
	// THEN: Only the first month bills; every month is locked
	cal := membership.NewCalendar(time.UTC)
	plan := membership.PlanID(1)
	exp := date(2025, time.June, 1)

	months := []membership.MonthKey{
		cal.Month(2025, time.January),
		cal.Month(2025, time.February),
		cal.Month(2025, time.March),
	}
	var all []membership.MemberSnapshot
	for i, m := range months {
		all = append(all, membership.MemberSnapshot{
			ID: membership.MemberID(i + 1), PlanID: &plan, NationalID: "100", CreatedAt: m.Time, ExpiresAt: &exp,
		})
	}

	for i, m := range months {
		flags := membership.Classify(cal, m, all[i:i+1], all[:i])
		require.Len(t, flags, 1)
		assert.Equal(t, i == 0, flags[0].BillThisMonth, "month %s", m)
		assert.True(t, flags[0].LockedThisMonth, "month %s", m)
	}
}

func TestClassify_LapsedPlan_BilledAndUnlocked(t *testing.T) {
	// GIVEN: A cycle that expired at the start of March
	// WHEN: Classifying March
	// THEN: The row bills again and is no longer locked
	cal := membership.NewCalendar(time.UTC)
	plan := membership.PlanID(1)
	exp := date(2025, time.March, 1)
	feb := cal.Month(2025, time.February)
	mar := cal.Month(2025, time.March)

	history := []membership.MemberSnapshot{{ID: 1, PlanID: &plan, NationalID: "100", CreatedAt: feb.Time, ExpiresAt: &exp}}
	cohort := []membership.MemberSnapshot{{ID: 2, PlanID: &plan, NationalID: "100", CreatedAt: mar.Time, ExpiresAt: &exp}}

	flags := membership.Classify(cal, mar, cohort, history)

	assert.True(t, flags[0].BillThisMonth)
	assert.False(t, flags[0].LockedThisMonth)
}

func TestClassify_PlanWithoutExpiration_AlwaysLocked(t *testing.T) {
	cal := membership.NewCalendar(time.UTC)
	plan := membership.PlanID(1)
	jan := cal.Month(2025, time.January)
	feb := cal.Month(2025, time.February)

	history := []membership.MemberSnapshot{{ID: 1, PlanID: &plan, Email: "a@x.test", CreatedAt: jan.Time}}
	cohort := []membership.MemberSnapshot{{ID: 2, PlanID: &plan, Email: "A@X.test", CreatedAt: feb.Time}}

	flags := membership.Classify(cal, feb, cohort, history)

	assert.False(t, flags[0].BillThisMonth, "email match continues the January cycle")
	assert.True(t, flags[0].LockedThisMonth)
}

func TestClassify_NewExpirationStartsNewCycle(t *testing.T) {
	// GIVEN: A renewal changed the expiration between January and February
	// THEN: February is the first month of a new cycle
	cal := membership.NewCalendar(time.UTC)
	plan := membership.PlanID(1)
	jan := cal.Month(2025, time.January)
	feb := cal.Month(2025, time.February)

	history := []membership.MemberSnapshot{{ID: 1, PlanID: &plan, NationalID: "100", CreatedAt: jan.Time, ExpiresAt: ptr(date(2025, time.April, 1))}}
	cohort := []membership.MemberSnapshot{{ID: 2, PlanID: &plan, NationalID: "100", CreatedAt: feb.Time, ExpiresAt: ptr(date(2025, time.August, 1))}}

	flags := membership.Classify(cal, feb, cohort, history)

	assert.True(t, flags[0].BillThisMonth)
}

func TestClassify_HistoryOfOtherPeopleIgnored(t *testing.T) {
	cal := membership.NewCalendar(time.UTC)
	plan := membership.PlanID(1)
	jan := cal.Month(2025, time.January)
	feb := cal.Month(2025, time.February)

	history := []membership.MemberSnapshot{{ID: 1, PlanID: &plan, NationalID: "999", CreatedAt: jan.Time}}
	cohort := []membership.MemberSnapshot{{ID: 2, PlanID: &plan, NationalID: "100", CreatedAt: feb.Time}}

	flags := membership.Classify(cal, feb, cohort, history)

	assert.True(t, flags[0].BillThisMonth)
}

func TestClassify_PreservesCohortOrder(t *testing.T) {
	cal := membership.NewCalendar(time.UTC)
	plan := membership.PlanID(1)
	jan := cal.Month(2025, time.January)
	cohort := []membership.MemberSnapshot{
		{ID: 1, PlanID: &plan, NationalID: "1", CreatedAt: jan.Time},
		{ID: 2, NationalID: "2", CreatedAt: jan.Time},
	}

	flags := membership.Classify(cal, jan, cohort, nil)

	require.Len(t, flags, 2)
	assert.True(t, flags[0].LockedThisMonth)
	assert.False(t, flags[1].LockedThisMonth)
}
