package membership

import "time"

// =============================================================================
// BILLING-CYCLE CLASSIFIER - Must this row be billed in the queried month?
// =============================================================================

// Classification is the per-row read model computed on every listing.
// It is never persisted: cohort membership changes between calls.
type Classification struct {
	// BillThisMonth (cobrar_este_mes) is true when the member is charged in
	// the queried month: no plan, a lapsed plan, or the first month of the
	// (plan, person, expiration) cycle.
	BillThisMonth bool

	// LockedThisMonth (locked_este_mes) is false for rows without a plan and
	// true while the plan has not expired as of the queried month.
	LockedThisMonth bool
}

// cycleKey identifies one billing cycle of one person.
type cycleKey struct {
	plan      PlanID
	person    string
	expiresAt int64 // unix nanos, 0 when no expiration
}

func newCycleKey(m MemberSnapshot) cycleKey {
	k := cycleKey{plan: *m.PlanID, person: PersonKey(m)}
	if m.ExpiresAt != nil {
		k.expiresAt = m.ExpiresAt.UnixNano()
	}
	return k
}

// Classify computes billing flags for each row of cohort (the rows of month).
//
// history holds earlier snapshots of the same agreement; only rows whose
// (plan, person, expiration) triple also appears in cohort contribute to the
// first-month aggregation. Rows of cohort itself are always included, so a
// nil history makes every plan row a first month.
func Classify(cal *Calendar, month MonthKey, cohort, history []MemberSnapshot) []Classification {
	firstSeen := make(map[cycleKey]MonthKey)
	for _, m := range cohort {
		if m.HasPlan() {
			firstSeen[newCycleKey(m)] = month
		}
	}
	for _, m := range history {
		if !m.HasPlan() {
			continue
		}
		k := newCycleKey(m)
		first, tracked := firstSeen[k]
		if !tracked {
			continue
		}
		if mk := cal.MonthKey(m.CreatedAt); mk.Before(first) {
			firstSeen[k] = mk
		}
	}

	out := make([]Classification, len(cohort))
	for i, m := range cohort {
		out[i] = Classification{
			BillThisMonth:   billThisMonth(month, m, firstSeen),
			LockedThisMonth: lockedThisMonth(month, m),
		}
	}
	return out
}

func billThisMonth(month MonthKey, m MemberSnapshot, firstSeen map[cycleKey]MonthKey) bool {
	if !m.HasPlan() {
		return true
	}
	if m.ExpiresAt != nil && lapsed(month, *m.ExpiresAt) {
		return true
	}
	first, ok := firstSeen[newCycleKey(m)]
	return ok && first.Equal(month)
}

func lockedThisMonth(month MonthKey, m MemberSnapshot) bool {
	if !m.HasPlan() {
		return false
	}
	if m.ExpiresAt == nil {
		return true
	}
	return !lapsed(month, *m.ExpiresAt)
}

// lapsed reports month >= expiration.
func lapsed(month MonthKey, expiresAt time.Time) bool {
	return !month.Time.Before(expiresAt)
}
