package membership

import (
	"context"
	"time"
)

// =============================================================================
// LISTING - Cohort rows with plan and billing flags
// =============================================================================

// MemberRow is one cohort row enriched for display.
type MemberRow struct {
	Member MemberSnapshot
	Plan   *Plan
	Classification
}

// Listing is the result of ListMembers.
type Listing struct {
	AgreementID AgreementID
	Month       MonthKey
	NextMonth   MonthKey
	OpenMonth   *MonthKey // nil when the agreement has no rows yet
	IsFrozen    bool
	IsOpenMonth bool
	Rows        []MemberRow
}

// ListMembers returns the cohort of month (default: the open month, or the
// current month for an agreement without rows). Classification is computed
// fresh on every call.
func (s *Service) ListMembers(ctx context.Context, agreementID AgreementID, month *MonthKey) (*Listing, error) {
	if _, err := s.Store.GetAgreement(ctx, agreementID); err != nil {
		return nil, err
	}

	open, hasOpen, err := openMonth(ctx, s.Store, s.Calendar, agreementID)
	if err != nil {
		return nil, err
	}

	var target MonthKey
	switch {
	case month != nil:
		if target, err = s.Calendar.Validate(month.Time); err != nil {
			return nil, err
		}
	case hasOpen:
		target = open
	default:
		target = s.Calendar.Current()
	}
	next := target.Next()

	cohort, err := s.Store.ListMembersBetween(ctx, agreementID, target.Time, next.Time)
	if err != nil {
		return nil, err
	}
	history, err := s.Store.ListMembersBetween(ctx, agreementID, time.Time{}, target.Time)
	if err != nil {
		return nil, err
	}
	frozen, err := isFrozen(ctx, s.Store, agreementID, target)
	if err != nil {
		return nil, err
	}
	plans, err := s.Store.ListPlans(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	byID := make(map[PlanID]*Plan, len(plans))
	for i := range plans {
		byID[plans[i].ID] = &plans[i]
	}

	flags := Classify(s.Calendar, target, cohort, history)
	rows := make([]MemberRow, len(cohort))
	for i, m := range cohort {
		rows[i] = MemberRow{Member: m, Classification: flags[i]}
		if m.PlanID != nil {
			rows[i].Plan = byID[*m.PlanID]
		}
	}

	l := &Listing{
		AgreementID: agreementID,
		Month:       target,
		NextMonth:   next,
		IsFrozen:    frozen,
		IsOpenMonth: hasOpen && target.Equal(open),
		Rows:        rows,
	}
	if hasOpen {
		l.OpenMonth = &open
	}
	return l, nil
}
