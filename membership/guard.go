package membership

import "context"

// =============================================================================
// EDITABILITY GUARD - May this (agreement, month) be mutated?
// =============================================================================

// Guard decides whether a month may be edited.
type Guard struct {
	Calendar *Calendar
}

// AssertEditable runs the checks in order:
//  1. months before the current month are locked (PastMonthLocked)
//  2. a frozen month is locked (MonthFrozen)
//  3. an agreement with no snapshots at all accepts any non-past month
//  4. otherwise only the open month is editable (NotOpenMonth)
//
// Pass the Store of an open transaction so every check reads one snapshot.
func (g *Guard) AssertEditable(ctx context.Context, r Reader, agreementID AgreementID, month MonthKey) error {
	if month.Before(g.Calendar.Current()) {
		return &EditError{AgreementID: agreementID, Month: month, Err: ErrPastMonthLocked}
	}

	frozen, err := isFrozen(ctx, r, agreementID, month)
	if err != nil {
		return err
	}
	if frozen {
		return &EditError{AgreementID: agreementID, Month: month, Err: ErrMonthFrozen}
	}

	open, ok, err := openMonth(ctx, r, g.Calendar, agreementID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if !month.Equal(open) {
		return &EditError{AgreementID: agreementID, Month: month, OpenMonth: open, Err: ErrNotOpenMonth}
	}
	return nil
}
