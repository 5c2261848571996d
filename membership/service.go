/*
service.go - Cohort operations exposed to transports

PURPOSE:
  Groups the engine's public operations behind one struct:
    Freeze        - delegates to FreezeEngine
    ListMembers   - listing with billing classification (listing.go)
    AddMember / UpdateMember / RemoveMember - guarded edits of the open month
    AssertEditable, FreezeHistory

  Reads are lock-free. Edits run inside one store transaction so the guard
  and the write see the same snapshot.

SEE ALSO:
  - api/handlers.go: HTTP surface
*/
package membership

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/warp/cohort-engine/logger"
)

// Service is the entry point for transports.
type Service struct {
	Store    TxStore
	Calendar *Calendar
	Guard    *Guard
	Engine   *FreezeEngine
	Log      *logger.Logger
}

// NewService wires a service with its guard and freeze engine.
func NewService(store TxStore, locker Locker, cal *Calendar, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		Store:    store,
		Calendar: cal,
		Guard:    &Guard{Calendar: cal},
		Engine: &FreezeEngine{
			Store:       store,
			Locker:      locker,
			Calendar:    cal,
			LockTimeout: DefaultLockTimeout,
			Log:         log,
		},
		Log: log,
	}
}

// Freeze seals the open month and rolls members forward.
func (s *Service) Freeze(ctx context.Context, agreementID AgreementID, requested *MonthKey) (*FreezeResult, error) {
	if _, err := s.Store.GetAgreement(ctx, agreementID); err != nil {
		return nil, err
	}
	return s.Engine.Freeze(ctx, agreementID, requested)
}

// AssertEditable runs the guard in a single read transaction.
func (s *Service) AssertEditable(ctx context.Context, agreementID AgreementID, month MonthKey) error {
	return s.Store.WithTx(ctx, func(tx Store) error {
		return s.Guard.AssertEditable(ctx, tx, agreementID, month)
	})
}

// FreezeHistory lists an agreement's freeze records, newest first.
func (s *Service) FreezeHistory(ctx context.Context, agreementID AgreementID) ([]FreezeRecord, error) {
	if _, err := s.Store.GetAgreement(ctx, agreementID); err != nil {
		return nil, err
	}
	return s.Store.ListFreezeRecords(ctx, agreementID)
}

// =============================================================================
// EDITS - Only the open, unfrozen month
// =============================================================================

// AddMemberInput describes a new snapshot row. Month defaults to the open
// month, or to the current month for an agreement with no rows yet.
type AddMemberInput struct {
	AgreementID   AgreementID
	Month         *MonthKey
	PlanID        *PlanID
	NationalID    string
	Email         string
	Phone         string
	Name          string
	Notes         string
	ExpiresAt     *time.Time
	Authorization AuthorizationState
}

// AddMember inserts a row into the target month after the editability check.
func (s *Service) AddMember(ctx context.Context, in AddMemberInput) (*MemberSnapshot, error) {
	if err := validateName(in.Name); err != nil {
		return nil, err
	}
	auth := in.Authorization
	if auth == "" {
		auth = AuthorizationPending
	}
	if !auth.Valid() {
		return nil, fmt.Errorf("%w: unknown authorization state %q", ErrInvalidMember, auth)
	}

	var created *MemberSnapshot
	err := s.Store.WithTx(ctx, func(tx Store) error {
		if _, err := tx.GetAgreement(ctx, in.AgreementID); err != nil {
			return err
		}
		month, err := s.targetMonth(ctx, tx, in.AgreementID, in.Month)
		if err != nil {
			return err
		}
		if err := s.Guard.AssertEditable(ctx, tx, in.AgreementID, month); err != nil {
			return err
		}
		if err := checkPlan(ctx, tx, in.AgreementID, in.PlanID); err != nil {
			return err
		}

		m := MemberSnapshot{
			AgreementID:   in.AgreementID,
			PlanID:        in.PlanID,
			NationalID:    strings.TrimSpace(in.NationalID),
			Email:         strings.TrimSpace(in.Email),
			Phone:         strings.TrimSpace(in.Phone),
			Name:          strings.TrimSpace(in.Name),
			Notes:         in.Notes,
			CreatedAt:     s.creationTime(month),
			ExpiresAt:     in.ExpiresAt,
			Authorization: auth,
		}
		if err := tx.InsertMember(ctx, &m); err != nil {
			return err
		}
		created = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("member added",
		"agreement_id", int64(created.AgreementID),
		"member_id", int64(created.ID),
		"national_id", created.NationalID,
	)
	return created, nil
}

// UpdateMemberInput replaces the editable fields of a row.
type UpdateMemberInput struct {
	AgreementID   AgreementID
	MemberID      MemberID
	PlanID        *PlanID
	NationalID    string
	Email         string
	Phone         string
	Name          string
	Notes         string
	ExpiresAt     *time.Time
	Authorization AuthorizationState
}

// UpdateMember edits a row of the open, unfrozen month in place.
func (s *Service) UpdateMember(ctx context.Context, in UpdateMemberInput) (*MemberSnapshot, error) {
	if err := validateName(in.Name); err != nil {
		return nil, err
	}
	if in.Authorization != "" && !in.Authorization.Valid() {
		return nil, fmt.Errorf("%w: unknown authorization state %q", ErrInvalidMember, in.Authorization)
	}

	var updated *MemberSnapshot
	err := s.Store.WithTx(ctx, func(tx Store) error {
		m, err := memberOf(ctx, tx, in.AgreementID, in.MemberID)
		if err != nil {
			return err
		}
		if err := s.Guard.AssertEditable(ctx, tx, in.AgreementID, s.Calendar.MonthKey(m.CreatedAt)); err != nil {
			return err
		}
		if err := checkPlan(ctx, tx, in.AgreementID, in.PlanID); err != nil {
			return err
		}

		m.PlanID = in.PlanID
		m.NationalID = strings.TrimSpace(in.NationalID)
		m.Email = strings.TrimSpace(in.Email)
		m.Phone = strings.TrimSpace(in.Phone)
		m.Name = strings.TrimSpace(in.Name)
		m.Notes = in.Notes
		m.ExpiresAt = in.ExpiresAt
		if in.Authorization != "" {
			m.Authorization = in.Authorization
		}
		if err := tx.UpdateMember(ctx, *m); err != nil {
			return err
		}
		updated = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RemoveMember deletes a row of the open, unfrozen month.
func (s *Service) RemoveMember(ctx context.Context, agreementID AgreementID, memberID MemberID) error {
	err := s.Store.WithTx(ctx, func(tx Store) error {
		m, err := memberOf(ctx, tx, agreementID, memberID)
		if err != nil {
			return err
		}
		if err := s.Guard.AssertEditable(ctx, tx, agreementID, s.Calendar.MonthKey(m.CreatedAt)); err != nil {
			return err
		}
		return tx.DeleteMember(ctx, memberID)
	})
	if err != nil {
		return err
	}
	s.Log.Info("member removed", "agreement_id", int64(agreementID), "member_id", int64(memberID))
	return nil
}

func (s *Service) targetMonth(ctx context.Context, r Reader, agreementID AgreementID, requested *MonthKey) (MonthKey, error) {
	if requested != nil {
		return s.Calendar.Validate(requested.Time)
	}
	open, ok, err := openMonth(ctx, r, s.Calendar, agreementID)
	if err != nil {
		return MonthKey{}, err
	}
	if ok {
		return open, nil
	}
	return s.Calendar.Current(), nil
}

// creationTime dates a manual row "now" when the target is the current
// month, otherwise at the month's first instant.
func (s *Service) creationTime(month MonthKey) time.Time {
	now := s.Calendar.Now()
	if month.Contains(now) {
		return now
	}
	return month.Time
}

func memberOf(ctx context.Context, r Reader, agreementID AgreementID, id MemberID) (*MemberSnapshot, error) {
	m, err := r.GetMember(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.AgreementID != agreementID {
		return nil, fmt.Errorf("member %d of agreement %d: %w", id, agreementID, ErrMemberNotFound)
	}
	return m, nil
}

func checkPlan(ctx context.Context, r Reader, agreementID AgreementID, planID *PlanID) error {
	if planID == nil {
		return nil
	}
	p, err := r.GetPlan(ctx, *planID)
	if err != nil {
		return err
	}
	if p.AgreementID != agreementID {
		return fmt.Errorf("plan %d of agreement %d: %w", *planID, agreementID, ErrPlanNotFound)
	}
	if !p.Active {
		return fmt.Errorf("plan %d: %w", *planID, ErrPlanInactive)
	}
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidMember)
	}
	return nil
}
