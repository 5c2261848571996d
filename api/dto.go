/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the HTTP surface. Domain types stay free of json tags.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Agreements: AgreementDTO, CreateAgreementRequest
  Plans:      PlanDTO, CreatePlanRequest
  Members:    MemberDTO, MemberRowDTO, MemberListDTO, MemberRequest
  Freeze:     FreezeRequest, FreezeResultDTO, FreezeRecordDTO, EditabilityDTO
  Scenarios:  ScenarioDTO

MONTH KEYS:
  Month keys are rendered as "YYYY-MM-DD" (always the 1st). Requests accept
  "YYYY-MM", "YYYY-MM-DD" or RFC3339 at a first-of-month midnight.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/cohort-engine/membership"
)

// =============================================================================
// AGREEMENTS AND PLANS
// =============================================================================

type AgreementDTO struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateAgreementRequest struct {
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

type PlanDTO struct {
	ID            int64           `json:"id"`
	AgreementID   int64           `json:"agreement_id"`
	Name          string          `json:"name"`
	DurationDays  *int            `json:"duration_days"`
	ListPrice     decimal.Decimal `json:"list_price"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	FinalPrice    decimal.Decimal `json:"final_price"`
	Active        bool            `json:"active"`
	IsDefault     bool            `json:"is_default"`
}

// CreatePlanRequest carries prices as strings to keep them exact.
type CreatePlanRequest struct {
	Name          string `json:"name"`
	DurationDays  *int   `json:"duration_days"`
	ListPrice     string `json:"list_price"`
	DiscountValue string `json:"discount_value"`
	Active        *bool  `json:"active"`
	IsDefault     bool   `json:"is_default"`
}

// =============================================================================
// MEMBERS
// =============================================================================

type MemberDTO struct {
	ID            int64      `json:"id"`
	AgreementID   int64      `json:"agreement_id"`
	PlanID        *int64     `json:"plan_id"`
	NationalID    string     `json:"national_id"`
	Email         string     `json:"email"`
	Phone         string     `json:"phone"`
	Name          string     `json:"name"`
	Notes         string     `json:"notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at"`
	Authorization string     `json:"authorization"`
	MonthKey      string     `json:"month_key"`
}

type MemberRowDTO struct {
	MemberDTO
	Plan            *PlanDTO `json:"plan,omitempty"`
	BillThisMonth   bool     `json:"bill_this_month"`
	LockedThisMonth bool     `json:"locked_this_month"`
}

type MemberListDTO struct {
	AgreementID int64          `json:"agreement_id"`
	MonthKey    string         `json:"month_key"`
	NextMonth   string         `json:"next_month"`
	OpenMonth   *string        `json:"open_month"`
	IsFrozen    bool           `json:"is_frozen"`
	IsOpenMonth bool           `json:"is_open_month"`
	Count       int            `json:"count"`
	Members     []MemberRowDTO `json:"members"`
}

// MemberRequest is the body of member create and update calls.
type MemberRequest struct {
	MonthKey      string     `json:"month_key,omitempty"`
	PlanID        *int64     `json:"plan_id"`
	NationalID    string     `json:"national_id"`
	Email         string     `json:"email"`
	Phone         string     `json:"phone"`
	Name          string     `json:"name"`
	Notes         string     `json:"notes"`
	ExpiresAt     *time.Time `json:"expires_at"`
	Authorization string     `json:"authorization,omitempty"`
}

// =============================================================================
// FREEZE
// =============================================================================

type FreezeRequest struct {
	MonthKey string `json:"month_key,omitempty"`
}

type FreezeResultDTO struct {
	AgreementID  int64  `json:"agreement_id"`
	FrozenMonth  string `json:"frozen_month"`
	NextMonth    string `json:"next_month"`
	ClonedCount  int    `json:"cloned_count"`
	SkippedCount int    `json:"skipped_count"`
}

type FreezeRecordDTO struct {
	ID          string     `json:"id"`
	AgreementID int64      `json:"agreement_id"`
	MonthKey    string     `json:"month_key"`
	Frozen      bool       `json:"frozen"`
	ClonedCount int        `json:"cloned_count"`
	FrozenAt    *time.Time `json:"frozen_at"`
}

type EditabilityDTO struct {
	AgreementID int64  `json:"agreement_id"`
	MonthKey    string `json:"month_key"`
	Editable    bool   `json:"editable"`
	Reason      string `json:"reason,omitempty"`
	Code        string `json:"code,omitempty"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is returned for all API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toAgreementDTO(a membership.Agreement) AgreementDTO {
	return AgreementDTO{
		ID:        int64(a.ID),
		Name:      a.Name,
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt,
	}
}

func toPlanDTO(p membership.Plan) PlanDTO {
	return PlanDTO{
		ID:            int64(p.ID),
		AgreementID:   int64(p.AgreementID),
		Name:          p.Name,
		DurationDays:  p.DurationDays,
		ListPrice:     p.ListPrice,
		DiscountValue: p.DiscountValue,
		FinalPrice:    p.FinalPrice,
		Active:        p.Active,
		IsDefault:     p.IsDefault,
	}
}

func toMemberDTO(cal *membership.Calendar, m membership.MemberSnapshot) MemberDTO {
	dto := MemberDTO{
		ID:            int64(m.ID),
		AgreementID:   int64(m.AgreementID),
		NationalID:    m.NationalID,
		Email:         m.Email,
		Phone:         m.Phone,
		Name:          m.Name,
		Notes:         m.Notes,
		CreatedAt:     m.CreatedAt,
		ExpiresAt:     m.ExpiresAt,
		Authorization: string(m.Authorization),
		MonthKey:      cal.MonthKey(m.CreatedAt).String(),
	}
	if m.PlanID != nil {
		id := int64(*m.PlanID)
		dto.PlanID = &id
	}
	return dto
}

func toMemberListDTO(cal *membership.Calendar, l *membership.Listing) MemberListDTO {
	dto := MemberListDTO{
		AgreementID: int64(l.AgreementID),
		MonthKey:    l.Month.String(),
		NextMonth:   l.NextMonth.String(),
		IsFrozen:    l.IsFrozen,
		IsOpenMonth: l.IsOpenMonth,
		Count:       len(l.Rows),
		Members:     make([]MemberRowDTO, len(l.Rows)),
	}
	if l.OpenMonth != nil {
		s := l.OpenMonth.String()
		dto.OpenMonth = &s
	}
	for i, row := range l.Rows {
		dto.Members[i] = MemberRowDTO{
			MemberDTO:       toMemberDTO(cal, row.Member),
			BillThisMonth:   row.BillThisMonth,
			LockedThisMonth: row.LockedThisMonth,
		}
		if row.Plan != nil {
			p := toPlanDTO(*row.Plan)
			dto.Members[i].Plan = &p
		}
	}
	return dto
}

func toFreezeRecordDTO(rec membership.FreezeRecord) FreezeRecordDTO {
	dto := FreezeRecordDTO{
		ID:          rec.ID,
		AgreementID: int64(rec.AgreementID),
		MonthKey:    rec.Month.String(),
		Frozen:      rec.Frozen,
		ClonedCount: rec.ClonedCount,
	}
	if !rec.FrozenAt.IsZero() {
		t := rec.FrozenAt
		dto.FrozenAt = &t
	}
	return dto
}
