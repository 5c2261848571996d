/*
handlers.go - HTTP API handlers for the cohort engine

PURPOSE:
  Exposes the membership service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the domain service.

ENDPOINTS:
  Agreements:
    GET    /api/agreements                       List agreements
    POST   /api/agreements                       Create agreement
    GET    /api/agreements/{id}                  Get agreement

  Plans:
    GET    /api/agreements/{id}/plans            List plans
    POST   /api/agreements/{id}/plans            Create plan

  Members:
    GET    /api/agreements/{id}/members?month=   Cohort with billing flags
    POST   /api/agreements/{id}/members          Add member to the open month
    PUT    /api/agreements/{id}/members/{mid}    Edit member
    DELETE /api/agreements/{id}/members/{mid}    Remove member

  Freeze:
    GET    /api/agreements/{id}/editable?month=  Editability probe
    POST   /api/agreements/{id}/freeze           Freeze open month, roll forward
    GET    /api/agreements/{id}/freezes          Freeze history

ERROR HANDLING:
  Domain errors are classified with the membership.Is* helpers:
  - 400: Validation errors, invalid input
  - 404: Agreement, plan or member not found
  - 409: Already frozen, concurrent freeze, rollover conflicts
  - 422: Other business-rule rejections (past month, frozen month...)
  - 500: Internal errors

SECURITY NOTE:
  No authentication. Put the server behind an authenticating proxy.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/cohort-engine/logger"
	"github.com/warp/cohort-engine/membership"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Catalog manages agreements and plans. Both stores implement it.
type Catalog interface {
	SaveAgreement(ctx context.Context, a *membership.Agreement) error
	SavePlan(ctx context.Context, p *membership.Plan) error
	ListAgreements(ctx context.Context) ([]membership.Agreement, error)
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *membership.Service
	Catalog Catalog
	Log     *logger.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(svc *membership.Service, catalog Catalog, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{Service: svc, Catalog: catalog, Log: log}
}

func (h *Handler) calendar() *membership.Calendar { return h.Service.Calendar }

// =============================================================================
// AGREEMENT HANDLERS
// =============================================================================

func (h *Handler) ListAgreements(w http.ResponseWriter, r *http.Request) {
	agreements, err := h.Catalog.ListAgreements(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list agreements", err)
		return
	}

	dtos := make([]AgreementDTO, len(agreements))
	for i, a := range agreements {
		dtos[i] = toAgreementDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateAgreement(w http.ResponseWriter, r *http.Request) {
	var req CreateAgreementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	status := membership.AgreementStatus(req.Status)
	switch status {
	case "":
		status = membership.AgreementActive
	case membership.AgreementActive, membership.AgreementInactive:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", req.Status), nil)
		return
	}

	a := membership.Agreement{
		Name:      strings.TrimSpace(req.Name),
		Status:    status,
		CreatedAt: h.calendar().Now(),
	}
	if err := h.Catalog.SaveAgreement(r.Context(), &a); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create agreement", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAgreementDTO(a))
}

func (h *Handler) GetAgreement(w http.ResponseWriter, r *http.Request) {
	id, ok := agreementIDParam(w, r)
	if !ok {
		return
	}
	a, err := h.Service.Store.GetAgreement(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementDTO(*a))
}

// =============================================================================
// PLAN HANDLERS
// =============================================================================

func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	id, ok := agreementIDParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if _, err := h.Service.Store.GetAgreement(ctx, id); err != nil {
		writeDomainError(w, err)
		return
	}
	plans, err := h.Service.Store.ListPlans(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list plans", err)
		return
	}

	dtos := make([]PlanDTO, len(plans))
	for i, p := range plans {
		dtos[i] = toPlanDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := agreementIDParam(w, r)
	if !ok {
		return
	}
	var req CreatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	if req.DurationDays != nil && *req.DurationDays <= 0 {
		writeError(w, http.StatusBadRequest, "duration_days must be positive", nil)
		return
	}
	listPrice, err := parseMoney(req.ListPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid list_price", err)
		return
	}
	discount, err := parseMoney(req.DiscountValue)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid discount_value", err)
		return
	}

	p := membership.Plan{
		AgreementID:   id,
		Name:          strings.TrimSpace(req.Name),
		DurationDays:  req.DurationDays,
		ListPrice:     listPrice,
		DiscountValue: discount,
		Active:        req.Active == nil || *req.Active,
		IsDefault:     req.IsDefault,
	}
	p.FinalPrice = p.ComputeFinalPrice()

	if err := h.Catalog.SavePlan(r.Context(), &p); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPlanDTO(p))
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// ListMembers returns a month's cohort. Without ?month= it lists the open month.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := agreementIDParam(w, r)
	if !ok {
		return
	}
	month, ok := h.monthQuery(w, r)
	if !ok {
		return
	}

	listing, err := h.Service.ListMembers(r.Context(), id, month)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberListDTO(h.calendar(), listing))
}

func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	id, ok := agreementIDParam(w, r)
	if !ok {
		return
	}
	var req MemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in := membership.AddMemberInput{
		AgreementID:   id,
		PlanID:        planIDPtr(req.PlanID),
		NationalID:    req.NationalID,
		Email:         req.Email,
		Phone:         req.Phone,
		Name:          req.Name,
		Notes:         req.Notes,
		ExpiresAt:     req.ExpiresAt,
		Authorization: membership.AuthorizationState(req.Authorization),
	}
	if req.MonthKey != "" {
		month, err := h.calendar().Parse(req.MonthKey)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		in.Month = &month
	}

	m, err := h.Service.AddMember(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberDTO(h.calendar(), *m))
}

func (h *Handler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	id, ok := agreementIDParam(w, r)
	if !ok {
		return
	}
	memberID, ok := int64Param(w, r, "memberID")
	if !ok {
		return
	}
	var req MemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	m, err := h.Service.UpdateMember(r.Context(), membership.UpdateMemberInput{
		AgreementID:   id,
		MemberID:      membership.MemberID(memberID),
		PlanID:        planIDPtr(req.PlanID),
		NationalID:    req.NationalID,
		Email:         req.Email,
		Phone:         req.Phone,
		Name:          req.Name,
		Notes:         req.Notes,
		ExpiresAt:     req.ExpiresAt,
		Authorization: membership.AuthorizationState(req.Authorization),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(h.calendar(), *m))
}

func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	id, ok := agreementIDParam(w, r)
	if !ok {
		return
	}
	memberID, ok := int64Param(w, r, "memberID")
	if !ok {
		return
	}
	if err := h.Service.RemoveMember(r.Context(), id, membership.MemberID(memberID)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// FREEZE HANDLERS
// =============================================================================

// CheckEditable reports whether a month accepts edits. A guard rejection is
// a normal answer here, not an error response.
func (h *Handler) CheckEditable(w http.ResponseWriter, r *http.Request) {
	id, ok := agreementIDParam(w, r)
	if !ok {
		return
	}
	month, ok := h.monthQuery(w, r)
	if !ok {
		return
	}
	if month == nil {
		writeError(w, http.StatusBadRequest, "month is required", nil)
		return
	}
	ctx := r.Context()
	if _, err := h.Service.Store.GetAgreement(ctx, id); err != nil {
		writeDomainError(w, err)
		return
	}

	resp := EditabilityDTO{AgreementID: int64(id), MonthKey: month.String(), Editable: true}
	if err := h.Service.AssertEditable(ctx, id, *month); err != nil {
		var editErr *membership.EditError
		if !errors.As(err, &editErr) {
			writeDomainError(w, err)
			return
		}
		resp.Editable = false
		resp.Reason = editErr.Err.Error()
		resp.Code = errorCode(editErr.Err)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Freeze(w http.ResponseWriter, r *http.Request) {
	id, ok := agreementIDParam(w, r)
	if !ok {
		return
	}
	var req FreezeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	var requested *membership.MonthKey
	if req.MonthKey != "" {
		month, err := h.calendar().Parse(req.MonthKey)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		requested = &month
	}

	result, err := h.Service.Freeze(r.Context(), id, requested)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FreezeResultDTO{
		AgreementID:  int64(id),
		FrozenMonth:  result.FrozenMonth.String(),
		NextMonth:    result.NextMonth.String(),
		ClonedCount:  result.ClonedCount,
		SkippedCount: result.SkippedCount,
	})
}

func (h *Handler) ListFreezes(w http.ResponseWriter, r *http.Request) {
	id, ok := agreementIDParam(w, r)
	if !ok {
		return
	}
	records, err := h.Service.FreezeHistory(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]FreezeRecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toFreezeRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a membership error onto a status and a stable code.
func writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), Code: errorCode(err)}
	if status == http.StatusInternalServerError {
		resp.Error = "Internal error"
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, membership.ErrAlreadyFrozen):
		return http.StatusConflict
	case membership.IsValidation(err):
		return http.StatusBadRequest
	case membership.IsNotFound(err):
		return http.StatusNotFound
	case membership.IsConflict(err):
		return http.StatusConflict
	case membership.IsPrecondition(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

var errorCodes = []struct {
	err  error
	code string
}{
	{membership.ErrInvalidMonthKey, "INVALID_MONTH_KEY"},
	{membership.ErrMonthMismatch, "MONTH_MISMATCH"},
	{membership.ErrInvalidMember, "INVALID_MEMBER"},
	{membership.ErrAlreadyFrozen, "ALREADY_FROZEN"},
	{membership.ErrCannotFreezePastMonth, "CANNOT_FREEZE_PAST_MONTH"},
	{membership.ErrNotOpenMonth, "NOT_OPEN_MONTH"},
	{membership.ErrPastMonthLocked, "PAST_MONTH_LOCKED"},
	{membership.ErrMonthFrozen, "MONTH_FROZEN"},
	{membership.ErrNoMembersToFreeze, "NO_MEMBERS_TO_FREEZE"},
	{membership.ErrPlanInactive, "PLAN_INACTIVE"},
	{membership.ErrConcurrentFreezeInProgress, "CONCURRENT_FREEZE_IN_PROGRESS"},
	{membership.ErrNextMonthAlreadyExists, "NEXT_MONTH_ALREADY_EXISTS"},
	{membership.ErrEmptyMonth, "EMPTY_MONTH"},
	{membership.ErrNothingCloned, "NOTHING_CLONED"},
	{membership.ErrAgreementNotFound, "AGREEMENT_NOT_FOUND"},
	{membership.ErrPlanNotFound, "PLAN_NOT_FOUND"},
	{membership.ErrMemberNotFound, "MEMBER_NOT_FOUND"},
}

func errorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

func agreementIDParam(w http.ResponseWriter, r *http.Request) (membership.AgreementID, bool) {
	id, ok := int64Param(w, r, "id")
	return membership.AgreementID(id), ok
}

func int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s", name), err)
		return 0, false
	}
	return id, true
}

// monthQuery parses ?month=. It returns nil when the parameter is absent.
func (h *Handler) monthQuery(w http.ResponseWriter, r *http.Request) (*membership.MonthKey, bool) {
	raw := r.URL.Query().Get("month")
	if raw == "" {
		return nil, true
	}
	month, err := h.calendar().Parse(raw)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return &month, true
}

func parseMoney(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("must not be negative")
	}
	return d, nil
}

func planIDPtr(id *int64) *membership.PlanID {
	if id == nil {
		return nil
	}
	p := membership.PlanID(*id)
	return &p
}
