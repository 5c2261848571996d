/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	cohorts. Months are relative to the server's current month so every
	scenario can be frozen right after loading.

AVAILABLE SCENARIOS:

	first-freeze:    One member without a plan in the open month
	plan-duration:   One member on a 30-day plan, no expiration yet
	duplicates:      Several rows for the same people (dedup on rollover)
	billing-history: Three months of one enrollment cycle plus a lapsed one

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create agreement and plans through the catalog
 3. Insert member rows directly (historical months bypass the edit guard)
 4. Optionally mark past months frozen

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "first-freeze"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/cohort-engine/membership"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "first-freeze",
		Name:        "First Freeze",
		Description: "One member without a plan; freezing clones it into next month",
	},
	{
		ID:          "plan-duration",
		Name:        "Plan Duration",
		Description: "Member on a 30-day plan; the clone expires 30 days into next month",
	},
	{
		ID:          "duplicates",
		Name:        "Duplicate Rows",
		Description: "Repeated rows for the same people collapse to one clone each",
	},
	{
		ID:          "billing-history",
		Name:        "Billing History",
		Description: "A 3-month enrollment cycle: billed once, then locked until expiration",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var loader func(context.Context) (membership.AgreementID, error)
	switch req.ScenarioID {
	case "first-freeze":
		loader = h.loadFirstFreezeScenario
	case "plan-duration":
		loader = h.loadPlanDurationScenario
	case "duplicates":
		loader = h.loadDuplicatesScenario
	case "billing-history":
		loader = h.loadBillingHistoryScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Catalog.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	agreementID, err := loader(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.Log.Info("scenario loaded", "scenario", req.ScenarioID, "agreement_id", int64(agreementID))

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "loaded",
		"scenario":     req.ScenarioID,
		"agreement_id": int64(agreementID),
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Catalog.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadFirstFreezeScenario(ctx context.Context) (membership.AgreementID, error) {
	a, err := h.seedAgreement(ctx, "Acme Corp")
	if err != nil {
		return 0, err
	}
	open := h.calendar().Current()
	err = h.seedMembers(ctx, []membership.MemberSnapshot{
		{AgreementID: a.ID, NationalID: "100", Name: "Ana Pérez", CreatedAt: open.Time},
	})
	return a.ID, err
}

func (h *Handler) loadPlanDurationScenario(ctx context.Context) (membership.AgreementID, error) {
	a, err := h.seedAgreement(ctx, "Globex")
	if err != nil {
		return 0, err
	}
	plan, err := h.seedPlan(ctx, a.ID, "Monthly", intPtr(30), "50.00", "10.00", true)
	if err != nil {
		return 0, err
	}
	open := h.calendar().Current()
	err = h.seedMembers(ctx, []membership.MemberSnapshot{
		{AgreementID: a.ID, PlanID: &plan.ID, NationalID: "200", Email: "bruno@globex.test", Name: "Bruno Díaz", CreatedAt: open.Time},
	})
	return a.ID, err
}

func (h *Handler) loadDuplicatesScenario(ctx context.Context) (membership.AgreementID, error) {
	a, err := h.seedAgreement(ctx, "Initech")
	if err != nil {
		return 0, err
	}
	plan, err := h.seedPlan(ctx, a.ID, "Quarterly", intPtr(90), "120.00", "0", true)
	if err != nil {
		return 0, err
	}
	at := h.calendar().Current().Time
	err = h.seedMembers(ctx, []membership.MemberSnapshot{
		// Same national id twice: the later row (higher id) wins
		{AgreementID: a.ID, NationalID: "300", Name: "Carla Ruiz", CreatedAt: at},
		{AgreementID: a.ID, PlanID: &plan.ID, NationalID: "300", Name: "Carla Ruiz", Notes: "moved to quarterly", CreatedAt: at.Add(time.Hour)},
		// Same email with different case
		{AgreementID: a.ID, Email: "Dario@Initech.test", Name: "Darío Gómez", CreatedAt: at.Add(2 * time.Hour)},
		{AgreementID: a.ID, Email: "dario@initech.test", Name: "Darío Gómez", CreatedAt: at.Add(3 * time.Hour)},
		// Phone only
		{AgreementID: a.ID, Phone: "+34 600 000 000", Name: "Elena Sanz", CreatedAt: at.Add(4 * time.Hour)},
		// No identity at all: keyed by row id
		{AgreementID: a.ID, Name: "Walk-in", CreatedAt: at.Add(5 * time.Hour)},
	})
	return a.ID, err
}

func (h *Handler) loadBillingHistoryScenario(ctx context.Context) (membership.AgreementID, error) {
	a, err := h.seedAgreement(ctx, "Umbrella")
	if err != nil {
		return 0, err
	}
	plan, err := h.seedPlan(ctx, a.ID, "Semester", intPtr(180), "300.00", "25.00", true)
	if err != nil {
		return 0, err
	}

	current := h.calendar().Current()
	m2 := current.Prev().Prev()
	m1 := current.Prev()

	// Cycle started two months ago and runs four months past the current one
	running := current.Time.AddDate(0, 4, 0)
	// Lapsed at the start of the current month
	lapsed := current.Time

	var rows []membership.MemberSnapshot
	for _, month := range []membership.MonthKey{m2, m1, current} {
		rows = append(rows,
			membership.MemberSnapshot{AgreementID: a.ID, PlanID: &plan.ID, NationalID: "400", Name: "Fabio Luna", CreatedAt: month.Time, ExpiresAt: timePtr(running), Authorization: membership.AuthorizationGranted},
			membership.MemberSnapshot{AgreementID: a.ID, PlanID: &plan.ID, NationalID: "401", Name: "Gina Mora", CreatedAt: month.Time, ExpiresAt: timePtr(lapsed), Authorization: membership.AuthorizationGranted},
		)
	}
	if err := h.seedMembers(ctx, rows); err != nil {
		return 0, err
	}

	for _, month := range []membership.MonthKey{m2, m1} {
		err := h.Service.Store.WithTx(ctx, func(tx membership.Store) error {
			return tx.UpsertFreezeRecord(ctx, membership.FreezeRecord{
				ID:          uuid.NewString(),
				AgreementID: a.ID,
				Month:       month,
				Frozen:      true,
				ClonedCount: 2,
				FrozenAt:    month.Next().Time.Add(-time.Hour),
			})
		})
		if err != nil {
			return 0, err
		}
	}
	return a.ID, nil
}

// =============================================================================
// SEED HELPERS
// =============================================================================

func (h *Handler) seedAgreement(ctx context.Context, name string) (*membership.Agreement, error) {
	a := &membership.Agreement{Name: name, Status: membership.AgreementActive, CreatedAt: h.calendar().Now()}
	if err := h.Catalog.SaveAgreement(ctx, a); err != nil {
		return nil, fmt.Errorf("save agreement: %w", err)
	}
	return a, nil
}

func (h *Handler) seedPlan(ctx context.Context, agreementID membership.AgreementID, name string, days *int, list, discount string, isDefault bool) (*membership.Plan, error) {
	p := &membership.Plan{
		AgreementID:   agreementID,
		Name:          name,
		DurationDays:  days,
		ListPrice:     decimal.RequireFromString(list),
		DiscountValue: decimal.RequireFromString(discount),
		Active:        true,
		IsDefault:     isDefault,
	}
	p.FinalPrice = p.ComputeFinalPrice()
	if err := h.Catalog.SavePlan(ctx, p); err != nil {
		return nil, fmt.Errorf("save plan: %w", err)
	}
	return p, nil
}

// seedMembers inserts rows as-is in one transaction.
func (h *Handler) seedMembers(ctx context.Context, rows []membership.MemberSnapshot) error {
	return h.Service.Store.WithTx(ctx, func(tx membership.Store) error {
		for i := range rows {
			if rows[i].Authorization == "" {
				rows[i].Authorization = membership.AuthorizationPending
			}
			if err := tx.InsertMember(ctx, &rows[i]); err != nil {
				return fmt.Errorf("insert member %q: %w", rows[i].Name, err)
			}
		}
		return nil
	})
}

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }
