/*
scenarios_test.go - Tests for demo scenarios

PURPOSE:
	Loads every scenario through the HTTP API, freezes it, and checks the
	rollover and billing flags each one is meant to demonstrate.
*/
package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadScenario(t *testing.T, router http.Handler, id string) int64 {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	return int64(body["agreement_id"].(float64))
}

func freezeOpenMonth(t *testing.T, router http.Handler, id int64) FreezeResultDTO {
	t.Helper()
	rec := do(t, router, http.MethodPost, agreementPath(id, "/freeze"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[FreezeResultDTO](t, rec)
}

func TestScenario_List(t *testing.T) {
	_, router := setupTestHandler(t)

	list := decode[[]ScenarioDTO](t, do(t, router, http.MethodGet, "/api/scenarios", nil))
	assert.Len(t, list, len(scenarios))

	rec := do(t, router, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenario_FirstFreeze(t *testing.T) {
	// GIVEN: One plan-less member in the current month
	// WHEN: Freezing
	// THEN: One clone, no expiration, still billed
	_, router := setupTestHandler(t)
	id := loadScenario(t, router, "first-freeze")

	result := freezeOpenMonth(t, router, id)
	assert.Equal(t, 1, result.ClonedCount)

	list := decode[MemberListDTO](t, do(t, router, http.MethodGet, agreementPath(id, "/members"), nil))
	require.Len(t, list.Members, 1)
	assert.Nil(t, list.Members[0].ExpiresAt)
	assert.True(t, list.Members[0].BillThisMonth)
	assert.False(t, list.Members[0].LockedThisMonth)

	current := decode[ScenarioDTO](t, do(t, router, http.MethodGet, "/api/scenarios/current", nil))
	assert.Equal(t, "first-freeze", current.ID)
}

func TestScenario_PlanDuration(t *testing.T) {
	_, router := setupTestHandler(t)
	id := loadScenario(t, router, "plan-duration")

	freezeOpenMonth(t, router, id)

	list := decode[MemberListDTO](t, do(t, router, http.MethodGet, agreementPath(id, "/members"), nil))
	require.Len(t, list.Members, 1)
	m := list.Members[0]
	require.NotNil(t, m.ExpiresAt)
	assert.True(t, time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC).Equal(*m.ExpiresAt))
	assert.True(t, m.BillThisMonth, "first month of the new expiration triple")
	assert.True(t, m.LockedThisMonth)
}

func TestScenario_Duplicates(t *testing.T) {
	// GIVEN: Six rows for four people
	// THEN: Four clones; the national-id clone carries the later row's plan
	_, router := setupTestHandler(t)
	id := loadScenario(t, router, "duplicates")

	result := freezeOpenMonth(t, router, id)
	assert.Equal(t, 4, result.ClonedCount)

	list := decode[MemberListDTO](t, do(t, router, http.MethodGet, agreementPath(id, "/members"), nil))
	require.Len(t, list.Members, 4)
	for _, m := range list.Members {
		switch {
		case m.NationalID == "300":
			assert.NotNil(t, m.PlanID)
			assert.Equal(t, "moved to quarterly", m.Notes)
		case m.Email != "":
			assert.Equal(t, "dario@initech.test", m.Email)
		}
	}
}

func TestScenario_BillingHistory(t *testing.T) {
	// GIVEN: Two frozen months before the current one
	// THEN: The running cycle is locked and not billed; the lapsed one is billed
	_, router := setupTestHandler(t)
	id := loadScenario(t, router, "billing-history")

	history := decode[[]FreezeRecordDTO](t, do(t, router, http.MethodGet, agreementPath(id, "/freezes"), nil))
	require.Len(t, history, 2)
	assert.Equal(t, "2024-12-01", history[0].MonthKey)

	list := decode[MemberListDTO](t, do(t, router, http.MethodGet, agreementPath(id, "/members"), nil))
	assert.Equal(t, "2025-01-01", list.MonthKey)
	require.Len(t, list.Members, 2)
	for _, m := range list.Members {
		switch m.NationalID {
		case "400":
			assert.False(t, m.BillThisMonth)
			assert.True(t, m.LockedThisMonth)
		case "401":
			assert.True(t, m.BillThisMonth)
			assert.False(t, m.LockedThisMonth)
		}
	}

	nov := decode[MemberListDTO](t, do(t, router, http.MethodGet, agreementPath(id, "/members?month=2024-11"), nil))
	assert.True(t, nov.IsFrozen)
	for _, m := range nov.Members {
		assert.True(t, m.BillThisMonth)
	}
}

func TestScenario_Reset(t *testing.T) {
	_, router := setupTestHandler(t)
	loadScenario(t, router, "first-freeze")

	rec := do(t, router, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	agreements := decode[[]AgreementDTO](t, do(t, router, http.MethodGet, "/api/agreements", nil))
	assert.Empty(t, agreements)

	rec = do(t, router, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
}
