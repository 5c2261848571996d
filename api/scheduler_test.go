package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_FreezesDueAgreements(t *testing.T) {
	// GIVEN: Day 28 with one agreement open in the current month, one
	//        without rows and one inactive
	h, router := setupTestHandler(t)
	due := createAgreement(t, router, "Due")
	createAgreement(t, router, "Empty")
	rec := do(t, router, http.MethodPost, "/api/agreements", CreateAgreementRequest{Name: "Off", Status: "inactive"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, http.MethodPost, agreementPath(due.ID, "/members"), MemberRequest{Name: "Ana"})
	require.Equal(t, http.StatusCreated, rec.Code)

	fs := NewFreezeScheduler(h.Service, h.Catalog, nil)

	// WHEN: One check runs
	res := fs.RunNow(context.Background())

	// THEN: Only the due agreement is frozen
	assert.Equal(t, TickResult{Frozen: 1, Skipped: 1}, res)

	list := decode[MemberListDTO](t, do(t, router, http.MethodGet, agreementPath(due.ID, "/members"), nil))
	assert.Equal(t, "2025-02-01", list.MonthKey)

	// AND: The next check finds nothing to do
	res = fs.RunNow(context.Background())
	assert.Equal(t, TickResult{Skipped: 2}, res)
}

func TestScheduler_WaitsForFreezeDay(t *testing.T) {
	h, router := setupTestHandler(t)
	a := createAgreement(t, router, "Acme")
	rec := do(t, router, http.MethodPost, agreementPath(a.ID, "/members"), MemberRequest{Name: "Ana"})
	require.Equal(t, http.StatusCreated, rec.Code)

	fs := NewFreezeScheduler(h.Service, h.Catalog, nil)
	fs.FreezeDay = testNow.Day() + 1

	assert.Equal(t, TickResult{}, fs.RunNow(context.Background()))

	list := decode[MemberListDTO](t, do(t, router, http.MethodGet, agreementPath(a.ID, "/members"), nil))
	assert.Equal(t, "2025-01-01", list.MonthKey)
}

func TestScheduler_StartStop(t *testing.T) {
	h, _ := setupTestHandler(t)
	fs := NewFreezeScheduler(h.Service, h.Catalog, nil)

	// Disabled: Start is a no-op
	fs.Start()
	fs.Stop()

	fs.Enabled = true
	fs.CheckInterval = time.Hour
	fs.Start()
	fs.Start()
	fs.Stop()
	fs.Stop()
}
