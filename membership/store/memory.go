// Package store provides in-memory membership.TxStore implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/cohort-engine/membership"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

var _ membership.TxStore = (*Memory)(nil)

type Memory struct {
	mu   sync.RWMutex
	data memoryData
}

type memoryData struct {
	agreements map[membership.AgreementID]membership.Agreement
	plans      map[membership.PlanID]membership.Plan
	members    map[membership.MemberID]membership.MemberSnapshot
	freezes    map[freezeKey]membership.FreezeRecord

	nextAgreement membership.AgreementID
	nextPlan      membership.PlanID
	nextMember    membership.MemberID
}

type freezeKey struct {
	AgreementID membership.AgreementID
	Month       int64
}

func keyOf(agreementID membership.AgreementID, month membership.MonthKey) freezeKey {
	return freezeKey{AgreementID: agreementID, Month: month.Time.Unix()}
}

func NewMemory() *Memory {
	return &Memory{data: memoryData{
		agreements: make(map[membership.AgreementID]membership.Agreement),
		plans:      make(map[membership.PlanID]membership.Plan),
		members:    make(map[membership.MemberID]membership.MemberSnapshot),
		freezes:    make(map[freezeKey]membership.FreezeRecord),
	}}
}

// =============================================================================
// CATALOG - Agreements and plans (owned by other services in production)
// =============================================================================

// SaveAgreement inserts (ID == 0) or replaces an agreement.
func (m *Memory) SaveAgreement(_ context.Context, a *membership.Agreement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.ID == 0 {
		m.data.nextAgreement++
		a.ID = m.data.nextAgreement
	} else if a.ID > m.data.nextAgreement {
		m.data.nextAgreement = a.ID
	}
	if a.Status == "" {
		a.Status = membership.AgreementActive
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.data.agreements[a.ID] = *a
	return nil
}

// SavePlan inserts (ID == 0) or replaces a plan. A default plan clears the
// default flag of the agreement's other plans.
func (m *Memory) SavePlan(_ context.Context, p *membership.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data.agreements[p.AgreementID]; !ok {
		return membership.ErrAgreementNotFound
	}
	if p.ID == 0 {
		m.data.nextPlan++
		p.ID = m.data.nextPlan
	} else if p.ID > m.data.nextPlan {
		m.data.nextPlan = p.ID
	}
	if p.IsDefault {
		for id, other := range m.data.plans {
			if other.AgreementID == p.AgreementID && id != p.ID && other.IsDefault {
				other.IsDefault = false
				m.data.plans[id] = other
			}
		}
	}
	m.data.plans[p.ID] = *p
	return nil
}

// Reset clears all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = NewMemory().data
	return nil
}

func (m *Memory) ListAgreements(_ context.Context) ([]membership.Agreement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]membership.Agreement, 0, len(m.data.agreements))
	for _, a := range m.data.agreements {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// membership.Store - Locking wrappers over memoryData
// =============================================================================

func (m *Memory) GetAgreement(ctx context.Context, id membership.AgreementID) (*membership.Agreement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetAgreement(ctx, id)
}

func (m *Memory) GetPlan(ctx context.Context, id membership.PlanID) (*membership.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetPlan(ctx, id)
}

func (m *Memory) ListPlans(ctx context.Context, agreementID membership.AgreementID) ([]membership.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListPlans(ctx, agreementID)
}

func (m *Memory) GetMember(ctx context.Context, id membership.MemberID) (*membership.MemberSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetMember(ctx, id)
}

func (m *Memory) LatestMemberCreatedAt(ctx context.Context, agreementID membership.AgreementID) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.LatestMemberCreatedAt(ctx, agreementID)
}

func (m *Memory) ListMembersBetween(ctx context.Context, agreementID membership.AgreementID, from, to time.Time) ([]membership.MemberSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListMembersBetween(ctx, agreementID, from, to)
}

func (m *Memory) CountMembersBetween(ctx context.Context, agreementID membership.AgreementID, from, to time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.CountMembersBetween(ctx, agreementID, from, to)
}

func (m *Memory) GetFreezeRecord(ctx context.Context, agreementID membership.AgreementID, month membership.MonthKey) (*membership.FreezeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetFreezeRecord(ctx, agreementID, month)
}

func (m *Memory) ListFreezeRecords(ctx context.Context, agreementID membership.AgreementID) ([]membership.FreezeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListFreezeRecords(ctx, agreementID)
}

func (m *Memory) InsertMember(ctx context.Context, s *membership.MemberSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertMember(ctx, s)
}

func (m *Memory) UpdateMember(ctx context.Context, s membership.MemberSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdateMember(ctx, s)
}

func (m *Memory) DeleteMember(ctx context.Context, id membership.MemberID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.DeleteMember(ctx, id)
}

func (m *Memory) UpsertFreezeRecord(ctx context.Context, rec membership.FreezeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpsertFreezeRecord(ctx, rec)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For the memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, which serializes transactions.
func (m *Memory) WithTx(_ context.Context, fn func(membership.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(&m.data); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

func (d *memoryData) clone() memoryData {
	out := *d
	out.agreements = make(map[membership.AgreementID]membership.Agreement, len(d.agreements))
	for k, v := range d.agreements {
		out.agreements[k] = v
	}
	out.plans = make(map[membership.PlanID]membership.Plan, len(d.plans))
	for k, v := range d.plans {
		out.plans[k] = v
	}
	out.members = make(map[membership.MemberID]membership.MemberSnapshot, len(d.members))
	for k, v := range d.members {
		out.members[k] = v
	}
	out.freezes = make(map[freezeKey]membership.FreezeRecord, len(d.freezes))
	for k, v := range d.freezes {
		out.freezes[k] = v
	}
	return out
}

// =============================================================================
// memoryData - Unlocked operations (the transactional view)
// =============================================================================

func (d *memoryData) GetAgreement(_ context.Context, id membership.AgreementID) (*membership.Agreement, error) {
	a, ok := d.agreements[id]
	if !ok {
		return nil, membership.ErrAgreementNotFound
	}
	return &a, nil
}

func (d *memoryData) GetPlan(_ context.Context, id membership.PlanID) (*membership.Plan, error) {
	p, ok := d.plans[id]
	if !ok {
		return nil, membership.ErrPlanNotFound
	}
	return &p, nil
}

func (d *memoryData) ListPlans(_ context.Context, agreementID membership.AgreementID) ([]membership.Plan, error) {
	var out []membership.Plan
	for _, p := range d.plans {
		if p.AgreementID == agreementID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *memoryData) GetMember(_ context.Context, id membership.MemberID) (*membership.MemberSnapshot, error) {
	s, ok := d.members[id]
	if !ok {
		return nil, membership.ErrMemberNotFound
	}
	return &s, nil
}

func (d *memoryData) LatestMemberCreatedAt(_ context.Context, agreementID membership.AgreementID) (*time.Time, error) {
	var latest *time.Time
	for _, s := range d.members {
		if s.AgreementID != agreementID {
			continue
		}
		if latest == nil || s.CreatedAt.After(*latest) {
			t := s.CreatedAt
			latest = &t
		}
	}
	return latest, nil
}

func (d *memoryData) ListMembersBetween(_ context.Context, agreementID membership.AgreementID, from, to time.Time) ([]membership.MemberSnapshot, error) {
	var out []membership.MemberSnapshot
	for _, s := range d.members {
		if s.AgreementID == agreementID && inRange(s.CreatedAt, from, to) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *memoryData) CountMembersBetween(_ context.Context, agreementID membership.AgreementID, from, to time.Time) (int, error) {
	n := 0
	for _, s := range d.members {
		if s.AgreementID == agreementID && inRange(s.CreatedAt, from, to) {
			n++
		}
	}
	return n, nil
}

func (d *memoryData) GetFreezeRecord(_ context.Context, agreementID membership.AgreementID, month membership.MonthKey) (*membership.FreezeRecord, error) {
	rec, ok := d.freezes[keyOf(agreementID, month)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (d *memoryData) ListFreezeRecords(_ context.Context, agreementID membership.AgreementID) ([]membership.FreezeRecord, error) {
	var out []membership.FreezeRecord
	for _, rec := range d.freezes {
		if rec.AgreementID == agreementID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.After(out[j].Month) })
	return out, nil
}

func (d *memoryData) InsertMember(_ context.Context, s *membership.MemberSnapshot) error {
	if _, ok := d.agreements[s.AgreementID]; !ok {
		return membership.ErrAgreementNotFound
	}
	d.nextMember++
	s.ID = d.nextMember
	d.members[s.ID] = *s
	return nil
}

func (d *memoryData) UpdateMember(_ context.Context, s membership.MemberSnapshot) error {
	if _, ok := d.members[s.ID]; !ok {
		return membership.ErrMemberNotFound
	}
	d.members[s.ID] = s
	return nil
}

func (d *memoryData) DeleteMember(_ context.Context, id membership.MemberID) error {
	if _, ok := d.members[id]; !ok {
		return membership.ErrMemberNotFound
	}
	delete(d.members, id)
	return nil
}

func (d *memoryData) UpsertFreezeRecord(_ context.Context, rec membership.FreezeRecord) error {
	k := keyOf(rec.AgreementID, rec.Month)
	if existing, ok := d.freezes[k]; ok {
		rec.ID = existing.ID
	}
	d.freezes[k] = rec
	return nil
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}
