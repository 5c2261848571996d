/*
Package sqlite provides a SQLite-backed implementation of membership.TxStore.

PURPOSE:
  Persists agreements, plans, monthly member snapshots and freeze records.
  The agreement and plan tables are owned by the catalog side of the
  product; the cohort engine only reads them. Snapshots and freeze records
  are written by the engine.

INTERFACES IMPLEMENTED:
  membership.Store:   reads and writes used by the engine
  membership.TxStore: WithTx for the freeze and guarded edits

KEY TABLES:
  agreements:       partner contracts
  plans:            priced offerings (at most one default per agreement)
  member_snapshots: one row per person per month (created_at decides the month)
  freeze_records:   (agreement, month_key) -> frozen

INDEXES:
  - idx_members_agreement_created: open-month and cohort lookups (hot path)
  - idx_plans_one_default: enforces a single default plan per agreement
  - freeze_records UNIQUE(agreement_id, month_key)

TRANSACTIONS:
  The DSN sets _txlock=immediate so BEGIN takes the write lock. Every read
  inside WithTx therefore observes the snapshot its writes commit to, which
  is what the freeze needs to close the check-then-write window.

TIME STORAGE:
  Timestamps are stored as fixed-width UTC text so lexical order equals
  chronological order. Values are returned in the configured location.

USAGE:
  store, err := sqlite.New("./data/cohorts.db", sqlite.WithLocation(loc))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - membership/store.go: Interface definitions
  - membership/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/cohort-engine/membership"
)

var _ membership.TxStore = (*Store)(nil)

// timeLayout is fixed width; lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements membership.TxStore using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	loc *time.Location
}

// Option configures a Store.
type Option func(*Store)

// WithLocation sets the location timestamps are returned in (default UTC).
// Use the membership.Calendar's location so month keys read back unchanged.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite has a single writer, and ":memory:" is per-connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, loc: time.UTC}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agreements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS plans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agreement_id INTEGER NOT NULL REFERENCES agreements(id),
		name TEXT NOT NULL,
		duration_days INTEGER,
		list_price TEXT NOT NULL DEFAULT '0',
		discount_value TEXT NOT NULL DEFAULT '0',
		final_price TEXT NOT NULL DEFAULT '0',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		is_default BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_plans_agreement
		ON plans(agreement_id);

	-- At most one default plan per agreement
	CREATE UNIQUE INDEX IF NOT EXISTS idx_plans_one_default
		ON plans(agreement_id) WHERE is_default = 1;

	CREATE TABLE IF NOT EXISTS member_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agreement_id INTEGER NOT NULL REFERENCES agreements(id),
		plan_id INTEGER REFERENCES plans(id),
		national_id TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		expires_at TEXT,
		authorization_state TEXT NOT NULL DEFAULT 'unauthorized'
	);

	-- Open month = month of MAX(created_at); cohorts are created_at ranges
	CREATE INDEX IF NOT EXISTS idx_members_agreement_created
		ON member_snapshots(agreement_id, created_at);

	CREATE TABLE IF NOT EXISTS freeze_records (
		id TEXT PRIMARY KEY,
		agreement_id INTEGER NOT NULL REFERENCES agreements(id),
		month_key TEXT NOT NULL,
		frozen BOOLEAN NOT NULL DEFAULT FALSE,
		cloned_count INTEGER NOT NULL DEFAULT 0,
		frozen_at TEXT,
		UNIQUE(agreement_id, month_key)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// TRANSACTIONAL STORE (membership.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store membership.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx, loc: s.loc}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every query on one *sql.Tx (or, for the non-transactional
// path, on the *sql.DB). It never touches Store.mu.
type txStore struct {
	q   querier
	loc *time.Location
}

func (s *Store) direct() *txStore { return &txStore{q: s.db, loc: s.loc} }

// =============================================================================
// membership.Store - Locked wrappers for non-transactional callers
// =============================================================================

func (s *Store) GetAgreement(ctx context.Context, id membership.AgreementID) (*membership.Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().GetAgreement(ctx, id)
}

func (s *Store) GetPlan(ctx context.Context, id membership.PlanID) (*membership.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().GetPlan(ctx, id)
}

func (s *Store) ListPlans(ctx context.Context, agreementID membership.AgreementID) ([]membership.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().ListPlans(ctx, agreementID)
}

func (s *Store) GetMember(ctx context.Context, id membership.MemberID) (*membership.MemberSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().GetMember(ctx, id)
}

func (s *Store) LatestMemberCreatedAt(ctx context.Context, agreementID membership.AgreementID) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().LatestMemberCreatedAt(ctx, agreementID)
}

func (s *Store) ListMembersBetween(ctx context.Context, agreementID membership.AgreementID, from, to time.Time) ([]membership.MemberSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().ListMembersBetween(ctx, agreementID, from, to)
}

func (s *Store) CountMembersBetween(ctx context.Context, agreementID membership.AgreementID, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().CountMembersBetween(ctx, agreementID, from, to)
}

func (s *Store) GetFreezeRecord(ctx context.Context, agreementID membership.AgreementID, month membership.MonthKey) (*membership.FreezeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().GetFreezeRecord(ctx, agreementID, month)
}

func (s *Store) ListFreezeRecords(ctx context.Context, agreementID membership.AgreementID) ([]membership.FreezeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().ListFreezeRecords(ctx, agreementID)
}

func (s *Store) InsertMember(ctx context.Context, m *membership.MemberSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().InsertMember(ctx, m)
}

func (s *Store) UpdateMember(ctx context.Context, m membership.MemberSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().UpdateMember(ctx, m)
}

func (s *Store) DeleteMember(ctx context.Context, id membership.MemberID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().DeleteMember(ctx, id)
}

func (s *Store) UpsertFreezeRecord(ctx context.Context, rec membership.FreezeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().UpsertFreezeRecord(ctx, rec)
}

// =============================================================================
// AGREEMENTS
// =============================================================================

// SaveAgreement inserts (ID == 0) or updates an agreement.
func (s *Store) SaveAgreement(ctx context.Context, a *membership.Agreement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.Status == "" {
		a.Status = membership.AgreementActive
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	if a.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			"INSERT INTO agreements (name, status, created_at) VALUES (?, ?, ?)",
			a.Name, a.Status, formatTime(a.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert agreement: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		a.ID = membership.AgreementID(id)
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agreements (id, name, status, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status
	`, a.ID, a.Name, a.Status, formatTime(a.CreatedAt))
	return err
}

// ListAgreements returns all agreements ordered by id.
func (s *Store) ListAgreements(ctx context.Context) ([]membership.Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, status, created_at FROM agreements ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []membership.Agreement
	for rows.Next() {
		a, err := s.direct().scanAgreement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (ts *txStore) GetAgreement(ctx context.Context, id membership.AgreementID) (*membership.Agreement, error) {
	row := ts.q.QueryRowContext(ctx, "SELECT id, name, status, created_at FROM agreements WHERE id = ?", id)
	a, err := ts.scanAgreement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, membership.ErrAgreementNotFound
	}
	return a, err
}

func (ts *txStore) scanAgreement(row rowScanner) (*membership.Agreement, error) {
	var a membership.Agreement
	var createdAt string
	if err := row.Scan(&a.ID, &a.Name, &a.Status, &createdAt); err != nil {
		return nil, err
	}
	a.CreatedAt = ts.parseTime(createdAt)
	return &a, nil
}

// =============================================================================
// PLANS
// =============================================================================

// SavePlan inserts (ID == 0) or updates a plan. Marking a plan default
// clears the flag on the agreement's other plans in the same transaction.
func (s *Store) SavePlan(ctx context.Context, p *membership.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if _, err := (&txStore{q: sqlTx, loc: s.loc}).GetAgreement(ctx, p.AgreementID); err != nil {
		return err
	}

	if p.IsDefault {
		if _, err := sqlTx.ExecContext(ctx,
			"UPDATE plans SET is_default = FALSE WHERE agreement_id = ? AND id != ?",
			p.AgreementID, p.ID,
		); err != nil {
			return fmt.Errorf("failed to clear default plan: %w", err)
		}
	}

	if p.ID == 0 {
		res, err := sqlTx.ExecContext(ctx, `
			INSERT INTO plans (agreement_id, name, duration_days, list_price, discount_value,
				final_price, active, is_default)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, p.AgreementID, p.Name, nullInt(p.DurationDays), p.ListPrice.String(),
			p.DiscountValue.String(), p.FinalPrice.String(), p.Active, p.IsDefault)
		if err != nil {
			return fmt.Errorf("failed to insert plan: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		p.ID = membership.PlanID(id)
	} else {
		if _, err := sqlTx.ExecContext(ctx, `
			UPDATE plans SET name = ?, duration_days = ?, list_price = ?, discount_value = ?,
				final_price = ?, active = ?, is_default = ?
			WHERE id = ? AND agreement_id = ?
		`, p.Name, nullInt(p.DurationDays), p.ListPrice.String(), p.DiscountValue.String(),
			p.FinalPrice.String(), p.Active, p.IsDefault, p.ID, p.AgreementID); err != nil {
			return fmt.Errorf("failed to update plan: %w", err)
		}
	}

	return sqlTx.Commit()
}

const planColumns = `id, agreement_id, name, duration_days, list_price, discount_value,
	final_price, active, is_default`

func (ts *txStore) GetPlan(ctx context.Context, id membership.PlanID) (*membership.Plan, error) {
	row := ts.q.QueryRowContext(ctx, "SELECT "+planColumns+" FROM plans WHERE id = ?", id)
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, membership.ErrPlanNotFound
	}
	return p, err
}

func (ts *txStore) ListPlans(ctx context.Context, agreementID membership.AgreementID) ([]membership.Plan, error) {
	rows, err := ts.q.QueryContext(ctx,
		"SELECT "+planColumns+" FROM plans WHERE agreement_id = ? ORDER BY id", agreementID)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var out []membership.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPlan(row rowScanner) (*membership.Plan, error) {
	var (
		p                             membership.Plan
		duration                      sql.NullInt64
		listPrice, discount, finalStr string
	)
	if err := row.Scan(&p.ID, &p.AgreementID, &p.Name, &duration, &listPrice, &discount,
		&finalStr, &p.Active, &p.IsDefault); err != nil {
		return nil, err
	}
	if duration.Valid {
		d := int(duration.Int64)
		p.DurationDays = &d
	}
	p.ListPrice = parseDecimal(listPrice)
	p.DiscountValue = parseDecimal(discount)
	p.FinalPrice = parseDecimal(finalStr)
	return &p, nil
}

// =============================================================================
// MEMBER SNAPSHOTS
// =============================================================================

const memberColumns = `id, agreement_id, plan_id, national_id, email, phone, name, notes,
	created_at, expires_at, authorization_state`

func (ts *txStore) GetMember(ctx context.Context, id membership.MemberID) (*membership.MemberSnapshot, error) {
	row := ts.q.QueryRowContext(ctx, "SELECT "+memberColumns+" FROM member_snapshots WHERE id = ?", id)
	m, err := ts.scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, membership.ErrMemberNotFound
	}
	return m, err
}

func (ts *txStore) LatestMemberCreatedAt(ctx context.Context, agreementID membership.AgreementID) (*time.Time, error) {
	var latest sql.NullString
	err := ts.q.QueryRowContext(ctx,
		"SELECT MAX(created_at) FROM member_snapshots WHERE agreement_id = ?", agreementID,
	).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve open month: %w", err)
	}
	if !latest.Valid {
		return nil, nil
	}
	t := ts.parseTime(latest.String)
	return &t, nil
}

func (ts *txStore) ListMembersBetween(ctx context.Context, agreementID membership.AgreementID, from, to time.Time) ([]membership.MemberSnapshot, error) {
	rows, err := ts.q.QueryContext(ctx, `
		SELECT `+memberColumns+`
		FROM member_snapshots
		WHERE agreement_id = ? AND created_at >= ? AND created_at < ?
		ORDER BY id ASC
	`, agreementID, formatBound(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var out []membership.MemberSnapshot
	for rows.Next() {
		m, err := ts.scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (ts *txStore) CountMembersBetween(ctx context.Context, agreementID membership.AgreementID, from, to time.Time) (int, error) {
	var n int
	err := ts.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM member_snapshots
		WHERE agreement_id = ? AND created_at >= ? AND created_at < ?
	`, agreementID, formatBound(from), formatTime(to)).Scan(&n)
	return n, err
}

func (ts *txStore) InsertMember(ctx context.Context, m *membership.MemberSnapshot) error {
	res, err := ts.q.ExecContext(ctx, `
		INSERT INTO member_snapshots (agreement_id, plan_id, national_id, email, phone, name,
			notes, created_at, expires_at, authorization_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.AgreementID, nullPlan(m.PlanID), m.NationalID, m.Email, m.Phone, m.Name,
		m.Notes, formatTime(m.CreatedAt), nullTime(m.ExpiresAt), m.Authorization)
	if err != nil {
		return fmt.Errorf("failed to insert member: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	m.ID = membership.MemberID(id)
	return nil
}

func (ts *txStore) UpdateMember(ctx context.Context, m membership.MemberSnapshot) error {
	res, err := ts.q.ExecContext(ctx, `
		UPDATE member_snapshots SET plan_id = ?, national_id = ?, email = ?, phone = ?, name = ?,
			notes = ?, expires_at = ?, authorization_state = ?
		WHERE id = ?
	`, nullPlan(m.PlanID), m.NationalID, m.Email, m.Phone, m.Name, m.Notes,
		nullTime(m.ExpiresAt), m.Authorization, m.ID)
	if err != nil {
		return fmt.Errorf("failed to update member: %w", err)
	}
	return requireRow(res, membership.ErrMemberNotFound)
}

func (ts *txStore) DeleteMember(ctx context.Context, id membership.MemberID) error {
	res, err := ts.q.ExecContext(ctx, "DELETE FROM member_snapshots WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete member: %w", err)
	}
	return requireRow(res, membership.ErrMemberNotFound)
}

func (ts *txStore) scanMember(row rowScanner) (*membership.MemberSnapshot, error) {
	var (
		m         membership.MemberSnapshot
		planID    sql.NullInt64
		createdAt string
		expiresAt sql.NullString
	)
	if err := row.Scan(&m.ID, &m.AgreementID, &planID, &m.NationalID, &m.Email, &m.Phone,
		&m.Name, &m.Notes, &createdAt, &expiresAt, &m.Authorization); err != nil {
		return nil, err
	}
	if planID.Valid {
		id := membership.PlanID(planID.Int64)
		m.PlanID = &id
	}
	m.CreatedAt = ts.parseTime(createdAt)
	if expiresAt.Valid {
		t := ts.parseTime(expiresAt.String)
		m.ExpiresAt = &t
	}
	return &m, nil
}

// =============================================================================
// FREEZE RECORDS
// =============================================================================

func (ts *txStore) GetFreezeRecord(ctx context.Context, agreementID membership.AgreementID, month membership.MonthKey) (*membership.FreezeRecord, error) {
	row := ts.q.QueryRowContext(ctx, `
		SELECT id, agreement_id, month_key, frozen, cloned_count, frozen_at
		FROM freeze_records WHERE agreement_id = ? AND month_key = ?
	`, agreementID, formatTime(month.Time))
	rec, err := ts.scanFreezeRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (ts *txStore) ListFreezeRecords(ctx context.Context, agreementID membership.AgreementID) ([]membership.FreezeRecord, error) {
	rows, err := ts.q.QueryContext(ctx, `
		SELECT id, agreement_id, month_key, frozen, cloned_count, frozen_at
		FROM freeze_records WHERE agreement_id = ?
		ORDER BY month_key DESC
	`, agreementID)
	if err != nil {
		return nil, fmt.Errorf("failed to query freeze records: %w", err)
	}
	defer rows.Close()

	var out []membership.FreezeRecord
	for rows.Next() {
		rec, err := ts.scanFreezeRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (ts *txStore) UpsertFreezeRecord(ctx context.Context, rec membership.FreezeRecord) error {
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO freeze_records (id, agreement_id, month_key, frozen, cloned_count, frozen_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(agreement_id, month_key) DO UPDATE SET
			frozen = excluded.frozen,
			cloned_count = excluded.cloned_count,
			frozen_at = excluded.frozen_at
	`, rec.ID, rec.AgreementID, formatTime(rec.Month.Time), rec.Frozen, rec.ClonedCount,
		nullTime(nonZero(rec.FrozenAt)))
	if err != nil {
		return fmt.Errorf("failed to upsert freeze record: %w", err)
	}
	return nil
}

func (ts *txStore) scanFreezeRecord(row rowScanner) (*membership.FreezeRecord, error) {
	var (
		rec      membership.FreezeRecord
		month    string
		frozenAt sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.AgreementID, &month, &rec.Frozen, &rec.ClonedCount, &frozenAt); err != nil {
		return nil, err
	}
	rec.Month = membership.MonthKey{Time: ts.parseTime(month)}
	if frozenAt.Valid {
		rec.FrozenAt = ts.parseTime(frozenAt.String)
	}
	return &rec, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for demos).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"freeze_records", "member_snapshots", "plans", "agreements"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM sqlite_sequence")
	if err != nil && !strings.Contains(err.Error(), "no such table") {
		return err
	}
	return nil
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// formatBound maps the zero time to the smallest possible key.
func formatBound(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return formatTime(t)
}

func (ts *txStore) parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.In(ts.loc)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nonZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullPlan(id *membership.PlanID) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
