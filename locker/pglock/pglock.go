// Package pglock implements membership.Locker with Postgres session-level
// advisory locks.
//
// Each held lock pins one pooled connection: advisory locks belong to the
// session, so the unlock must run on the same connection that took it.
package pglock

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/warp/cohort-engine/membership"
)

var _ membership.Locker = (*Locker)(nil)

const (
	driverName  = "pgx"
	defaultPoll = 100 * time.Millisecond

	// Lock names are hashed server-side onto the bigint advisory keyspace.
	tryLockSQL = "SELECT pg_try_advisory_lock(hashtextextended($1, 0))"
	unlockSQL  = "SELECT pg_advisory_unlock(hashtextextended($1, 0))"
)

type Locker struct {
	db   *sql.DB
	poll time.Duration
}

// Open connects to Postgres with the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*Locker, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db), nil
}

func New(db *sql.DB) *Locker {
	return &Locker{db: db, poll: defaultPoll}
}

func (l *Locker) Close() error {
	return l.db.Close()
}

// TryAcquire polls pg_try_advisory_lock on a dedicated connection until it
// succeeds or timeout elapses.
func (l *Locker) TryAcquire(ctx context.Context, key string, timeout time.Duration) (membership.Lock, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("advisory lock %s: %w", key, err)
	}

	deadline := time.Now().Add(timeout)
	for {
		var ok bool
		if err := conn.QueryRowContext(ctx, tryLockSQL, key).Scan(&ok); err != nil {
			conn.Close()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("advisory lock %s: %w", key, err)
		}
		if ok {
			return &lock{conn: conn, key: key}, nil
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", key, membership.ErrLockBusy)
		}
		if wait > l.poll {
			wait = l.poll
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			conn.Close()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

type lock struct {
	conn *sql.Conn
	key  string
}

func (lk *lock) Release(ctx context.Context) error {
	if lk.conn == nil {
		return nil
	}
	conn := lk.conn
	lk.conn = nil
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, unlockSQL, lk.key); err != nil {
		// Drop the session instead of pooling it with the lock still held.
		_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}
