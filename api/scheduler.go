/*
scheduler.go - Automated month-end freeze

PURPOSE:
  Periodically freezes agreements whose current month is about to close, so
  the next month's cohort exists before anyone needs to edit it.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Acts only on or after FreezeDay of the current month
  - Considers active agreements whose open month is the current month and
    is not frozen yet
  - Rejections (conflicts, concurrent freezes) are logged and left for the
    next tick; the scheduler never retries within a tick

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - FreezeDay:     First day of month the scheduler may freeze (default: 28)
  - Enabled:       Whether scheduler is active (default: false)

USAGE:
  scheduler := NewFreezeScheduler(service, catalog, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Freeze endpoint (manual freeze)
  - membership/freeze.go: FreezeEngine
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/cohort-engine/logger"
	"github.com/warp/cohort-engine/membership"
)

// FreezeScheduler handles automated month-end freezes.
type FreezeScheduler struct {
	Service       *membership.Service
	Catalog       Catalog
	CheckInterval time.Duration
	FreezeDay     int
	Enabled       bool
	Log           *logger.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// TickResult counts what one check did.
type TickResult struct {
	Frozen  int
	Skipped int
	Failed  int
}

// NewFreezeScheduler creates a disabled scheduler with default settings.
func NewFreezeScheduler(svc *membership.Service, catalog Catalog, log *logger.Logger) *FreezeScheduler {
	if log == nil {
		log = logger.Nop()
	}
	return &FreezeScheduler{
		Service:       svc,
		Catalog:       catalog,
		CheckInterval: time.Hour,
		FreezeDay:     28,
		Log:           log,
	}
}

// Start begins the scheduler.
func (fs *FreezeScheduler) Start() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.Enabled {
		fs.Log.Info("freeze scheduler disabled, not starting")
		return
	}
	if fs.ticker != nil {
		return
	}

	fs.ticker = time.NewTicker(fs.CheckInterval)
	fs.stop = make(chan struct{})
	fs.wg.Add(1)

	go fs.run()

	fs.Log.Info("freeze scheduler started",
		"interval", fs.CheckInterval.String(),
		"freeze_day", fs.FreezeDay,
	)
}

// Stop stops the scheduler and waits for an in-flight check.
func (fs *FreezeScheduler) Stop() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.ticker != nil {
		fs.ticker.Stop()
		close(fs.stop)
		fs.wg.Wait()
		fs.ticker = nil
		fs.Log.Info("freeze scheduler stopped")
	}
}

func (fs *FreezeScheduler) run() {
	defer fs.wg.Done()

	// Run immediately on start
	fs.RunNow(context.Background())

	for {
		select {
		case <-fs.ticker.C:
			fs.RunNow(context.Background())
		case <-fs.stop:
			return
		}
	}
}

// RunNow performs one check synchronously.
func (fs *FreezeScheduler) RunNow(ctx context.Context) TickResult {
	var res TickResult

	cal := fs.Service.Calendar
	now := cal.Now()
	if now.Day() < fs.FreezeDay {
		return res
	}
	current := cal.Current()

	agreements, err := fs.Catalog.ListAgreements(ctx)
	if err != nil {
		fs.Log.Error("scheduler: list agreements", "error", err)
		res.Failed++
		return res
	}

	for _, a := range agreements {
		if !a.IsActive() {
			continue
		}
		due, err := fs.due(ctx, a.ID, current)
		if err != nil {
			fs.Log.Error("scheduler: inspect agreement", "agreement_id", int64(a.ID), "error", err)
			res.Failed++
			continue
		}
		if !due {
			res.Skipped++
			continue
		}

		result, err := fs.Service.Freeze(ctx, a.ID, &current)
		if err != nil {
			fs.Log.Warn("scheduler: freeze rejected",
				"agreement_id", int64(a.ID),
				"retryable", membership.IsRetryable(err),
				"error", err,
			)
			res.Failed++
			continue
		}
		res.Frozen++
		fs.Log.Info("scheduler: month frozen",
			"agreement_id", int64(a.ID),
			"month", result.FrozenMonth.String(),
			"cloned", result.ClonedCount,
		)
	}

	if res.Frozen > 0 || res.Failed > 0 {
		fs.Log.Info("scheduler: check completed",
			"frozen", res.Frozen,
			"skipped", res.Skipped,
			"failed", res.Failed,
		)
	}
	return res
}

// due reports whether the agreement's open month is current and unfrozen.
func (fs *FreezeScheduler) due(ctx context.Context, id membership.AgreementID, current membership.MonthKey) (bool, error) {
	store := fs.Service.Store
	latest, err := store.LatestMemberCreatedAt(ctx, id)
	if err != nil || latest == nil {
		return false, err
	}
	if !fs.Service.Calendar.MonthKey(*latest).Equal(current) {
		return false, nil
	}
	rec, err := store.GetFreezeRecord(ctx, id, current)
	if err != nil {
		return false, err
	}
	return rec == nil || !rec.Frozen, nil
}
