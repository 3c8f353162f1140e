// Package usage publishes daily per-tenant token and cost totals as
// audit events for downstream billing.
package usage

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/parley/internal/audit"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/threadstore"
	"github.com/haasonsaas/parley/pkg/models"
)

// Rollup reads the previous day's usage buckets on a schedule and emits
// one data-change audit event per (tenant, model) row. Buckets are
// accumulated at write time, so the rollup only reads and reports.
type Rollup struct {
	store    threadstore.Store
	recorder audit.Recorder
	logger   *observability.Logger
	cron     *cron.Cron
	now      func() time.Time
}

// NewRollup creates a rollup running on the given cron schedule
// (e.g. "5 0 * * *" for five past midnight).
func NewRollup(store threadstore.Store, recorder audit.Recorder, schedule string,
	logger *observability.Logger) (*Rollup, error) {

	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	r := &Rollup{
		store:    store,
		recorder: recorder,
		logger:   logger,
		cron:     cron.New(),
		now:      time.Now,
	}
	_, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := r.Run(ctx, r.now().AddDate(0, 0, -1)); err != nil {
			r.logger.Error(ctx, "usage rollup failed", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Start begins scheduled runs.
func (r *Rollup) Start() { r.cron.Start() }

// Stop halts the schedule and waits for a running rollup.
func (r *Rollup) Stop() { <-r.cron.Stop().Done() }

// Run reports usage for one day and returns how many rows it published.
func (r *Rollup) Run(ctx context.Context, day time.Time) (int, error) {
	records, err := r.store.ListUsageByDay(ctx, day)
	if err != nil {
		return 0, err
	}
	for _, u := range records {
		r.recorder.Record(ctx, audit.DataChange("usage", u.TenantID, "usage.day_closed",
			map[string]any{
				"model":      u.ModelCode,
				"day":        models.UsageDay(u.Day).Format("2006-01-02"),
				"tokens_in":  u.TokensIn,
				"tokens_out": u.TokensOut,
				"cost":       u.Cost,
			}))
	}
	if len(records) > 0 {
		r.logger.Info(ctx, "usage rollup published",
			"day", models.UsageDay(day).Format("2006-01-02"), "rows", len(records))
	}
	return len(records), nil
}
