// Package reconcile reports purchases whose payment outcome never arrived.
// It only reads; pending purchases are resolved by a webhook or by hand.
package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/coursemart/marketplace/internal/config"
	"github.com/coursemart/marketplace/internal/models"
	"github.com/coursemart/marketplace/internal/store"
)

type Reporter struct {
	db        *sql.DB
	log       *slog.Logger
	olderThan time.Duration
	limit     int
	now       func() time.Time
}

func NewReporter(db *sql.DB, cfg config.ReconcileConfig, log *slog.Logger) *Reporter {
	return &Reporter{
		db:        db,
		log:       log.With(slog.String("component", "reconcile")),
		olderThan: cfg.OlderThan,
		limit:     cfg.Limit,
		now:       time.Now,
	}
}

// Run lists pending purchases older than the configured age and logs each.
func (r *Reporter) Run(ctx context.Context) ([]models.Purchase, error) {
	cutoff := r.now().Add(-r.olderThan)

	stale, err := store.ListStalePendingPurchases(ctx, r.db, cutoff, r.limit)
	if err != nil {
		return nil, fmt.Errorf("list stale purchases: %w", err)
	}

	for _, p := range stale {
		r.log.Warn("purchase still pending",
			slog.String("purchase_id", p.ID),
			slog.String("user_id", p.UserID),
			slog.String("course_id", p.CourseID),
			slog.String("checkout_session_id", p.CheckoutSessionID),
			slog.Duration("age", r.now().Sub(p.CreatedAt).Round(time.Second)))
	}

	r.log.Info("reconcile pass finished", slog.Int("stale", len(stale)), slog.Time("cutoff", cutoff))
	return stale, nil
}

// Schedule starts Run on a cron schedule. Overlapping passes are skipped.
func Schedule(spec string, r *Reporter) (*cron.Cron, error) {
	logger := cronLogger{log: r.log}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger)))

	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if _, err := r.Run(ctx); err != nil {
			r.log.Error("reconcile pass failed", slog.Any("error", err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("add reconcile schedule %q: %w", spec, err)
	}

	c.Start()
	return c, nil
}

// cronLogger sends the scheduler's own messages, skipped runs and recovered
// panics among them, to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Info(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append([]interface{}{slog.Any("error", err)}, keysAndValues...)...)
}
