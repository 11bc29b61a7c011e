// Package schedule wraps robfig/cron/v3 expressions into a simple
// recompute-next-tick primitive, used to drive periodic maintenance jobs
// (e.g. a recurring prune) that run on a calendar schedule rather than a
// fixed interval.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Expr wraps a parsed 5-field cron schedule.
type Expr struct {
	raw      string
	schedule cron.Schedule
}

// Parse parses a standard 5-field (minute, hour, day-of-month, month,
// day-of-week) cron expression.
func Parse(expr string) (*Expr, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return &Expr{raw: expr, schedule: sched}, nil
}

// Next returns the next activation time strictly after t.
func (e *Expr) Next(t time.Time) time.Time {
	return e.schedule.Next(t)
}

// String returns the raw cron expression.
func (e *Expr) String() string { return e.raw }

// Run invokes fn at every activation of e until ctx is cancelled. Unlike a
// fixed ticker, the wait duration is recomputed from the current time at
// each iteration, so it tracks calendar boundaries (daily/weekly jobs)
// exactly rather than drifting.
func (e *Expr) Run(ctx context.Context, fn func(context.Context)) {
	for {
		next := e.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			fn(ctx)
		}
	}
}
