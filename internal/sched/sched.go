// Package sched runs a function on a cron schedule.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Parse parses a schedule expression. Accepts the @every/@daily style
// macros and plain 5 field cron expressions.
func Parse(expr string) (cron.Schedule, error) {
	e := strings.TrimSpace(expr)
	if e == "" {
		return nil, fmt.Errorf("empty schedule expression")
	}

	// Macros / @every handled by ParseStandard (it also supports plain 5-field specs).
	if strings.HasPrefix(e, "@") {
		return cron.ParseStandard(e)
	}

	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser5.Parse(e)
}

// Run invokes fn at every tick of schedule until ctx is cancelled and
// returns the cancellation cause. A failing tick is logged and does not
// stop the loop. Ticks never overlap.
func Run(ctx context.Context, schedule cron.Schedule, fn func(context.Context) error) error {
	for {
		next := schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err := fn(ctx); err != nil {
			slog.ErrorContext(ctx, "scheduled run failed", "err", err)
		}
	}
}
