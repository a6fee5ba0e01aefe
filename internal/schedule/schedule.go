package schedule

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"reviewclassifier/internal/retry"
)

// Parse accepts a standard 5-field cron expression (minute hour
// day-of-month month day-of-week), e.g. "0 3 * * *" for daily at 03:00.
func Parse(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("invalid schedule '%s': %w", expr, err)
	}
	return sched, nil
}

type Loop struct {
	Schedule cron.Schedule
	Location *time.Location
	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
}

// Run calls fn at every tick until ctx is cancelled. A tick never overlaps the
// previous run; ticks missed while fn was running are skipped.
func (l *Loop) Run(ctx context.Context, fn func(ctx context.Context)) error {
	now := l.Now
	if now == nil {
		now = time.Now
	}
	sleep := l.Sleep
	if sleep == nil {
		sleep = retry.SleepContext
	}
	loc := l.Location
	if loc == nil {
		loc = time.Local
	}

	for {
		current := now().In(loc)
		next := l.Schedule.Next(current)
		wait := next.Sub(current)
		log.Printf("Next scheduled run at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

		if err := sleep(ctx, wait); err != nil {
			log.Printf("Scheduler stopped: %v", err)
			return err
		}
		fn(ctx)
	}
}
