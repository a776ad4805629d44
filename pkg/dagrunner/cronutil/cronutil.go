// Package cronutil wraps robfig/cron/v3 to expose the one operation the
// engine needs: the next UTC fire time for a standard 5-field cron
// expression, strictly after a given base time.
package cronutil

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Iterator holds a parsed cron schedule and yields successive fire times.
type Iterator struct {
	expr     string
	schedule cron.Schedule
}

// Parse parses a standard 5-field cron expression.
func Parse(expr string) (*Iterator, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cronutil: parse %q: %w", expr, err)
	}
	return &Iterator{expr: expr, schedule: sched}, nil
}

// Expr returns the original cron expression.
func (it *Iterator) Expr() string { return it.expr }

// NextAfter returns the first fire time strictly after base, in UTC.
// robfig/cron's Schedule.Next already returns a time strictly after its
// argument, so this is a direct, unit-respecting passthrough.
func (it *Iterator) NextAfter(base time.Time) time.Time {
	return it.schedule.Next(base.UTC()).UTC()
}

// NextAfter is a convenience one-shot: parse expr and compute the first
// fire time strictly after base.
func NextAfter(expr string, base time.Time) (time.Time, error) {
	it, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return it.NextAfter(base), nil
}
