package cronutil

import (
	"testing"
	"time"
)

func TestNextAfterEveryMinute(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 7, 31, 10, 0, 30, 0, time.UTC)
	next, err := NextAfter("* * * * *", base)
	if err != nil {
		t.Fatalf("NextAfter: %v", err)
	}
	want := time.Date(2026, 7, 31, 10, 1, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("NextAfter = %v, want %v", next, want)
	}
}

func TestNextAfterPastScheduleIsStrictlyFuture(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	pastExpr := "0 0 1 1 *" // once a year, long past for most of the year
	next, err := NextAfter(pastExpr, now)
	if err != nil {
		t.Fatalf("NextAfter: %v", err)
	}
	if !next.After(now) {
		t.Fatalf("NextAfter(%q) = %v, want strictly after %v", pastExpr, next, now)
	}
}

func TestParseInvalidExpression(t *testing.T) {
	t.Parallel()
	if _, err := Parse("not a cron expr"); err == nil {
		t.Fatal("Parse(invalid) = nil error, want error")
	}
}
