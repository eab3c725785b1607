package utils

import (
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

// TimeProvider interface for time operations
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider implements TimeProvider using actual system time
type RealTimeProvider struct{}

func (p RealTimeProvider) Now() time.Time {
	return time.Now()
}

// FixedTimeProvider always returns the same instant. Used for re-running a
// given day and in tests.
type FixedTimeProvider struct {
	Time time.Time
}

func (p FixedTimeProvider) Now() time.Time {
	return p.Time
}

// ParseRunDate parses a YYYY-MM-DD date into a FixedTimeProvider.
func ParseRunDate(date string) (FixedTimeProvider, error) {
	t, err := time.ParseInLocation(DateLayout, date, time.Local)
	if err != nil {
		return FixedTimeProvider{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", date, err)
	}
	return FixedTimeProvider{Time: t}, nil
}

// DateWindow returns the start and end dates, formatted for the API, of a
// window ending on the day of now and reaching lookbackDays days back.
func DateWindow(now time.Time, lookbackDays int) (string, string) {
	end := now.Format(DateLayout)
	start := now.AddDate(0, 0, -lookbackDays).Format(DateLayout)
	return start, end
}
