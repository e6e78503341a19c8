// Package schedule computes the next eligible run time for recurring
// schedule entries from a frequency descriptor (daily, weekly, monthly,
// quarterly). It is deliberately not a cron parser: the calendar semantics
// here are fixed, including clamping a day-of-month that exceeds the target
// month to that month's last day instead of skipping or failing.
package schedule

import (
	"fmt"
	"time"
)

// Frequency is how often a schedule recurs.
type Frequency string

const (
	// Daily fires every day at the configured time.
	Daily Frequency = "daily"
	// Weekly fires on the configured weekday at the configured time.
	Weekly Frequency = "weekly"
	// Monthly fires on the configured day of month at the configured time.
	Monthly Frequency = "monthly"
	// Quarterly fires on the configured day of every third month.
	Quarterly Frequency = "quarterly"
)

// Spec is a frequency descriptor. All computation is done in UTC.
type Spec struct {
	Frequency Frequency `json:"frequency"`

	// TimeOfDay is the fire time in 24-hour "15:04" form.
	TimeOfDay string `json:"time_of_day"`

	// Weekday applies to weekly schedules.
	Weekday time.Weekday `json:"weekday,omitempty"`

	// DayOfMonth applies to monthly and quarterly schedules, 1..31.
	// Days beyond the target month's length clamp to its last day.
	DayOfMonth int `json:"day_of_month,omitempty"`
}

// Validate checks the spec's fields for consistency.
func (s Spec) Validate() error {
	switch s.Frequency {
	case Daily, Weekly, Monthly, Quarterly:
	default:
		return fmt.Errorf("schedule: unknown frequency %q", s.Frequency)
	}

	if _, _, err := s.clock(); err != nil {
		return err
	}

	if s.Frequency == Monthly || s.Frequency == Quarterly {
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			return fmt.Errorf("schedule: day of month %d out of range 1..31", s.DayOfMonth)
		}
	}

	return nil
}

// Next returns the next eligible run time strictly after from.
//
//   - daily: the day after from, at TimeOfDay.
//   - weekly: the next occurrence of Weekday at TimeOfDay after from.
//   - monthly: DayOfMonth in the month after from, clamped to that month's
//     last day, at TimeOfDay.
//   - quarterly: same as monthly but three months ahead.
func (s Spec) Next(from time.Time) (time.Time, error) {
	if err := s.Validate(); err != nil {
		return time.Time{}, err
	}

	hour, minute, _ := s.clock()
	from = from.UTC()

	switch s.Frequency {
	case Daily:
		d := from.AddDate(0, 0, 1)
		return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, time.UTC), nil

	case Weekly:
		next := time.Date(from.Year(), from.Month(), from.Day(), hour, minute, 0, 0, time.UTC)
		for next.Weekday() != s.Weekday || !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil

	case Monthly:
		return s.monthStep(from, 1, hour, minute), nil

	default: // Quarterly
		return s.monthStep(from, 3, hour, minute), nil
	}
}

// monthStep returns DayOfMonth in the month `months` after from's month,
// clamped to the target month's length.
func (s Spec) monthStep(from time.Time, months, hour, minute int) time.Time {
	// Anchor on the first of the month so AddDate cannot overflow into the
	// month after the intended target (e.g. Jan 31 + 1 month = Mar 3).
	first := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, months, 0)

	day := s.DayOfMonth
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}

	return time.Date(first.Year(), first.Month(), day, hour, minute, 0, 0, time.UTC)
}

// clock parses TimeOfDay.
func (s Spec) clock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", s.TimeOfDay)
	if err != nil {
		return 0, 0, fmt.Errorf("schedule: parse time of day %q: %w", s.TimeOfDay, err)
	}
	return t.Hour(), t.Minute(), nil
}

// daysIn returns the number of days in the given month.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
