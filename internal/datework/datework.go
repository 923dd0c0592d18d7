// Package datework slices date ranges into calendar-month and fiscal-year
// segments and computes the day counts proration depends on.
package datework

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidRange = errors.New("invalid_date_range")

// Calendar carries the organization's fiscal year start.
type Calendar struct {
	fiscalStartMonth time.Month
	fiscalStartDay   int
}

func New(fiscalStartMonth time.Month, fiscalStartDay int) (*Calendar, error) {
	if fiscalStartMonth < time.January || fiscalStartMonth > time.December {
		return nil, fmt.Errorf("fiscal start month %d: %w", fiscalStartMonth, ErrInvalidRange)
	}
	if fiscalStartDay < 1 || fiscalStartDay > 28 {
		// Days past 28 would make some fiscal years start on a nonexistent date.
		return nil, fmt.Errorf("fiscal start day %d: %w", fiscalStartDay, ErrInvalidRange)
	}
	return &Calendar{fiscalStartMonth: fiscalStartMonth, fiscalStartDay: fiscalStartDay}, nil
}

// MonthSlot is one calendar-month segment of a requested range. Start and End
// are inclusive dates, DaysCount the inclusive day span, MonthDays the length
// of the containing calendar month.
type MonthSlot struct {
	Year      int
	Month     time.Month
	MonthDays int
	Start     time.Time
	End       time.Time
	DaysCount int
}

// FiscalSegment is the part of a requested range that falls inside one fiscal
// year. FYStart/FYEnd bound the fiscal year itself, Start/End the clamped range.
type FiscalSegment struct {
	FYStart time.Time
	FYEnd   time.Time
	Start   time.Time
	End     time.Time
}

// MonthSlots splits [from, to] into calendar-month segments. A non-zero
// appoint date must not postdate the range start.
func (c *Calendar) MonthSlots(appoint, from, to time.Time) ([]MonthSlot, error) {
	if err := validate(appoint, from, to); err != nil {
		return nil, err
	}

	from, to = dateOf(from), dateOf(to)
	var slots []MonthSlot
	cursor := from
	for !cursor.After(to) {
		monthEnd := endOfMonth(cursor)
		end := monthEnd
		if end.After(to) {
			end = to
		}
		slots = append(slots, MonthSlot{
			Year:      cursor.Year(),
			Month:     cursor.Month(),
			MonthDays: monthEnd.Day(),
			Start:     cursor,
			End:       end,
			DaysCount: daysInclusive(cursor, end),
		})
		cursor = monthEnd.AddDate(0, 0, 1)
	}
	return slots, nil
}

// FiscalSegments splits [from, to] at every fiscal-year boundary.
func (c *Calendar) FiscalSegments(from, to time.Time) ([]FiscalSegment, error) {
	if err := validate(time.Time{}, from, to); err != nil {
		return nil, err
	}

	from, to = dateOf(from), dateOf(to)
	var segments []FiscalSegment
	cursor := from
	for !cursor.After(to) {
		fyStart, fyEnd := c.FiscalYearFor(cursor)
		end := fyEnd
		if end.After(to) {
			end = to
		}
		segments = append(segments, FiscalSegment{
			FYStart: fyStart,
			FYEnd:   fyEnd,
			Start:   cursor,
			End:     end,
		})
		cursor = fyEnd.AddDate(0, 0, 1)
	}
	return segments, nil
}

// FiscalYearFor returns the inclusive bounds of the fiscal year containing date.
func (c *Calendar) FiscalYearFor(date time.Time) (start, end time.Time) {
	date = dateOf(date)
	start = time.Date(date.Year(), c.fiscalStartMonth, c.fiscalStartDay, 0, 0, 0, 0, time.UTC)
	if start.After(date) {
		start = start.AddDate(-1, 0, 0)
	}
	end = start.AddDate(1, 0, 0).AddDate(0, 0, -1)
	return start, end
}

// RemainingMonthSlots counts the month slots strictly after the slot ending at
// periodEnd, up to the end of its fiscal year. This is the divisor companion
// for spreading annual tax across the remaining payroll runs.
func (c *Calendar) RemainingMonthSlots(periodEnd time.Time) int {
	periodEnd = dateOf(periodEnd)
	_, fyEnd := c.FiscalYearFor(periodEnd)
	if !periodEnd.Before(fyEnd) {
		return 0
	}
	slots, err := c.MonthSlots(time.Time{}, periodEnd.AddDate(0, 0, 1), fyEnd)
	if err != nil {
		return 0
	}
	return len(slots)
}

// RemainingDaysInFY counts days strictly after date up to its fiscal year end.
func (c *Calendar) RemainingDaysInFY(date time.Time) int {
	date = dateOf(date)
	_, fyEnd := c.FiscalYearFor(date)
	if !date.Before(fyEnd) {
		return 0
	}
	return daysInclusive(date.AddDate(0, 0, 1), fyEnd)
}

func validate(appoint, from, to time.Time) error {
	if from.IsZero() || to.IsZero() {
		return fmt.Errorf("zero date: %w", ErrInvalidRange)
	}
	if dateOf(from).After(dateOf(to)) {
		return fmt.Errorf("from %s after to %s: %w",
			from.Format(time.DateOnly), to.Format(time.DateOnly), ErrInvalidRange)
	}
	if !appoint.IsZero() && dateOf(from).Before(dateOf(appoint)) {
		return fmt.Errorf("from %s precedes appoint date %s: %w",
			from.Format(time.DateOnly), appoint.Format(time.DateOnly), ErrInvalidRange)
	}
	return nil
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func endOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).
		AddDate(0, 1, 0).AddDate(0, 0, -1)
}

func daysInclusive(from, to time.Time) int {
	return int(to.Sub(from).Hours()/24) + 1
}
