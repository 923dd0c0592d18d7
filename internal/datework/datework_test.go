package datework

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMonthSlots_SingleMonth(t *testing.T) {
	cal, err := New(time.January, 1)
	require.NoError(t, err)

	slots, err := cal.MonthSlots(time.Time{}, date(2026, 4, 1), date(2026, 4, 30))
	require.NoError(t, err)
	require.Len(t, slots, 1)

	assert.Equal(t, 2026, slots[0].Year)
	assert.Equal(t, time.April, slots[0].Month)
	assert.Equal(t, 30, slots[0].MonthDays)
	assert.Equal(t, 30, slots[0].DaysCount)
}

func TestMonthSlots_StraddlesMonths(t *testing.T) {
	cal, err := New(time.January, 1)
	require.NoError(t, err)

	slots, err := cal.MonthSlots(time.Time{}, date(2026, 1, 16), date(2026, 3, 10))
	require.NoError(t, err)
	require.Len(t, slots, 3)

	assert.Equal(t, 16, slots[0].DaysCount)
	assert.Equal(t, 31, slots[0].MonthDays)
	assert.Equal(t, 28, slots[1].DaysCount)
	assert.Equal(t, 28, slots[1].MonthDays)
	assert.Equal(t, 10, slots[2].DaysCount)
	assert.Equal(t, 31, slots[2].MonthDays)

	assert.Equal(t, date(2026, 1, 16), slots[0].Start)
	assert.Equal(t, date(2026, 1, 31), slots[0].End)
	assert.Equal(t, date(2026, 2, 1), slots[1].Start)
	assert.Equal(t, date(2026, 3, 10), slots[2].End)
}

func TestMonthSlots_LeapFebruary(t *testing.T) {
	cal, err := New(time.January, 1)
	require.NoError(t, err)

	slots, err := cal.MonthSlots(time.Time{}, date(2028, 2, 1), date(2028, 2, 29))
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, 29, slots[0].MonthDays)
	assert.Equal(t, 29, slots[0].DaysCount)
}

func TestMonthSlots_InvalidRange(t *testing.T) {
	cal, err := New(time.January, 1)
	require.NoError(t, err)

	_, err = cal.MonthSlots(time.Time{}, date(2026, 5, 1), date(2026, 4, 1))
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = cal.MonthSlots(date(2026, 4, 15), date(2026, 4, 1), date(2026, 4, 30))
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestFiscalSegments_SplitsAtFiscalBoundary(t *testing.T) {
	// Fiscal year starts April 1.
	cal, err := New(time.April, 1)
	require.NoError(t, err)

	segments, err := cal.FiscalSegments(date(2026, 3, 1), date(2026, 4, 30))
	require.NoError(t, err)
	require.Len(t, segments, 2)

	assert.Equal(t, date(2025, 4, 1), segments[0].FYStart)
	assert.Equal(t, date(2026, 3, 31), segments[0].FYEnd)
	assert.Equal(t, date(2026, 3, 1), segments[0].Start)
	assert.Equal(t, date(2026, 3, 31), segments[0].End)

	assert.Equal(t, date(2026, 4, 1), segments[1].FYStart)
	assert.Equal(t, date(2027, 3, 31), segments[1].FYEnd)
	assert.Equal(t, date(2026, 4, 1), segments[1].Start)
	assert.Equal(t, date(2026, 4, 30), segments[1].End)
}

func TestFiscalSegments_DecemberJanuaryWithNonJanuaryStart(t *testing.T) {
	cal, err := New(time.July, 1)
	require.NoError(t, err)

	// Dec -> Jan stays inside one fiscal year when the year starts in July.
	segments, err := cal.FiscalSegments(date(2026, 12, 15), date(2027, 1, 15))
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, date(2026, 7, 1), segments[0].FYStart)
	assert.Equal(t, date(2027, 6, 30), segments[0].FYEnd)
}

func TestFiscalYearFor(t *testing.T) {
	cal, err := New(time.April, 1)
	require.NoError(t, err)

	start, end := cal.FiscalYearFor(date(2026, 3, 31))
	assert.Equal(t, date(2025, 4, 1), start)
	assert.Equal(t, date(2026, 3, 31), end)

	start, end = cal.FiscalYearFor(date(2026, 4, 1))
	assert.Equal(t, date(2026, 4, 1), start)
	assert.Equal(t, date(2027, 3, 31), end)
}

func TestRemainingMonthSlots(t *testing.T) {
	cal, err := New(time.January, 1)
	require.NoError(t, err)

	// After January there are 11 month slots left in the calendar fiscal year.
	assert.Equal(t, 11, cal.RemainingMonthSlots(date(2026, 1, 31)))
	assert.Equal(t, 0, cal.RemainingMonthSlots(date(2026, 12, 31)))
}

func TestRemainingDaysInFY(t *testing.T) {
	cal, err := New(time.January, 1)
	require.NoError(t, err)

	assert.Equal(t, 334, cal.RemainingDaysInFY(date(2026, 1, 31)))
	assert.Equal(t, 0, cal.RemainingDaysInFY(date(2026, 12, 31)))
}
