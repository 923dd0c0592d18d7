package calculator

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// ErrInsufficientData is returned when a collaborator cannot answer for the
// requested range. Tax-relevant amounts never default to zero; the error
// aborts the employee's run.
var ErrInsufficientData = errors.New("insufficient_data")

// AttendanceProvider answers worked/working day counts and hours of work for
// a date range, both bounds inclusive.
type AttendanceProvider interface {
	WorkingDays(ctx context.Context, employeeID snowflake.ID, start, end time.Time) (worked, working int, err error)
	HoursOfWork(ctx context.Context, employeeID snowflake.ID, start, end time.Time) (decimal.Decimal, error)
}

// PriorPayrollProvider reads settled history from confirmed payrolls.
type PriorPayrollProvider interface {
	// ConfirmedGrossAndTax returns the cumulative taxable gross and tax
	// collected in confirmed payrolls of the fiscal year up to upTo.
	ConfirmedGrossAndTax(ctx context.Context, employeeID snowflake.ID, fyStart, fyEnd, upTo time.Time) (gross, taxPaid decimal.Decimal, err error)

	// HeadingYTD returns the heading's cumulative confirmed amount within
	// the fiscal year up to upTo.
	HeadingYTD(ctx context.Context, employeeID, headingID snowflake.ID, fyStart, upTo time.Time) (decimal.Decimal, error)
}

// FullAttendance treats every calendar day as worked. It backs
// package-amount and projection runs, which are attendance neutral.
type FullAttendance struct{}

func (FullAttendance) WorkingDays(_ context.Context, _ snowflake.ID, start, end time.Time) (int, int, error) {
	days := int(end.Sub(start).Hours()/24) + 1
	return days, days, nil
}

func (FullAttendance) HoursOfWork(context.Context, snowflake.ID, time.Time, time.Time) (decimal.Decimal, error) {
	return decimal.Decimal{}, nil
}
