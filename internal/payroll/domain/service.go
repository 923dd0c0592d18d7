package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"

	"github.com/peoplemint/payroll/internal/calculator"
)

// Recorder persists one employee's calculation result under a payroll run.
type Recorder interface {
	// Record upserts the employee payroll, replaces its report rows and marks
	// the consumed backdated corrections, all in one transaction.
	Record(ctx context.Context, payrollID snowflake.ID, result *calculator.Result) error

	// CreateRun opens a payroll run for the org and period.
	CreateRun(ctx context.Context, payroll *Payroll) error

	// Transition moves a run along the approval ladder.
	Transition(ctx context.Context, payrollID snowflake.ID, to Status) error
}

var (
	ErrPayrollNotFound   = errors.New("payroll_not_found")
	ErrPayrollConfirmed  = errors.New("payroll_confirmed")
	ErrSimulatedResult   = errors.New("simulated_result")
	ErrInvalidTransition = errors.New("invalid_status_transition")
	ErrRunPeriodMismatch = errors.New("run_period_mismatch")
)
