package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// AssignedSpan is one package's coverage of a calculation period, clamped to
// [Start, End] inclusive dates.
type AssignedSpan struct {
	Slot     PackageSlot
	Package  Package
	Headings []PackageHeading
	Start    time.Time
	End      time.Time
}

type Service interface {
	// ComposePackage creates a package by copying the given heading
	// definitions into package headings.
	ComposePackage(ctx context.Context, pkg *Package, headingIDs []snowflake.ID) error

	// AssignSlot validates and stores an assignment slot. When the slot
	// carries a backdated calculation date and confirmed payrolls cover the
	// affected range, the per-heading delta rows are generated in the same
	// transaction.
	AssignSlot(ctx context.Context, slot *PackageSlot, joinedDate time.Time) error

	// SpansFor resolves the employee's slots overlapping [from, to] into
	// package spans with their headings, split at slot boundaries.
	SpansFor(ctx context.Context, employeeID snowflake.ID, from, to time.Time) ([]AssignedSpan, error)

	// UnconsumedBackdated lists the employee's delta rows not yet consumed,
	// or consumed by the given payroll (so re-running it stays idempotent).
	UnconsumedBackdated(ctx context.Context, employeeID snowflake.ID, payrollID *snowflake.ID) ([]BackdatedCalculation, error)
}

// Recalculator computes per-heading amounts for an employee under a given
// package over a historical range. The engine implements it; the assignment
// service uses it to diff old and new packages when generating backdated
// delta rows.
type Recalculator interface {
	HeadingAmounts(ctx context.Context, employeeID snowflake.ID, appoint time.Time,
		headings []PackageHeading, from, to time.Time) (map[snowflake.ID]decimal.Decimal, error)
}

var (
	ErrPackageNotFound      = errors.New("package_not_found")
	ErrPackageInUse         = errors.New("package_in_use")
	ErrSlotOverlap          = errors.New("slot_overlap")
	ErrNoPackageForPeriod   = errors.New("no_package_for_period")
	ErrBackdateAfterActive  = errors.New("backdate_after_active_from")
	ErrBackdateBeforeJoin   = errors.New("backdate_before_joined_date")
	ErrBackdateBeforeSystem = errors.New("backdate_before_system_start")
)
