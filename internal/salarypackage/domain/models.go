// Package domain contains salary package, assignment slot and backdated
// correction models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	headingdomain "github.com/peoplemint/payroll/internal/heading/domain"
)

// Package is a named bundle of heading instances assigned to employees.
// Once a confirmed payroll references a package it is immutable; corrections
// go through a new package plus slot reassignment.
type Package struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;index"`
	Name      string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Package) TableName() string { return "packages" }

// PackageHeading is a heading instantiated inside a package. The heading's
// definition fields are copied in at assembly time so later registry edits
// never change an assigned package, and Rules may be overridden per package.
type PackageHeading struct {
	ID               snowflake.ID              `gorm:"primaryKey"`
	PackageID        snowflake.ID              `gorm:"not null;uniqueIndex:idx_package_headings_pkg_heading"`
	HeadingID        snowflake.ID              `gorm:"not null;uniqueIndex:idx_package_headings_pkg_heading"`
	Name             string                    `gorm:"type:text;not null"`
	Type             headingdomain.Type        `gorm:"type:text;not null"`
	DurationUnit     headingdomain.DurationUnit `gorm:"type:text;not null"`
	Taxable          *bool                     `gorm:""`
	AbsentDaysImpact *bool                     `gorm:""`
	Order            int                       `gorm:"column:evaluation_order;not null"`
	Rules            datatypes.JSON            `gorm:"not null"`
	CreatedAt        time.Time                 `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PackageHeading) TableName() string { return "package_headings" }

// ParsedRules decodes the package heading's rule list.
func (ph PackageHeading) ParsedRules() ([]headingdomain.Rule, error) {
	return headingdomain.Heading{Rules: ph.Rules}.ParsedRules()
}

// VariableToken returns the formula token for the heading name.
func (ph PackageHeading) VariableToken() string { return headingdomain.VariableToken(ph.Name) }

// Prorates reports whether attendance prorates the heading's amount.
func (ph PackageHeading) Prorates() bool {
	h := headingdomain.Heading{DurationUnit: ph.DurationUnit, AbsentDaysImpact: ph.AbsentDaysImpact}
	return h.Prorates()
}

// IsTaxable reports the taxable flag, defaulting to false.
func (ph PackageHeading) IsTaxable() bool { return ph.Taxable != nil && *ph.Taxable }

// PackageSlot assigns a package to an employee from ActiveFromDate onward.
// The next slot's start terminates it implicitly. A set
// BackdatedCalculationFrom marks the slot as a retroactive correction of an
// earlier, already-confirmed range.
type PackageSlot struct {
	ID                            snowflake.ID `gorm:"primaryKey"`
	OrgID                         snowflake.ID `gorm:"not null;index"`
	EmployeeID                    snowflake.ID `gorm:"not null;index"`
	PackageID                     snowflake.ID `gorm:"not null"`
	ActiveFromDate                time.Time    `gorm:"not null"`
	BackdatedCalculationFrom      *time.Time   `gorm:""`
	BackdatedCalculationGenerated bool         `gorm:"not null;default:false"`
	CreatedAt                     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PackageSlot) TableName() string { return "user_experience_package_slots" }

// BackdatedCalculation is a pure delta record between what a heading paid
// under the superseded package and what it should pay under the correcting
// one. AdjustedPayrollID is set exactly once, by the payroll run that
// consumes the delta.
type BackdatedCalculation struct {
	ID                snowflake.ID  `gorm:"primaryKey"`
	PackageSlotID     snowflake.ID  `gorm:"not null;index"`
	EmployeeID        snowflake.ID  `gorm:"not null;index"`
	HeadingID         snowflake.ID  `gorm:"not null"`
	HeadingName       string        `gorm:"type:text;not null"`
	PreviousAmount    float64       `gorm:"not null"`
	CurrentAmount     float64       `gorm:"not null"`
	AdjustedPayrollID *snowflake.ID `gorm:"index"`
	CreatedAt         time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BackdatedCalculation) TableName() string { return "backdated_calculations" }

// Difference is the signed correction amount, rounded to 2 decimals.
func (b BackdatedCalculation) Difference() decimal.Decimal {
	return decimal.NewFromFloat(b.CurrentAmount).
		Sub(decimal.NewFromFloat(b.PreviousAmount)).
		Round(2)
}
