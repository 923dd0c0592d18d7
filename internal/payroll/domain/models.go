// Package domain contains payroll run, employee payroll and report row models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is the payroll run's approval state. Only Confirmed payrolls feed
// fiscal-year history; a Confirmed payroll is immutable.
type Status string

const (
	StatusGenerated       Status = "generated"
	StatusApprovalPending Status = "approval_pending"
	StatusApproved        Status = "approved"
	StatusConfirmed       Status = "confirmed"
	StatusRejected        Status = "rejected"
)

// Payroll is one generation run over an org and period.
type Payroll struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	OrgID         snowflake.ID `gorm:"not null;index"`
	FromDate      time.Time    `gorm:"not null"`
	ToDate        time.Time    `gorm:"not null"`
	SimulatedFrom *time.Time   `gorm:""`
	Status        Status       `gorm:"type:text;not null;default:generated"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Payroll) TableName() string { return "payrolls" }

// EmployeePayroll is one employee's computed outcome within a payroll run.
type EmployeePayroll struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	PayrollID  snowflake.ID `gorm:"not null;uniqueIndex:idx_employee_payrolls_run_employee"`
	EmployeeID snowflake.ID `gorm:"not null;uniqueIndex:idx_employee_payrolls_run_employee"`
	PackageID  snowflake.ID `gorm:"not null"`

	AnnualGrossSalary float64 `gorm:"not null;default:0"`
	AnnualTax         float64 `gorm:"not null;default:0"`
	PaidTax           float64 `gorm:"not null;default:0"`
	TaxToBePaid       float64 `gorm:"not null;default:0"`
	TaxRule           string  `gorm:"type:text"`
	TDSType           string  `gorm:"column:tds_type;type:text"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (EmployeePayroll) TableName() string { return "employee_payrolls" }

// ReportRowRecord is one heading line of an employee payroll.
type ReportRowRecord struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	EmployeePayrollID snowflake.ID `gorm:"not null;index"`
	PayrollID         snowflake.ID `gorm:"not null;index"`
	EmployeeID        snowflake.ID `gorm:"not null;index"`
	HeadingID         snowflake.ID `gorm:"not null"`
	HeadingName       string       `gorm:"type:text;not null"`
	HeadingType       string       `gorm:"type:text;not null"`
	Taxable           bool         `gorm:"not null;default:false"`
	FromDate          time.Time    `gorm:"not null"`
	ToDate            time.Time    `gorm:"not null"`

	Amount          float64        `gorm:"not null;default:0"`
	PackageAmount   float64        `gorm:"not null;default:0"`
	ProjectedAmount float64        `gorm:"not null;default:0"`
	PluginSources   datatypes.JSON `gorm:""`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ReportRowRecord) TableName() string { return "payroll_report_rows" }
