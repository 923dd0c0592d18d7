package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/peoplemint/payroll/internal/calculator"
	"github.com/peoplemint/payroll/internal/payroll/domain"
)

// PriorPayrollProvider aggregates confirmed payroll history for the engine's
// annual projection and year-to-date lookups.
type PriorPayrollProvider struct {
	db  *gorm.DB
	log *zap.Logger
}

type ProviderParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

func NewPriorPayrollProvider(p ProviderParam) calculator.PriorPayrollProvider {
	return &PriorPayrollProvider{
		db:  p.DB,
		log: p.Log.Named("payroll.provider"),
	}
}

// ConfirmedGrossAndTax sums the taxable net and collected tax of the
// employee's confirmed payrolls within the fiscal year up to upTo. Zero
// history is a valid answer; an employee payroll without report rows is not.
func (p *PriorPayrollProvider) ConfirmedGrossAndTax(ctx context.Context, employeeID snowflake.ID,
	fyStart, fyEnd, upTo time.Time) (decimal.Decimal, decimal.Decimal, error) {
	zero := decimal.Decimal{}
	if upTo.Before(fyStart) {
		return zero, zero, nil
	}
	end := fyEnd
	if upTo.Before(end) {
		end = upTo
	}

	confirmedRuns := func(db *gorm.DB) *gorm.DB {
		return db.
			Joins("JOIN payrolls ON payrolls.id = payroll_report_rows.payroll_id").
			Where("payroll_report_rows.employee_id = ?", employeeID).
			Where("payrolls.status = ?", domain.StatusConfirmed).
			Where("payrolls.from_date >= ? AND payrolls.to_date <= ?", fyStart, end)
	}

	var empCount int64
	err := p.db.WithContext(ctx).
		Model(&domain.EmployeePayroll{}).
		Joins("JOIN payrolls ON payrolls.id = employee_payrolls.payroll_id").
		Where("employee_payrolls.employee_id = ?", employeeID).
		Where("payrolls.status = ?", domain.StatusConfirmed).
		Where("payrolls.from_date >= ? AND payrolls.to_date <= ?", fyStart, end).
		Count(&empCount).Error
	if err != nil {
		return zero, zero, err
	}
	if empCount == 0 {
		return zero, zero, nil
	}

	var coveredCount int64
	err = confirmedRuns(p.db.WithContext(ctx).Model(&domain.ReportRowRecord{})).
		Distinct("payroll_report_rows.employee_payroll_id").
		Count(&coveredCount).Error
	if err != nil {
		return zero, zero, err
	}
	if coveredCount < empCount {
		// A settled payroll without its report rows cannot be projected from.
		return zero, zero, calculator.ErrInsufficientData
	}

	var gross float64
	err = confirmedRuns(p.db.WithContext(ctx).Model(&domain.ReportRowRecord{})).
		Where("payroll_report_rows.taxable = ?", true).
		Select(`COALESCE(SUM(CASE
			WHEN payroll_report_rows.heading_type IN ('addition', 'extra_addition') THEN payroll_report_rows.amount
			WHEN payroll_report_rows.heading_type IN ('deduction', 'extra_deduction') THEN -payroll_report_rows.amount
			ELSE 0 END), 0)`).
		Scan(&gross).Error
	if err != nil {
		return zero, zero, err
	}

	var taxPaid float64
	err = confirmedRuns(p.db.WithContext(ctx).Model(&domain.ReportRowRecord{})).
		Where("payroll_report_rows.heading_type = ?", "tax_deduction").
		Select("COALESCE(SUM(payroll_report_rows.amount), 0)").
		Scan(&taxPaid).Error
	if err != nil {
		return zero, zero, err
	}

	return decimal.NewFromFloat(gross), decimal.NewFromFloat(taxPaid), nil
}

// HeadingYTD sums the heading's confirmed amounts within the fiscal year up
// to upTo.
func (p *PriorPayrollProvider) HeadingYTD(ctx context.Context, employeeID, headingID snowflake.ID,
	fyStart, upTo time.Time) (decimal.Decimal, error) {
	var total float64
	err := p.db.WithContext(ctx).
		Model(&domain.ReportRowRecord{}).
		Select("COALESCE(SUM(payroll_report_rows.amount), 0)").
		Joins("JOIN payrolls ON payrolls.id = payroll_report_rows.payroll_id").
		Where("payroll_report_rows.employee_id = ?", employeeID).
		Where("payroll_report_rows.heading_id = ?", headingID).
		Where("payrolls.status = ?", domain.StatusConfirmed).
		Where("payrolls.from_date >= ? AND payrolls.to_date <= ?", fyStart, upTo).
		Scan(&total).Error
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromFloat(total), nil
}
