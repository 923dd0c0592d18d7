package service

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/peoplemint/payroll/internal/calculator"
	"github.com/peoplemint/payroll/internal/payroll/domain"
	salarypackagedomain "github.com/peoplemint/payroll/internal/salarypackage/domain"
	"github.com/peoplemint/payroll/pkg/repository"
)

// transitions lists the allowed status moves of the approval ladder.
var transitions = map[domain.Status][]domain.Status{
	domain.StatusGenerated:       {domain.StatusApprovalPending, domain.StatusRejected},
	domain.StatusApprovalPending: {domain.StatusApproved, domain.StatusRejected},
	domain.StatusApproved:        {domain.StatusConfirmed, domain.StatusRejected},
}

type Recorder struct {
	db  *gorm.DB
	log *zap.Logger

	genID       *snowflake.Node
	payrollRepo repository.Repository[domain.Payroll]
	empRepo     repository.Repository[domain.EmployeePayroll]
	rowRepo     repository.Repository[domain.ReportRowRecord]
}

type RecorderParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

func NewRecorder(p RecorderParam) domain.Recorder {
	return &Recorder{
		db:  p.DB,
		log: p.Log.Named("payroll.recorder"),

		genID:       p.GenID,
		payrollRepo: repository.ProvideStore[domain.Payroll](p.DB),
		empRepo:     repository.ProvideStore[domain.EmployeePayroll](p.DB),
		rowRepo:     repository.ProvideStore[domain.ReportRowRecord](p.DB),
	}
}

func (r *Recorder) CreateRun(ctx context.Context, payroll *domain.Payroll) error {
	if payroll.FromDate.After(payroll.ToDate) {
		return domain.ErrRunPeriodMismatch
	}
	if payroll.ID == 0 {
		payroll.ID = r.genID.Generate()
	}
	if payroll.Status == "" {
		payroll.Status = domain.StatusGenerated
	}
	return r.payrollRepo.Create(ctx, payroll)
}

func (r *Recorder) Transition(ctx context.Context, payrollID snowflake.ID, to domain.Status) error {
	payroll, err := r.payrollRepo.FindOne(ctx, &domain.Payroll{ID: payrollID})
	if err != nil {
		return err
	}
	if payroll == nil {
		return domain.ErrPayrollNotFound
	}
	for _, allowed := range transitions[payroll.Status] {
		if allowed == to {
			return r.payrollRepo.Update(ctx, payrollID.String(), map[string]any{"status": to})
		}
	}
	return domain.ErrInvalidTransition
}

// Record persists one employee's result under the payroll run. Re-recording
// the same employee replaces the previous rows; a Confirmed run is immutable.
func (r *Recorder) Record(ctx context.Context, payrollID snowflake.ID, result *calculator.Result) error {
	if result.Simulated {
		return domain.ErrSimulatedResult
	}

	payroll, err := r.payrollRepo.FindOne(ctx, &domain.Payroll{ID: payrollID})
	if err != nil {
		return err
	}
	if payroll == nil {
		return domain.ErrPayrollNotFound
	}
	if payroll.Status == domain.StatusConfirmed {
		return domain.ErrPayrollConfirmed
	}
	if !payroll.FromDate.Equal(result.FromDate) || result.ToDate.After(payroll.ToDate) {
		return domain.ErrRunPeriodMismatch
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		emp, err := r.upsertEmployeePayroll(ctx, tx, payrollID, result)
		if err != nil {
			return err
		}
		if err := r.replaceRows(ctx, tx, payrollID, emp, result); err != nil {
			return err
		}
		return r.consumeBackdated(ctx, tx, payrollID, result.Backdated)
	})
}

func (r *Recorder) upsertEmployeePayroll(ctx context.Context, tx *gorm.DB, payrollID snowflake.ID, result *calculator.Result) (*domain.EmployeePayroll, error) {
	empRepo := r.empRepo.WithTrx(tx)

	annualGross, _ := result.AnnualGrossSalary.Float64()
	annualTax, _ := result.AnnualTax.Float64()
	paidTax, _ := result.PaidTax.Float64()
	toBePaid, _ := result.TaxToBePaid.Float64()

	existing, err := empRepo.FindOne(ctx, &domain.EmployeePayroll{
		PayrollID:  payrollID,
		EmployeeID: result.EmployeeID,
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.PackageID = result.PackageID
		existing.AnnualGrossSalary = annualGross
		existing.AnnualTax = annualTax
		existing.PaidTax = paidTax
		existing.TaxToBePaid = toBePaid
		existing.TaxRule = result.TaxRule
		existing.TDSType = result.TDSType
		if err := empRepo.Update(ctx, existing.ID.String(), existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	emp := &domain.EmployeePayroll{
		ID:         r.genID.Generate(),
		PayrollID:  payrollID,
		EmployeeID: result.EmployeeID,
		PackageID:  result.PackageID,

		AnnualGrossSalary: annualGross,
		AnnualTax:         annualTax,
		PaidTax:           paidTax,
		TaxToBePaid:       toBePaid,
		TaxRule:           result.TaxRule,
		TDSType:           result.TDSType,
	}
	if err := empRepo.Create(ctx, emp); err != nil {
		return nil, err
	}
	return emp, nil
}

func (r *Recorder) replaceRows(ctx context.Context, tx *gorm.DB, payrollID snowflake.ID, emp *domain.EmployeePayroll, result *calculator.Result) error {
	if err := tx.WithContext(ctx).
		Where("employee_payroll_id = ?", emp.ID).
		Delete(&domain.ReportRowRecord{}).Error; err != nil {
		return err
	}

	records := make([]*domain.ReportRowRecord, 0, len(result.Rows))
	for _, row := range result.Rows {
		amount, _ := row.Amount.Float64()
		pkgAmount, _ := row.PackageAmount.Float64()
		projected, _ := row.ProjectedAmount.Float64()

		var sources datatypes.JSON
		if len(row.Sources) > 0 {
			raw, err := json.Marshal(row.Sources)
			if err != nil {
				return err
			}
			sources = datatypes.JSON(raw)
		}

		records = append(records, &domain.ReportRowRecord{
			ID:                r.genID.Generate(),
			EmployeePayrollID: emp.ID,
			PayrollID:         payrollID,
			EmployeeID:        result.EmployeeID,
			HeadingID:         row.HeadingID,
			HeadingName:       row.Heading,
			HeadingType:       string(row.Type),
			Taxable:           row.Taxable,
			FromDate:          row.FromDate,
			ToDate:            row.ToDate,
			Amount:            amount,
			PackageAmount:     pkgAmount,
			ProjectedAmount:   projected,
			PluginSources:     sources,
		})
	}
	return r.rowRepo.WithTrx(tx).BatchCreate(ctx, records)
}

// consumeBackdated stamps the adjusting payroll onto the delta rows the run
// injected. Rows already stamped by the same payroll stay as they are, so a
// re-run of the same period is idempotent.
func (r *Recorder) consumeBackdated(ctx context.Context, tx *gorm.DB, payrollID snowflake.ID, consumed []salarypackagedomain.BackdatedCalculation) error {
	for _, b := range consumed {
		err := tx.WithContext(ctx).
			Model(&salarypackagedomain.BackdatedCalculation{}).
			Where("id = ? AND (adjusted_payroll_id IS NULL OR adjusted_payroll_id = ?)", b.ID, payrollID).
			Update("adjusted_payroll_id", payrollID).Error
		if err != nil {
			return err
		}
	}
	return nil
}
