package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/peoplemint/payroll/internal/config"
	headingdomain "github.com/peoplemint/payroll/internal/heading/domain"
	payrolldomain "github.com/peoplemint/payroll/internal/payroll/domain"
	"github.com/peoplemint/payroll/internal/salarypackage/domain"
	"github.com/peoplemint/payroll/pkg/db/option"
	"github.com/peoplemint/payroll/pkg/repository"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID  *snowflake.Node
	cfg    *config.PayrollConfigHolder
	recalc domain.Recalculator

	pkgRepo        repository.Repository[domain.Package]
	pkgHeadingRepo repository.Repository[domain.PackageHeading]
	slotRepo       repository.Repository[domain.PackageSlot]
	backdatedRepo  repository.Repository[domain.BackdatedCalculation]
	headingRepo    repository.Repository[headingdomain.Heading]
	payrollRepo    repository.Repository[payrolldomain.Payroll]
}

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Config *config.PayrollConfigHolder
	Recalc domain.Recalculator
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("salarypackage.service"),

		genID:  p.GenID,
		cfg:    p.Config,
		recalc: p.Recalc,

		pkgRepo:        repository.ProvideStore[domain.Package](p.DB),
		pkgHeadingRepo: repository.ProvideStore[domain.PackageHeading](p.DB),
		slotRepo:       repository.ProvideStore[domain.PackageSlot](p.DB),
		backdatedRepo:  repository.ProvideStore[domain.BackdatedCalculation](p.DB),
		headingRepo:    repository.ProvideStore[headingdomain.Heading](p.DB),
		payrollRepo:    repository.ProvideStore[payrolldomain.Payroll](p.DB),
	}
}

func (s *Service) ComposePackage(ctx context.Context, pkg *domain.Package, headingIDs []snowflake.ID) error {
	if pkg.ID == 0 {
		pkg.ID = s.genID.Generate()
	}

	copies := make([]*domain.PackageHeading, 0, len(headingIDs))
	for _, headingID := range headingIDs {
		heading, err := s.headingRepo.FindOne(ctx, &headingdomain.Heading{ID: headingID})
		if err != nil {
			return err
		}
		if heading == nil {
			return headingdomain.ErrHeadingNotFound
		}
		copies = append(copies, &domain.PackageHeading{
			ID:               s.genID.Generate(),
			PackageID:        pkg.ID,
			HeadingID:        heading.ID,
			Name:             heading.Name,
			Type:             heading.Type,
			DurationUnit:     heading.DurationUnit,
			Taxable:          heading.Taxable,
			AbsentDaysImpact: heading.AbsentDaysImpact,
			Order:            heading.Order,
			Rules:            heading.Rules,
		})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.pkgRepo.WithTrx(tx).Create(ctx, pkg); err != nil {
			return err
		}
		return s.pkgHeadingRepo.WithTrx(tx).BatchCreate(ctx, copies)
	})
}

func (s *Service) AssignSlot(ctx context.Context, slot *domain.PackageSlot, joinedDate time.Time) error {
	pkg, err := s.pkgRepo.FindOne(ctx, &domain.Package{ID: slot.PackageID})
	if err != nil {
		return err
	}
	if pkg == nil {
		return domain.ErrPackageNotFound
	}

	clash, err := s.slotRepo.FindOne(ctx, &domain.PackageSlot{
		EmployeeID:     slot.EmployeeID,
		ActiveFromDate: slot.ActiveFromDate,
	})
	if err != nil {
		return err
	}
	if clash != nil {
		return domain.ErrSlotOverlap
	}

	if bf := slot.BackdatedCalculationFrom; bf != nil {
		if bf.After(slot.ActiveFromDate) {
			return domain.ErrBackdateAfterActive
		}
		if bf.Before(joinedDate) {
			return domain.ErrBackdateBeforeJoin
		}
		cfg := s.cfg.Get()
		month, day := cfg.FiscalStart()
		systemStart := time.Date(cfg.StartFiscalYear, month, day, 0, 0, 0, 0, time.UTC)
		if bf.Before(systemStart) {
			return domain.ErrBackdateBeforeSystem
		}
	}

	if slot.ID == 0 {
		slot.ID = s.genID.Generate()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.slotRepo.WithTrx(tx).Create(ctx, slot); err != nil {
			return err
		}
		if slot.BackdatedCalculationFrom == nil {
			return nil
		}
		return s.generateBackdated(ctx, tx, slot, joinedDate)
	})
}

// generateBackdated diffs what the superseded packages paid against what the
// new package would have paid, over the confirmed part of the backdated
// range, and stores one delta row per changed heading. Rows of a previous
// attempt for the slot are replaced, not appended to.
func (s *Service) generateBackdated(ctx context.Context, tx *gorm.DB, slot *domain.PackageSlot, joinedDate time.Time) error {
	from := *slot.BackdatedCalculationFrom
	end := slot.ActiveFromDate.AddDate(0, 0, -1)

	confirmed, err := s.payrollRepo.WithTrx(tx).FindOne(ctx,
		&payrolldomain.Payroll{OrgID: slot.OrgID, Status: payrolldomain.StatusConfirmed},
		option.WithOrderBy("to_date desc"))
	if err != nil {
		return err
	}
	if confirmed == nil || confirmed.ToDate.Before(from) {
		// Nothing settled yet in the affected range; the regular runs will
		// pick the new package up directly.
		return nil
	}
	if confirmed.ToDate.Before(end) {
		end = confirmed.ToDate
	}

	oldSpans, err := s.spansBetween(ctx, tx, slot.EmployeeID, from, end, slot.ID)
	if err != nil {
		return err
	}
	newHeadings, err := s.packageHeadings(ctx, tx, slot.PackageID)
	if err != nil {
		return err
	}

	previous := make(map[snowflake.ID]decimal.Decimal)
	current := make(map[snowflake.ID]decimal.Decimal)
	names := make(map[snowflake.ID]string)
	var order []snowflake.ID
	note := func(id snowflake.ID, name string) {
		if _, ok := names[id]; !ok {
			names[id] = name
			order = append(order, id)
		}
	}

	for _, span := range oldSpans {
		oldAmounts, err := s.recalc.HeadingAmounts(ctx, slot.EmployeeID, joinedDate, span.Headings, span.Start, span.End)
		if err != nil {
			return err
		}
		newAmounts, err := s.recalc.HeadingAmounts(ctx, slot.EmployeeID, joinedDate, newHeadings, span.Start, span.End)
		if err != nil {
			return err
		}
		for _, h := range span.Headings {
			note(h.HeadingID, h.Name)
			previous[h.HeadingID] = previous[h.HeadingID].Add(oldAmounts[h.HeadingID])
		}
		for _, h := range newHeadings {
			note(h.HeadingID, h.Name)
			current[h.HeadingID] = current[h.HeadingID].Add(newAmounts[h.HeadingID])
		}
	}

	if err := tx.WithContext(ctx).
		Where("package_slot_id = ?", slot.ID).
		Delete(&domain.BackdatedCalculation{}).Error; err != nil {
		return err
	}

	rows := make([]*domain.BackdatedCalculation, 0, len(order))
	for _, id := range order {
		prev, curr := previous[id], current[id]
		if prev.Equal(curr) {
			continue
		}
		prevF, _ := prev.Float64()
		currF, _ := curr.Float64()
		rows = append(rows, &domain.BackdatedCalculation{
			ID:             s.genID.Generate(),
			PackageSlotID:  slot.ID,
			EmployeeID:     slot.EmployeeID,
			HeadingID:      id,
			HeadingName:    names[id],
			PreviousAmount: prevF,
			CurrentAmount:  currF,
		})
	}
	if err := s.backdatedRepo.WithTrx(tx).BatchCreate(ctx, rows); err != nil {
		return err
	}

	slot.BackdatedCalculationGenerated = true
	if err := s.slotRepo.WithTrx(tx).Update(ctx, slot.ID.String(),
		map[string]any{"backdated_calculation_generated": true}); err != nil {
		return err
	}

	s.log.Info("backdated deltas generated",
		zap.String("slot_id", slot.ID.String()),
		zap.String("employee_id", slot.EmployeeID.String()),
		zap.Int("rows", len(rows)))
	return nil
}

func (s *Service) SpansFor(ctx context.Context, employeeID snowflake.ID, from, to time.Time) ([]domain.AssignedSpan, error) {
	spans, err := s.spansBetween(ctx, s.db, employeeID, from, to, 0)
	if err != nil {
		return nil, err
	}
	if len(spans) == 0 {
		return nil, domain.ErrNoPackageForPeriod
	}
	return spans, nil
}

// spansBetween resolves the employee's slots into package spans overlapping
// [from, to]. A slot runs until the day before the next slot starts.
// excludeSlot leaves a not-yet-visible slot out of the timeline.
func (s *Service) spansBetween(ctx context.Context, tx *gorm.DB, employeeID snowflake.ID,
	from, to time.Time, excludeSlot snowflake.ID) ([]domain.AssignedSpan, error) {
	slotRepo := s.slotRepo.WithTrx(tx)
	slots, err := slotRepo.Find(ctx, &domain.PackageSlot{EmployeeID: employeeID},
		option.WithOrderBy("active_from_date asc"))
	if err != nil {
		return nil, err
	}

	var spans []domain.AssignedSpan
	for i, slot := range slots {
		if slot.ID == excludeSlot {
			continue
		}
		start := slot.ActiveFromDate
		end := to
		for _, next := range slots[i+1:] {
			if next.ID == excludeSlot {
				continue
			}
			end = next.ActiveFromDate.AddDate(0, 0, -1)
			break
		}
		if start.Before(from) {
			start = from
		}
		if end.After(to) {
			end = to
		}
		if start.After(end) {
			continue
		}

		pkg, err := s.pkgRepo.WithTrx(tx).FindOne(ctx, &domain.Package{ID: slot.PackageID})
		if err != nil {
			return nil, err
		}
		if pkg == nil {
			return nil, domain.ErrPackageNotFound
		}
		headings, err := s.packageHeadings(ctx, tx, slot.PackageID)
		if err != nil {
			return nil, err
		}
		spans = append(spans, domain.AssignedSpan{
			Slot:     *slot,
			Package:  *pkg,
			Headings: headings,
			Start:    start,
			End:      end,
		})
	}
	return spans, nil
}

func (s *Service) packageHeadings(ctx context.Context, tx *gorm.DB, packageID snowflake.ID) ([]domain.PackageHeading, error) {
	rows, err := s.pkgHeadingRepo.WithTrx(tx).Find(ctx, &domain.PackageHeading{PackageID: packageID},
		option.WithOrderBy("evaluation_order asc"))
	if err != nil {
		return nil, err
	}
	out := make([]domain.PackageHeading, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, nil
}

func (s *Service) UnconsumedBackdated(ctx context.Context, employeeID snowflake.ID, payrollID *snowflake.ID) ([]domain.BackdatedCalculation, error) {
	opts := []option.QueryOption{option.WithOrderBy("id asc")}
	if payrollID != nil {
		opts = append(opts, option.WithWhere("adjusted_payroll_id IS NULL OR adjusted_payroll_id = ?", *payrollID))
	} else {
		opts = append(opts, option.WithWhere("adjusted_payroll_id IS NULL"))
	}

	rows, err := s.backdatedRepo.Find(ctx, &domain.BackdatedCalculation{EmployeeID: employeeID}, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]domain.BackdatedCalculation, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, nil
}
