// Package batch drives payroll generation for a whole organization: one
// payroll run, employees fanned out over a bounded worker pool, per-employee
// failures collected without halting the batch.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/peoplemint/payroll/internal/calculator"
	"github.com/peoplemint/payroll/internal/clock"
	payrolldomain "github.com/peoplemint/payroll/internal/payroll/domain"
	salarypackagedomain "github.com/peoplemint/payroll/internal/salarypackage/domain"
)

const defaultWorkers = 4

// Employee is one batch member's calculation input.
type Employee struct {
	ID          snowflake.ID
	AppointDate time.Time
	DismissDate *time.Time

	// ExtraHeadings are this period's ad-hoc extra amounts, keyed by heading.
	ExtraHeadings map[snowflake.ID]decimal.Decimal
}

// Failure is one employee's aborted computation within an otherwise
// successful batch.
type Failure struct {
	EmployeeID snowflake.ID
	Err        error
}

// Summary reports the outcome of one generation batch.
type Summary struct {
	PayrollID snowflake.ID
	Processed int
	Failures  []Failure
}

type Runner struct {
	log *zap.Logger

	calc     *calculator.Calculator
	packages salarypackagedomain.Service
	recorder payrolldomain.Recorder
	clock    clock.Clock
	workers  int
}

type Param struct {
	fx.In

	Log      *zap.Logger
	Calc     *calculator.Calculator
	Packages salarypackagedomain.Service
	Recorder payrolldomain.Recorder
	Clock    clock.Clock
}

func NewRunner(p Param) *Runner {
	return &Runner{
		log: p.Log.Named("batch"),

		calc:     p.Calc,
		packages: p.Packages,
		recorder: p.Recorder,
		clock:    p.Clock,
		workers:  defaultWorkers,
	}
}

// Generate creates a payroll run and computes every employee. Employees are
// independent; a failed one is skipped and reported, the rest proceed. The
// context cancels the fan-out between employees, never mid-transaction.
func (r *Runner) Generate(ctx context.Context, orgID snowflake.ID, from, to time.Time, employees []Employee) (*Summary, error) {
	started := r.clock.Now()
	payroll := &payrolldomain.Payroll{OrgID: orgID, FromDate: from, ToDate: to}
	if err := r.recorder.CreateRun(ctx, payroll); err != nil {
		return nil, err
	}

	workers := r.workers
	if workers > len(employees) {
		workers = len(employees)
	}

	jobs := make(chan Employee)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		failures  []Failure
		processed int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for emp := range jobs {
				err := r.runOne(ctx, payroll, emp)
				mu.Lock()
				if err != nil {
					failures = append(failures, Failure{EmployeeID: emp.ID, Err: err})
				} else {
					processed++
				}
				mu.Unlock()
				if err != nil {
					r.log.Warn("employee payroll failed",
						zap.String("payroll_id", payroll.ID.String()),
						zap.String("employee_id", emp.ID.String()),
						zap.Error(err))
				}
			}
		}()
	}

feed:
	for _, emp := range employees {
		select {
		case jobs <- emp:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.log.Info("payroll batch finished",
		zap.String("payroll_id", payroll.ID.String()),
		zap.Int("processed", processed),
		zap.Int("failed", len(failures)),
		zap.Duration("took", r.clock.Now().Sub(started)))
	return &Summary{PayrollID: payroll.ID, Processed: processed, Failures: failures}, nil
}

// Simulate computes one employee without touching storage.
func (r *Runner) Simulate(ctx context.Context, emp Employee, from, to time.Time) (*calculator.Result, error) {
	in, err := r.buildInput(ctx, emp, from, to, nil)
	if err != nil {
		return nil, err
	}
	sim := from
	in.SimulatedFrom = &sim
	return r.calc.Run(ctx, *in)
}

func (r *Runner) runOne(ctx context.Context, payroll *payrolldomain.Payroll, emp Employee) error {
	in, err := r.buildInput(ctx, emp, payroll.FromDate, payroll.ToDate, &payroll.ID)
	if err != nil {
		return err
	}
	res, err := r.calc.Run(ctx, *in)
	if err != nil {
		return err
	}
	return r.recorder.Record(ctx, payroll.ID, res)
}

func (r *Runner) buildInput(ctx context.Context, emp Employee, from, to time.Time, payrollID *snowflake.ID) (*calculator.Input, error) {
	assigned, err := r.packages.SpansFor(ctx, emp.ID, from, to)
	if err != nil {
		return nil, err
	}
	spans := make([]calculator.PackageSpan, 0, len(assigned))
	for _, a := range assigned {
		spans = append(spans, calculator.PackageSpan{
			PackageID: a.Package.ID,
			Headings:  a.Headings,
			Start:     a.Start,
			End:       a.End,
		})
	}

	var backdated []salarypackagedomain.BackdatedCalculation
	if payrollID != nil {
		backdated, err = r.packages.UnconsumedBackdated(ctx, emp.ID, payrollID)
		if err != nil {
			return nil, err
		}
	}

	return &calculator.Input{
		EmployeeID:    emp.ID,
		FromDate:      from,
		ToDate:        to,
		AppointDate:   emp.AppointDate,
		DismissDate:   emp.DismissDate,
		Spans:         spans,
		ExtraHeadings: emp.ExtraHeadings,
		Backdated:     backdated,
	}, nil
}
