package calculator

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/peoplemint/payroll/internal/config"
	"github.com/peoplemint/payroll/internal/datework"
	"github.com/peoplemint/payroll/internal/formula"
	headingdomain "github.com/peoplemint/payroll/internal/heading/domain"
	"github.com/peoplemint/payroll/internal/plugin"
	salarypackagedomain "github.com/peoplemint/payroll/internal/salarypackage/domain"
)

// periodEval settles everything that needs the whole period's aggregates:
// package amounts and projections, annual gross, tax deductions and derived
// constants that reference extras or tax.
type periodEval struct {
	c    *Calculator
	in   *Input
	res  *Result
	cal  *datework.Calendar
	cfg  config.PayrollConfig
	last *spanEval

	deferred  []salarypackagedomain.PackageHeading
	remaining int
	fyStart   time.Time
	fyEnd     time.Time

	monthlyPkgTaxable decimal.Decimal

	grossMemo *decimal.Decimal
	paidTax   decimal.Decimal

	deferredByToken map[string]salarypackagedomain.PackageHeading
	deferredState   map[string]int
	deferredStack   []string
}

func (pe *periodEval) finish(ctx context.Context) error {
	if err := pe.packageAmounts(ctx); err != nil {
		return err
	}

	pe.deferredByToken = make(map[string]salarypackagedomain.PackageHeading, len(pe.deferred))
	pe.deferredState = make(map[string]int, len(pe.deferred))
	for _, h := range pe.deferred {
		pe.deferredByToken[h.VariableToken()] = h
	}

	for _, h := range pe.last.span.Headings {
		if h.Type != headingdomain.TypeTaxDeduction {
			continue
		}
		if err := pe.evalTax(ctx, h); err != nil {
			return err
		}
	}

	for _, h := range pe.deferred {
		if err := pe.evalDeferred(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// packageAmounts runs the last slot's package over its full calendar month
// with neutral attendance, yielding each heading's monthly package value and
// its projection over the remaining fiscal year.
func (pe *periodEval) packageAmounts(ctx context.Context) error {
	monthStart := time.Date(pe.res.ToDate.Year(), pe.res.ToDate.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, -1)

	neutral := *pe.in
	neutral.AppointDate = monthStart
	neutral.DismissDate = nil
	span := PackageSpan{
		PackageID: pe.last.span.PackageID,
		Headings:  pe.last.span.Headings,
		Start:     monthStart,
		End:       monthEnd,
	}

	se, err := pe.c.newSpanEval(&neutral, span, pe.cal, pe.res.ToDate, pe.remaining, FullAttendance{}, true)
	if err != nil {
		return err
	}
	if err := se.evalMain(ctx); err != nil {
		return err
	}

	months := decimal.NewFromInt(int64(pe.remaining))
	for _, token := range se.order {
		h := se.byToken[token]
		monthly := se.row[token]
		if row, ok := pe.res.rowByToken(token); ok {
			row.PackageAmount = monthly
			row.ProjectedAmount = monthly.Mul(months).Round(2)
		}
		if !h.IsTaxable() {
			continue
		}
		switch h.Type {
		case headingdomain.TypeAddition:
			pe.monthlyPkgTaxable = pe.monthlyPkgTaxable.Add(monthly)
		case headingdomain.TypeDeduction:
			pe.monthlyPkgTaxable = pe.monthlyPkgTaxable.Sub(monthly)
		}
	}
	return nil
}

// annualGross projects the fiscal-year taxable gross: settled history from
// confirmed payrolls, this period's taxable net, and the package's monthly
// taxable value over the remaining months.
func (pe *periodEval) annualGross(ctx context.Context) (decimal.Decimal, error) {
	if pe.grossMemo != nil {
		return *pe.grossMemo, nil
	}
	past, paid, err := pe.c.prior.ConfirmedGrossAndTax(ctx, pe.in.EmployeeID,
		pe.fyStart, pe.fyEnd, pe.in.FromDate.AddDate(0, 0, -1))
	if err != nil {
		return decimal.Decimal{}, err
	}
	gross := past.
		Add(pe.res.taxableNet()).
		Add(pe.monthlyPkgTaxable.Mul(decimal.NewFromInt(int64(pe.remaining))))
	pe.grossMemo = &gross
	pe.paidTax = paid
	return gross, nil
}

func (pe *periodEval) evalTax(ctx context.Context, h salarypackagedomain.PackageHeading) error {
	gross, err := pe.annualGross(ctx)
	if err != nil {
		return err
	}

	var sources []plugin.Source
	annualTax, matched, err := pe.ladder(ctx, h, gross, &sources)
	if err != nil {
		return err
	}

	divisor := decimal.NewFromInt(int64(pe.remaining + 1))
	var periodTax decimal.Decimal
	extras := pe.res.extrasTaxableNet()
	if pe.cfg.AdjustTaxForExtrasInSameMonth && !extras.IsZero() {
		// Extras are taxed in full this period: the recurring share is spread
		// over the remaining months from the extras-free gross, and the tax
		// difference the extras cause is collected now.
		taxExcl, _, err := pe.ladder(ctx, h, gross.Sub(extras), nil)
		if err != nil {
			return err
		}
		taxDiff := annualTax.Sub(taxExcl)
		periodTax = taxExcl.Sub(pe.paidTax).Div(divisor).Add(taxDiff).Round(2)
	} else {
		periodTax = annualTax.Sub(pe.paidTax).Div(divisor).Round(2)
	}

	pe.res.addAmount(h, pe.res.FromDate, pe.res.ToDate, periodTax, sources)
	pe.res.AnnualGrossSalary = gross.Round(2)
	pe.res.AnnualTax = annualTax
	pe.res.PaidTax = pe.paidTax
	pe.res.TaxToBePaid = annualTax.Sub(pe.paidTax).Sub(periodTax).Round(2)
	pe.res.TaxRule = matched.raw.Rule
	pe.res.TDSType = matched.raw.TDSType
	return nil
}

// ladder evaluates the tax heading's rule list against the given annual gross
// and returns the annual tax of the first matching rule.
func (pe *periodEval) ladder(ctx context.Context, h salarypackagedomain.PackageHeading,
	gross decimal.Decimal, sources *[]plugin.Source) (decimal.Decimal, parsedRule, error) {
	resolver := &periodResolver{
		pe:         pe,
		ctx:        ctx,
		forHeading: h,
		gross:      func() (decimal.Decimal, error) { return gross, nil },
		sources:    sources,
	}
	for idx, pr := range pe.last.rules[h.HeadingID] {
		if pr.cond != nil {
			cond, err := formula.Eval(pr.cond, resolver)
			if err != nil {
				return decimal.Decimal{}, parsedRule{}, wrapRuleErr(pe.in.EmployeeID, h.Name, idx, err)
			}
			if cond.Kind() != formula.KindBool {
				return decimal.Decimal{}, parsedRule{}, &FormulaError{
					EmployeeID: pe.in.EmployeeID, Heading: h.Name, RuleIndex: idx,
					Err: fmt.Errorf("condition did not evaluate to a boolean"),
				}
			}
			if !cond.Bool() {
				continue
			}
		}
		if pr.rule == nil {
			return decimal.Decimal{}, pr, nil
		}
		value, err := formula.Eval(pr.rule, resolver)
		if err != nil {
			return decimal.Decimal{}, parsedRule{}, wrapRuleErr(pe.in.EmployeeID, h.Name, idx, err)
		}
		if !value.IsNumber() {
			return decimal.Decimal{}, parsedRule{}, &FormulaError{
				EmployeeID: pe.in.EmployeeID, Heading: h.Name, RuleIndex: idx,
				Err: fmt.Errorf("rule did not evaluate to a number"),
			}
		}
		return value.Number().Round(2), pr, nil
	}
	return decimal.Decimal{}, parsedRule{}, &FormulaError{
		EmployeeID: pe.in.EmployeeID, Heading: h.Name, RuleIndex: -1,
		Err: fmt.Errorf("no tax rule matched annual gross %s", gross),
	}
}

// evalDeferred settles a derived constant that references extras or tax, over
// the period's aggregated row amounts.
func (pe *periodEval) evalDeferred(ctx context.Context, h salarypackagedomain.PackageHeading) error {
	token := h.VariableToken()
	switch pe.deferredState[token] {
	case evalDone:
		return nil
	case evalInProgress:
		names := append(pe.deferredStack, h.Name)
		return &headingdomain.CyclicDependencyError{Cycle: names}
	}
	pe.deferredState[token] = evalInProgress
	pe.deferredStack = append(pe.deferredStack, h.Name)
	defer func() {
		pe.deferredStack = pe.deferredStack[:len(pe.deferredStack)-1]
	}()

	var sources []plugin.Source
	resolver := &periodResolver{
		pe:         pe,
		ctx:        ctx,
		forHeading: h,
		gross:      func() (decimal.Decimal, error) { return pe.annualGross(ctx) },
		sources:    &sources,
	}

	var amount decimal.Decimal
	for idx, pr := range pe.last.rules[h.HeadingID] {
		if pr.cond != nil {
			cond, err := formula.Eval(pr.cond, resolver)
			if err != nil {
				return wrapRuleErr(pe.in.EmployeeID, h.Name, idx, err)
			}
			if cond.Kind() != formula.KindBool {
				return &FormulaError{
					EmployeeID: pe.in.EmployeeID, Heading: h.Name, RuleIndex: idx,
					Err: fmt.Errorf("condition did not evaluate to a boolean"),
				}
			}
			if !cond.Bool() {
				continue
			}
		}
		if pr.rule != nil {
			value, err := formula.Eval(pr.rule, resolver)
			if err != nil {
				return wrapRuleErr(pe.in.EmployeeID, h.Name, idx, err)
			}
			if !value.IsNumber() {
				return &FormulaError{
					EmployeeID: pe.in.EmployeeID, Heading: h.Name, RuleIndex: idx,
					Err: fmt.Errorf("rule did not evaluate to a number"),
				}
			}
			amount = value.Number().Round(2)
		}
		break
	}

	pe.res.addAmount(h, pe.res.FromDate, pe.res.ToDate, amount, sources)
	pe.deferredState[token] = evalDone
	return nil
}

func (pe *periodEval) pluginContext(ctx context.Context, h salarypackagedomain.PackageHeading,
	gross func() (decimal.Decimal, error)) plugin.Context {
	pctx := pe.last.pluginContext(ctx, h)
	pctx.SlotStart = pe.res.FromDate
	pctx.SlotEnd = pe.res.ToDate
	pctx.AnnualGross = gross
	return pctx
}

// periodResolver resolves variables against the period's aggregated row
// amounts, settling deferred derived constants on demand.
type periodResolver struct {
	pe         *periodEval
	ctx        context.Context
	forHeading salarypackagedomain.PackageHeading
	gross      func() (decimal.Decimal, error)
	sources    *[]plugin.Source
}

func (r *periodResolver) ResolveVar(name string) (formula.Value, error) {
	pe := r.pe
	if row, ok := pe.res.rowByToken(name); ok {
		return formula.Number(row.Amount), nil
	}
	if h, ok := pe.deferredByToken[name]; ok {
		if err := pe.evalDeferred(r.ctx, h); err != nil {
			return formula.Value{}, err
		}
		row, _ := pe.res.rowByToken(name)
		return formula.Number(row.Amount), nil
	}
	return r.resolvePlugin(name, nil)
}

func (r *periodResolver) ResolveCall(name string, args []formula.Value) (formula.Value, error) {
	return r.resolvePlugin(name, args)
}

func (r *periodResolver) resolvePlugin(name string, args []formula.Value) (formula.Value, error) {
	pe := r.pe
	value, sources, err := pe.c.plugins.Resolve(name, pe.pluginContext(r.ctx, r.forHeading, r.gross), args)
	if err != nil {
		return formula.Value{}, err
	}
	if r.sources != nil {
		*r.sources = append(*r.sources, sources...)
	}
	return value, nil
}
