// Package calculator implements the employee salary calculation engine:
// proration, multi-slot aggregation, dependency-ordered formula evaluation,
// annual projection, tax and backdated-correction injection.
package calculator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/peoplemint/payroll/internal/config"
	"github.com/peoplemint/payroll/internal/datework"
	"github.com/peoplemint/payroll/internal/formula"
	headingdomain "github.com/peoplemint/payroll/internal/heading/domain"
	"github.com/peoplemint/payroll/internal/plugin"
	salarypackagedomain "github.com/peoplemint/payroll/internal/salarypackage/domain"
)

type Calculator struct {
	log     *zap.Logger
	plugins *plugin.Registry

	attendance AttendanceProvider
	prior      PriorPayrollProvider
	cfg        *config.PayrollConfigHolder
}

type Param struct {
	fx.In

	Log        *zap.Logger
	Plugins    *plugin.Registry
	Attendance AttendanceProvider
	Prior      PriorPayrollProvider
	Config     *config.PayrollConfigHolder
}

func New(p Param) *Calculator {
	return &Calculator{
		log:     p.Log.Named("calculator"),
		plugins: p.Plugins,

		attendance: p.Attendance,
		prior:      p.Prior,
		cfg:        p.Config,
	}
}

// Run computes every heading for one employee and period. Package slots are
// evaluated independently and their rounded amounts summed; tax and derived
// totals that depend on period aggregates are settled at the end.
func (c *Calculator) Run(ctx context.Context, in Input) (*Result, error) {
	cfg := c.cfg.Get()
	fiscalMonth, fiscalDay := cfg.FiscalStart()
	cal, err := datework.New(fiscalMonth, fiscalDay)
	if err != nil {
		return nil, err
	}

	if len(in.Spans) == 0 {
		return nil, ErrNoPackageSpan
	}

	to := in.ToDate
	if in.DismissDate != nil && in.DismissDate.Before(to) {
		to = *in.DismissDate
	}
	if _, err := cal.MonthSlots(in.AppointDate, in.FromDate, to); err != nil {
		return nil, err
	}

	res := newResult(&in, to)
	remaining := cal.RemainingMonthSlots(to)

	headingIndex := make(map[snowflake.ID]salarypackagedomain.PackageHeading)
	deferredSeen := make(map[snowflake.ID]struct{})
	var deferred []salarypackagedomain.PackageHeading
	var lastSE *spanEval

	for i := range in.Spans {
		span := in.Spans[i]
		if span.Start.Before(in.FromDate) {
			span.Start = in.FromDate
		}
		if span.End.After(to) {
			span.End = to
		}
		if span.Start.After(span.End) {
			continue
		}

		se, err := c.newSpanEval(&in, span, cal, to, remaining, c.attendance, i == len(in.Spans)-1)
		if err != nil {
			return nil, err
		}
		if err := se.evalMain(ctx); err != nil {
			return nil, err
		}
		se.collect(res)

		for _, h := range se.span.Headings {
			headingIndex[h.HeadingID] = h
		}
		for _, h := range se.deferred {
			if _, ok := deferredSeen[h.HeadingID]; !ok {
				deferredSeen[h.HeadingID] = struct{}{}
				deferred = append(deferred, h)
			}
		}
		lastSE = se
	}
	if lastSE == nil {
		return nil, ErrNoPackageSpan
	}
	res.PackageID = lastSE.span.PackageID

	if err := lastSE.evalExtras(ctx, res); err != nil {
		return nil, err
	}

	if !res.Simulated {
		injectBackdated(&in, res, headingIndex)
	}

	pe := &periodEval{
		c:         c,
		in:        &in,
		res:       res,
		cal:       cal,
		cfg:       cfg,
		last:      lastSE,
		deferred:  deferred,
		remaining: remaining,
	}
	pe.fyStart, pe.fyEnd = cal.FiscalYearFor(to)
	if err := pe.finish(ctx); err != nil {
		return nil, err
	}

	c.log.Debug("calculation finished",
		zap.String("employee_id", in.EmployeeID.String()),
		zap.Int("rows", len(res.Rows)),
		zap.Bool("simulated", res.Simulated))
	return res, nil
}

// HeadingAmounts runs a throwaway calculation of one package over a range and
// returns the per-heading amounts, keyed by heading id. The assignment
// service uses it to diff packages for backdated corrections.
func (c *Calculator) HeadingAmounts(ctx context.Context, employeeID snowflake.ID, appoint time.Time,
	headings []salarypackagedomain.PackageHeading, from, to time.Time) (map[snowflake.ID]decimal.Decimal, error) {
	sim := from
	res, err := c.Run(ctx, Input{
		EmployeeID:    employeeID,
		FromDate:      from,
		ToDate:        to,
		AppointDate:   appoint,
		Spans:         []PackageSpan{{Headings: headings, Start: from, End: to}},
		SimulatedFrom: &sim,
	})
	if err != nil {
		return nil, err
	}
	out := make(map[snowflake.ID]decimal.Decimal, len(res.Rows))
	for _, row := range res.Rows {
		out[row.HeadingID] = row.Amount
	}
	return out, nil
}

func typeRank(t headingdomain.Type) int {
	switch t {
	case headingdomain.TypeConstantInput:
		return 0
	case headingdomain.TypeAddition, headingdomain.TypeDeduction:
		return 1
	case headingdomain.TypeConstantDerived:
		return 2
	case headingdomain.TypeExtraAddition, headingdomain.TypeExtraDeduction:
		return 3
	default: // tax deduction
		return 4
	}
}

func injectBackdated(in *Input, res *Result, headings map[snowflake.ID]salarypackagedomain.PackageHeading) {
	if len(in.Backdated) == 0 {
		return
	}
	deltas := make(map[snowflake.ID]decimal.Decimal)
	names := make(map[snowflake.ID]string)
	var order []snowflake.ID
	for _, b := range in.Backdated {
		if _, ok := deltas[b.HeadingID]; !ok {
			order = append(order, b.HeadingID)
			names[b.HeadingID] = b.HeadingName
		}
		deltas[b.HeadingID] = deltas[b.HeadingID].Add(b.Difference())
	}

	for _, id := range order {
		delta := deltas[id]
		if delta.IsZero() {
			continue
		}
		typ := headingdomain.TypeExtraAddition
		amount := delta
		if delta.IsNegative() {
			typ = headingdomain.TypeExtraDeduction
			amount = delta.Neg()
		}
		taxable := false
		name := names[id]
		if h, ok := headings[id]; ok {
			taxable = h.IsTaxable()
			if name == "" {
				name = h.Name
			}
		}
		res.appendRow(Row{
			HeadingID: id,
			Heading:   name,
			Type:      typ,
			Taxable:   taxable,
			FromDate:  res.FromDate,
			ToDate:    res.ToDate,
			Amount:    amount,
		})
	}
	res.Backdated = in.Backdated
}

const (
	evalUnvisited = iota
	evalInProgress
	evalDone
)

type resolveMode int

const (
	unitMode resolveMode = iota
	rowMode
)

type parsedRule struct {
	cond formula.Expr
	rule formula.Expr
	raw  headingdomain.Rule
}

type spanEval struct {
	c          *Calculator
	in         *Input
	span       PackageSpan
	attendance AttendanceProvider
	months     []datework.MonthSlot

	fyStart, fyEnd  time.Time
	remainingMonths int
	remainingDays   int
	slotDays        int
	isLast          bool

	byToken map[string]salarypackagedomain.PackageHeading
	order   []string
	rules   map[snowflake.ID][]parsedRule

	unit    map[string]decimal.Decimal
	row     map[string]decimal.Decimal
	sources map[string][]plugin.Source
	state   map[string]int
	stack   []string

	deferred []salarypackagedomain.PackageHeading
}

func (c *Calculator) newSpanEval(in *Input, span PackageSpan, cal *datework.Calendar,
	periodTo time.Time, remaining int, attendance AttendanceProvider, isLast bool) (*spanEval, error) {
	months, err := cal.MonthSlots(in.AppointDate, span.Start, span.End)
	if err != nil {
		return nil, err
	}

	se := &spanEval{
		c:          c,
		in:         in,
		span:       span,
		attendance: attendance,
		months:     months,

		remainingMonths: remaining,
		remainingDays:   cal.RemainingDaysInFY(periodTo),
		isLast:          isLast,

		byToken: make(map[string]salarypackagedomain.PackageHeading, len(span.Headings)),
		rules:   make(map[snowflake.ID][]parsedRule, len(span.Headings)),
		unit:    make(map[string]decimal.Decimal),
		row:     make(map[string]decimal.Decimal),
		sources: make(map[string][]plugin.Source),
		state:   make(map[string]int),
	}
	se.fyStart, se.fyEnd = cal.FiscalYearFor(periodTo)
	for _, m := range months {
		se.slotDays += m.DaysCount
	}

	sorted := make([]salarypackagedomain.PackageHeading, len(span.Headings))
	copy(sorted, span.Headings)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := typeRank(sorted[i].Type), typeRank(sorted[j].Type)
		if ri != rj {
			return ri < rj
		}
		return sorted[i].Order < sorted[j].Order
	})
	se.span.Headings = sorted

	// Parse every rule up front so malformed text fails before any amount is
	// produced, and so derived constants depending on extras or tax can be
	// deferred past the slot pass.
	laterTokens := make(map[string]struct{})
	for _, h := range sorted {
		se.byToken[h.VariableToken()] = h
		if typeRank(h.Type) >= 3 {
			laterTokens[h.VariableToken()] = struct{}{}
		}
	}
	for _, h := range sorted {
		rules, err := h.ParsedRules()
		if err != nil {
			return nil, &FormulaError{EmployeeID: in.EmployeeID, Heading: h.Name, RuleIndex: -1, Err: err}
		}
		parsed := make([]parsedRule, 0, len(rules))
		for idx, r := range rules {
			pr := parsedRule{raw: r}
			if r.Condition != "" {
				expr, err := formula.Parse(r.Condition)
				if err != nil {
					return nil, &FormulaError{EmployeeID: in.EmployeeID, Heading: h.Name, RuleIndex: idx, Err: err}
				}
				pr.cond = expr
			}
			if r.Rule != "" {
				expr, err := formula.Parse(r.Rule)
				if err != nil {
					return nil, &FormulaError{EmployeeID: in.EmployeeID, Heading: h.Name, RuleIndex: idx, Err: err}
				}
				pr.rule = expr
			}
			parsed = append(parsed, pr)
		}
		se.rules[h.HeadingID] = parsed

		if h.Type == headingdomain.TypeConstantDerived && dependsOnAny(parsed, laterTokens) {
			se.deferred = append(se.deferred, h)
			continue
		}
		if typeRank(h.Type) <= 2 {
			se.order = append(se.order, h.VariableToken())
		}
	}
	return se, nil
}

func dependsOnAny(rules []parsedRule, tokens map[string]struct{}) bool {
	for _, pr := range rules {
		for _, expr := range []formula.Expr{pr.cond, pr.rule} {
			if expr == nil {
				continue
			}
			for _, ref := range formula.Vars(expr) {
				if _, ok := tokens[ref]; ok {
					return true
				}
			}
		}
	}
	return false
}

// evalMain computes constant inputs, additions/deductions and non-deferred
// derived constants for the slot.
func (se *spanEval) evalMain(ctx context.Context) error {
	for _, token := range se.order {
		if err := se.evalHeading(ctx, token); err != nil {
			return err
		}
	}
	return nil
}

func (se *spanEval) collect(res *Result) {
	for _, token := range se.order {
		h := se.byToken[token]
		res.addAmount(h, se.span.Start, se.span.End, se.row[token], se.sources[token])
	}
}

// evalExtras applies one-off extra addition/deduction headings for the whole
// period, on the last slot only.
func (se *spanEval) evalExtras(ctx context.Context, res *Result) error {
	if !se.isLast {
		return nil
	}
	for _, h := range se.span.Headings {
		if typeRank(h.Type) != 3 {
			continue
		}
		token := h.VariableToken()
		amount := decimal.Decimal{}
		if v, ok := se.in.ExtraHeadings[h.HeadingID]; ok {
			amount = v.Round(2)
		} else if len(se.rules[h.HeadingID]) > 0 {
			value, err := se.evalLadder(ctx, h, rowMode)
			if err != nil {
				return err
			}
			amount = value.Round(2)
		}
		se.unit[token] = amount
		se.row[token] = amount
		se.state[token] = evalDone
		res.addAmount(h, res.FromDate, res.ToDate, amount, se.sources[token])
	}
	return nil
}

func (se *spanEval) evalHeading(ctx context.Context, token string) error {
	switch se.state[token] {
	case evalDone:
		return nil
	case evalInProgress:
		return se.cycleError(token)
	}

	h, ok := se.byToken[token]
	if !ok {
		return &plugin.UnknownVariableError{Token: token}
	}
	if typeRank(h.Type) > 2 {
		return &FormulaError{
			EmployeeID: se.in.EmployeeID,
			Heading:    h.Name,
			RuleIndex:  -1,
			Err:        fmt.Errorf("heading of type %s is not available during slot evaluation", h.Type),
		}
	}

	se.state[token] = evalInProgress
	se.stack = append(se.stack, token)
	defer func() {
		se.stack = se.stack[:len(se.stack)-1]
	}()

	mode := rowMode
	if typeRank(h.Type) == 1 {
		// Additions and deductions see their dependencies' per-unit values;
		// proration applies to the whole expression afterwards.
		mode = unitMode
	}

	unit, err := se.evalLadder(ctx, h, mode)
	if err != nil {
		return err
	}
	unit = unit.Round(2)

	row, err := se.scale(ctx, h, unit)
	if err != nil {
		return err
	}

	se.unit[token] = unit
	se.row[token] = row.Round(2)
	se.state[token] = evalDone
	return nil
}

// evalLadder evaluates a heading's rule list: a single unconditioned rule, or
// the first rule whose condition holds.
func (se *spanEval) evalLadder(ctx context.Context, h salarypackagedomain.PackageHeading, mode resolveMode) (decimal.Decimal, error) {
	resolver := &spanResolver{se: se, ctx: ctx, mode: mode, forHeading: h}
	for idx, pr := range se.rules[h.HeadingID] {
		if pr.cond != nil {
			cond, err := formula.Eval(pr.cond, resolver)
			if err != nil {
				return decimal.Decimal{}, wrapRuleErr(se.in.EmployeeID, h.Name, idx, err)
			}
			if cond.Kind() != formula.KindBool {
				return decimal.Decimal{}, &FormulaError{
					EmployeeID: se.in.EmployeeID, Heading: h.Name, RuleIndex: idx,
					Err: fmt.Errorf("condition did not evaluate to a boolean"),
				}
			}
			if !cond.Bool() {
				continue
			}
		}
		if pr.rule == nil {
			return decimal.Decimal{}, nil
		}
		value, err := formula.Eval(pr.rule, resolver)
		if err != nil {
			return decimal.Decimal{}, wrapRuleErr(se.in.EmployeeID, h.Name, idx, err)
		}
		if !value.IsNumber() {
			return decimal.Decimal{}, &FormulaError{
				EmployeeID: se.in.EmployeeID, Heading: h.Name, RuleIndex: idx,
				Err: fmt.Errorf("rule did not evaluate to a number"),
			}
		}
		return value.Number(), nil
	}
	return decimal.Decimal{}, nil
}

// scale applies the heading's duration unit and attendance proration to the
// evaluated per-unit amount.
func (se *spanEval) scale(ctx context.Context, h salarypackagedomain.PackageHeading, unit decimal.Decimal) (decimal.Decimal, error) {
	switch h.DurationUnit {
	case headingdomain.DurationMonthly:
		total := decimal.Decimal{}
		for _, m := range se.months {
			worked, err := se.workedDays(ctx, h, m)
			if err != nil {
				return decimal.Decimal{}, err
			}
			if worked == 0 {
				continue
			}
			total = total.Add(unit.
				Mul(decimal.NewFromInt(int64(worked))).
				Div(decimal.NewFromInt(int64(m.MonthDays))))
		}
		return total, nil

	case headingdomain.DurationDaily:
		days := 0
		for _, m := range se.months {
			worked, err := se.workedDays(ctx, h, m)
			if err != nil {
				return decimal.Decimal{}, err
			}
			days += worked
		}
		return unit.Mul(decimal.NewFromInt(int64(days))), nil

	case headingdomain.DurationHourly:
		hours, err := se.attendance.HoursOfWork(ctx, se.in.EmployeeID, se.span.Start, se.span.End)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("hours of work for heading %q: %w", h.Name, err)
		}
		return unit.Mul(hours), nil

	case headingdomain.DurationYearly:
		// Applied once per period, never prorated.
		if !se.isLast {
			return decimal.Decimal{}, nil
		}
		return unit, nil

	default:
		return unit, nil
	}
}

// workedDays returns the attendance-counted days of a month slot, or the full
// slot day count when absent days have no impact. Clamped to the slot.
func (se *spanEval) workedDays(ctx context.Context, h salarypackagedomain.PackageHeading, m datework.MonthSlot) (int, error) {
	if !h.Prorates() {
		return m.DaysCount, nil
	}
	worked, _, err := se.attendance.WorkingDays(ctx, se.in.EmployeeID, m.Start, m.End)
	if err != nil {
		return 0, fmt.Errorf("working days for heading %q: %w", h.Name, err)
	}
	if worked < 0 {
		worked = 0
	}
	if worked > m.DaysCount {
		worked = m.DaysCount
	}
	return worked, nil
}

func (se *spanEval) cycleError(token string) error {
	start := 0
	for i, t := range se.stack {
		if t == token {
			start = i
			break
		}
	}
	names := make([]string, 0, len(se.stack)-start+1)
	for _, t := range se.stack[start:] {
		names = append(names, se.byToken[t].Name)
	}
	names = append(names, se.byToken[token].Name)
	return &headingdomain.CyclicDependencyError{Cycle: names}
}

func (se *spanEval) pluginContext(ctx context.Context, h salarypackagedomain.PackageHeading) plugin.Context {
	headingID := h.HeadingID
	return plugin.Context{
		EmployeeID: se.in.EmployeeID,

		SlotStart: se.span.Start,
		SlotEnd:   se.span.End,
		FYStart:   se.fyStart,
		FYEnd:     se.fyEnd,

		SlotDaysCount:       se.slotDays,
		RemainingDaysInFY:   se.remainingDays,
		RemainingMonthsInFY: se.remainingMonths,

		YTD: func() (decimal.Decimal, error) {
			return se.c.prior.HeadingYTD(ctx, se.in.EmployeeID, headingID,
				se.fyStart, se.in.FromDate.AddDate(0, 0, -1))
		},
	}
}

type spanResolver struct {
	se         *spanEval
	ctx        context.Context
	mode       resolveMode
	forHeading salarypackagedomain.PackageHeading
}

func (r *spanResolver) ResolveVar(name string) (formula.Value, error) {
	se := r.se
	if _, ok := se.byToken[name]; ok {
		if err := se.evalHeading(r.ctx, name); err != nil {
			return formula.Value{}, err
		}
		if r.mode == unitMode {
			return formula.Number(se.unit[name]), nil
		}
		return formula.Number(se.row[name]), nil
	}
	return r.resolvePlugin(name, nil)
}

func (r *spanResolver) ResolveCall(name string, args []formula.Value) (formula.Value, error) {
	return r.resolvePlugin(name, args)
}

func (r *spanResolver) resolvePlugin(name string, args []formula.Value) (formula.Value, error) {
	se := r.se
	value, sources, err := se.c.plugins.Resolve(name, se.pluginContext(r.ctx, r.forHeading), args)
	if err != nil {
		return formula.Value{}, err
	}
	token := r.forHeading.VariableToken()
	se.sources[token] = append(se.sources[token], sources...)
	return value, nil
}
