package calculator

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"

	headingdomain "github.com/peoplemint/payroll/internal/heading/domain"
	"github.com/peoplemint/payroll/internal/plugin"
	salarypackagedomain "github.com/peoplemint/payroll/internal/salarypackage/domain"
)

// PackageSpan is one package's coverage of the calculation period.
type PackageSpan struct {
	PackageID snowflake.ID
	Headings  []salarypackagedomain.PackageHeading
	Start     time.Time
	End       time.Time
}

// Input describes one employee/period calculation.
type Input struct {
	EmployeeID  snowflake.ID
	FromDate    time.Time
	ToDate      time.Time
	AppointDate time.Time
	DismissDate *time.Time

	// Spans are the package assignments overlapping the period, ordered by
	// start date. More than one means a mid-period package change.
	Spans []PackageSpan

	// ExtraHeadings are ad-hoc one-off amounts keyed by heading id, applied
	// to extra addition/deduction headings for this run only.
	ExtraHeadings map[snowflake.ID]decimal.Decimal

	// Backdated are the unconsumed correction deltas to inject into this
	// run. Loaded by the caller; ignored on simulated runs.
	Backdated []salarypackagedomain.BackdatedCalculation

	// SimulatedFrom marks a dry run whose output must never be persisted.
	SimulatedFrom *time.Time
}

// Row is one heading's computed line for the period.
type Row struct {
	HeadingID snowflake.ID
	Heading   string
	Type      headingdomain.Type
	Taxable   bool
	FromDate  time.Time
	ToDate    time.Time

	// Amount is the period total: the sum of each slot's independently
	// rounded amount.
	Amount decimal.Decimal

	// PackageAmount is the heading's value for one full month under the
	// period's package, with neutral attendance.
	PackageAmount decimal.Decimal

	// ProjectedAmount is the heading's contribution to the remaining fiscal
	// year, used by annual gross projection.
	ProjectedAmount decimal.Decimal

	Sources []plugin.Source
}

// Result is the in-memory output of one employee/period calculation.
type Result struct {
	EmployeeID snowflake.ID
	FromDate   time.Time
	ToDate     time.Time
	Simulated  bool

	// PackageID is the package covering the period's tail, the one annual
	// projection runs on.
	PackageID snowflake.ID

	Rows []Row

	AnnualGrossSalary decimal.Decimal
	AnnualTax         decimal.Decimal
	PaidTax           decimal.Decimal
	TaxToBePaid       decimal.Decimal
	TaxRule           string
	TDSType           string

	// Backdated lists the correction rows this run consumed; the recorder
	// marks them against the persisted payroll.
	Backdated []salarypackagedomain.BackdatedCalculation

	byToken map[string]int
}

func newResult(in *Input, to time.Time) *Result {
	return &Result{
		EmployeeID: in.EmployeeID,
		FromDate:   in.FromDate,
		ToDate:     to,
		Simulated:  in.SimulatedFrom != nil,
		byToken:    make(map[string]int),
	}
}

// addAmount merges a slot's rounded amount into the heading's period row.
func (r *Result) addAmount(h salarypackagedomain.PackageHeading, from, to time.Time, amount decimal.Decimal, sources []plugin.Source) *Row {
	token := h.VariableToken()
	if idx, ok := r.byToken[token]; ok {
		row := &r.Rows[idx]
		row.Amount = row.Amount.Add(amount)
		if to.After(row.ToDate) {
			row.ToDate = to
		}
		if from.Before(row.FromDate) {
			row.FromDate = from
		}
		row.Sources = append(row.Sources, sources...)
		return row
	}
	r.Rows = append(r.Rows, Row{
		HeadingID: h.HeadingID,
		Heading:   h.Name,
		Type:      h.Type,
		Taxable:   h.IsTaxable(),
		FromDate:  from,
		ToDate:    to,
		Amount:    amount,
		Sources:   sources,
	})
	r.byToken[token] = len(r.Rows) - 1
	return &r.Rows[len(r.Rows)-1]
}

// appendRow adds a standalone row outside the variable namespace, such as an
// injected backdated correction.
func (r *Result) appendRow(row Row) {
	r.Rows = append(r.Rows, row)
}

// HeadingAmountFromVariable returns the period amount for a heading variable
// token such as __BASIC_SALARY__.
func (r *Result) HeadingAmountFromVariable(token string) (decimal.Decimal, bool) {
	idx, ok := r.byToken[token]
	if !ok {
		return decimal.Decimal{}, false
	}
	return r.Rows[idx].Amount, true
}

func (r *Result) rowByToken(token string) (*Row, bool) {
	idx, ok := r.byToken[token]
	if !ok {
		return nil, false
	}
	return &r.Rows[idx], true
}

// taxableNet sums the taxable additions minus taxable deductions across all
// rows, extras and injected corrections included.
func (r *Result) taxableNet() decimal.Decimal {
	net := decimal.Decimal{}
	for _, row := range r.Rows {
		if !row.Taxable {
			continue
		}
		switch row.Type {
		case headingdomain.TypeAddition, headingdomain.TypeExtraAddition:
			net = net.Add(row.Amount)
		case headingdomain.TypeDeduction, headingdomain.TypeExtraDeduction:
			net = net.Sub(row.Amount)
		}
	}
	return net
}

// extrasTaxableNet sums the taxable contribution of extra rows only, signed.
func (r *Result) extrasTaxableNet() decimal.Decimal {
	net := decimal.Decimal{}
	for _, row := range r.Rows {
		if !row.Taxable {
			continue
		}
		switch row.Type {
		case headingdomain.TypeExtraAddition:
			net = net.Add(row.Amount)
		case headingdomain.TypeExtraDeduction:
			net = net.Sub(row.Amount)
		}
	}
	return net
}
