package calculator

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/peoplemint/payroll/internal/config"
	headingdomain "github.com/peoplemint/payroll/internal/heading/domain"
	"github.com/peoplemint/payroll/internal/plugin"
	salarypackagedomain "github.com/peoplemint/payroll/internal/salarypackage/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeAttendance struct {
	worked int
	hours  decimal.Decimal
}

func (f fakeAttendance) WorkingDays(_ context.Context, _ snowflake.ID, start, end time.Time) (int, int, error) {
	days := int(end.Sub(start).Hours()/24) + 1
	worked := f.worked
	if worked > days {
		worked = days
	}
	return worked, days, nil
}

func (f fakeAttendance) HoursOfWork(context.Context, snowflake.ID, time.Time, time.Time) (decimal.Decimal, error) {
	return f.hours, nil
}

type fakePrior struct {
	gross decimal.Decimal
	paid  decimal.Decimal
	ytd   decimal.Decimal
	err   error
}

func (f fakePrior) ConfirmedGrossAndTax(context.Context, snowflake.ID, time.Time, time.Time, time.Time) (decimal.Decimal, decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, f.err
	}
	return f.gross, f.paid, nil
}

func (f fakePrior) HeadingYTD(context.Context, snowflake.ID, snowflake.ID, time.Time, time.Time) (decimal.Decimal, error) {
	return f.ytd, nil
}

func newCalc(t *testing.T, att AttendanceProvider, prior PriorPayrollProvider, cfg config.PayrollConfig) *Calculator {
	t.Helper()
	return New(Param{
		Log:        zap.NewNop(),
		Plugins:    plugin.NewRegistry(),
		Attendance: att,
		Prior:      prior,
		Config:     config.NewStaticPayrollConfigHolder(cfg),
	})
}

func ph(t *testing.T, id int64, name string, typ headingdomain.Type, unit headingdomain.DurationUnit,
	taxable, absentImpact bool, order int, rules ...headingdomain.Rule) salarypackagedomain.PackageHeading {
	t.Helper()
	raw, err := headingdomain.EncodeRules(rules)
	require.NoError(t, err)
	return salarypackagedomain.PackageHeading{
		ID:               snowflake.ID(id * 1000),
		HeadingID:        snowflake.ID(id),
		Name:             name,
		Type:             typ,
		DurationUnit:     unit,
		Taxable:          &taxable,
		AbsentDaysImpact: &absentImpact,
		Order:            order,
		Rules:            raw,
	}
}

func rule(text string) headingdomain.Rule { return headingdomain.Rule{Rule: text} }

// The classic seven-heading setup: two constant inputs feeding an addition,
// two percentage deductions, their sum, and a derived net.
func exampleHeadings(t *testing.T) []salarypackagedomain.PackageHeading {
	return []salarypackagedomain.PackageHeading{
		ph(t, 1, "Basic Salary", headingdomain.TypeConstantInput, headingdomain.DurationMonthly, false, false, 1, rule("10000")),
		ph(t, 2, "Allowance", headingdomain.TypeConstantInput, headingdomain.DurationMonthly, false, false, 2, rule("15000")),
		ph(t, 3, "Total Addition", headingdomain.TypeAddition, headingdomain.DurationMonthly, false, true, 3, rule("__BASIC_SALARY__ + __ALLOWANCE__")),
		ph(t, 4, "PF", headingdomain.TypeDeduction, headingdomain.DurationMonthly, false, true, 4, rule("0.10 * __BASIC_SALARY__")),
		ph(t, 5, "SSF", headingdomain.TypeDeduction, headingdomain.DurationMonthly, false, true, 5, rule("0.10 * __BASIC_SALARY__")),
		ph(t, 6, "Total Deduction", headingdomain.TypeDeduction, headingdomain.DurationMonthly, false, true, 6, rule("__PF__ + __SSF__")),
		ph(t, 7, "Total Salary", headingdomain.TypeConstantDerived, headingdomain.DurationNone, false, false, 7, rule("__TOTAL_ADDITION__ - __TOTAL_DEDUCTION__")),
	}
}

func monthInput(headings []salarypackagedomain.PackageHeading, from, to time.Time) Input {
	return Input{
		EmployeeID:  snowflake.ID(42),
		FromDate:    from,
		ToDate:      to,
		AppointDate: date(2020, time.January, 1),
		Spans:       []PackageSpan{{PackageID: snowflake.ID(900), Headings: headings, Start: from, End: to}},
	}
}

func amountOf(t *testing.T, res *Result, token string) string {
	t.Helper()
	amt, ok := res.HeadingAmountFromVariable(token)
	require.True(t, ok, "missing row for %s", token)
	return amt.StringFixed(2)
}

func TestRunFullMonth(t *testing.T) {
	calc := newCalc(t, fakeAttendance{worked: 30}, fakePrior{}, config.DefaultPayrollConfig())

	res, err := calc.Run(context.Background(), monthInput(exampleHeadings(t), date(2024, time.April, 1), date(2024, time.April, 30)))
	require.NoError(t, err)

	assert.Equal(t, "25000.00", amountOf(t, res, "__TOTAL_ADDITION__"))
	assert.Equal(t, "1000.00", amountOf(t, res, "__PF__"))
	assert.Equal(t, "1000.00", amountOf(t, res, "__SSF__"))
	assert.Equal(t, "2000.00", amountOf(t, res, "__TOTAL_DEDUCTION__"))
	assert.Equal(t, "23000.00", amountOf(t, res, "__TOTAL_SALARY__"))
}

func TestRunProratedTwentyOfThirty(t *testing.T) {
	calc := newCalc(t, fakeAttendance{worked: 20}, fakePrior{}, config.DefaultPayrollConfig())

	res, err := calc.Run(context.Background(), monthInput(exampleHeadings(t), date(2024, time.April, 1), date(2024, time.April, 30)))
	require.NoError(t, err)

	assert.Equal(t, "16666.67", amountOf(t, res, "__TOTAL_ADDITION__"))
	assert.Equal(t, "666.67", amountOf(t, res, "__PF__"))
	assert.Equal(t, "666.67", amountOf(t, res, "__SSF__"))
	assert.Equal(t, "1333.33", amountOf(t, res, "__TOTAL_DEDUCTION__"))
	// Derived from the already-rounded period rows, not from raw fractions.
	assert.Equal(t, "15333.34", amountOf(t, res, "__TOTAL_SALARY__"))
}

func TestRoundingBeforeDependentsSee(t *testing.T) {
	headings := []salarypackagedomain.PackageHeading{
		ph(t, 1, "B", headingdomain.TypeConstantInput, headingdomain.DurationNone, false, false, 1, rule("1.005")),
		ph(t, 2, "C", headingdomain.TypeConstantInput, headingdomain.DurationNone, false, false, 2, rule("1.005")),
		ph(t, 3, "A", headingdomain.TypeAddition, headingdomain.DurationNone, false, false, 3, rule("__B__ + __C__")),
	}
	calc := newCalc(t, fakeAttendance{worked: 31}, fakePrior{}, config.DefaultPayrollConfig())

	res, err := calc.Run(context.Background(), monthInput(headings, date(2024, time.April, 1), date(2024, time.April, 30)))
	require.NoError(t, err)

	// round(1.005)+round(1.005) = 2.02, not round(2.01) = 2.01.
	assert.Equal(t, "2.02", amountOf(t, res, "__A__"))
}

func TestMultiSlotSummation(t *testing.T) {
	mk := func(pkgID int64) []salarypackagedomain.PackageHeading {
		return []salarypackagedomain.PackageHeading{
			ph(t, 1, "Basic Salary", headingdomain.TypeConstantInput, headingdomain.DurationMonthly, false, false, 1, rule("1000")),
		}
	}
	from, to := date(2024, time.July, 1), date(2024, time.July, 31)
	in := Input{
		EmployeeID:  snowflake.ID(42),
		FromDate:    from,
		ToDate:      to,
		AppointDate: date(2020, time.January, 1),
		Spans: []PackageSpan{
			{PackageID: snowflake.ID(901), Headings: mk(901), Start: from, End: date(2024, time.July, 15)},
			{PackageID: snowflake.ID(902), Headings: mk(902), Start: date(2024, time.July, 16), End: to},
		},
	}
	calc := newCalc(t, fakeAttendance{worked: 31}, fakePrior{}, config.DefaultPayrollConfig())

	res, err := calc.Run(context.Background(), in)
	require.NoError(t, err)

	first := dec("1000").Mul(dec("15")).Div(dec("31")).Round(2)
	second := dec("1000").Mul(dec("16")).Div(dec("31")).Round(2)
	assert.Equal(t, first.Add(second).StringFixed(2), amountOf(t, res, "__BASIC_SALARY__"))
	assert.Equal(t, "483.87", first.StringFixed(2))
	assert.Equal(t, "516.13", second.StringFixed(2))
}

func TestDependencyOrderIndependence(t *testing.T) {
	calc := newCalc(t, fakeAttendance{worked: 20}, fakePrior{}, config.DefaultPayrollConfig())

	forward := exampleHeadings(t)
	reversed := make([]salarypackagedomain.PackageHeading, len(forward))
	for i, h := range forward {
		h.Order = len(forward) - i
		reversed[len(forward)-1-i] = h
	}

	a, err := calc.Run(context.Background(), monthInput(forward, date(2024, time.April, 1), date(2024, time.April, 30)))
	require.NoError(t, err)
	b, err := calc.Run(context.Background(), monthInput(reversed, date(2024, time.April, 1), date(2024, time.April, 30)))
	require.NoError(t, err)

	for _, token := range []string{"__TOTAL_ADDITION__", "__TOTAL_DEDUCTION__", "__TOTAL_SALARY__"} {
		assert.Equal(t, amountOf(t, a, token), amountOf(t, b, token), token)
	}
}

func TestCycleDetectionAborts(t *testing.T) {
	headings := []salarypackagedomain.PackageHeading{
		ph(t, 1, "Alpha", headingdomain.TypeAddition, headingdomain.DurationNone, false, false, 1, rule("__BETA__ + 1")),
		ph(t, 2, "Beta", headingdomain.TypeAddition, headingdomain.DurationNone, false, false, 2, rule("__ALPHA__ + 1")),
	}
	calc := newCalc(t, fakeAttendance{worked: 30}, fakePrior{}, config.DefaultPayrollConfig())

	res, err := calc.Run(context.Background(), monthInput(headings, date(2024, time.April, 1), date(2024, time.April, 30)))
	require.Error(t, err)
	assert.Nil(t, res)

	var cycleErr *headingdomain.CyclicDependencyError
	require.ErrorAs(t, err, &cycleErr)
	assert.Contains(t, cycleErr.Cycle, "Alpha")
	assert.Contains(t, cycleErr.Cycle, "Beta")
}

func TestUnknownVariable(t *testing.T) {
	headings := []salarypackagedomain.PackageHeading{
		ph(t, 1, "Alpha", headingdomain.TypeAddition, headingdomain.DurationNone, false, false, 1, rule("__NO_SUCH_THING__ * 2")),
	}
	calc := newCalc(t, fakeAttendance{worked: 30}, fakePrior{}, config.DefaultPayrollConfig())

	_, err := calc.Run(context.Background(), monthInput(headings, date(2024, time.April, 1), date(2024, time.April, 30)))
	var unknownErr *plugin.UnknownVariableError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "__NO_SUCH_THING__", unknownErr.Token)
}

func TestNoPackageSpan(t *testing.T) {
	calc := newCalc(t, fakeAttendance{worked: 30}, fakePrior{}, config.DefaultPayrollConfig())
	in := monthInput(nil, date(2024, time.April, 1), date(2024, time.April, 30))
	in.Spans = nil

	_, err := calc.Run(context.Background(), in)
	require.ErrorIs(t, err, ErrNoPackageSpan)
}

func TestDismissDateClampsPeriod(t *testing.T) {
	headings := []salarypackagedomain.PackageHeading{
		ph(t, 1, "Basic Salary", headingdomain.TypeConstantInput, headingdomain.DurationMonthly, false, false, 1, rule("9000")),
	}
	in := monthInput(headings, date(2024, time.April, 1), date(2024, time.April, 30))
	dismiss := date(2024, time.April, 20)
	in.DismissDate = &dismiss
	calc := newCalc(t, fakeAttendance{worked: 30}, fakePrior{}, config.DefaultPayrollConfig())

	res, err := calc.Run(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, dismiss, res.ToDate)
	assert.Equal(t, "6000.00", amountOf(t, res, "__BASIC_SALARY__"))
}

func taxHeadings(t *testing.T) []salarypackagedomain.PackageHeading {
	return []salarypackagedomain.PackageHeading{
		ph(t, 1, "Salary", headingdomain.TypeAddition, headingdomain.DurationMonthly, true, true, 1, rule("50000")),
		ph(t, 2, "Bonus", headingdomain.TypeExtraAddition, headingdomain.DurationNone, true, false, 2),
		ph(t, 3, "TDS", headingdomain.TypeTaxDeduction, headingdomain.DurationNone, false, false, 3,
			headingdomain.Rule{
				Condition: "__ANNUAL_GROSS_SALARY__ <= 500000",
				Rule:      "0.01 * __ANNUAL_GROSS_SALARY__",
				TDSType:   "flat",
			},
			headingdomain.Rule{
				Condition: "__ANNUAL_GROSS_SALARY__ > 500000",
				Rule:      "5000 + 0.10 * (__ANNUAL_GROSS_SALARY__ - 500000)",
				TDSType:   "slab",
			}),
	}
}

func TestTaxBracketWithPaidSubtraction(t *testing.T) {
	// April under a January fiscal year: 8 remaining month slots, so the
	// period share divides by 9.
	calc := newCalc(t, fakeAttendance{worked: 30},
		fakePrior{gross: dec("100000"), paid: dec("1000")}, config.DefaultPayrollConfig())

	res, err := calc.Run(context.Background(), monthInput(taxHeadings(t), date(2024, time.April, 1), date(2024, time.April, 30)))
	require.NoError(t, err)

	// 100000 past + 50000 current + 8*50000 projected = 550000.
	assert.Equal(t, "550000.00", res.AnnualGrossSalary.StringFixed(2))
	assert.Equal(t, "10000.00", res.AnnualTax.StringFixed(2))
	assert.Equal(t, "1000.00", res.PaidTax.StringFixed(2))
	assert.Equal(t, "1000.00", amountOf(t, res, "__TDS__"))
	assert.Equal(t, "8000.00", res.TaxToBePaid.StringFixed(2))
	assert.Equal(t, "slab", res.TDSType)
}

func TestTaxLowerBracket(t *testing.T) {
	calc := newCalc(t, fakeAttendance{worked: 30}, fakePrior{}, config.DefaultPayrollConfig())

	headings := []salarypackagedomain.PackageHeading{
		ph(t, 1, "Salary", headingdomain.TypeAddition, headingdomain.DurationMonthly, true, true, 1, rule("10000")),
		taxHeadings(t)[2],
	}
	res, err := calc.Run(context.Background(), monthInput(headings, date(2024, time.April, 1), date(2024, time.April, 30)))
	require.NoError(t, err)

	// 9 months at 10000 = 90000 annual gross, 1% bracket, spread over 9.
	assert.Equal(t, "90000.00", res.AnnualGrossSalary.StringFixed(2))
	assert.Equal(t, "900.00", res.AnnualTax.StringFixed(2))
	assert.Equal(t, "100.00", amountOf(t, res, "__TDS__"))
	assert.Equal(t, "flat", res.TDSType)
}

func TestTaxExtrasAdjustedInSameMonth(t *testing.T) {
	cfg := config.DefaultPayrollConfig()
	cfg.AdjustTaxForExtrasInSameMonth = true
	calc := newCalc(t, fakeAttendance{worked: 30},
		fakePrior{gross: dec("100000"), paid: dec("1000")}, cfg)

	in := monthInput(taxHeadings(t), date(2024, time.April, 1), date(2024, time.April, 30))
	in.ExtraHeadings = map[snowflake.ID]decimal.Decimal{snowflake.ID(2): dec("50000")}

	res, err := calc.Run(context.Background(), in)
	require.NoError(t, err)

	// Gross 600000 taxes at 15000; without the bonus it is 550000 at 10000.
	// The 5000 difference is collected this period on top of the spread share.
	assert.Equal(t, "600000.00", res.AnnualGrossSalary.StringFixed(2))
	assert.Equal(t, "15000.00", res.AnnualTax.StringFixed(2))
	assert.Equal(t, "6000.00", amountOf(t, res, "__TDS__"))
}

func TestExtrasWithoutAdjustFlag(t *testing.T) {
	calc := newCalc(t, fakeAttendance{worked: 30},
		fakePrior{gross: dec("100000"), paid: dec("1000")}, config.DefaultPayrollConfig())

	in := monthInput(taxHeadings(t), date(2024, time.April, 1), date(2024, time.April, 30))
	in.ExtraHeadings = map[snowflake.ID]decimal.Decimal{snowflake.ID(2): dec("50000")}

	res, err := calc.Run(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "50000.00", amountOf(t, res, "__BONUS__"))
	// (15000 - 1000) / 9 without same-month settlement.
	assert.Equal(t, "1555.56", amountOf(t, res, "__TDS__"))
}

func TestInsufficientPriorDataAborts(t *testing.T) {
	calc := newCalc(t, fakeAttendance{worked: 30},
		fakePrior{err: ErrInsufficientData}, config.DefaultPayrollConfig())

	_, err := calc.Run(context.Background(), monthInput(taxHeadings(t), date(2024, time.April, 1), date(2024, time.April, 30)))
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestPackageAndProjectedAmounts(t *testing.T) {
	headings := []salarypackagedomain.PackageHeading{
		ph(t, 1, "Basic Salary", headingdomain.TypeConstantInput, headingdomain.DurationMonthly, false, false, 1, rule("10000")),
		ph(t, 2, "Total Addition", headingdomain.TypeAddition, headingdomain.DurationMonthly, true, true, 2, rule("__BASIC_SALARY__ + 15000")),
	}
	calc := newCalc(t, fakeAttendance{worked: 20}, fakePrior{}, config.DefaultPayrollConfig())

	res, err := calc.Run(context.Background(), monthInput(headings, date(2024, time.April, 1), date(2024, time.April, 30)))
	require.NoError(t, err)

	row, ok := res.rowByToken("__TOTAL_ADDITION__")
	require.True(t, ok)
	assert.Equal(t, "16666.67", row.Amount.StringFixed(2))
	assert.Equal(t, "25000.00", row.PackageAmount.StringFixed(2))
	// 8 remaining months under a January fiscal year.
	assert.Equal(t, "200000.00", row.ProjectedAmount.StringFixed(2))
}

func TestBackdatedDeltaInjection(t *testing.T) {
	calc := newCalc(t, fakeAttendance{worked: 30}, fakePrior{}, config.DefaultPayrollConfig())

	in := monthInput(exampleHeadings(t), date(2024, time.April, 1), date(2024, time.April, 30))
	in.Backdated = []salarypackagedomain.BackdatedCalculation{
		{ID: 1, HeadingID: snowflake.ID(3), HeadingName: "Total Addition", PreviousAmount: 100, CurrentAmount: 150},
		{ID: 2, HeadingID: snowflake.ID(3), HeadingName: "Total Addition", PreviousAmount: 200, CurrentAmount: 230},
		{ID: 3, HeadingID: snowflake.ID(4), HeadingName: "PF", PreviousAmount: 500, CurrentAmount: 460},
	}

	res, err := calc.Run(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, res.Backdated, 3)

	var addition, deduction *Row
	for i := range res.Rows {
		switch {
		case res.Rows[i].Type == headingdomain.TypeExtraAddition:
			addition = &res.Rows[i]
		case res.Rows[i].Type == headingdomain.TypeExtraDeduction:
			deduction = &res.Rows[i]
		}
	}
	require.NotNil(t, addition)
	assert.Equal(t, "Total Addition", addition.Heading)
	assert.Equal(t, "80.00", addition.Amount.StringFixed(2))
	require.NotNil(t, deduction)
	assert.Equal(t, "PF", deduction.Heading)
	assert.Equal(t, "40.00", deduction.Amount.StringFixed(2))
}

func TestSimulatedRunSkipsBackdated(t *testing.T) {
	calc := newCalc(t, fakeAttendance{worked: 30}, fakePrior{}, config.DefaultPayrollConfig())

	in := monthInput(exampleHeadings(t), date(2024, time.April, 1), date(2024, time.April, 30))
	sim := in.FromDate
	in.SimulatedFrom = &sim
	in.Backdated = []salarypackagedomain.BackdatedCalculation{
		{ID: 1, HeadingID: snowflake.ID(3), HeadingName: "Total Addition", PreviousAmount: 100, CurrentAmount: 150},
	}

	res, err := calc.Run(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Simulated)
	assert.Empty(t, res.Backdated)
	for _, row := range res.Rows {
		assert.NotEqual(t, headingdomain.TypeExtraAddition, row.Type)
	}
}

func TestHeadingAmountsRecalculation(t *testing.T) {
	calc := newCalc(t, fakeAttendance{worked: 30}, fakePrior{}, config.DefaultPayrollConfig())

	amounts, err := calc.HeadingAmounts(context.Background(), snowflake.ID(42), date(2020, time.January, 1),
		exampleHeadings(t), date(2024, time.April, 1), date(2024, time.April, 30))
	require.NoError(t, err)

	assert.True(t, amounts[snowflake.ID(3)].Equal(dec("25000")))
	assert.True(t, amounts[snowflake.ID(6)].Equal(dec("2000")))
}
