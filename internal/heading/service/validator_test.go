package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	headingdomain "github.com/peoplemint/payroll/internal/heading/domain"
	"github.com/peoplemint/payroll/internal/plugin"
)

func boolPtr(v bool) *bool { return &v }

func heading(t *testing.T, name string, typ headingdomain.Type, order int, rules ...headingdomain.Rule) headingdomain.Heading {
	t.Helper()
	raw, err := headingdomain.EncodeRules(rules)
	require.NoError(t, err)
	return headingdomain.Heading{
		Name:         name,
		Type:         typ,
		DurationUnit: headingdomain.DurationMonthly,
		Order:        order,
		Rules:        raw,
	}
}

func TestValidateHeadings_AcceptsAcyclicSet(t *testing.T) {
	headings := []headingdomain.Heading{
		heading(t, "Basic Salary", headingdomain.TypeConstantInput, 1, headingdomain.Rule{Rule: "10000"}),
		heading(t, "PF", headingdomain.TypeDeduction, 2, headingdomain.Rule{Rule: "0.10 * __BASIC_SALARY__"}),
		heading(t, "Total Deduction", headingdomain.TypeConstantDerived, 3, headingdomain.Rule{Rule: "__PF__"}),
	}

	assert.NoError(t, ValidateHeadings(headings, plugin.NewRegistry()))
}

func TestValidateHeadings_UnknownDependency(t *testing.T) {
	headings := []headingdomain.Heading{
		heading(t, "PF", headingdomain.TypeDeduction, 1, headingdomain.Rule{Rule: "0.10 * __BASIC_SALARY__"}),
	}

	err := ValidateHeadings(headings, plugin.NewRegistry())
	assert.ErrorIs(t, err, headingdomain.ErrUnknownDependency)
}

func TestValidateHeadings_BuiltinPluginTokensResolve(t *testing.T) {
	headings := []headingdomain.Heading{
		heading(t, "Attendance Bonus", headingdomain.TypeAddition, 1,
			headingdomain.Rule{Rule: "100 * __SLOT_DAYS_COUNT__"}),
	}

	assert.NoError(t, ValidateHeadings(headings, plugin.NewRegistry()))
}

func TestValidateHeadings_DirectCycle(t *testing.T) {
	headings := []headingdomain.Heading{
		heading(t, "Recursive", headingdomain.TypeAddition, 1, headingdomain.Rule{Rule: "__RECURSIVE__ + 1"}),
	}

	err := ValidateHeadings(headings, plugin.NewRegistry())
	var cycleErr *headingdomain.CyclicDependencyError
	require.ErrorAs(t, err, &cycleErr)
	assert.Contains(t, cycleErr.Cycle, "Recursive")
}

func TestValidateHeadings_TransitiveCycle(t *testing.T) {
	headings := []headingdomain.Heading{
		heading(t, "Alpha", headingdomain.TypeAddition, 1, headingdomain.Rule{Rule: "__BETA__ + 1"}),
		heading(t, "Beta", headingdomain.TypeAddition, 2, headingdomain.Rule{Rule: "__GAMMA__ + 1"}),
		heading(t, "Gamma", headingdomain.TypeAddition, 3, headingdomain.Rule{Rule: "__ALPHA__ + 1"}),
	}

	err := ValidateHeadings(headings, plugin.NewRegistry())
	var cycleErr *headingdomain.CyclicDependencyError
	require.ErrorAs(t, err, &cycleErr)
	assert.GreaterOrEqual(t, len(cycleErr.Cycle), 4)
}

func TestValidateHeadings_TaxableAfterTaxDeduction(t *testing.T) {
	bonus := heading(t, "Late Bonus", headingdomain.TypeAddition, 5, headingdomain.Rule{Rule: "5000"})
	bonus.Taxable = boolPtr(true)
	headings := []headingdomain.Heading{
		heading(t, "TDS", headingdomain.TypeTaxDeduction, 4,
			headingdomain.Rule{Condition: "__ANNUAL_GROSS_SALARY__ <= 400000", Rule: "0.01 * __ANNUAL_GROSS_SALARY__", TDSType: "1"},
			headingdomain.Rule{Condition: "__ANNUAL_GROSS_SALARY__ > 400000", Rule: "0.10 * __ANNUAL_GROSS_SALARY__", TDSType: "2"}),
		bonus,
	}

	err := ValidateHeadings(headings, plugin.NewRegistry())
	assert.ErrorIs(t, err, headingdomain.ErrTaxHeadingOrder)
}

func TestValidateHeadings_MalformedRule(t *testing.T) {
	headings := []headingdomain.Heading{
		heading(t, "Broken", headingdomain.TypeAddition, 1, headingdomain.Rule{Rule: "(2 +"}),
	}

	err := ValidateHeadings(headings, plugin.NewRegistry())
	assert.ErrorIs(t, err, headingdomain.ErrInvalidRules)
}
