package calculator

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"

	headingdomain "github.com/peoplemint/payroll/internal/heading/domain"
	"github.com/peoplemint/payroll/internal/plugin"
)

var ErrNoPackageSpan = errors.New("no_package_span")

// FormulaError identifies the heading and rule index of a rule that failed to
// parse or evaluate, so operators can pinpoint the misconfiguration.
type FormulaError struct {
	EmployeeID snowflake.ID
	Heading    string
	RuleIndex  int
	Err        error
}

func (e *FormulaError) Error() string {
	return fmt.Sprintf("formula error in heading %q rule %d (employee %s): %v",
		e.Heading, e.RuleIndex, e.EmployeeID, e.Err)
}

func (e *FormulaError) Unwrap() error { return e.Err }

// wrapRuleErr dresses rule failures as FormulaError, letting cycle and
// unknown-variable errors keep their own identity.
func wrapRuleErr(employeeID snowflake.ID, headingName string, ruleIndex int, err error) error {
	var cycleErr *headingdomain.CyclicDependencyError
	var unknownErr *plugin.UnknownVariableError
	var formulaErr *FormulaError
	if errors.As(err, &cycleErr) || errors.As(err, &unknownErr) || errors.As(err, &formulaErr) {
		return err
	}
	return &FormulaError{EmployeeID: employeeID, Heading: headingName, RuleIndex: ruleIndex, Err: err}
}
