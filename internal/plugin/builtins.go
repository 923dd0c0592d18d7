package plugin

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/peoplemint/payroll/internal/formula"
)

// Tokens of the builtin providers.
const (
	TokenSlotDaysCount     = "__SLOT_DAYS_COUNT__"
	TokenRemainingDaysInFY = "__REMAINING_DAYS_IN_FY__"
	TokenRemainingMonthsFY = "__REMAINING_MONTHS_IN_FY__"
	TokenYTD               = "__YTD__"
	TokenAnnualGrossSalary = "__ANNUAL_GROSS_SALARY__"
	builtinProviderName    = "builtin"
	builtinProviderVersion = "1"
)

var errContextCannotAnswer = errors.New("context cannot answer")

func registerBuiltins(r *Registry) {
	register := func(token string, fn Func) {
		r.Register(token, builtinProviderName, builtinProviderVersion, fn)
	}

	register(TokenSlotDaysCount, func(ctx Context, _ []formula.Value) (formula.Value, []Source, error) {
		return intValue(ctx.SlotDaysCount), nil, nil
	})
	register(TokenRemainingDaysInFY, func(ctx Context, _ []formula.Value) (formula.Value, []Source, error) {
		return intValue(ctx.RemainingDaysInFY), nil, nil
	})
	register(TokenRemainingMonthsFY, func(ctx Context, _ []formula.Value) (formula.Value, []Source, error) {
		return intValue(ctx.RemainingMonthsInFY), nil, nil
	})
	register(TokenYTD, func(ctx Context, _ []formula.Value) (formula.Value, []Source, error) {
		if ctx.YTD == nil {
			return formula.Value{}, nil, errContextCannotAnswer
		}
		d, err := ctx.YTD()
		if err != nil {
			return formula.Value{}, nil, err
		}
		return formula.Number(d), nil, nil
	})
	register(TokenAnnualGrossSalary, func(ctx Context, _ []formula.Value) (formula.Value, []Source, error) {
		if ctx.AnnualGross == nil {
			return formula.Value{}, nil, errContextCannotAnswer
		}
		d, err := ctx.AnnualGross()
		if err != nil {
			return formula.Value{}, nil, err
		}
		return formula.Number(d), nil, nil
	})
}

func intValue(v int) formula.Value {
	return formula.Number(decimal.NewFromInt(int64(v)))
}
