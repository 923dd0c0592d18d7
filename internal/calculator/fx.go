package calculator

import (
	"go.uber.org/fx"

	"github.com/peoplemint/payroll/internal/plugin"
	salarypackagedomain "github.com/peoplemint/payroll/internal/salarypackage/domain"
)

var Module = fx.Module("calculator",
	fx.Provide(
		plugin.NewRegistry,
		New,
		func(c *Calculator) salarypackagedomain.Recalculator { return c },
	),
)
