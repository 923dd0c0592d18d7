package payroll

import (
	"go.uber.org/fx"

	"github.com/peoplemint/payroll/internal/payroll/service"
)

var Module = fx.Module("payroll.service",
	fx.Provide(
		service.NewRecorder,
		service.NewPriorPayrollProvider,
	),
)
