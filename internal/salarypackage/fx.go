package salarypackage

import (
	"go.uber.org/fx"

	"github.com/peoplemint/payroll/internal/salarypackage/service"
)

var Module = fx.Module("salarypackage.service",
	fx.Provide(service.NewService),
)
