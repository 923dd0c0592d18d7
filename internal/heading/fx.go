package heading

import (
	"github.com/peoplemint/payroll/internal/heading/service"
	"go.uber.org/fx"
)

var Module = fx.Module("heading.service",
	fx.Provide(service.NewService),
)
