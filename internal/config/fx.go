package config

import "go.uber.org/fx"

// Module wires application and payroll behaviour configuration.
var Module = fx.Module("config",
	fx.Provide(
		Load,
		DBConfig,
		NewPayrollConfigHolder,
	),
)
