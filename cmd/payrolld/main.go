package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/peoplemint/payroll/internal/batch"
	"github.com/peoplemint/payroll/internal/calculator"
	"github.com/peoplemint/payroll/internal/clock"
	"github.com/peoplemint/payroll/internal/config"
	"github.com/peoplemint/payroll/internal/heading"
	"github.com/peoplemint/payroll/internal/logger"
	"github.com/peoplemint/payroll/internal/migration"
	"github.com/peoplemint/payroll/internal/payroll"
	"github.com/peoplemint/payroll/internal/salarypackage"
	"github.com/peoplemint/payroll/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
		heading.Module,
		calculator.Module,
		salarypackage.Module,
		payroll.Module,
		batch.Module,

		// Attendance integration is deployment specific; the default treats
		// every calendar day as worked.
		fx.Provide(func() calculator.AttendanceProvider {
			return calculator.FullAttendance{}
		}),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
