// Package migration creates the payroll schema on startup so local and
// self-hosted installations are usable out of the box.
package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	headingdomain "github.com/peoplemint/payroll/internal/heading/domain"
	payrolldomain "github.com/peoplemint/payroll/internal/payroll/domain"
	salarypackagedomain "github.com/peoplemint/payroll/internal/salarypackage/domain"
)

// models lists every persisted type, in creation order.
var models = []any{
	&headingdomain.Heading{},
	&salarypackagedomain.Package{},
	&salarypackagedomain.PackageHeading{},
	&salarypackagedomain.PackageSlot{},
	&salarypackagedomain.BackdatedCalculation{},
	&payrolldomain.Payroll{},
	&payrolldomain.EmployeePayroll{},
	&payrolldomain.ReportRowRecord{},
}

// AutoMigrate brings the schema up to date for the connected dialect.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(models...)
}

var Module = fx.Module("migrations",
	fx.Invoke(AutoMigrate),
)
