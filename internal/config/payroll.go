package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PayrollConfig holds the organization-level payroll behaviour settings.
type PayrollConfig struct {
	// FiscalStartMonth/FiscalStartDay define the fiscal year boundary used
	// for annual projection and tax spreading.
	FiscalStartMonth int `mapstructure:"fiscalStartMonth"`
	FiscalStartDay   int `mapstructure:"fiscalStartDay"`

	// StartFiscalYear is the first year the payroll system covers; backdated
	// corrections may not reach before it.
	StartFiscalYear int `mapstructure:"startFiscalYear"`

	// AdjustTaxForExtrasInSameMonth makes the tax impact of one-off extra
	// additions/deductions land entirely in the period they occur instead of
	// being spread across the remaining fiscal year.
	AdjustTaxForExtrasInSameMonth bool `mapstructure:"adjustTaxForExtrasInSameMonth"`

	// IncludeHolidayOffday counts holidays and off days as working days when
	// the attendance provider supports the distinction.
	IncludeHolidayOffday bool `mapstructure:"includeHolidayOffday"`
}

func DefaultPayrollConfig() PayrollConfig {
	return PayrollConfig{
		FiscalStartMonth:     1,
		FiscalStartDay:       1,
		StartFiscalYear:      2017,
		IncludeHolidayOffday: true,
	}
}

func (c PayrollConfig) FiscalStart() (time.Month, int) {
	return time.Month(c.FiscalStartMonth), c.FiscalStartDay
}

// PayrollConfigHolder serves the current payroll behaviour config and hot
// reloads it when the backing file changes.
type PayrollConfigHolder struct {
	current atomic.Value // holds PayrollConfig
}

func NewPayrollConfigHolder() (*PayrollConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("payroll")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/payrolld/config") // Volume-mounted config
	v.AddConfigPath("/etc/payrolld")            // System config
	v.AddConfigPath(".")                        // Current directory (dev mode)

	v.SetEnvPrefix("PAYROLL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultPayrollConfig()
		v.SetDefault("payroll.fiscalStartMonth", defaults.FiscalStartMonth)
		v.SetDefault("payroll.fiscalStartDay", defaults.FiscalStartDay)
		v.SetDefault("payroll.startFiscalYear", defaults.StartFiscalYear)
		v.SetDefault("payroll.adjustTaxForExtrasInSameMonth", defaults.AdjustTaxForExtrasInSameMonth)
		v.SetDefault("payroll.includeHolidayOffday", defaults.IncludeHolidayOffday)
	}

	var cfg PayrollConfig
	if err := v.UnmarshalKey("payroll", &cfg); err != nil {
		return nil, err
	}
	if err := validatePayrollConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PayrollConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PayrollConfig
		if err := v.UnmarshalKey("payroll", &updated); err != nil {
			log.Printf("[payroll-config] reload failed: %v", err)
			return
		}
		if err := validatePayrollConfig(updated); err != nil {
			log.Printf("[payroll-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[payroll-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PayrollConfigHolder) Get() PayrollConfig {
	return h.current.Load().(PayrollConfig)
}

// NewStaticPayrollConfigHolder returns a holder pinned to cfg, for tests and
// embedded use.
func NewStaticPayrollConfigHolder(cfg PayrollConfig) *PayrollConfigHolder {
	holder := &PayrollConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validatePayrollConfig(cfg PayrollConfig) error {
	if cfg.FiscalStartMonth < 1 || cfg.FiscalStartMonth > 12 {
		return errors.New("payroll.fiscalStartMonth must be 1..12")
	}
	if cfg.FiscalStartDay < 1 || cfg.FiscalStartDay > 28 {
		return errors.New("payroll.fiscalStartDay must be 1..28")
	}
	return nil
}
