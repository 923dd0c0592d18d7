// Package domain contains heading definitions and their rule metadata.
package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Type is the computation type of a heading. The engine evaluates types in a
// fixed order: constant inputs, additions/deductions, derived constants,
// extras, then tax deductions.
type Type string

const (
	TypeConstantInput   Type = "constant_input"
	TypeAddition        Type = "addition"
	TypeDeduction       Type = "deduction"
	TypeConstantDerived Type = "constant_derived"
	TypeExtraAddition   Type = "extra_addition"
	TypeExtraDeduction  Type = "extra_deduction"
	TypeTaxDeduction    Type = "tax_deduction"
)

// DurationUnit decides how a heading's evaluated amount scales with time.
type DurationUnit string

const (
	DurationMonthly DurationUnit = "monthly"
	DurationDaily   DurationUnit = "daily"
	DurationHourly  DurationUnit = "hourly"
	DurationYearly  DurationUnit = "yearly"
	DurationNone    DurationUnit = "none"
)

// Rule is one entry of a heading's ordered rule list. A single-entry list is
// unconditioned; multi-entry lists form a condition ladder where the first
// matching condition's rule applies. Tax deduction headings use the ladder as
// tax brackets, with TDSType identifying the bracket.
type Rule struct {
	Condition string `json:"condition,omitempty"`
	Rule      string `json:"rule"`
	TDSType   string `json:"tds_type,omitempty"`
}

// Heading is an organization-scoped payroll line item definition.
type Heading struct {
	ID               snowflake.ID   `gorm:"primaryKey"`
	OrgID            snowflake.ID   `gorm:"not null;uniqueIndex:idx_headings_org_name"`
	Name             string         `gorm:"type:text;not null;uniqueIndex:idx_headings_org_name"`
	Type             Type           `gorm:"type:text;not null"`
	DurationUnit     DurationUnit   `gorm:"type:text;not null"`
	Taxable          *bool          `gorm:""`
	AbsentDaysImpact *bool          `gorm:""`
	Order            int            `gorm:"column:evaluation_order;not null"`
	Rules            datatypes.JSON `gorm:"not null"`
	CreatedAt        time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Heading) TableName() string { return "headings" }

// ParsedRules decodes the heading's rule list.
func (h Heading) ParsedRules() ([]Rule, error) {
	var rules []Rule
	if err := json.Unmarshal(h.Rules, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// VariableToken returns the formula token for the heading, e.g.
// "Basic Salary" becomes "__BASIC_SALARY__".
func (h Heading) VariableToken() string { return VariableToken(h.Name) }

// VariableToken converts a heading display name to its formula token.
func VariableToken(name string) string {
	return "__" + strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(name)), " ", "_") + "__"
}

// EncodeRules marshals a rule list for storage.
func EncodeRules(rules []Rule) (datatypes.JSON, error) {
	raw, err := json.Marshal(rules)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// Prorates reports whether attendance prorates the heading's amount.
func (h Heading) Prorates() bool {
	if h.AbsentDaysImpact == nil || !*h.AbsentDaysImpact {
		return false
	}
	return h.DurationUnit == DurationMonthly || h.DurationUnit == DurationDaily
}

// IsTaxable reports the taxable flag, defaulting to false for constants.
func (h Heading) IsTaxable() bool { return h.Taxable != nil && *h.Taxable }
