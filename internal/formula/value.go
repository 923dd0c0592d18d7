package formula

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind discriminates the runtime types a rule expression can produce.
type Kind int

const (
	KindNumber Kind = iota
	KindBool
	KindString
)

// Value is the result of evaluating an expression or sub-expression.
// Rules resolve to numbers; booleans only appear in rule conditions and
// strings only as plugin-call arguments.
type Value struct {
	kind Kind
	num  decimal.Decimal
	b    bool
	s    string
}

func Number(d decimal.Decimal) Value { return Value{kind: KindNumber, num: d} }

func NumberFromFloat(f float64) Value { return Number(decimal.NewFromFloat(f)) }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func String(s string) Value { return Value{kind: KindString, s: s} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNumber() bool { return v.kind == KindNumber }

func (v Value) Number() decimal.Decimal { return v.num }

func (v Value) Bool() bool { return v.b }

func (v Value) Text() string { return v.s }

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return v.num.String()
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	default:
		return v.s
	}
}
