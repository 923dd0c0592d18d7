package formula

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Expr is a parsed rule expression. Rules are parsed once and the AST is
// reused across evaluations.
type Expr interface{ exprNode() }

type NumberLit struct{ Value decimal.Decimal }

type StringLit struct{ Value string }

// VarRef is a heading or plugin variable token, underscores included,
// e.g. __BASIC_SALARY__.
type VarRef struct{ Name string }

// Call is a plugin function invocation, e.g. __ANNUAL_AMOUNT__("PF", 2).
type Call struct {
	Name string
	Args []Expr
}

type Unary struct {
	Op string
	X  Expr
}

type Binary struct {
	Op   string
	Left Expr
	Rite Expr
}

func (NumberLit) exprNode() {}
func (StringLit) exprNode() {}
func (VarRef) exprNode()    {}
func (Call) exprNode()      {}
func (Unary) exprNode()     {}
func (Binary) exprNode()    {}

// Vars returns the distinct variable tokens referenced by the expression,
// sorted. Call names are not included.
func Vars(e Expr) []string {
	seen := map[string]struct{}{}
	walk(e, func(x Expr) {
		if v, ok := x.(VarRef); ok {
			seen[v.Name] = struct{}{}
		}
	})
	return sortedKeys(seen)
}

// CallNames returns the distinct plugin function tokens invoked by the
// expression, sorted.
func CallNames(e Expr) []string {
	seen := map[string]struct{}{}
	walk(e, func(x Expr) {
		if c, ok := x.(Call); ok {
			seen[c.Name] = struct{}{}
		}
	})
	return sortedKeys(seen)
}

func walk(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch x := e.(type) {
	case Call:
		for _, arg := range x.Args {
			walk(arg, fn)
		}
	case Unary:
		walk(x.X, fn)
	case Binary:
		walk(x.Left, fn)
		walk(x.Rite, fn)
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
