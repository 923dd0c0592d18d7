package formula

import "fmt"

// Resolver supplies values for variable tokens and plugin calls during
// evaluation. Implementations decide whether a token is a heading amount or a
// registered plugin.
type Resolver interface {
	ResolveVar(name string) (Value, error)
	ResolveCall(name string, args []Value) (Value, error)
}

// EvalError reports a rule that parsed but cannot be computed, such as a
// division by zero or a boolean used where a number is required.
type EvalError struct {
	Msg string
}

func (e *EvalError) Error() string { return e.Msg }

func evalErrorf(format string, args ...any) error {
	return &EvalError{Msg: fmt.Sprintf(format, args...)}
}

// Eval computes the expression against the resolver.
func Eval(e Expr, r Resolver) (Value, error) {
	switch x := e.(type) {
	case NumberLit:
		return Number(x.Value), nil
	case StringLit:
		return String(x.Value), nil
	case VarRef:
		return r.ResolveVar(x.Name)
	case Call:
		args := make([]Value, 0, len(x.Args))
		for _, argExpr := range x.Args {
			arg, err := Eval(argExpr, r)
			if err != nil {
				return Value{}, err
			}
			args = append(args, arg)
		}
		return r.ResolveCall(x.Name, args)
	case Unary:
		return evalUnary(x, r)
	case Binary:
		return evalBinary(x, r)
	default:
		return Value{}, evalErrorf("unsupported expression %T", e)
	}
}

func evalUnary(x Unary, r Resolver) (Value, error) {
	v, err := Eval(x.X, r)
	if err != nil {
		return Value{}, err
	}
	switch x.Op {
	case "-":
		if !v.IsNumber() {
			return Value{}, evalErrorf("operator - requires a number")
		}
		return Number(v.Number().Neg()), nil
	case "not":
		if v.Kind() != KindBool {
			return Value{}, evalErrorf("operator not requires a boolean")
		}
		return Bool(!v.Bool()), nil
	default:
		return Value{}, evalErrorf("unknown unary operator %q", x.Op)
	}
}

func evalBinary(x Binary, r Resolver) (Value, error) {
	// and/or short-circuit.
	if x.Op == "and" || x.Op == "or" {
		left, err := Eval(x.Left, r)
		if err != nil {
			return Value{}, err
		}
		if left.Kind() != KindBool {
			return Value{}, evalErrorf("operator %s requires booleans", x.Op)
		}
		if x.Op == "and" && !left.Bool() {
			return Bool(false), nil
		}
		if x.Op == "or" && left.Bool() {
			return Bool(true), nil
		}
		right, err := Eval(x.Rite, r)
		if err != nil {
			return Value{}, err
		}
		if right.Kind() != KindBool {
			return Value{}, evalErrorf("operator %s requires booleans", x.Op)
		}
		return Bool(right.Bool()), nil
	}

	left, err := Eval(x.Left, r)
	if err != nil {
		return Value{}, err
	}
	right, err := Eval(x.Rite, r)
	if err != nil {
		return Value{}, err
	}

	switch x.Op {
	case "==", "!=":
		if left.Kind() == KindString && right.Kind() == KindString {
			eq := left.Text() == right.Text()
			if x.Op == "!=" {
				eq = !eq
			}
			return Bool(eq), nil
		}
	}

	if !left.IsNumber() || !right.IsNumber() {
		return Value{}, evalErrorf("operator %s requires numbers", x.Op)
	}
	l, rv := left.Number(), right.Number()

	switch x.Op {
	case "+":
		return Number(l.Add(rv)), nil
	case "-":
		return Number(l.Sub(rv)), nil
	case "*":
		return Number(l.Mul(rv)), nil
	case "/":
		if rv.IsZero() {
			return Value{}, evalErrorf("division by zero")
		}
		return Number(l.DivRound(rv, 16)), nil
	case "<":
		return Bool(l.LessThan(rv)), nil
	case "<=":
		return Bool(l.LessThanOrEqual(rv)), nil
	case ">":
		return Bool(l.GreaterThan(rv)), nil
	case ">=":
		return Bool(l.GreaterThanOrEqual(rv)), nil
	case "==":
		return Bool(l.Equal(rv)), nil
	case "!=":
		return Bool(!l.Equal(rv)), nil
	default:
		return Value{}, evalErrorf("unknown operator %q", x.Op)
	}
}
