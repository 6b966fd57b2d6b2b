package rules

import (
	"fmt"

	"github.com/campuscode/harvest/pkg/core"
)

// EvalError reports a type or reference error found while evaluating a
// well-formed expression against a snapshot.
type EvalError struct {
	Node Expr
	Msg  string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("rules: eval error in %q: %s", e.Node.String(), e.Msg)
}

// value is the result of evaluating a subexpression: either a number or a
// boolean, never both.
type value struct {
	n      int
	b      bool
	isBool bool
}

// Progress evaluates the expression against the snapshot and reduces the
// result to a 0..100 progress figure. A boolean result maps to 100 or 0; a
// numeric result, such as a top-level progress() call, is clamped.
func Progress(expr Expr, stats *core.Stats) (int, error) {
	v, err := eval(expr, stats)
	if err != nil {
		return 0, err
	}
	if v.isBool {
		if v.b {
			return 100, nil
		}
		return 0, nil
	}
	return clampProgress(v.n), nil
}

func eval(expr Expr, stats *core.Stats) (value, error) {
	switch e := expr.(type) {
	case *Literal:
		return value{n: e.Value}, nil

	case *FieldRef:
		n, ok := stats.Field(e.Name)
		if !ok {
			return value{}, &EvalError{Node: e, Msg: "unknown field " + e.Name}
		}
		return value{n: n}, nil

	case *Comparison:
		left, err := evalNumeric(e.Left, stats)
		if err != nil {
			return value{}, err
		}
		right, err := evalNumeric(e.Right, stats)
		if err != nil {
			return value{}, err
		}
		return value{b: compare(e.Op, left, right), isBool: true}, nil

	case *And:
		left, err := evalBool(e.Left, stats)
		if err != nil {
			return value{}, err
		}
		if !left {
			return value{b: false, isBool: true}, nil
		}
		right, err := evalBool(e.Right, stats)
		if err != nil {
			return value{}, err
		}
		return value{b: right, isBool: true}, nil

	case *Or:
		left, err := evalBool(e.Left, stats)
		if err != nil {
			return value{}, err
		}
		if left {
			return value{b: true, isBool: true}, nil
		}
		right, err := evalBool(e.Right, stats)
		if err != nil {
			return value{}, err
		}
		return value{b: right, isBool: true}, nil

	case *Call:
		return evalCall(e, stats)

	default:
		return value{}, &EvalError{Node: expr, Msg: "unsupported expression node"}
	}
}

func evalNumeric(expr Expr, stats *core.Stats) (int, error) {
	v, err := eval(expr, stats)
	if err != nil {
		return 0, err
	}
	if v.isBool {
		return 0, &EvalError{Node: expr, Msg: "expected a number, got a boolean"}
	}
	return v.n, nil
}

func evalBool(expr Expr, stats *core.Stats) (bool, error) {
	v, err := eval(expr, stats)
	if err != nil {
		return false, err
	}
	if !v.isBool {
		return false, &EvalError{Node: expr, Msg: "expected a boolean, got a number"}
	}
	return v.b, nil
}

func evalCall(c *Call, stats *core.Stats) (value, error) {
	args := make([]int, len(c.Args))
	for i, a := range c.Args {
		n, err := evalNumeric(a, stats)
		if err != nil {
			return value{}, err
		}
		args[i] = n
	}

	switch c.Name {
	case "min":
		m := args[0]
		for _, n := range args[1:] {
			if n < m {
				m = n
			}
		}
		return value{n: m}, nil

	case "max":
		m := args[0]
		for _, n := range args[1:] {
			if n > m {
				m = n
			}
		}
		return value{n: m}, nil

	case "progress":
		current, target := args[0], args[1]
		if target <= 0 {
			return value{}, &EvalError{Node: c, Msg: "progress target must be positive"}
		}
		return value{n: clampProgress(current * 100 / target)}, nil

	default:
		return value{}, &EvalError{Node: c, Msg: "unknown function " + c.Name}
	}
}

func compare(op CompareOp, left, right int) bool {
	switch op {
	case OpEq:
		return left == right
	case OpNe:
		return left != right
	case OpLt:
		return left < right
	case OpLe:
		return left <= right
	case OpGt:
		return left > right
	case OpGe:
		return left >= right
	default:
		return false
	}
}

func clampProgress(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
