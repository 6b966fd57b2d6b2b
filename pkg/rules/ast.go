package rules

import "fmt"

// Expr is a node of a parsed condition expression.
type Expr interface {
	// String renders the node back to expression syntax, mainly for
	// error messages and logs.
	String() string
}

// Literal is an integer constant.
type Literal struct {
	Value int
}

func (l *Literal) String() string { return fmt.Sprintf("%d", l.Value) }

// FieldRef references a metrics snapshot field by its expression name,
// e.g. "totalCommits".
type FieldRef struct {
	Name string
}

func (f *FieldRef) String() string { return f.Name }

// Call invokes one of the registered helpers: min, max, or progress.
type Call struct {
	Name string
	Args []Expr
}

func (c *Call) String() string {
	s := c.Name + "("
	for i, a := range c.Args {
		if i > 0 {
			s += ", "
		}
		s += a.String()
	}
	return s + ")"
}

// CompareOp is a comparison operator.
type CompareOp string

const (
	OpEq CompareOp = "=="
	OpNe CompareOp = "!="
	OpLt CompareOp = "<"
	OpLe CompareOp = "<="
	OpGt CompareOp = ">"
	OpGe CompareOp = ">="
)

// Comparison compares two numeric subexpressions.
type Comparison struct {
	Op    CompareOp
	Left  Expr
	Right Expr
}

func (c *Comparison) String() string {
	return c.Left.String() + " " + string(c.Op) + " " + c.Right.String()
}

// And is boolean conjunction.
type And struct {
	Left  Expr
	Right Expr
}

func (a *And) String() string {
	return "(" + a.Left.String() + " && " + a.Right.String() + ")"
}

// Or is boolean disjunction.
type Or struct {
	Left  Expr
	Right Expr
}

func (o *Or) String() string {
	return "(" + o.Left.String() + " || " + o.Right.String() + ")"
}
