// Package formula is the closed expression language rules are written in.
//
// A formula is parsed into a small AST and interpreted against an Env that
// exposes the run's registered tables and bound variables. Names resolve to a
// variable first, then to a table. T.COL and T["COL"] read a column; columns
// combine elementwise with each other and with scalars. A missing operand
// yields a missing result, as does division by zero.
//
// There is no access to anything outside the Env: no imports, no attribute
// access on host objects, only the builtin function set.
package formula

import (
	"fmt"
	"strings"
)

// Parse normalizes a multi-fragment formula: the text is split on ';', each
// fragment is trimmed and the fragments are joined by single spaces, each
// followed by a space.
func Parse(expr string) string {
	var b strings.Builder
	for _, frag := range strings.Split(expr, ";") {
		b.WriteString(strings.TrimSpace(frag))
		b.WriteByte(' ')
	}
	return b.String()
}

// EvalString parses and evaluates an expression.
func (env *Env) EvalString(expr string) (v any, err error) {
	defer recoverFault(&err)

	n, err := ParseExpr(strings.TrimSpace(Parse(expr)))
	if err != nil {
		return nil, err
	}
	return env.Eval(n)
}

// Exec parses and runs a statement, which may be an assignment.
func (env *Env) Exec(stmt string) (v any, err error) {
	defer recoverFault(&err)

	n, err := ParseFormula(strings.TrimSpace(Parse(stmt)))
	if err != nil {
		return nil, err
	}
	return env.Eval(n)
}

// Evaluate evaluates primary and, if that fails, fallback. When both fail
// the result is nil. It never panics.
func Evaluate(primary, fallback string, env *Env) any {
	v, _ := EvaluateErr(primary, fallback, env)
	return v
}

// EvaluateErr is Evaluate that also reports the last fault.
func EvaluateErr(primary, fallback string, env *Env) (any, error) {
	v, err := env.EvalString(primary)
	if err == nil {
		return v, nil
	}
	if strings.TrimSpace(fallback) == "" {
		return nil, err
	}
	v, ferr := env.EvalString(fallback)
	if ferr != nil {
		return nil, fmt.Errorf("%v; fallback: %w", err, ferr)
	}
	return v, nil
}

// ExecuteErr runs primary as a statement and, if that fails, fallback.
func ExecuteErr(primary, fallback string, env *Env) (any, error) {
	v, err := env.Exec(primary)
	if err == nil {
		return v, nil
	}
	if strings.TrimSpace(fallback) == "" {
		return nil, err
	}
	v, ferr := env.Exec(fallback)
	if ferr != nil {
		return nil, fmt.Errorf("%v; fallback: %w", err, ferr)
	}
	return v, nil
}

func recoverFault(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("formula panic: %v", r)
	}
}
