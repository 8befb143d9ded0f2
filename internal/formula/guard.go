package formula

import (
	"errors"
	"fmt"

	"github.com/expr-lang/expr"
)

// ErrGuard is returned when a guard predicate cannot be compiled or run.
var ErrGuard = errors.New("guard predicate failed")

// Guard evaluates a rule precondition. Predicates see every bound variable
// by name and through the vars map, plus table helpers:
//
//	hasTable("AWRHISTOSSTAT") && rows("AWRHISTOSSTAT") > 0
//	hasColumn("DBSUMMARY", "DBVERSION")
//	vars.skip_cdb != "Y"
func (env *Env) Guard(predicate string) (ok bool, err error) {
	defer recoverFault(&err)

	vars := make(map[string]any, len(env.Vars))
	scope := make(map[string]any, len(env.Vars)+5)
	for k, v := range env.Vars {
		vars[k] = guardValue(v)
		scope[k] = vars[k]
	}
	scope["vars"] = vars
	scope["hasTable"] = func(name string) bool {
		_, found := env.Tables.Get(name)
		return found
	}
	scope["hasColumn"] = func(tableName, column string) bool {
		t, found := env.Tables.Get(tableName)
		return found && t.HasColumn(column)
	}
	scope["rows"] = func(name string) int {
		if t, found := env.Tables.Get(name); found {
			return t.Len()
		}
		return 0
	}
	scope["columns"] = func(name string) []string {
		if t, found := env.Tables.Get(name); found {
			return append([]string(nil), t.Columns...)
		}
		return nil
	}

	program, err := expr.Compile(Parse(predicate), expr.Env(scope), expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrGuard, err)
	}
	out, err := expr.Run(program, scope)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrGuard, err)
	}
	b, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("%w: predicate returned %T", ErrGuard, out)
	}
	return b, nil
}

// guardValue exposes evaluator values to predicates. Tables and columns are
// reduced to their sizes.
func guardValue(v any) any {
	switch x := Normalize(v).(type) {
	case Column:
		return len(x)
	default:
		if t, isTable := x.(interface{ Len() int }); isTable {
			return t.Len()
		}
		return x
	}
}
