package formula

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/opdbt/opdbt/internal/registry"
	"github.com/opdbt/opdbt/internal/table"
)

// ErrUndefined is returned when a name is neither a variable nor a table.
var ErrUndefined = errors.New("undefined name")

// Env is the evaluation context: registered tables and bound variables.
// Assignments mutate both in place.
type Env struct {
	Tables *registry.Registry
	Vars   map[string]any
}

// NewEnv creates an evaluation context. A nil registry or variable map is
// replaced by an empty one.
func NewEnv(tables *registry.Registry, vars map[string]any) *Env {
	if tables == nil {
		tables = registry.New()
	}
	if vars == nil {
		vars = make(map[string]any)
	}
	return &Env{Tables: tables, Vars: vars}
}

// Lookup resolves a name: variables first, then tables. Member access on a
// map variable that lacks the member falls through to a table of the same
// name.
func (env *Env) Lookup(name string) (any, error) {
	if v, ok := env.Vars[name]; ok {
		return Normalize(v), nil
	}
	if t, ok := env.Tables.Get(name); ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUndefined, name)
}

// Eval evaluates a parsed node.
func (env *Env) Eval(n Node) (any, error) {
	switch x := n.(type) {
	case *Literal:
		return x.Value, nil
	case *Ident:
		return env.Lookup(x.Name)
	case *Attr:
		return env.evalAttr(x)
	case *Index:
		return env.evalIndex(x)
	case *Unary:
		return env.evalUnary(x)
	case *Binary:
		return env.evalBinary(x)
	case *Call:
		return env.evalCall(x)
	case *Assign:
		return env.evalAssign(x)
	}
	return nil, fmt.Errorf("unknown node %T", n)
}

func (env *Env) evalAttr(x *Attr) (any, error) {
	base, err := env.Eval(x.X)
	if err != nil {
		return nil, err
	}
	if t, ok := env.shadowedTable(x.X, base, x.Name); ok {
		return member(t, x.Name)
	}
	return member(base, x.Name)
}

// shadowedTable returns the table hidden behind a variable of the same name
// (reshape configs are bound under their table's name) when the variable is
// a map without key.
func (env *Env) shadowedTable(baseNode Node, base any, key string) (*table.Table, bool) {
	id, ok := baseNode.(*Ident)
	if !ok {
		return nil, false
	}
	m, ok := base.(map[string]any)
	if !ok {
		return nil, false
	}
	if _, has := lookupKey(m, key); has {
		return nil, false
	}
	return env.Tables.Get(id.Name)
}

// tableBase returns base as a table, looking past a map variable that shares
// its name with one.
func (env *Env) tableBase(baseNode Node, base any) (*table.Table, bool) {
	if t, ok := base.(*table.Table); ok {
		return t, true
	}
	if _, isMap := base.(map[string]any); !isMap {
		return nil, false
	}
	if id, ok := baseNode.(*Ident); ok {
		return env.Tables.Get(id.Name)
	}
	return nil, false
}

// ref resolves an assignment base to the stored value rather than the
// normalized copy Eval hands out, so writes land in env.Vars.
func (env *Env) ref(n Node) (any, error) {
	var (
		baseNode Node
		key      string
	)
	switch x := n.(type) {
	case *Ident:
		if v, ok := env.Vars[x.Name]; ok {
			return v, nil
		}
		return env.Eval(n)
	case *Attr:
		baseNode, key = x.X, x.Name
	case *Index:
		k, err := env.Eval(x.Key)
		if err != nil {
			return nil, err
		}
		s, ok := k.(string)
		if !ok {
			return env.Eval(n)
		}
		baseNode, key = x.X, s
	default:
		return env.Eval(n)
	}

	base, err := env.ref(baseNode)
	if err != nil {
		return nil, err
	}
	if m, ok := base.(map[string]any); ok {
		if v, ok := lookupKey(m, key); ok {
			return v, nil
		}
	}
	return env.Eval(n)
}

func member(base any, name string) (any, error) {
	switch b := base.(type) {
	case *table.Table:
		col, err := b.Column(name)
		if err != nil {
			return nil, err
		}
		return Column(col), nil
	case map[string]any:
		v, ok := lookupKey(b, name)
		if !ok {
			return nil, fmt.Errorf("key %q not found", name)
		}
		return Normalize(v), nil
	}
	return nil, fmt.Errorf("cannot access %q on %s", name, TypeName(base))
}

func (env *Env) evalIndex(x *Index) (any, error) {
	base, err := env.Eval(x.X)
	if err != nil {
		return nil, err
	}
	key, err := env.Eval(x.Key)
	if err != nil {
		return nil, err
	}

	switch k := key.(type) {
	case string:
		if t, ok := env.shadowedTable(x.X, base, k); ok {
			return member(t, k)
		}
		return member(base, k)

	case float64:
		seq, ok := cells(base)
		if !ok {
			return nil, fmt.Errorf("cannot index %s by number", TypeName(base))
		}
		i := int(k)
		if i < 0 {
			i += len(seq)
		}
		if i < 0 || i >= len(seq) || float64(int(k)) != k {
			return nil, fmt.Errorf("index %v out of range", k)
		}
		return Normalize(seq[i]), nil

	case Column:
		t, ok := env.tableBase(x.X, base)
		if !ok {
			return nil, fmt.Errorf("cannot filter %s", TypeName(base))
		}
		return table.Filter(t, k)

	case []any:
		t, ok := env.tableBase(x.X, base)
		if !ok {
			return nil, fmt.Errorf("cannot select from %s", TypeName(base))
		}
		names := make([]string, len(k))
		for i, c := range k {
			s, ok := c.(string)
			if !ok {
				return nil, fmt.Errorf("column names must be strings, got %s", TypeName(c))
			}
			names[i] = s
		}
		return table.Select(t, names...)
	}
	return nil, fmt.Errorf("invalid key of type %s", TypeName(key))
}

func (env *Env) evalUnary(x *Unary) (any, error) {
	v, err := env.Eval(x.X)
	if err != nil {
		return nil, err
	}
	switch x.Op {
	case "-":
		return mapCells(v, func(c any) (any, error) {
			if c == nil {
				return nil, nil
			}
			f, ok := toNumber(c)
			if !ok {
				return nil, fmt.Errorf("cannot negate %s", TypeName(c))
			}
			return -f, nil
		})
	case "not":
		return mapCells(v, func(c any) (any, error) {
			if c == nil {
				return nil, nil
			}
			return !Truthy(c), nil
		})
	}
	return nil, fmt.Errorf("unknown unary operator %q", x.Op)
}

func (env *Env) evalBinary(x *Binary) (any, error) {
	l, err := env.Eval(x.Left)
	if err != nil {
		return nil, err
	}
	r, err := env.Eval(x.Right)
	if err != nil {
		return nil, err
	}
	return broadcast(l, r, func(a, b any) (any, error) {
		return scalarBinary(x.Op, a, b)
	})
}

func (env *Env) evalAssign(x *Assign) (any, error) {
	v, err := env.Eval(x.Value)
	if err != nil {
		return nil, err
	}

	switch target := x.Target.(type) {
	case *Ident:
		if t, ok := v.(*table.Table); ok {
			if _, isVar := env.Vars[target.Name]; !isVar {
				env.Tables.Set(target.Name, t)
				return v, nil
			}
		}
		env.Vars[target.Name] = v
		return v, nil

	case *Attr:
		return v, env.assignMember(target.X, target.Name, v)

	case *Index:
		key, err := env.Eval(target.Key)
		if err != nil {
			return nil, err
		}
		name, ok := key.(string)
		if !ok {
			return nil, fmt.Errorf("assignment key must be a string, got %s", TypeName(key))
		}
		return v, env.assignMember(target.X, name, v)
	}
	return nil, fmt.Errorf("cannot assign to %T", x.Target)
}

func (env *Env) assignMember(baseNode Node, name string, v any) error {
	base, err := env.ref(baseNode)
	if err != nil {
		return err
	}
	if t, ok := env.shadowedTable(baseNode, base, name); ok {
		base = t
	}
	switch b := base.(type) {
	case *table.Table:
		values, err := AsColumn(v, b.Len())
		if err != nil {
			return err
		}
		return b.SetColumn(name, values)
	case map[string]any:
		b[mapKey(b, name)] = v
		return nil
	}
	return fmt.Errorf("cannot assign %q on %s", name, TypeName(base))
}

// mapKey returns the existing spelling of key in m, or key itself.
func mapKey(m map[string]any, key string) string {
	if _, ok := m[key]; ok {
		return key
	}
	for _, k := range sortedKeys(m) {
		if strings.EqualFold(k, key) {
			return k
		}
	}
	return key
}

// broadcast applies fn elementwise. Two columns must have equal length; a
// scalar is paired with every element of a column.
func broadcast(l, r any, fn func(a, b any) (any, error)) (any, error) {
	lc, lcol := l.(Column)
	rc, rcol := r.(Column)

	switch {
	case lcol && rcol:
		if len(lc) != len(rc) {
			return nil, fmt.Errorf("column lengths differ: %d and %d", len(lc), len(rc))
		}
		out := make(Column, len(lc))
		for i := range lc {
			v, err := fn(lc[i], rc[i])
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case lcol:
		if !isScalar(r) {
			return nil, fmt.Errorf("cannot combine column with %s", TypeName(r))
		}
		out := make(Column, len(lc))
		for i := range lc {
			v, err := fn(lc[i], r)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case rcol:
		if !isScalar(l) {
			return nil, fmt.Errorf("cannot combine %s with column", TypeName(l))
		}
		out := make(Column, len(rc))
		for i := range rc {
			v, err := fn(l, rc[i])
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	if !isScalar(l) || !isScalar(r) {
		return nil, fmt.Errorf("unsupported operands %s and %s", TypeName(l), TypeName(r))
	}
	return fn(l, r)
}

// mapCells applies fn to a scalar or to every element of a column or list.
func mapCells(v any, fn func(any) (any, error)) (any, error) {
	switch x := v.(type) {
	case Column:
		out := make(Column, len(x))
		for i, c := range x {
			r, err := fn(c)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, c := range x {
			r, err := fn(c)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	if !isScalar(v) {
		return nil, fmt.Errorf("expected a scalar or column, got %s", TypeName(v))
	}
	return fn(v)
}

func scalarBinary(op string, a, b any) (any, error) {
	switch op {
	case "and", "or":
		return logical(op, a, b), nil
	case "+", "-", "*", "/", "%":
		return arithmetic(op, a, b)
	case "==", "!=", "<", "<=", ">", ">=":
		return comparison(op, a, b)
	}
	return nil, fmt.Errorf("unknown operator %q", op)
}

// logical implements three-valued and/or: null is unknown.
func logical(op string, a, b any) any {
	if op == "and" {
		if (a != nil && !Truthy(a)) || (b != nil && !Truthy(b)) {
			return false
		}
		if a == nil || b == nil {
			return nil
		}
		return true
	}
	if (a != nil && Truthy(a)) || (b != nil && Truthy(b)) {
		return true
	}
	if a == nil || b == nil {
		return nil
	}
	return false
}

func arithmetic(op string, a, b any) (any, error) {
	if a == nil || b == nil {
		return nil, nil
	}

	if op == "+" {
		as, aStr := a.(string)
		bs, bStr := b.(string)
		if aStr && bStr {
			return as + bs, nil
		}
	}

	x, xok := toNumber(a)
	y, yok := toNumber(b)
	if !xok || !yok {
		return nil, fmt.Errorf("operator %s expects numbers, got %s and %s", op, TypeName(a), TypeName(b))
	}

	switch op {
	case "+":
		return x + y, nil
	case "-":
		return x - y, nil
	case "*":
		return x * y, nil
	case "/":
		if y == 0 {
			return nil, nil
		}
		return x / y, nil
	case "%":
		if y == 0 {
			return nil, nil
		}
		return math.Mod(x, y), nil
	}
	return nil, fmt.Errorf("unknown arithmetic operator %q", op)
}

func comparison(op string, a, b any) (any, error) {
	if a == nil || b == nil {
		return nil, nil
	}

	var cmp int
	x, xok := toNumber(a)
	y, yok := toNumber(b)
	_, aBool := a.(bool)
	_, bBool := b.(bool)

	switch {
	case xok && yok && aBool == bBool:
		switch {
		case x < y:
			cmp = -1
		case x > y:
			cmp = 1
		}
	default:
		as, aStr := a.(string)
		bs, bStr := b.(string)
		if !aStr || !bStr {
			switch op {
			case "==":
				return false, nil
			case "!=":
				return true, nil
			}
			return nil, fmt.Errorf("cannot order %s and %s", TypeName(a), TypeName(b))
		}
		cmp = strings.Compare(as, bs)
	}

	switch op {
	case "==":
		return cmp == 0, nil
	case "!=":
		return cmp != 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	}
	return nil, fmt.Errorf("unknown comparison operator %q", op)
}
