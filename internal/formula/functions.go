package formula

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/opdbt/opdbt/internal/reshape"
	"github.com/opdbt/opdbt/internal/table"
)

type funcHandler func(env *Env, args []any) (any, error)

var builtins map[string]funcHandler

func init() {
	builtins = map[string]funcHandler{
		// numeric
		"abs":   numericFunc(math.Abs),
		"floor": numericFunc(math.Floor),
		"ceil":  numericFunc(math.Ceil),
		"sqrt": numericFunc(func(x float64) float64 {
			if x < 0 {
				return math.NaN()
			}
			return math.Sqrt(x)
		}),
		"round": fnRound,
		"min":   extremumFunc(-1),
		"max":   extremumFunc(1),
		"sum":   fnSum,
		"mean":  fnMean,
		"count": fnCount,

		// missing values
		"coalesce": fnCoalesce,
		"fillna":   fnCoalesce,
		"isnull":   nullTest(true),
		"notnull":  nullTest(false),

		// strings
		"upper":  stringFunc(strings.ToUpper),
		"lower":  stringFunc(strings.ToLower),
		"strip":  stringFunc(strings.TrimSpace),
		"concat": fnConcat,
		"len":    fnLen,

		// tables
		"select": fnSelect,
		"filter": fnFilter,
		"trim":   fnTrim,
		"pivot":  fnPivot,
		"rows":   fnRows,
		"table":  fnTable,

		// conversion
		"num": fnNum,
		"str": fnStr,
	}
}

// Functions returns the names of the builtin functions, sorted.
func Functions() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (env *Env) evalCall(x *Call) (any, error) {
	fn, ok := builtins[x.Name]
	if !ok {
		return nil, fmt.Errorf("unknown function %q", x.Name)
	}
	args := make([]any, len(x.Args))
	for i, a := range x.Args {
		v, err := env.Eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	v, err := fn(env, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", x.Name, err)
	}
	return v, nil
}

func arity(args []any, lo, hi int) error {
	if len(args) < lo || (hi >= 0 && len(args) > hi) {
		if lo == hi {
			return fmt.Errorf("expects %d argument(s), got %d", lo, len(args))
		}
		return fmt.Errorf("expects between %d and %d arguments, got %d", lo, hi, len(args))
	}
	return nil
}

func numericFunc(f func(float64) float64) funcHandler {
	return func(_ *Env, args []any) (any, error) {
		if err := arity(args, 1, 1); err != nil {
			return nil, err
		}
		return mapCells(args[0], func(c any) (any, error) {
			if c == nil {
				return nil, nil
			}
			x, ok := toNumber(c)
			if !ok {
				return nil, fmt.Errorf("expects a number, got %s", TypeName(c))
			}
			r := f(x)
			if math.IsNaN(r) {
				return nil, nil
			}
			return r, nil
		})
	}
}

func fnRound(_ *Env, args []any) (any, error) {
	if err := arity(args, 1, 2); err != nil {
		return nil, err
	}
	digits := 0.0
	if len(args) == 2 {
		d, ok := toNumber(args[1])
		if !ok {
			return nil, fmt.Errorf("digits must be a number")
		}
		digits = d
	}
	scale := math.Pow(10, digits)
	return mapCells(args[0], func(c any) (any, error) {
		if c == nil {
			return nil, nil
		}
		x, ok := toNumber(c)
		if !ok {
			return nil, fmt.Errorf("expects a number, got %s", TypeName(c))
		}
		return math.RoundToEven(x*scale) / scale, nil
	})
}

// numbers collects the non-missing numeric values of the arguments.
func numbers(args []any) ([]float64, error) {
	var out []float64
	add := func(c any) error {
		if c == nil {
			return nil
		}
		x, ok := toNumber(c)
		if !ok {
			return fmt.Errorf("expects numbers, got %s", TypeName(c))
		}
		out = append(out, x)
		return nil
	}
	for _, a := range args {
		if seq, ok := cells(a); ok {
			for _, c := range seq {
				if err := add(c); err != nil {
					return nil, err
				}
			}
			continue
		}
		if !isScalar(a) {
			return nil, fmt.Errorf("expects numbers or columns, got %s", TypeName(a))
		}
		if err := add(a); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// extremumFunc aggregates one column, or combines several arguments
// elementwise when more than one is given.
func extremumFunc(sign float64) funcHandler {
	pick := func(a, b any) (any, error) {
		if a == nil || b == nil {
			return nil, nil
		}
		x, xok := toNumber(a)
		y, yok := toNumber(b)
		if !xok || !yok {
			return nil, fmt.Errorf("expects numbers, got %s and %s", TypeName(a), TypeName(b))
		}
		if (y-x)*sign > 0 {
			return y, nil
		}
		return x, nil
	}
	return func(_ *Env, args []any) (any, error) {
		if err := arity(args, 1, -1); err != nil {
			return nil, err
		}
		if len(args) == 1 {
			vals, err := numbers(args)
			if err != nil {
				return nil, err
			}
			if len(vals) == 0 {
				return nil, nil
			}
			best := vals[0]
			for _, v := range vals[1:] {
				if (v-best)*sign > 0 {
					best = v
				}
			}
			return best, nil
		}
		acc := args[0]
		for _, a := range args[1:] {
			var err error
			if acc, err = broadcast(acc, a, pick); err != nil {
				return nil, err
			}
		}
		return acc, nil
	}
}

func fnSum(_ *Env, args []any) (any, error) {
	vals, err := numbers(args)
	if err != nil {
		return nil, err
	}
	total := 0.0
	for _, v := range vals {
		total += v
	}
	return total, nil
}

func fnMean(_ *Env, args []any) (any, error) {
	vals, err := numbers(args)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	total := 0.0
	for _, v := range vals {
		total += v
	}
	return total / float64(len(vals)), nil
}

func fnCount(_ *Env, args []any) (any, error) {
	n := 0
	for _, a := range args {
		if seq, ok := cells(a); ok {
			for _, c := range seq {
				if c != nil {
					n++
				}
			}
			continue
		}
		if a != nil {
			n++
		}
	}
	return float64(n), nil
}

func fnCoalesce(_ *Env, args []any) (any, error) {
	if err := arity(args, 1, -1); err != nil {
		return nil, err
	}
	acc := args[0]
	for _, a := range args[1:] {
		var err error
		acc, err = broadcast(acc, a, func(x, y any) (any, error) {
			if x != nil {
				return x, nil
			}
			return y, nil
		})
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func nullTest(want bool) funcHandler {
	return func(_ *Env, args []any) (any, error) {
		if err := arity(args, 1, 1); err != nil {
			return nil, err
		}
		return mapCells(args[0], func(c any) (any, error) {
			return (c == nil) == want, nil
		})
	}
}

func stringFunc(f func(string) string) funcHandler {
	return func(_ *Env, args []any) (any, error) {
		if err := arity(args, 1, 1); err != nil {
			return nil, err
		}
		return mapCells(args[0], func(c any) (any, error) {
			if s, ok := c.(string); ok {
				return f(s), nil
			}
			return c, nil
		})
	}
}

// fnConcat stacks tables, or joins strings elementwise.
func fnConcat(env *Env, args []any) (any, error) {
	if err := arity(args, 1, -1); err != nil {
		return nil, err
	}

	if t, ok := args[0].(*table.Table); ok {
		tables := []*table.Table{t}
		for _, a := range args[1:] {
			next, ok := a.(*table.Table)
			if !ok {
				return nil, fmt.Errorf("cannot concatenate table with %s", TypeName(a))
			}
			tables = append(tables, next)
		}
		return table.Concat(t.Name, tables...), nil
	}

	acc := args[0]
	for _, a := range args[1:] {
		var err error
		acc, err = broadcast(acc, a, func(x, y any) (any, error) {
			if x == nil || y == nil {
				return nil, nil
			}
			return toString(x) + toString(y), nil
		})
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func fnLen(_ *Env, args []any) (any, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	switch x := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return float64(len([]rune(x))), nil
	case Column:
		return float64(len(x)), nil
	case []any:
		return float64(len(x)), nil
	case map[string]any:
		return float64(len(x)), nil
	case *table.Table:
		return float64(x.Len()), nil
	}
	return nil, fmt.Errorf("no length for %s", TypeName(args[0]))
}

func tableArg(v any) (*table.Table, error) {
	t, ok := v.(*table.Table)
	if !ok {
		return nil, fmt.Errorf("expects a table, got %s", TypeName(v))
	}
	return t, nil
}

func fnSelect(_ *Env, args []any) (any, error) {
	if err := arity(args, 2, -1); err != nil {
		return nil, err
	}
	t, err := tableArg(args[0])
	if err != nil {
		return nil, err
	}
	var names []string
	for _, a := range args[1:] {
		items := []any{a}
		if seq, ok := cells(a); ok {
			items = seq
		}
		for _, c := range items {
			s, ok := c.(string)
			if !ok {
				return nil, fmt.Errorf("column names must be strings, got %s", TypeName(c))
			}
			names = append(names, s)
		}
	}
	return table.Select(t, names...)
}

func fnFilter(_ *Env, args []any) (any, error) {
	if err := arity(args, 2, 2); err != nil {
		return nil, err
	}
	t, err := tableArg(args[0])
	if err != nil {
		return nil, err
	}
	mask, err := AsColumn(args[1], t.Len())
	if err != nil {
		return nil, err
	}
	return table.Filter(t, mask)
}

func fnTrim(_ *Env, args []any) (any, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	t, err := tableArg(args[0])
	if err != nil {
		return nil, err
	}
	return table.Trim(t.Clone()), nil
}

func fnPivot(_ *Env, args []any) (any, error) {
	if err := arity(args, 2, 2); err != nil {
		return nil, err
	}
	t, err := tableArg(args[0])
	if err != nil {
		return nil, err
	}
	m, ok := args[1].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expects a reshape configuration map, got %s", TypeName(args[1]))
	}
	cfg, err := reshape.ParseConfig(m)
	if err != nil {
		return nil, err
	}
	return reshape.Reshape(t, cfg)
}

func fnRows(_ *Env, args []any) (any, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	t, err := tableArg(args[0])
	if err != nil {
		return nil, err
	}
	return float64(t.Len()), nil
}

func fnTable(env *Env, args []any) (any, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	name, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("expects a table name, got %s", TypeName(args[0]))
	}
	t, ok := env.Tables.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: table %s", ErrUndefined, name)
	}
	return t, nil
}

func fnNum(_ *Env, args []any) (any, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	return mapCells(args[0], func(c any) (any, error) {
		if f, ok := toNumber(c); ok {
			return f, nil
		}
		return nil, nil
	})
}

func fnStr(_ *Env, args []any) (any, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	return mapCells(args[0], func(c any) (any, error) {
		if c == nil {
			return nil, nil
		}
		return toString(c), nil
	})
}
