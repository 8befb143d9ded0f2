package formula

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/opdbt/opdbt/internal/table"
)

// Values produced by evaluation are one of:
//
//	nil            missing
//	float64        number
//	string
//	bool
//	Column         one value per row of a table
//	*table.Table
//	map[string]any
//	[]any          list
type Column []any

// TypeName names the kind of a value for error messages.
func TypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case float64:
		return "number"
	case string:
		return "string"
	case bool:
		return "bool"
	case Column:
		return "column"
	case *table.Table:
		return "table"
	case map[string]any:
		return "map"
	case []any:
		return "list"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Normalize converts externally supplied values (JSON decoded variables,
// string slices, integers) into evaluator values.
func Normalize(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Normalize(e)
		}
		return out
	case float64:
		if math.IsNaN(x) {
			return nil
		}
		return x
	}
	return v
}

// AsColumn turns a value into n cells: a column of length n is returned as
// is, a scalar is repeated.
func AsColumn(v any, n int) ([]any, error) {
	switch x := v.(type) {
	case Column:
		if len(x) != n {
			return nil, fmt.Errorf("column has %d values, expected %d", len(x), n)
		}
		return []any(x), nil
	case nil, float64, string, bool:
		out := make([]any, n)
		for i := range out {
			out[i] = x
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot use %s as column values", TypeName(v))
	}
}

// Truthy reports whether a scalar counts as true.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	case Column:
		return len(x) > 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	case *table.Table:
		return !x.Empty()
	}
	return false
}

func toNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		return table.ParseNumber(x)
	}
	return 0, false
}

func toString(v any) string {
	return table.FormatCell(v)
}

// cells returns the elements of a column or list. Other values are not
// sequences.
func cells(v any) ([]any, bool) {
	switch x := v.(type) {
	case Column:
		return x, true
	case []any:
		return x, true
	}
	return nil, false
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, float64, string, bool:
		return true
	}
	return false
}

// sortedKeys returns the keys of a map in order.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// lookupKey finds a map entry by exact key, then case-insensitively.
func lookupKey(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for _, k := range sortedKeys(m) {
		if strings.EqualFold(k, key) {
			return m[k], true
		}
	}
	return nil, false
}
