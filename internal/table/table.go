// Package table holds the in-memory tabular dataset shared by ingestion, the
// formula evaluator, the reshape engine and the CSV writer.
//
// A Table is row-major. Cells are nil (missing), string, float64 or bool.
// Only the operations the rules engine needs are provided: select, filter,
// concatenate and trim. Pivoting lives in the reshape package.
package table

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ColumnKey is the two-level name of a pivoted column (statistic, metric).
// A zero ColumnKey marks a plain, single-level column.
type ColumnKey struct {
	Stat   string
	Metric string
}

// IsZero reports whether the key marks a single-level column.
func (k ColumnKey) IsZero() bool {
	return k.Stat == "" && k.Metric == ""
}

// Table is a named, ordered set of columns and rows.
type Table struct {
	Name    string
	Columns []string
	// Keys is nil for flat tables. When set it is aligned with Columns.
	Keys []ColumnKey
	Rows [][]any
}

// New creates an empty table with the given columns.
func New(name string, columns []string) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{Name: name, Columns: cols}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Empty reports whether the table has no rows.
func (t *Table) Empty() bool {
	return t == nil || len(t.Rows) == 0
}

// Hierarchical reports whether any column carries a two-level key.
func (t *Table) Hierarchical() bool {
	for _, k := range t.Keys {
		if !k.IsZero() {
			return true
		}
	}
	return false
}

// ColumnIndex returns the position of the named column, or -1.
// An exact match wins over a case-insensitive one.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	for i, c := range t.Columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the column exists.
func (t *Table) HasColumn(name string) bool {
	return t.ColumnIndex(name) >= 0
}

// Column returns a copy of the named column's values.
func (t *Table) Column(name string) ([]any, error) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("column %q not found in table %q", name, t.Name)
	}
	out := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		if idx < len(row) {
			out[i] = row[idx]
		}
	}
	return out, nil
}

// SetColumn adds or overwrites a column. values must have one entry per row,
// except on a table without columns, where it defines the row count.
func (t *Table) SetColumn(name string, values []any) error {
	if len(t.Columns) == 0 && len(t.Rows) == 0 {
		t.Rows = make([][]any, len(values))
		for i := range t.Rows {
			t.Rows[i] = []any{}
		}
	}
	if len(values) != len(t.Rows) {
		return fmt.Errorf("column %q has %d values, table %q has %d rows", name, len(values), t.Name, len(t.Rows))
	}

	idx := t.ColumnIndex(name)
	if idx < 0 {
		t.Columns = append(t.Columns, name)
		if t.Keys != nil {
			t.Keys = append(t.Keys, ColumnKey{})
		}
		for i := range t.Rows {
			t.Rows[i] = append(t.Rows[i], values[i])
		}
		return nil
	}

	for i := range t.Rows {
		t.Rows[i][idx] = values[i]
	}
	return nil
}

// AppendRow appends a row, padding or truncating it to the column count.
func (t *Table) AppendRow(row []any) {
	r := make([]any, len(t.Columns))
	copy(r, row)
	t.Rows = append(t.Rows, r)
}

// Clone returns a deep copy of the table structure. Cell values are
// immutable scalars and are shared.
func (t *Table) Clone() *Table {
	c := New(t.Name, t.Columns)
	if t.Keys != nil {
		c.Keys = make([]ColumnKey, len(t.Keys))
		copy(c.Keys, t.Keys)
	}
	c.Rows = make([][]any, len(t.Rows))
	for i, row := range t.Rows {
		r := make([]any, len(row))
		copy(r, row)
		c.Rows[i] = r
	}
	return c
}

// Select projects the named columns in the given order.
func Select(t *Table, columns ...string) (*Table, error) {
	idx := make([]int, len(columns))
	names := make([]string, len(columns))
	for i, c := range columns {
		idx[i] = t.ColumnIndex(c)
		if idx[i] < 0 {
			return nil, fmt.Errorf("select: column %q not found in table %q", c, t.Name)
		}
		names[i] = t.Columns[idx[i]]
	}

	out := New(t.Name, names)
	for _, row := range t.Rows {
		r := make([]any, len(idx))
		for i, j := range idx {
			if j < len(row) {
				r[i] = row[j]
			}
		}
		out.Rows = append(out.Rows, r)
	}
	return out, nil
}

// Filter keeps the rows whose mask entry is true. Missing mask entries drop
// the row.
func Filter(t *Table, mask []any) (*Table, error) {
	if len(mask) != len(t.Rows) {
		return nil, fmt.Errorf("filter: mask has %d entries, table %q has %d rows", len(mask), t.Name, len(t.Rows))
	}
	out := New(t.Name, t.Columns)
	if t.Keys != nil {
		out.Keys = append([]ColumnKey(nil), t.Keys...)
	}
	for i, row := range t.Rows {
		if b, ok := mask[i].(bool); ok && b {
			r := make([]any, len(row))
			copy(r, row)
			out.Rows = append(out.Rows, r)
		}
	}
	return out, nil
}

// Concat stacks tables vertically. Columns are aligned by name; the result
// has the union of columns in order of first appearance and missing cells
// are nil.
func Concat(name string, tables ...*Table) *Table {
	var columns []string
	seen := make(map[string]bool)
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, c := range t.Columns {
			if !seen[c] {
				seen[c] = true
				columns = append(columns, c)
			}
		}
	}

	out := New(name, columns)
	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		pos[c] = i
	}
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, row := range t.Rows {
			r := make([]any, len(columns))
			for j, c := range t.Columns {
				if j < len(row) {
					r[pos[c]] = row[j]
				}
			}
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// Trim removes spaces from column headers and strips leading and trailing
// whitespace from string cells. Non-string cells are left untouched. The
// table is modified in place and returned.
func Trim(t *Table) *Table {
	if t == nil {
		return nil
	}
	for i, c := range t.Columns {
		t.Columns[i] = strings.ReplaceAll(c, " ", "")
	}
	for _, row := range t.Rows {
		for j, v := range row {
			if s, ok := v.(string); ok {
				row[j] = strings.TrimSpace(s)
			}
		}
	}
	return t
}

// InferTypes converts every column whose non-missing values all parse as
// numbers into float64 cells.
func InferTypes(t *Table) {
	for j := range t.Columns {
		numeric := false
		for _, row := range t.Rows {
			if j >= len(row) || row[j] == nil {
				continue
			}
			s, ok := row[j].(string)
			if !ok {
				numeric = false
				break
			}
			if _, ok := ParseNumber(s); !ok {
				numeric = false
				break
			}
			numeric = true
		}
		if !numeric {
			continue
		}
		for _, row := range t.Rows {
			if j < len(row) {
				if s, ok := row[j].(string); ok {
					f, _ := ParseNumber(s)
					row[j] = f
				}
			}
		}
	}
}

// ParseNumber parses a decimal number, ignoring surrounding whitespace.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// FormatCell renders a cell for CSV output. Missing values render empty.
func FormatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if math.IsNaN(x) {
			return ""
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprint(x)
	}
}

// Compare orders two cells: nil first, then numbers, then booleans, then
// strings. Numeric-looking strings compare as numbers against numbers.
func Compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	af, aNum := asNumber(a)
	bf, bNum := asNumber(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	if aNum != bNum {
		if aNum {
			return -1
		}
		return 1
	}
	return strings.Compare(FormatCell(a), FormatCell(b))
}

func asNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		return ParseNumber(x)
	}
	return 0, false
}
