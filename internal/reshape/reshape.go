// Package reshape turns long-format metric tables into wide ones.
//
// A long table has one row per entity, time bucket and metric:
//
//	DBID  HOUR  METRIC_NAME      PERC90
//	1     0     Active Sessions  20
//	1     0     Physical Reads   1405
//
// Reshape pivots METRIC_NAME into columns, one per statistic and metric,
// renames metrics through the configured map and flattens the column names
// to <metric>_<stat>:
//
//	DBID  HOUR  AAS_PERC90  Physical Reads_PERC90
//	1     0     20          1405
package reshape

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/opdbt/opdbt/internal/table"
)

// ErrDuplicateEntry is returned when two rows share an index key and metric.
var ErrDuplicateEntry = errors.New("index contains duplicate entries, cannot reshape")

// Config describes one pivot.
type Config struct {
	IndexColumns []string
	TargetColumn string
	StatsColumns []string
	// Rename maps source metric names to output names. With FilterRows set
	// its keys also select the rows that take part.
	Rename     map[string]string
	FilterRows bool
	Store      string
}

// Configuration keys as they appear in rule variables.
const (
	KeyIndexColumns = "INDEX_COLUMNS"
	KeyTargetColumn = "TARGET_COLUMN"
	KeyStatsColumns = "TARGET_STATS_COLUMNS"
	KeyRename       = "from_to_rows_to_columns"
	KeyFilterRows   = "filterrows"
	KeyStore        = "store"
)

// ParseConfig reads a Config from a decoded rule variable.
func ParseConfig(m map[string]any) (Config, error) {
	var cfg Config

	idx, err := stringList(m[KeyIndexColumns])
	if err != nil {
		return cfg, fmt.Errorf("%s: %w", KeyIndexColumns, err)
	}
	cfg.IndexColumns = idx

	target, ok := m[KeyTargetColumn].(string)
	if !ok || target == "" {
		return cfg, fmt.Errorf("%s is required", KeyTargetColumn)
	}
	cfg.TargetColumn = target

	stats, err := stringList(m[KeyStatsColumns])
	if err != nil {
		return cfg, fmt.Errorf("%s: %w", KeyStatsColumns, err)
	}
	if len(stats) == 0 {
		return cfg, fmt.Errorf("%s is required", KeyStatsColumns)
	}
	cfg.StatsColumns = stats

	cfg.Rename = make(map[string]string)
	if raw, ok := m[KeyRename]; ok && raw != nil {
		rm, ok := raw.(map[string]any)
		if !ok {
			return cfg, fmt.Errorf("%s must be an object", KeyRename)
		}
		for k, v := range rm {
			cfg.Rename[k] = table.FormatCell(v)
		}
	}

	cfg.FilterRows = strings.EqualFold(strings.TrimSpace(fmt.Sprint(m[KeyFilterRows])), "YES")
	if s, ok := m[KeyStore].(string); ok {
		cfg.Store = s
	}
	return cfg, nil
}

func stringList(v any) ([]string, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		var out []string
		for _, p := range strings.Split(x, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	case []string:
		return x, nil
	case []any:
		out := make([]string, len(x))
		for i, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("expected a list of names, got %T", e)
			}
			out[i] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a list of names, got %T", v)
}

// Reshape pivots, renames and flattens t. An empty table is returned as is.
func Reshape(t *table.Table, cfg Config) (*table.Table, error) {
	if t.Empty() {
		return t, nil
	}

	src := t
	if cfg.FilterRows {
		var err error
		if src, err = filterMetrics(t, cfg); err != nil {
			return nil, err
		}
	}

	wide, err := Pivot(src, cfg)
	if err != nil {
		return nil, err
	}
	RenameMetrics(wide, cfg.Rename)
	FlattenColumns(wide)
	return wide, nil
}

func filterMetrics(t *table.Table, cfg Config) (*table.Table, error) {
	col, err := t.Column(cfg.TargetColumn)
	if err != nil {
		return nil, err
	}
	mask := make([]any, len(col))
	for i, v := range col {
		_, keep := cfg.Rename[table.FormatCell(v)]
		mask[i] = keep
	}
	return table.Filter(t, mask)
}

// Pivot produces a table whose leading columns are the index columns and
// whose remaining columns carry a two-level key (stat, metric), ordered by
// stat then metric. Row keys and metrics are sorted.
func Pivot(t *table.Table, cfg Config) (*table.Table, error) {
	idxPos := make([]int, len(cfg.IndexColumns))
	for i, c := range cfg.IndexColumns {
		if idxPos[i] = t.ColumnIndex(c); idxPos[i] < 0 {
			return nil, fmt.Errorf("index column %q not found in %s", c, t.Name)
		}
	}
	targetPos := t.ColumnIndex(cfg.TargetColumn)
	if targetPos < 0 {
		return nil, fmt.Errorf("target column %q not found in %s", cfg.TargetColumn, t.Name)
	}
	statPos := make([]int, len(cfg.StatsColumns))
	for i, c := range cfg.StatsColumns {
		if statPos[i] = t.ColumnIndex(c); statPos[i] < 0 {
			return nil, fmt.Errorf("stats column %q not found in %s", c, t.Name)
		}
	}

	var (
		keys    [][]any
		keyIdx  = make(map[string]int)
		metrics []any
		metIdx  = make(map[string]int)
		cells   = make(map[[2]int][]any)
	)

	for _, row := range t.Rows {
		vals := make([]any, len(idxPos))
		for i, p := range idxPos {
			vals[i] = cell(row, p)
		}
		sig := signature(vals)
		ki, ok := keyIdx[sig]
		if !ok {
			ki = len(keys)
			keyIdx[sig] = ki
			keys = append(keys, vals)
		}

		metric := cell(row, targetPos)
		msig := signature([]any{metric})
		mi, ok := metIdx[msig]
		if !ok {
			mi = len(metrics)
			metIdx[msig] = mi
			metrics = append(metrics, metric)
		}

		slot := [2]int{ki, mi}
		if _, dup := cells[slot]; dup {
			return nil, fmt.Errorf("%w: %v / %s", ErrDuplicateEntry, vals, table.FormatCell(metric))
		}
		stats := make([]any, len(statPos))
		for i, p := range statPos {
			stats[i] = cell(row, p)
		}
		cells[slot] = stats
	}

	keyOrder := make([]int, len(keys))
	for i := range keyOrder {
		keyOrder[i] = i
	}
	sort.SliceStable(keyOrder, func(a, b int) bool {
		va, vb := keys[keyOrder[a]], keys[keyOrder[b]]
		for i := range va {
			if c := table.Compare(va[i], vb[i]); c != 0 {
				return c < 0
			}
		}
		return false
	})

	metOrder := make([]int, len(metrics))
	for i := range metOrder {
		metOrder[i] = i
	}
	sort.SliceStable(metOrder, func(a, b int) bool {
		return table.Compare(metrics[metOrder[a]], metrics[metOrder[b]]) < 0
	})

	out := &table.Table{Name: t.Name}
	for _, p := range idxPos {
		out.Columns = append(out.Columns, t.Columns[p])
		out.Keys = append(out.Keys, table.ColumnKey{})
	}
	for _, p := range statPos {
		stat := t.Columns[p]
		for _, mi := range metOrder {
			out.Columns = append(out.Columns, stat)
			out.Keys = append(out.Keys, table.ColumnKey{Stat: stat, Metric: table.FormatCell(metrics[mi])})
		}
	}

	for _, ki := range keyOrder {
		row := make([]any, 0, len(out.Columns))
		row = append(row, keys[ki]...)
		for s := range statPos {
			for _, mi := range metOrder {
				if stats, ok := cells[[2]int{ki, mi}]; ok {
					row = append(row, stats[s])
				} else {
					row = append(row, nil)
				}
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// RenameMetrics replaces the metric level of two-level columns through the
// rename map. Unmapped metrics keep their name.
func RenameMetrics(t *table.Table, rename map[string]string) {
	for i, k := range t.Keys {
		if k.IsZero() {
			continue
		}
		if to, ok := rename[k.Metric]; ok {
			t.Keys[i].Metric = to
		}
	}
}

// FlattenColumns names every two-level column <metric>_<stat> and drops the
// hierarchy. Single-level columns are unchanged.
func FlattenColumns(t *table.Table) {
	for i, k := range t.Keys {
		if k.IsZero() {
			continue
		}
		t.Columns[i] = FlatName(k)
	}
	t.Keys = nil
}

// FlatName is the single-level name of a two-level column.
func FlatName(k table.ColumnKey) string {
	return k.Metric + "_" + k.Stat
}

func cell(row []any, i int) any {
	if i < len(row) {
		return row[i]
	}
	return nil
}

func signature(vals []any) string {
	var b strings.Builder
	for _, v := range vals {
		// type prefix keeps 1 and "1" apart.
		fmt.Fprintf(&b, "%T:%s\x1f", v, table.FormatCell(v))
	}
	return b.String()
}
