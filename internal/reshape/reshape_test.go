package reshape

import (
	"errors"
	"testing"

	"github.com/opdbt/opdbt/internal/table"
)

func longTable() *table.Table {
	t := table.New("AWRHISTOSSTAT", []string{"DB", "HOUR", "METRIC", "P90"})
	t.AppendRow([]any{1.0, 0.0, "Active Sessions", 20.0})
	t.AppendRow([]any{1.0, 1.0, "Active Sessions", 18.0})
	t.AppendRow([]any{1.0, 0.0, "Physical Reads", 1405.0})
	t.AppendRow([]any{1.0, 1.0, "Physical Reads", 1589.0})
	return t
}

func TestReshapeScenario(t *testing.T) {
	cfg := Config{
		IndexColumns: []string{"DB", "HOUR"},
		TargetColumn: "METRIC",
		StatsColumns: []string{"P90"},
		Rename:       map[string]string{"Active Sessions": "AAS"},
	}

	got, err := Reshape(longTable(), cfg)
	if err != nil {
		t.Fatalf("Reshape: %v", err)
	}

	wantCols := []string{"DB", "HOUR", "AAS_P90", "Physical Reads_P90"}
	if len(got.Columns) != len(wantCols) {
		t.Fatalf("columns = %v", got.Columns)
	}
	for i, c := range wantCols {
		if got.Columns[i] != c {
			t.Errorf("column %d = %q, want %q", i, got.Columns[i], c)
		}
	}
	if got.Hierarchical() {
		t.Error("result should be flat")
	}

	want := [][]any{
		{1.0, 0.0, 20.0, 1405.0},
		{1.0, 1.0, 18.0, 1589.0},
	}
	if got.Len() != len(want) {
		t.Fatalf("rows = %v", got.Rows)
	}
	for i := range want {
		for j := range want[i] {
			if got.Rows[i][j] != want[i][j] {
				t.Errorf("row %d col %d = %v, want %v", i, j, got.Rows[i][j], want[i][j])
			}
		}
	}
}

func TestReshapeEmptyReturnsSameTable(t *testing.T) {
	empty := table.New("T", []string{"A", "B"})
	got, err := Reshape(empty, Config{TargetColumn: "A", StatsColumns: []string{"B"}})
	if err != nil {
		t.Fatal(err)
	}
	if got != empty {
		t.Error("expected the same instance")
	}
	if len(got.Columns) != 2 || got.Columns[0] != "A" {
		t.Errorf("columns mutated: %v", got.Columns)
	}
}

func TestReshapeFilterRows(t *testing.T) {
	cfg := Config{
		IndexColumns: []string{"DB", "HOUR"},
		TargetColumn: "METRIC",
		StatsColumns: []string{"P90"},
		Rename:       map[string]string{"Active Sessions": "AAS"},
		FilterRows:   true,
	}
	got, err := Reshape(longTable(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Columns) != 3 || got.Columns[2] != "AAS_P90" {
		t.Errorf("columns = %v", got.Columns)
	}
}

func TestReshapeFilterToEmpty(t *testing.T) {
	cfg := Config{
		IndexColumns: []string{"DB", "HOUR"},
		TargetColumn: "METRIC",
		StatsColumns: []string{"P90"},
		Rename:       map[string]string{"Nothing": "N"},
		FilterRows:   true,
	}
	got, err := Reshape(longTable(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != 0 {
		t.Errorf("expected empty result, got %d rows", got.Len())
	}
}

func TestReshapeDuplicateEntry(t *testing.T) {
	src := longTable()
	src.AppendRow([]any{1.0, 0.0, "Active Sessions", 99.0})

	_, err := Reshape(src, Config{
		IndexColumns: []string{"DB", "HOUR"},
		TargetColumn: "METRIC",
		StatsColumns: []string{"P90"},
	})
	if !errors.Is(err, ErrDuplicateEntry) {
		t.Errorf("expected ErrDuplicateEntry, got %v", err)
	}
}

func TestPivotMissingCombinationIsNull(t *testing.T) {
	src := table.New("T", []string{"K", "M", "V"})
	src.AppendRow([]any{"a", "x", 1.0})
	src.AppendRow([]any{"b", "y", 2.0})

	got, err := Pivot(src, Config{IndexColumns: []string{"K"}, TargetColumn: "M", StatsColumns: []string{"V"}})
	if err != nil {
		t.Fatal(err)
	}
	if got.Rows[0][2] != nil || got.Rows[1][1] != nil {
		t.Errorf("expected nulls for missing combinations, got %v", got.Rows)
	}
	if !got.Hierarchical() {
		t.Error("pivot result should carry two-level keys")
	}
}

func TestStatMajorColumnOrder(t *testing.T) {
	src := table.New("T", []string{"K", "M", "AVG", "MAX"})
	src.AppendRow([]any{"a", "x", 1.0, 2.0})
	src.AppendRow([]any{"a", "y", 3.0, 4.0})

	got, err := Reshape(src, Config{IndexColumns: []string{"K"}, TargetColumn: "M", StatsColumns: []string{"AVG", "MAX"}})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"K", "x_AVG", "y_AVG", "x_MAX", "y_MAX"}
	for i, c := range want {
		if got.Columns[i] != c {
			t.Errorf("column %d = %q, want %q", i, got.Columns[i], c)
		}
	}
	if got.Rows[0][3] != 2.0 {
		t.Errorf("x_MAX = %v", got.Rows[0][3])
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(map[string]any{
		"INDEX_COLUMNS":           "DBID, HOUR",
		"TARGET_COLUMN":           "METRIC_NAME",
		"TARGET_STATS_COLUMNS":    []any{"PERC90", "PERC95"},
		"from_to_rows_to_columns": map[string]any{"Average Active Sessions": "AAS"},
		"filterrows":              "yes",
		"store":                   "CSV_ONLY",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.IndexColumns) != 2 || cfg.IndexColumns[1] != "HOUR" {
		t.Errorf("index columns = %v", cfg.IndexColumns)
	}
	if !cfg.FilterRows || cfg.Store != "CSV_ONLY" || cfg.Rename["Average Active Sessions"] != "AAS" {
		t.Errorf("unexpected config %+v", cfg)
	}

	if _, err := ParseConfig(map[string]any{"TARGET_STATS_COLUMNS": "P90"}); err == nil {
		t.Error("expected error without TARGET_COLUMN")
	}
}
