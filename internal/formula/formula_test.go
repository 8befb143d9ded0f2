package formula

import (
	"errors"
	"testing"

	"github.com/opdbt/opdbt/internal/registry"
	"github.com/opdbt/opdbt/internal/table"
)

func testEnv() *Env {
	reg := registry.New()
	emp := table.New("EMP", []string{"ID", "NAME", "SAL", "BONUS"})
	emp.AppendRow([]any{1.0, "ann", 100.0, 10.0})
	emp.AppendRow([]any{2.0, "bob", 200.0, nil})
	emp.AppendRow([]any{3.0, " cy ", 0.0, 5.0})
	reg.Set("emp", emp)

	return NewEnv(reg, map[string]any{
		"factor": 2.0,
		"cfg":    map[string]any{"limit": 150.0, "name": "x"},
		"names":  []string{"ID", "SAL"},
	})
}

func TestParse(t *testing.T) {
	if got := Parse("a ; b; c "); got != "a b c " {
		t.Errorf("Parse = %q", got)
	}
	if got := Parse("x"); got != "x " {
		t.Errorf("Parse single = %q", got)
	}
}

func TestScalarExpressions(t *testing.T) {
	env := testEnv()
	tests := []struct {
		expr string
		want any
	}{
		{"1 + 2 * 3", 7.0},
		{"(1 + 2) * 3", 9.0},
		{"-factor + 1", -1.0},
		{"10 % 4", 2.0},
		{"1 / 0", nil},
		{"null + 1", nil},
		{"'a' + 'b'", "ab"},
		{"'10' * 2", 20.0},
		{"3 > 2 and 1 == 1", true},
		{"not true or false", false},
		{"null and false", false},
		{"null or true", true},
		{"'abc' < 'abd'", true},
		{"1 == 'x'", false},
		{"cfg.limit", 150.0},
		{"cfg['name']", "x"},
		{"names[1]", "SAL"},
		{"names[-1]", "SAL"},
		{"round(2.345, 2)", 2.34},
		{"abs(-3)", 3.0},
		{"sqrt(-1)", nil},
		{"max(1, 5, 3)", 5.0},
		{"coalesce(null, null, 4)", 4.0},
		{"upper('abc')", "ABC"},
		{"len('héllo')", 5.0},
		{"num('12.5')", 12.5},
		{"num('x')", nil},
		{"str(3)", "3"},
		{"True && !False", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := env.EvalString(tt.expr)
			if err != nil {
				t.Fatalf("EvalString(%q): %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("EvalString(%q) = %#v, want %#v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestColumnExpressions(t *testing.T) {
	env := testEnv()

	got, err := env.EvalString("EMP.SAL + EMP['BONUS']")
	if err != nil {
		t.Fatal(err)
	}
	col, ok := got.(Column)
	if !ok || len(col) != 3 {
		t.Fatalf("expected a 3-element column, got %#v", got)
	}
	if col[0] != 110.0 || col[1] != nil || col[2] != 5.0 {
		t.Errorf("column = %v", col)
	}

	got, err = env.EvalString("EMP.SAL / EMP.SAL")
	if err != nil {
		t.Fatal(err)
	}
	if got.(Column)[2] != nil {
		t.Errorf("division by zero should be null, got %v", got.(Column)[2])
	}

	got, err = env.EvalString("sum(emp.SAL) / count(emp.BONUS)")
	if err != nil {
		t.Fatal(err)
	}
	if got != 150.0 {
		t.Errorf("sum/count = %v", got)
	}

	got, err = env.EvalString("mean(EMP.BONUS)")
	if err != nil || got != 7.5 {
		t.Errorf("mean = %v, %v", got, err)
	}
}

func TestTableExpressions(t *testing.T) {
	env := testEnv()

	got, err := env.EvalString("EMP[EMP.SAL > cfg.limit]")
	if err != nil {
		t.Fatal(err)
	}
	filtered, ok := got.(*table.Table)
	if !ok || filtered.Len() != 1 {
		t.Fatalf("filter result = %#v", got)
	}

	got, err = env.EvalString("select(EMP, names)")
	if err != nil {
		t.Fatal(err)
	}
	if cols := got.(*table.Table).Columns; len(cols) != 2 || cols[1] != "SAL" {
		t.Errorf("select columns = %v", cols)
	}

	got, err = env.EvalString("rows(concat(EMP, table('emp')))")
	if err != nil || got != 6.0 {
		t.Errorf("rows(concat) = %v, %v", got, err)
	}

	got, err = env.EvalString("trim(EMP).NAME")
	if err != nil {
		t.Fatal(err)
	}
	if got.(Column)[2] != "cy" {
		t.Errorf("trim = %v", got)
	}
	orig, _ := env.Tables.Get("EMP")
	if orig.Rows[2][1] != " cy " {
		t.Error("trim() must not modify the registered table")
	}
}

func TestExecAssignments(t *testing.T) {
	env := testEnv()

	if _, err := env.Exec("EMP.TOTAL = EMP.SAL * factor"); err != nil {
		t.Fatal(err)
	}
	emp, _ := env.Tables.Get("EMP")
	total, err := emp.Column("TOTAL")
	if err != nil {
		t.Fatal(err)
	}
	if total[1] != 400.0 {
		t.Errorf("TOTAL = %v", total)
	}

	if _, err := env.Exec("EMP['FLAG'] = 'Y'"); err != nil {
		t.Fatal(err)
	}
	flag, _ := emp.Column("FLAG")
	if flag[0] != "Y" || flag[2] != "Y" {
		t.Errorf("broadcast assignment = %v", flag)
	}

	if _, err := env.Exec("RICH = EMP[EMP.SAL >= 200]"); err != nil {
		t.Fatal(err)
	}
	if rich, ok := env.Tables.Get("rich"); !ok || rich.Len() != 1 {
		t.Error("expected RICH table registered")
	}

	if _, err := env.Exec("threshold = 5 * 2"); err != nil {
		t.Fatal(err)
	}
	if env.Vars["threshold"] != 10.0 {
		t.Errorf("threshold = %v", env.Vars["threshold"])
	}

	if _, err := env.Exec("cfg.extra = 2"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Exec("cfg['LIMIT'] = 5"); err != nil {
		t.Fatal(err)
	}
	cfg := env.Vars["cfg"].(map[string]any)
	if cfg["extra"] != 2.0 || cfg["limit"] != 5.0 {
		t.Errorf("cfg = %v", cfg)
	}
	if _, ok := cfg["LIMIT"]; ok {
		t.Error("existing key should keep its spelling")
	}
	if got, err := env.EvalString("cfg.extra + cfg.limit"); err != nil || got != 7.0 {
		t.Errorf("read back = %v, %v", got, err)
	}

	env.Vars["nested"] = map[string]any{"inner": map[string]any{"a": 1}}
	if _, err := env.Exec("nested.inner.b = 'x'"); err != nil {
		t.Fatal(err)
	}
	inner := env.Vars["nested"].(map[string]any)["inner"].(map[string]any)
	if inner["b"] != "x" {
		t.Errorf("nested = %v", inner)
	}
}

func TestEvalStringRejectsAssignment(t *testing.T) {
	env := testEnv()
	if _, err := env.EvalString("x = 1"); err == nil {
		t.Error("expected assignment to be rejected in an expression")
	}
}

func TestEvaluateFallback(t *testing.T) {
	env := testEnv()

	if got := Evaluate("EMP.MISSING", "42", env); got != 42.0 {
		t.Errorf("fallback result = %v", got)
	}
	if got := Evaluate("nosuch + 1", "also_missing", env); got != nil {
		t.Errorf("double fault should be nil, got %v", got)
	}
	if got := Evaluate("1 +", "", env); got != nil {
		t.Errorf("syntax error without fallback should be nil, got %v", got)
	}
	if got := Evaluate("factor", "0", env); got != 2.0 {
		t.Errorf("primary result = %v", got)
	}
}

func TestUndefinedName(t *testing.T) {
	env := testEnv()
	_, err := env.EvalString("nosuch")
	if !errors.Is(err, ErrUndefined) {
		t.Errorf("expected ErrUndefined, got %v", err)
	}
}

func TestReshapeConfigSharesTableName(t *testing.T) {
	env := testEnv()
	stat := table.New("AWRHISTOSSTAT", []string{"METRIC_NAME", "PERC90"})
	stat.AppendRow([]any{"cpu", 40.0})
	env.Tables.Set("awrhistosstat", stat)
	env.Vars["AWRHISTOSSTAT"] = map[string]any{
		"TARGET_COLUMN": "METRIC_NAME",
		"VALUE_COLUMN":  "PERC90",
	}

	got, err := env.EvalString("AWRHISTOSSTAT.PERC90 * 2")
	if err != nil {
		t.Fatalf("column through config name: %v", err)
	}
	if col, ok := got.(Column); !ok || col[0] != 80.0 {
		t.Errorf("PERC90 * 2 = %v", got)
	}
	if got, err := env.EvalString("AWRHISTOSSTAT['METRIC_NAME']"); err != nil || got.(Column)[0] != "cpu" {
		t.Errorf("index = %v, %v", got, err)
	}
	if got, err := env.EvalString("AWRHISTOSSTAT.TARGET_COLUMN"); err != nil || got != "METRIC_NAME" {
		t.Errorf("config key = %v, %v", got, err)
	}

	if _, err := env.Exec("AWRHISTOSSTAT.PERC95 = AWRHISTOSSTAT.PERC90 + 1"); err != nil {
		t.Fatal(err)
	}
	if col, err := stat.Column("PERC95"); err != nil || col[0] != 41.0 {
		t.Errorf("PERC95 = %v, %v", col, err)
	}
	hot, err := env.EvalString("AWRHISTOSSTAT[AWRHISTOSSTAT.PERC90 > 30]")
	if tbl, ok := hot.(*table.Table); err != nil || !ok || tbl.Len() != 1 {
		t.Errorf("filter = %v, %v", hot, err)
	}
	if _, ok := env.Vars["AWRHISTOSSTAT"].(map[string]any)["PERC95"]; ok {
		t.Error("new column leaked into the config variable")
	}
}

func TestVariableWinsForBareName(t *testing.T) {
	env := testEnv()
	env.Vars["EMP"] = "shadow"
	got, err := env.EvalString("EMP")
	if err != nil || got != "shadow" {
		t.Errorf("EMP = %v, %v", got, err)
	}
}

func TestSyntaxErrors(t *testing.T) {
	for _, src := range []string{"", "1 +", "(1", "'open", "f(1", "1 = 2", "a.(b)", "x.y()", "@"} {
		if _, err := ParseFormula(src); err == nil {
			t.Errorf("ParseFormula(%q): expected error", src)
		}
	}
}

func TestPivotFunction(t *testing.T) {
	reg := registry.New()
	long := table.New("L", []string{"K", "M", "V"})
	long.AppendRow([]any{"a", "x", 1.0})
	long.AppendRow([]any{"a", "y", 2.0})
	reg.Set("L", long)

	env := NewEnv(reg, map[string]any{
		"L_CFG": map[string]any{
			"INDEX_COLUMNS":        []any{"K"},
			"TARGET_COLUMN":        "M",
			"TARGET_STATS_COLUMNS": []any{"V"},
		},
	})
	got, err := env.EvalString("pivot(L, L_CFG)")
	if err != nil {
		t.Fatal(err)
	}
	wide := got.(*table.Table)
	if len(wide.Columns) != 3 || wide.Columns[1] != "x_V" {
		t.Errorf("pivot columns = %v", wide.Columns)
	}
}

func TestFunctionsListed(t *testing.T) {
	names := Functions()
	if len(names) == 0 || names[0] != "abs" {
		t.Errorf("Functions() = %v", names)
	}
}
