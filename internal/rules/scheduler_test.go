package rules

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opdbt/opdbt/internal/registry"
	"github.com/opdbt/opdbt/internal/table"
	"github.com/opdbt/opdbt/internal/views"
)

func rule(id string, priority int, a Action) *Rule {
	return &Rule{
		ID:             id,
		Priority:       flexInt(priority),
		Status:         StatusEnabled,
		ExecutionGroup: "1",
		Action:         a,
	}
}

func testRun(t *testing.T) (*Scheduler, *RunContext) {
	t.Helper()
	reg := registry.New()
	emp := table.New("EMP", []string{"ID", "SAL", "BONUS"})
	emp.AppendRow([]any{1.0, 100.0, 10.0})
	emp.AppendRow([]any{2.0, 200.0, nil})
	reg.Set("EMP", emp)

	s := &Scheduler{
		OutputDir:     t.TempDir(),
		Sep:           "|",
		CollectionKey: "host_db_230101.log",
		ProjectID:     "proj",
		DatasetID:     "ds",
	}
	return s, NewRunContext(reg, nil)
}

func run(s *Scheduler, rc *RunContext, rs RuleSet) *Outcome {
	return s.Run(context.Background(), RunRequest{
		Group:  "1",
		Rules:  rs,
		Params: Params{DBVersion: "19.3.0", CollectionVersion: "2.0.5"},
	}, rc)
}

func TestGates(t *testing.T) {
	s, rc := testRun(t)

	disabled := rule("disabled", 1, CreateVariable{Datatype: "STRING", Value: json.RawMessage(`"x"`), Varname: "a"})
	disabled.Status = StatusDisabled

	otherGroup := rule("group", 2, CreateVariable{Datatype: "STRING", Value: json.RawMessage(`"x"`), Varname: "b"})
	otherGroup.ExecutionGroup = "2"

	oldDB := rule("dbversion", 3, CreateVariable{Datatype: "STRING", Value: json.RawMessage(`"x"`), Varname: "c"})
	oldDB.MinDBVersion, oldDB.MaxDBVersion = "11.2", "12.2"

	inRange := rule("inrange", 4, CreateVariable{Datatype: "STRING", Value: json.RawMessage(`"x"`), Varname: "d"})
	inRange.MinDBVersion, inRange.MaxDBVersion = "18.0", "21.0"

	script := rule("script", 5, CreateVariable{Datatype: "STRING", Value: json.RawMessage(`"x"`), Varname: "e"})
	script.MinSQLScriptVersion, script.MaxSQLScriptVersion = "3.0.0", "4.0.0"

	out := run(s, rc, RuleSet{
		"disabled": disabled, "group": otherGroup, "dbversion": oldDB,
		"inrange": inRange, "script": script,
	})

	want := map[string]string{
		"disabled":  ReasonDisabled,
		"group":     ReasonGroup,
		"dbversion": ReasonDBVersion,
		"script":    ReasonScriptVersion,
	}
	for id, reason := range want {
		r := out.Results[id]
		if r.Status != Skipped || r.Reason != reason {
			t.Errorf("%s = %+v, want SKIPPED %q", id, r, reason)
		}
	}
	if out.Results["inrange"].Status != Executed {
		t.Errorf("inrange = %+v", out.Results["inrange"])
	}
	if _, ok := rc.Vars["a"]; ok {
		t.Error("disabled rule bound a variable")
	}
}

func TestGroupMatchIgnoresCase(t *testing.T) {
	s, rc := testRun(t)
	r := rule("r", 1, CreateVariable{Datatype: "STRING", Value: json.RawMessage(`"x"`), Varname: "v"})
	r.ExecutionGroup = "Final"

	out := s.Run(context.Background(), RunRequest{Group: "FINAL", Rules: RuleSet{"r": r}}, rc)
	if out.Results["r"].Status != Executed {
		t.Errorf("result = %+v", out.Results["r"])
	}
}

func TestAlreadyExecutedDropped(t *testing.T) {
	s, rc := testRun(t)
	rs := RuleSet{"r": rule("r", 1, CreateVariable{Datatype: "STRING", Value: json.RawMessage(`"x"`), Varname: "v"})}

	out := s.Run(context.Background(), RunRequest{
		Group:           "1",
		Rules:           rs,
		AlreadyExecuted: map[string]bool{"r": true},
	}, rc)
	if _, ok := out.Results["r"]; ok {
		t.Errorf("already executed rule has a result: %+v", out.Results["r"])
	}
	if _, ok := rc.Vars["v"]; ok {
		t.Error("already executed rule ran again")
	}
}

func TestPriorityOrder(t *testing.T) {
	s, rc := testRun(t)
	rs := RuleSet{
		"b": rule("b", 2, AddOrUpdateColumn{DataframeName: "EMP", ColumnName: "scaled", Expr: "EMP.SAL * factor"}),
		"a": rule("a", 1, CreateVariable{Datatype: "NUMBER", Value: json.RawMessage(`"3"`), Varname: "factor"}),
		"c": rule("c", 2, AddOrUpdateColumn{DataframeName: "EMP", ColumnName: "again", Expr: "EMP.SCALED + 1"}),
	}
	out := run(s, rc, rs)

	if got := strings.Join(out.Order, ","); got != "a,b,c" {
		t.Errorf("order = %s", got)
	}
	if got := strings.Join(out.Executed(), ","); got != "a,b,c" {
		t.Errorf("executed = %s", got)
	}
	emp, _ := rc.Registry.Get("EMP")
	col, err := emp.Column("AGAIN")
	if err != nil {
		t.Fatal(err)
	}
	if col[0] != 301.0 || col[1] != 601.0 {
		t.Errorf("AGAIN = %v", col)
	}
}

func TestSingleRule(t *testing.T) {
	s, rc := testRun(t)
	rs := RuleSet{
		"a": rule("a", 1, CreateVariable{Datatype: "STRING", Value: json.RawMessage(`"x"`), Varname: "a"}),
		"b": rule("b", 2, CreateVariable{Datatype: "STRING", Value: json.RawMessage(`"y"`), Varname: "b"}),
	}
	out := s.Run(context.Background(), RunRequest{Group: "1", Rules: rs, SingleRule: "b"}, rc)
	if len(out.Results) != 1 || out.Results["b"].Status != Executed {
		t.Errorf("results = %+v", out.Results)
	}
	if _, ok := rc.Vars["a"]; ok {
		t.Error("rule a should not run")
	}

	out = s.Run(context.Background(), RunRequest{Group: "1", Rules: rs, SingleRule: "zz"}, rc)
	if out.Results["zz"].Status != Skipped {
		t.Errorf("undefined single rule = %+v", out.Results["zz"])
	}
}

func TestCreateVariable(t *testing.T) {
	tests := []struct {
		name     string
		datatype string
		value    string
		want     Status
		check    func(t *testing.T, v any)
	}{
		{"dictionary string", "DICTIONARY", `"{\"INDEX_COLUMNS\": \"DBID,HOUR\"}"`, Executed, func(t *testing.T, v any) {
			m, ok := v.(map[string]any)
			if !ok || m["INDEX_COLUMNS"] != "DBID,HOUR" {
				t.Errorf("value = %#v", v)
			}
		}},
		{"dictionary object", "dictionary", `{"a": 1}`, Executed, func(t *testing.T, v any) {
			m, ok := v.(map[string]any)
			if !ok || m["a"] != 1.0 {
				t.Errorf("value = %#v", v)
			}
		}},
		{"list", "LIST", `"a, b,c"`, Executed, func(t *testing.T, v any) {
			l, ok := v.([]any)
			if !ok || len(l) != 3 || l[1] != " b" {
				t.Errorf("value = %#v", v)
			}
		}},
		{"string", "STRING", `"hello"`, Executed, func(t *testing.T, v any) {
			if v != "hello" {
				t.Errorf("value = %#v", v)
			}
		}},
		{"number", "NUMBER", `"12.5"`, Executed, func(t *testing.T, v any) {
			if v != 12.5 {
				t.Errorf("value = %#v", v)
			}
		}},
		{"raw number", "NUMBER", `7`, Executed, func(t *testing.T, v any) {
			if v != 7.0 {
				t.Errorf("value = %#v", v)
			}
		}},
		{"bad number", "NUMBER", `"abc"`, Failed, nil},
		{"bad dictionary", "DICTIONARY", `"{not json"`, Failed, nil},
		{"unknown type", "DATE", `"2020"`, Failed, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, rc := testRun(t)
			rc.Vars["v"] = "previous"
			out := run(s, rc, RuleSet{"r": rule("r", 1, CreateVariable{Datatype: tt.datatype, Value: json.RawMessage(tt.value), Varname: "v"})})

			res := out.Results["r"]
			if res.Status != tt.want {
				t.Fatalf("status = %s (%s), want %s", res.Status, res.Reason, tt.want)
			}
			v, bound := rc.Vars["v"]
			if !bound {
				t.Fatal("variable not bound")
			}
			if tt.want == Failed {
				if v != nil {
					t.Errorf("failed variable = %#v, want nil", v)
				}
				return
			}
			tt.check(t, v)
		})
	}
}

func TestAddOrUpdateColumnWritesOutput(t *testing.T) {
	s, rc := testRun(t)
	rs := RuleSet{"r": rule("r", 1, AddOrUpdateColumn{
		Type:                "NUMBER",
		DataframeName:       "emp",
		ColumnName:          "total",
		TargetDataframeName: "EMP_OUT",
		Expr:                "EMP.SAL + EMP.BONUS",
		IfError:             "0",
		Store:               "CSV_ONLY",
	})}
	out := run(s, rc, rs)

	res := out.Results["r"]
	if res.Status != Executed {
		t.Fatalf("result = %+v", res)
	}
	path := filepath.Join(s.OutputDir, "opdbt__emp_out__host_db_230101.log")
	if res.Value != path {
		t.Errorf("value = %v, want %s", res.Value, path)
	}
	if len(rc.Files) != 1 || rc.Files[0] != path {
		t.Errorf("files = %v", rc.Files)
	}

	emp, _ := rc.Registry.Get("EMP")
	target, ok := rc.Registry.Get("emp_out")
	if !ok || target != emp {
		t.Error("target table should be the updated EMP instance")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "\nID|SAL|BONUS|TOTAL\n1|100|10|110\n2|200||\n"
	if string(data) != want {
		t.Errorf("content = %q, want %q", data, want)
	}
	if _, ok := rc.Schemas.Get("emp_out"); !ok {
		t.Error("schema not recorded for written table")
	}
}

func TestAddOrUpdateColumnSkips(t *testing.T) {
	tests := []struct {
		name   string
		action AddOrUpdateColumn
		reason string
	}{
		{"guard false", AddOrUpdateColumn{DataframeName: "EMP", ColumnName: "X", IfCondition: "factor > 5", Expr: "1"}, "is false"},
		{"guard fault", AddOrUpdateColumn{DataframeName: "EMP", ColumnName: "X", IfCondition: "factor >", Expr: "1"}, "could not be evaluated"},
		{"missing table", AddOrUpdateColumn{DataframeName: "DEPT", ColumnName: "X", Expr: "1"}, "DEPT not found"},
		{"length mismatch", AddOrUpdateColumn{DataframeName: "EMP", ColumnName: "X", Expr: "names"}, "X"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, rc := testRun(t)
			rc.Vars["factor"] = 2.0
			rc.Vars["names"] = []any{"a", "b", "c"}

			out := run(s, rc, RuleSet{"r": rule("r", 1, tt.action)})
			res := out.Results["r"]
			if res.Status != Skipped {
				t.Fatalf("status = %s, want SKIPPED", res.Status)
			}
			if !strings.Contains(res.Reason, tt.reason) {
				t.Errorf("reason = %q, want it to contain %q", res.Reason, tt.reason)
			}
			emp, _ := rc.Registry.Get("EMP")
			if emp.HasColumn("X") {
				t.Error("column added despite skip")
			}
		})
	}
}

func TestAddOrUpdateColumnNullOnDoubleFault(t *testing.T) {
	s, rc := testRun(t)
	out := run(s, rc, RuleSet{"r": rule("r", 1, AddOrUpdateColumn{
		DataframeName: "EMP", ColumnName: "bad", Expr: "EMP.NOPE + 1", IfError: "EMP.ALSO_NOPE",
	})})
	if out.Results["r"].Status != Executed {
		t.Fatalf("result = %+v", out.Results["r"])
	}
	emp, _ := rc.Registry.Get("EMP")
	col, err := emp.Column("BAD")
	if err != nil {
		t.Fatal(err)
	}
	if col[0] != nil || col[1] != nil {
		t.Errorf("BAD = %v, want nulls", col)
	}
}

func TestCreateOrReplaceDataframe(t *testing.T) {
	s, rc := testRun(t)
	out := run(s, rc, RuleSet{
		"sel":  rule("sel", 1, CreateOrReplaceDataframe{DataframeName: "emp_ids", Expr: "select(EMP, 'ID')", Store: "BIGQUERY"}),
		"none": rule("none", 2, CreateOrReplaceDataframe{DataframeName: "nothing", Expr: "null"}),
		"bad":  rule("bad", 3, CreateOrReplaceDataframe{DataframeName: "bad", Expr: "select(DEPT, 'ID')"}),
		"num":  rule("num", 4, CreateOrReplaceDataframe{DataframeName: "num", Expr: "1 + 1"}),
	})

	if out.Results["sel"].Status != Executed {
		t.Fatalf("sel = %+v", out.Results["sel"])
	}
	ids, ok := rc.Registry.Get("EMP_IDS")
	if !ok || len(ids.Columns) != 1 || ids.Len() != 2 {
		t.Errorf("EMP_IDS = %+v", ids)
	}
	if len(rc.Files) != 1 {
		t.Errorf("files = %v", rc.Files)
	}

	for _, id := range []string{"none", "bad", "num"} {
		if out.Results[id].Status != Skipped {
			t.Errorf("%s = %+v, want SKIPPED", id, out.Results[id])
		}
	}
	if _, ok := rc.Registry.Get("nothing"); ok {
		t.Error("null result registered a table")
	}
}

func TestFreestyle(t *testing.T) {
	s, rc := testRun(t)
	out := run(s, rc, RuleSet{
		"assign": rule("assign", 1, FreestyleExec{Expr: "EMP.DOUBLE = EMP.SAL * 2", TargetDataframeName: "EMP", Store: "CSV_ONLY"}),
		"var":    rule("var", 2, FreestyleExec{Expr: "limit = 150"}),
		"bad":    rule("bad", 3, FreestyleExec{Expr: "EMP.X = DEPT.Y"}),
		"rescue": rule("rescue", 4, FreestyleExec{Expr: "EMP.Y = DEPT.Y", IfError: "EMP.Y = 0"}),
	})

	for _, id := range []string{"assign", "var", "rescue"} {
		if out.Results[id].Status != Executed {
			t.Errorf("%s = %+v", id, out.Results[id])
		}
	}
	if out.Results["bad"].Status != Skipped {
		t.Errorf("bad = %+v", out.Results["bad"])
	}

	emp, _ := rc.Registry.Get("EMP")
	col, _ := emp.Column("DOUBLE")
	if len(col) != 2 || col[1] != 400.0 {
		t.Errorf("DOUBLE = %v", col)
	}
	if rc.Vars["limit"] != 150.0 {
		t.Errorf("limit = %v", rc.Vars["limit"])
	}
	if len(rc.Files) != 1 || !strings.HasSuffix(rc.Files[0], "opdbt__emp__host_db_230101.log") {
		t.Errorf("files = %v", rc.Files)
	}
}

func TestCreateView(t *testing.T) {
	s, rc := testRun(t)
	mock := &views.MockCreator{}
	s.Views = mock

	out := run(s, rc, RuleSet{"v": rule("v", 1, CreateView{TargetObjectName: "v_emp", SQL: "SELECT * FROM emp"})})
	if out.Results["v"].Status != Executed {
		t.Fatalf("result = %+v", out.Results["v"])
	}
	if len(mock.Created) != 1 {
		t.Fatalf("created = %v", mock.Created)
	}
	got := mock.Created[0]
	if got.ProjectID != "proj" || got.DatasetID != "ds" || got.Name != "v_emp" || got.SQL != "SELECT * FROM emp" {
		t.Errorf("created = %+v", got)
	}

	mock.CreateErr = errors.New("permission denied")
	out = run(s, rc, RuleSet{"v": rule("v", 1, CreateView{TargetObjectName: "v_emp", SQL: "SELECT 1"})})
	if r := out.Results["v"]; r.Status != Failed || r.Reason != "permission denied" {
		t.Errorf("result = %+v", r)
	}

	s.Views = nil
	out = run(s, rc, RuleSet{"v": rule("v", 1, CreateView{TargetObjectName: "v_emp", SQL: "SELECT 1"})})
	if out.Results["v"].Status != Failed {
		t.Errorf("result = %+v", out.Results["v"])
	}
}

func TestUnsupportedAction(t *testing.T) {
	s, rc := testRun(t)
	out := run(s, rc, RuleSet{"u": rule("u", 1, UnsupportedAction{Type: "bigquery", Action: "load"})})
	r := out.Results["u"]
	if r.Status != Unsupported {
		t.Fatalf("status = %s", r.Status)
	}
	if !strings.Contains(r.Reason, "BIGQUERY") || !strings.Contains(r.Reason, ErrUnsupported.Error()) {
		t.Errorf("reason = %q", r.Reason)
	}
}
