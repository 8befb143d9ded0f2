package schema

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetectAutoOverwrites(t *testing.T) {
	s := Schemas{"emp": {{Name: "OLD", Type: "INTEGER"}}}

	if !s.Detect(ModeAuto, "EMP", []string{"ID", "NAME"}) {
		t.Fatal("AUTO should always write")
	}
	cols := s["emp"]
	if len(cols) != 2 || cols[0].Name != "ID" || cols[1].Type != DefaultType {
		t.Errorf("unexpected entry %v", cols)
	}
}

func TestDetectFillGapKeepsExisting(t *testing.T) {
	s := Schemas{"emp": {{Name: "OLD", Type: "INTEGER"}}}

	if s.Detect(ModeFillGap, "Emp", []string{"ID"}) {
		t.Error("FILLGAP should not overwrite an existing entry")
	}
	if s["emp"][0].Name != "OLD" {
		t.Errorf("existing entry changed: %v", s["emp"])
	}

	if !s.Detect(ModeFillGap, "dept", []string{"DEPTNO"}) {
		t.Error("FILLGAP should add a missing entry")
	}
	if len(s["dept"]) != 1 {
		t.Errorf("expected dept entry, got %v", s["dept"])
	}
}

func TestDetectOffIsNoop(t *testing.T) {
	s := Schemas{}
	if s.Detect(ParseMode("nope"), "emp", []string{"ID"}) {
		t.Error("unknown mode should not write")
	}
	if len(s) != 0 {
		t.Errorf("expected empty map, got %v", s)
	}
}

func TestParseMode(t *testing.T) {
	tests := map[string]Mode{
		"auto":    ModeAuto,
		"FILLGAP": ModeFillGap,
		"fillgap": ModeFillGap,
		"":        ModeOff,
		"off":     ModeOff,
	}
	for in, want := range tests {
		if got := ParseMode(in); got != want {
			t.Errorf("ParseMode(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestHeaders(t *testing.T) {
	s := Schemas{"emp": {{Name: "id", Type: "STRING"}, {Name: "name", Type: "STRING"}}}
	h := s.Headers("EMP")
	if len(h) != 2 || h[0] != "id" {
		t.Errorf("unexpected headers %v", h)
	}
	if s.Headers("missing") != nil {
		t.Error("expected nil headers for missing table")
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.json")
	s := Schemas{"emp": {{Name: "ID", Type: "STRING"}}}

	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded["emp"]) != 1 || loaded["emp"][0].Name != "ID" {
		t.Errorf("round trip lost data: %v", loaded)
	}
}

func TestLoadNormalizesKeysAndRejectsBadPairs(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.json")
	if err := os.WriteFile(good, []byte(`{"AWRHISTOSSTAT": [["DBID", "INTEGER"]]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(good)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := s.Get("awrhistosstat"); !ok {
		t.Errorf("expected lower-cased key, got %v", s.Tables())
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"t": [["ONLY_NAME"]]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Error("expected error for single-element column pair")
	}
}

func TestLoadMissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "none.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s) != 0 {
		t.Error("expected empty map")
	}
}
