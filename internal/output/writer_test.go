package output

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opdbt/opdbt/internal/ingest"
	"github.com/opdbt/opdbt/internal/schema"
	"github.com/opdbt/opdbt/internal/table"
)

func sample() *table.Table {
	t := table.New("EMP", []string{"ID", "NAME", "SAL"})
	t.AppendRow([]any{1.0, "ann", 100.5})
	t.AppendRow([]any{2.0, nil, 200.0})
	return t
}

func TestWriteSkipsOtherStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out")
	for _, store := range []string{"", "NONE", "DATAFRAME"} {
		written, err := Write(sample(), WriteRequest{Store: store, Path: path, Sep: "|"}, schema.Schemas{})
		if err != nil || written {
			t.Errorf("store %q: written=%v err=%v", store, written, err)
		}
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("no file should have been created")
	}
}

func TestWriteLayout(t *testing.T) {
	dir := t.TempDir()
	path := FileName(dir, "EMP_X", "key1")
	if filepath.Base(path) != "opdbt__emp_x__key1" {
		t.Fatalf("file name = %s", filepath.Base(path))
	}

	schemas := schema.Schemas{"emp_x": {{Name: "OLD", Type: "STRING"}}}
	written, err := Write(sample(), WriteRequest{Store: "CSV_ONLY", Path: path, Sep: "|", TableName: "emp_x"}, schemas)
	if err != nil || !written {
		t.Fatalf("written=%v err=%v", written, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "\nID|NAME|SAL\n1|ann|100.5\n2||200\n"
	if string(data) != want {
		t.Errorf("content = %q, want %q", data, want)
	}

	if got := schemas.Headers("emp_x"); len(got) != 3 || got[0] != "ID" {
		t.Errorf("schema not refreshed: %v", got)
	}
}

func TestWriteFlattensHierarchicalColumns(t *testing.T) {
	wide := &table.Table{
		Name:    "T",
		Columns: []string{"DBID", "P90", "P90"},
		Keys:    []table.ColumnKey{{}, {Stat: "P90", Metric: "Active Sessions"}, {Stat: "P90", Metric: "Reads"}},
		Rows:    [][]any{{1.0, 2.0, 3.0}},
	}
	path := filepath.Join(t.TempDir(), "opdbt__t_rs__k")
	_, err := Write(wide, WriteRequest{
		Store:     "BIGQUERY",
		Path:      path,
		Sep:       ",",
		TableName: "t_rs",
		Flatten:   true,
		RenameMap: map[string]string{"Active Sessions": "AAS"},
	}, schema.Schemas{})
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "\nDBID,AAS_P90,Reads_P90\n1,2,3\n" {
		t.Errorf("content = %q", data)
	}
}

func TestWrittenFileReadsBack(t *testing.T) {
	dir := t.TempDir()
	path := FileName(dir, "emp", "k")
	if _, err := Write(sample(), WriteRequest{Store: "CSV_ONLY", Path: path, Sep: "|", TableName: "emp"}, nil); err != nil {
		t.Fatal(err)
	}
	if err := ingest.ValidateFile(path, "|"); err != nil {
		t.Fatalf("written file fails validation: %v", err)
	}
	got, err := ingest.ReadTable(path, "EMP", ingest.ReadOptions{Sep: "|", SkipLines: 1})
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != 2 || got.Rows[0][2] != 100.5 {
		t.Errorf("read back %v", got.Rows)
	}
}
