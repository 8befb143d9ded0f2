package registry

import (
	"testing"

	"github.com/opdbt/opdbt/internal/table"
)

func TestGetIsCaseInsensitive(t *testing.T) {
	r := New()
	emp := table.New("Emp", []string{"ID"})
	r.Set("Emp", emp)

	got, ok := r.Get("EMP")
	if !ok {
		t.Fatal("expected EMP to be found")
	}
	if got != emp {
		t.Error("expected the same table instance")
	}

	if _, ok := r.Get("emp"); !ok {
		t.Error("expected lower-case lookup to succeed")
	}
}

func TestGetRawDoesNotNormalize(t *testing.T) {
	r := New()
	r.Set("awrhistosstat", table.New("awrhistosstat", nil))

	if _, ok := r.GetRaw("awrhistosstat"); ok {
		t.Error("raw lookup of a lower-case name should miss")
	}
	if _, ok := r.GetRaw("AWRHISTOSSTAT"); !ok {
		t.Error("raw lookup of the normalized key should hit")
	}
}

func TestConcatAppendsOrSets(t *testing.T) {
	r := New()

	first := table.New("T", []string{"A"})
	first.AppendRow([]any{"1"})
	got := r.Concat("t", first)
	if got != first {
		t.Error("concat into an empty slot should store the table as-is")
	}

	second := table.New("T", []string{"A"})
	second.AppendRow([]any{"2"})
	r.Concat("T", second)

	stored, _ := r.Get("T")
	if stored.Len() != 2 {
		t.Errorf("expected 2 rows after concat, got %d", stored.Len())
	}
}

func TestSetReplacesAndDelete(t *testing.T) {
	r := New()
	r.Set("a", table.New("a", nil))
	replacement := table.New("a2", nil)
	r.Set("A", replacement)

	if r.Len() != 1 {
		t.Fatalf("expected one table, got %d", r.Len())
	}
	got, _ := r.Get("a")
	if got != replacement {
		t.Error("expected replacement table")
	}

	r.Delete("A")
	if r.Len() != 0 {
		t.Error("expected table deleted")
	}
}

func TestNamesSorted(t *testing.T) {
	r := New()
	r.Set("zeta", table.New("zeta", nil))
	r.Set("alpha", table.New("alpha", nil))

	names := r.Names()
	if len(names) != 2 || names[0] != "ALPHA" || names[1] != "ZETA" {
		t.Errorf("unexpected names %v", names)
	}
}
