package schema

import "testing"

func TestCleanHeaderArtifacts(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"quote concatenation marker", `'DBID'||','||'HOUR'`, "DBID,HOUR"},
		{"brackets", "[METRIC]", "METRIC"},
		{"single quotes", "'PERC90'", "PERC90"},
		{"double quotes", `"PERC95"`, "PERC95"},
		{"embedded spaces", "CON ID", "CONID"},
		{"clean header", "DBID", "DBID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanHeader(tt.in); got != tt.want {
				t.Errorf("CleanHeader(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCleanHeadersResplits(t *testing.T) {
	got := CleanHeaders([]string{`'PKEY'||','||'DBID'`, " HOUR "})
	want := []string{"PKEY", "DBID", "HOUR"}
	if len(got) != len(want) {
		t.Fatalf("CleanHeaders = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("CleanHeaders[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCleanHeadersKeepsEmptyPositions(t *testing.T) {
	got := CleanHeaders([]string{"ID", "''", " ", "[SAL]"})
	want := []string{"ID", "COLUMN_2", "COLUMN_3", "SAL"}
	if len(got) != len(want) {
		t.Fatalf("CleanHeaders = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("CleanHeaders[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
