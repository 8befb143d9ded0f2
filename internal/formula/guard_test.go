package formula

import (
	"errors"
	"testing"
)

func TestGuard(t *testing.T) {
	env := testEnv()
	env.Vars["skip_cdb"] = "N"

	tests := []struct {
		predicate string
		want      bool
	}{
		{`hasTable("emp")`, true},
		{`hasTable("dept")`, false},
		{`hasColumn("EMP", "sal")`, true},
		{`rows("EMP") > 2`, true},
		{`"NAME" in columns("EMP")`, true},
		{`factor == 2`, true},
		{`vars.skip_cdb != "Y"`, true},
		{`cfg.limit > 100 && factor < 1`, false},
	}
	for _, tt := range tests {
		t.Run(tt.predicate, func(t *testing.T) {
			got, err := env.Guard(tt.predicate)
			if err != nil {
				t.Fatalf("Guard: %v", err)
			}
			if got != tt.want {
				t.Errorf("Guard(%q) = %v, want %v", tt.predicate, got, tt.want)
			}
		})
	}
}

func TestGuardFaults(t *testing.T) {
	env := testEnv()
	for _, p := range []string{`factor + 1`, `hasTable(`, `rows(1, 2)`} {
		if _, err := env.Guard(p); !errors.Is(err, ErrGuard) {
			t.Errorf("Guard(%q): expected ErrGuard, got %v", p, err)
		}
	}
}
