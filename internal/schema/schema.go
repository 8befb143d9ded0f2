// Package schema records the column names and warehouse types of every table
// a run loads or produces. Entries are keyed by lower-cased table name and
// serialize as {"table": [["COL", "STRING"], ...]}.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultType is the warehouse type assigned by detection.
const DefaultType = "STRING"

// Mode selects how detection treats existing entries.
type Mode string

const (
	ModeAuto    Mode = "AUTO"
	ModeFillGap Mode = "FILLGAP"
	ModeOff     Mode = "OFF"
)

// ParseMode normalizes a configured detection mode. Unknown values disable
// detection.
func ParseMode(s string) Mode {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(ModeAuto):
		return ModeAuto
	case string(ModeFillGap), "FILL-GAP", "FILL_GAP":
		return ModeFillGap
	default:
		return ModeOff
	}
}

// Column is a (name, type) pair.
type Column struct {
	Name string
	Type string
}

// MarshalJSON encodes the column as a two-element array.
func (c Column) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{c.Name, c.Type})
}

// UnmarshalJSON decodes a two-element array.
func (c *Column) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("schema column: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("schema column: expected [name, type], got %d elements", len(pair))
	}
	c.Name, c.Type = pair[0], pair[1]
	return nil
}

// Schemas maps lower-cased table names to ordered columns.
type Schemas map[string][]Column

// Key normalizes a table name.
func Key(table string) string {
	return strings.ToLower(strings.TrimSpace(table))
}

// Get returns the entry for a table.
func (s Schemas) Get(table string) ([]Column, bool) {
	cols, ok := s[Key(table)]
	return cols, ok && len(cols) > 0
}

// Headers returns the column names recorded for a table, or nil.
func (s Schemas) Headers(table string) []string {
	cols, ok := s.Get(table)
	if !ok {
		return nil
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// Detect records the columns of a table according to mode. AUTO always
// replaces the entry; FILLGAP only adds missing entries. It reports whether
// the entry was written.
func (s Schemas) Detect(mode Mode, table string, columns []string) bool {
	key := Key(table)
	switch mode {
	case ModeAuto:
		s[key] = typed(columns)
		return true
	case ModeFillGap:
		if _, ok := s.Get(key); ok {
			return false
		}
		s[key] = typed(columns)
		return true
	default:
		return false
	}
}

// Tables returns the recorded table names, sorted.
func (s Schemas) Tables() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func typed(columns []string) []Column {
	cleaned := CleanHeaders(columns)
	out := make([]Column, len(cleaned))
	for i, c := range cleaned {
		out[i] = Column{Name: c, Type: DefaultType}
	}
	return out
}

// Load reads a schema map from a JSON file. A missing file yields an empty map.
func Load(path string) (Schemas, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Schemas{}, nil
		}
		return nil, fmt.Errorf("reading schema file: %w", err)
	}

	raw := map[string][]Column{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing schema file: %w", err)
	}

	s := make(Schemas, len(raw))
	for k, v := range raw {
		s[Key(k)] = v
	}
	return s, nil
}

// Save writes the schema map as indented JSON.
func (s Schemas) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating schema directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling schema: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}
