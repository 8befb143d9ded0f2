// Package output writes derived tables as collection-style delimited files
// that the ingestion side (and downstream loaders) can read back.
package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/opdbt/opdbt/internal/reshape"
	"github.com/opdbt/opdbt/internal/schema"
	"github.com/opdbt/opdbt/internal/table"
)

// Store modes that produce a file.
const (
	StoreCSVOnly  = "CSV_ONLY"
	StoreBigQuery = "BIGQUERY"
)

// FilePrefix is the collection-type token of every file this package writes.
const FilePrefix = "opdbt"

// WriteRequest describes one output file.
type WriteRequest struct {
	Store     string
	Path      string
	Sep       string
	TableName string
	// Flatten renames and flattens two-level columns before writing.
	Flatten   bool
	RenameMap map[string]string
}

// Enabled reports whether a store mode produces a file.
func Enabled(store string) bool {
	switch strings.ToUpper(strings.TrimSpace(store)) {
	case StoreCSVOnly, StoreBigQuery:
		return true
	}
	return false
}

// FileName builds <dir>/opdbt__<table>__<collectionKey>. The table name is
// lower-cased.
func FileName(dir, tableName, collectionKey string) string {
	return filepath.Join(dir, FilePrefix+"__"+strings.ToLower(tableName)+"__"+collectionKey)
}

// Write writes t to req.Path when the store mode asks for a file. The file
// starts with a blank sentinel line, then the header and rows. The schema
// entry for the table is refreshed in AUTO mode on every write. It reports
// whether a file was written.
func Write(t *table.Table, req WriteRequest, schemas schema.Schemas) (bool, error) {
	if !Enabled(req.Store) {
		return false, nil
	}
	if t == nil {
		return false, fmt.Errorf("no table to write for %s", req.TableName)
	}

	comma, err := sepRune(req.Sep)
	if err != nil {
		return false, err
	}

	if err := os.MkdirAll(filepath.Dir(req.Path), 0o755); err != nil {
		return false, fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(req.Path, []byte("\n"), 0o644); err != nil {
		return false, fmt.Errorf("writing sentinel line: %w", err)
	}

	if req.Flatten && t.Hierarchical() {
		reshape.RenameMetrics(t, req.RenameMap)
		reshape.FlattenColumns(t)
	}
	if schemas != nil {
		schemas.Detect(schema.ModeAuto, req.TableName, t.Columns)
	}

	f, err := os.OpenFile(req.Path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", req.Path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = comma
	if err := w.Write(t.Columns); err != nil {
		return false, fmt.Errorf("writing header: %w", err)
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = table.FormatCell(row[i])
			}
		}
		if err := w.Write(record); err != nil {
			return false, fmt.Errorf("writing row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return false, fmt.Errorf("flushing %s: %w", req.Path, err)
	}
	return true, f.Close()
}

func sepRune(sep string) (rune, error) {
	if sep == "" {
		return ',', nil
	}
	r, size := utf8.DecodeRuneInString(sep)
	if size != len(sep) || r == '"' || r == '\n' || r == '\r' || r == utf8.RuneError {
		return 0, fmt.Errorf("invalid separator %q", sep)
	}
	return r, nil
}
