package ingest

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/opdbt/opdbt/internal/schema"
	"github.com/opdbt/opdbt/internal/table"
)

// MissingToken is the literal the collection scripts emit for unavailable values.
const MissingToken = "n/a"

// defaultMissing mirrors the usual tabular-library defaults for missing values.
var defaultMissing = map[string]bool{
	"":         true,
	"n/a":      true,
	"#N/A":     true,
	"#N/A N/A": true,
	"#NA":      true,
	"-1.#IND":  true,
	"-1.#QNAN": true,
	"-NaN":     true,
	"-nan":     true,
	"1.#IND":   true,
	"1.#QNAN":  true,
	"<NA>":     true,
	"N/A":      true,
	"NA":       true,
	"NULL":     true,
	"NaN":      true,
	"None":     true,
	"nan":      true,
	"null":     true,
}

// ErrColumnMismatch is returned when a row is wider than the header.
var ErrColumnMismatch = errors.New("row has more fields than header")

// ReadOptions controls how a delimited file is read.
type ReadOptions struct {
	Sep string
	// SkipLines is the number of physical lines before the header row.
	SkipLines int
	// Headers, when set, replaces the file's header row, which is read and
	// discarded.
	Headers []string
}

// Separator returns the effective separator for a file. Configuration
// exports are always comma-delimited.
func Separator(path, configured string) string {
	if strings.Contains(path, "opConfig") || configured == "" {
		return ","
	}
	return configured
}

// ReadTable reads a delimited file into a table named name.
func ReadTable(path, name string, opts ReadOptions) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	r, err := newCSVReader(f, opts.Sep, opts.SkipLines)
	if err != nil {
		return nil, err
	}

	// The csv reader drops the blank sentinel line, so the first record is
	// the file's header whether or not the sentinel was skipped above.
	fileHeaders, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%s: no header row", path)
		}
		return nil, fmt.Errorf("reading header of %s: %w", path, err)
	}
	headers := opts.Headers
	if len(headers) == 0 {
		headers = fileHeaders
	}

	t := table.New(name, headers)
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		line++
		if len(rec) > len(headers) {
			return nil, fmt.Errorf("%s data row %d: %w (expected %d, saw %d)", path, line, ErrColumnMismatch, len(headers), len(rec))
		}
		row := make([]any, len(headers))
		for i, v := range rec {
			if !utf8.ValidString(v) {
				return nil, fmt.Errorf("%s data row %d: invalid UTF-8", path, line)
			}
			if !defaultMissing[v] {
				row[i] = v
			}
		}
		t.Rows = append(t.Rows, row)
	}

	table.InferTypes(t)
	return t, nil
}

// LoadTable reads a collected file. When the schema map has an entry for the
// table its column names (upper-cased) replace the file header; if that read
// fails the file's own header is used after cleaning.
func LoadTable(path, name string, sep string, skipLines int, schemas schema.Schemas) (*table.Table, error) {
	opts := ReadOptions{Sep: sep, SkipLines: skipLines}

	headers := schemas.Headers(name)
	if len(headers) == 0 {
		return ReadTable(path, strings.ToUpper(name), opts)
	}

	upper := make([]string, len(headers))
	for i, h := range headers {
		upper[i] = strings.ToUpper(h)
	}
	opts.Headers = upper

	t, err := ReadTable(path, strings.ToUpper(name), opts)
	if err == nil {
		return t, nil
	}

	opts.Headers = nil
	t, ferr := ReadTable(path, strings.ToUpper(name), opts)
	if ferr != nil {
		return nil, fmt.Errorf("reading with schema headers: %v; reading with file header: %w", err, ferr)
	}
	cleaned := schema.CleanHeaders(t.Columns)
	if len(cleaned) != len(t.Columns) {
		return nil, fmt.Errorf("%s: cleaned header has %d columns, data has %d", path, len(cleaned), len(t.Columns))
	}
	t.Columns = cleaned
	return t, nil
}

// newCSVReader skips the first skip physical lines and returns a reader over
// the rest.
func newCSVReader(r io.Reader, sep string, skip int) (*csv.Reader, error) {
	comma, err := separatorRune(sep)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(r)
	for i := 0; i < skip; i++ {
		if _, err := br.ReadString('\n'); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("skipping line %d: %w", i+1, err)
		}
	}

	cr := csv.NewReader(br)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	return cr, nil
}

func separatorRune(sep string) (rune, error) {
	if sep == "" {
		return ',', nil
	}
	r, size := utf8.DecodeRuneInString(sep)
	if size != len(sep) || r == utf8.RuneError || r == '"' || r == '\n' || r == '\r' {
		return 0, fmt.Errorf("invalid separator %q: must be a single character", sep)
	}
	return r, nil
}
