package ingest

// validation.go rejects collected files that would load into misleading
// tables: empty spools, spools containing Oracle errors, and spools that
// still carry the SQL*Plus timing footer.

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"
)

// SampleRows is the number of data rows read when validating a file.
const SampleRows = 10

// Validation failure kinds. Use errors.Is against these.
var (
	ErrInvalidFile    = errors.New("invalid file")
	ErrEmptyFile      = errors.New("File seems to be Empty")
	ErrOraError       = errors.New("File has ORA-Errors")
	ErrElapsedFooter  = errors.New("File has Elapsed time message from Oracle, Please remove the message and reprocess")
	ErrImproperFormat = errors.New("File seems to be of improper format")
)

// InvalidFileError describes why a file was excluded from ingestion.
type InvalidFileError struct {
	Path   string
	Reason error
}

func (e *InvalidFileError) Error() string {
	if e.Reason == nil {
		return "invalid file"
	}
	return e.Reason.Error()
}

func (e *InvalidFileError) Unwrap() []error {
	return []error{ErrInvalidFile, e.Reason}
}

// ValidateFile checks the structural sanity of a collected file.
func ValidateFile(path, sep string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return invalid(path, fmt.Errorf("File has Errors - %w", err))
	}
	if !utf8.Valid(data) {
		return invalid(path, ErrImproperFormat)
	}

	n, err := sampleRows(data, sep)
	if err != nil {
		return invalid(path, fmt.Errorf("File has Errors - %w", err))
	}
	if n == 0 {
		return invalid(path, ErrEmptyFile)
	}

	lines := strings.SplitAfter(string(data), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var reason error
	for _, line := range lines {
		if strings.HasPrefix(line, "ORA-") {
			reason = ErrOraError
			break
		}
	}
	if len(lines) > 0 && strings.HasPrefix(lines[len(lines)-1], "Elapsed:") {
		reason = ErrElapsedFooter
	}
	if reason != nil {
		return invalid(path, reason)
	}
	return nil
}

// sampleRows counts up to SampleRows data rows after the sentinel and header
// lines.
func sampleRows(data []byte, sep string) (int, error) {
	r, err := newCSVReader(bytes.NewReader(data), sep, 2)
	if err != nil {
		return 0, err
	}

	n := 0
	for n < SampleRows {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, err
		}
		if len(rec) == 1 && rec[0] == "" {
			continue
		}
		n++
	}
	return n, nil
}

func invalid(path string, reason error) error {
	return &InvalidFileError{Path: path, Reason: reason}
}
