package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opdbt/opdbt/internal/registry"
	"github.com/opdbt/opdbt/internal/schema"
	"github.com/opdbt/opdbt/internal/table"
)

// Loader reads collected files into a registry.
type Loader struct {
	Sep            string
	SkipLines      int
	SchemaMode     schema.Mode
	DoNotImport    map[string]bool // lower-cased table names
	Consolidate    bool
	SkipValidation bool
	Logger         *slog.Logger
}

// Result summarizes one LoadAll pass.
type Result struct {
	Loaded  []string          // file paths loaded into the registry
	Skipped []string          // previous outputs and do-not-import tables
	Invalid map[string]string // file path -> reason
}

// LoadAll loads every file in sorted order. Per-file faults are recorded in
// Result.Invalid and never stop the pass.
func (l *Loader) LoadAll(files []string, reg *registry.Registry, schemas schema.Schemas) *Result {
	res := &Result{Invalid: make(map[string]string)}

	sorted := make([]string, len(files))
	copy(sorted, files)
	sort.Strings(sorted)

	for _, path := range sorted {
		if IsOutputFile(path) {
			res.Skipped = append(res.Skipped, path)
			continue
		}

		name, err := TableName(path)
		if err != nil {
			l.logger().Warn("cannot derive table name", "file", path, "error", err)
			res.Invalid[path] = err.Error()
			continue
		}

		if l.DoNotImport[strings.ToLower(name)] {
			l.logger().Info("table skipped by do_not_import", "table", name, "file", filepath.Base(path))
			res.Skipped = append(res.Skipped, path)
			continue
		}

		if err := l.LoadFile(path, name, reg, schemas); err != nil {
			var inv *InvalidFileError
			if errors.As(err, &inv) {
				l.logger().Warn("file skipped", "file", filepath.Base(path), "reason", inv.Error())
			} else {
				l.logger().Warn("file could not be loaded", "file", filepath.Base(path), "error", err)
			}
			res.Invalid[path] = err.Error()
			continue
		}
		res.Loaded = append(res.Loaded, path)
	}

	return res
}

// LoadFile validates and loads a single file into the registry under name.
func (l *Loader) LoadFile(path, name string, reg *registry.Registry, schemas schema.Schemas) error {
	sep := Separator(path, l.Sep)

	if !l.SkipValidation {
		if err := ValidateFile(path, sep); err != nil {
			return err
		}
	}

	l.logger().Debug("loading file", "file", filepath.Base(path), "table", name)
	t, err := LoadTable(path, name, sep, l.SkipLines, schemas)
	if err != nil {
		return &InvalidFileError{Path: path, Reason: fmt.Errorf("File seems to be Empty or unreadable - %w", err)}
	}

	table.Trim(t)
	if l.Consolidate {
		if _, exists := reg.Get(name); exists {
			l.logger().Info("concatenated into existing table", "table", name)
		}
		reg.Concat(name, t)
	} else {
		reg.Set(name, t)
	}

	if schemas.Detect(l.SchemaMode, name, t.Columns) && l.SchemaMode == schema.ModeFillGap {
		l.logger().Info("filled schema gap", "table", name)
	}
	return nil
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
