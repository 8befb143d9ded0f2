// Package views creates SQL views in the warehouse that downstream reports
// read from. Rule files carry the view SQL; this package only ships it.
package views

import (
	"context"
	"fmt"
	"strings"
)

// Creator creates or replaces a view. projectID and datasetID locate the
// view; their meaning depends on the backend.
type Creator interface {
	Connect(ctx context.Context) error
	CreateView(ctx context.Context, projectID, datasetID, name, sql string) error
	Close() error
}

// Backend names accepted in configuration.
const (
	BackendPostgres = "postgres"
	BackendOracle   = "oracle"
	BackendNone     = "none"
)

// New returns the Creator for a backend. BackendNone and "" return nil.
func New(backend, connStr string) (Creator, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendPostgres:
		return NewPostgresCreator(connStr), nil
	case BackendOracle:
		return NewOracleCreator(connStr), nil
	case BackendNone, "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown view backend %q", backend)
}

// Statement builds the CREATE OR REPLACE VIEW text. A trailing semicolon on
// the query is dropped.
func Statement(qualifiedName, query string) string {
	q := strings.TrimSpace(query)
	q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	return fmt.Sprintf("CREATE OR REPLACE VIEW %s AS %s", qualifiedName, q)
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
