package views

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// Oracle driver
	_ "github.com/sijms/go-ora/v2"
)

// OracleCreator creates views in Oracle using go-ora. The dataset id is the
// owning schema; identifiers are upper-cased.
type OracleCreator struct {
	connStr string
	db      *sql.DB
}

// NewOracleCreator creates a new Oracle view creator.
func NewOracleCreator(connStr string) *OracleCreator {
	return &OracleCreator{connStr: connStr}
}

func (c *OracleCreator) Connect(ctx context.Context) error {
	db, err := sql.Open("oracle", c.connStr)
	if err != nil {
		return fmt.Errorf("opening Oracle connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("pinging Oracle: %w", err)
	}
	c.db = db
	return nil
}

func (c *OracleCreator) CreateView(ctx context.Context, _, datasetID, name, query string) error {
	if c.db == nil {
		return fmt.Errorf("Oracle view creator is not connected")
	}
	qualified := quoteIdent(strings.ToUpper(name))
	if datasetID != "" {
		qualified = quoteIdent(strings.ToUpper(datasetID)) + "." + qualified
	}
	if _, err := c.db.ExecContext(ctx, Statement(qualified, query)); err != nil {
		return fmt.Errorf("creating view %s: %w", name, err)
	}
	return nil
}

func (c *OracleCreator) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
