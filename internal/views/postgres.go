package views

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCreator creates views in PostgreSQL using pgx. The dataset id is
// the target schema; the project id is not used.
type PostgresCreator struct {
	connStr string
	pool    *pgxpool.Pool
}

// NewPostgresCreator creates a new PostgreSQL view creator.
func NewPostgresCreator(connStr string) *PostgresCreator {
	return &PostgresCreator{connStr: connStr}
}

func (c *PostgresCreator) Connect(ctx context.Context) error {
	cfg, err := pgxpool.ParseConfig(c.connStr)
	if err != nil {
		return fmt.Errorf("parsing connection string: %w", err)
	}
	cfg.MaxConns = 1
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("pinging PostgreSQL: %w", err)
	}
	c.pool = pool
	return nil
}

func (c *PostgresCreator) CreateView(ctx context.Context, _, datasetID, name, query string) error {
	if c.pool == nil {
		return fmt.Errorf("PostgreSQL view creator is not connected")
	}
	schema := datasetID
	if schema == "" {
		schema = "public"
	}
	stmt := Statement(quoteIdent(schema)+"."+quoteIdent(name), query)
	if _, err := c.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("creating view %s.%s: %w", schema, name, err)
	}
	return nil
}

func (c *PostgresCreator) Close() error {
	if c.pool != nil {
		c.pool.Close()
	}
	return nil
}
