package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/opdbt/opdbt/internal/config"
	"github.com/opdbt/opdbt/internal/engine"
	"github.com/opdbt/opdbt/internal/ingest"
	"github.com/opdbt/opdbt/internal/registry"
	"github.com/opdbt/opdbt/internal/schema"
)

var schemaWrite bool

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage the table schema map",
}

var schemaDetectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect table headers from the collected files",
	Long: `Load the collected files and record their headers in the schema map
using the configured detection mode. The map is printed, or written back to
schema_file with --write.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, config.KeyInputDir, config.KeySeparator, config.KeySchemaDetection)
		if err != nil {
			return err
		}
		if schemaWrite && cfg.SchemaFile == "" {
			return fmt.Errorf("--write needs schema_file in the config")
		}

		schemas := schema.Schemas{}
		if cfg.SchemaFile != "" {
			if schemas, err = schema.Load(cfg.SchemaFile); err != nil {
				return err
			}
		}

		files, err := engine.CollectFiles(cfg.InputDir)
		if err != nil {
			return err
		}

		logger, closeLog := newLogger(cfg, nil)
		defer closeLog()

		loader := &ingest.Loader{
			Sep:            cfg.Separator,
			SkipLines:      cfg.SkipRows,
			SchemaMode:     schema.ParseMode(cfg.SchemaDetection),
			SkipValidation: cfg.SkipValidation,
			Logger:         logger,
		}
		res := loader.LoadAll(files, registry.New(), schemas)
		fmt.Fprintf(cmd.ErrOrStderr(), "%d files read, %d invalid, %d tables in map\n", len(res.Loaded), len(res.Invalid), len(schemas))

		if schemaWrite {
			if err := schemas.Save(cfg.SchemaFile); err != nil {
				return err
			}
			fmt.Printf("Schema map written to %s\n", cfg.SchemaFile)
			return nil
		}
		return printSchemas(cmd.OutOrStdout(), schemas)
	},
}

func printSchemas(w io.Writer, schemas schema.Schemas) error {
	data, err := json.MarshalIndent(schemas, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding schema map: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func init() {
	f := schemaDetectCmd.Flags()
	f.String(config.KeyInputDir, "", "directory holding the collected files")
	f.String(config.KeySeparator, "", "field separator of the collected files")
	f.String(config.KeySchemaDetection, "", "schema detection mode (AUTO, FILLGAP, OFF)")
	f.BoolVar(&schemaWrite, "write", false, "write the map back to schema_file")
	schemaCmd.AddCommand(schemaDetectCmd)
	rootCmd.AddCommand(schemaCmd)
}
