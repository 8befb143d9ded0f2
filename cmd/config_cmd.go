package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opdbt/opdbt/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and create opdbt configuration files.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective config (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		fmt.Println("Current configuration:")
		fmt.Println()
		fmt.Printf("  Input dir:        %s\n", cfg.InputDir)
		fmt.Printf("  Output dir:       %s\n", cfg.OutputDir)
		fmt.Printf("  Separator:        %q\n", cfg.Separator)
		fmt.Printf("  Skip rows:        %d\n", cfg.SkipRows)
		fmt.Printf("  Schema detection: %s\n", cfg.SchemaDetection)
		fmt.Printf("  Schema file:      %s\n", cfg.SchemaFile)
		fmt.Printf("  Rules file:       %s\n", cfg.RulesFile)
		fmt.Printf("  Groups:           %s\n", strings.Join(cfg.ExecutionGroups, ", "))
		if len(cfg.ReshapeFor) > 0 {
			fmt.Printf("  Reshape:          %s\n", strings.Join(cfg.ReshapeFor, ", "))
		}
		if len(cfg.DoNotImport) > 0 {
			fmt.Printf("  Do not import:    %s\n", strings.Join(cfg.DoNotImport, ", "))
		}
		fmt.Printf("  Consolidate:      %t\n", cfg.ConsolidateDataframes)
		fmt.Printf("  Skip validation:  %t\n", cfg.SkipValidation)
		fmt.Println()
		fmt.Printf("  Parameters:\n")
		fmt.Printf("    DB version:     %s\n", cfg.Parameters.DBVersion)
		fmt.Printf("    Collection:     %s\n", cfg.Parameters.CollectionVersion)
		fmt.Println()
		fmt.Printf("  Views:\n")
		fmt.Printf("    Backend:        %s\n", cfg.Views.Backend)
		fmt.Printf("    Connection:     %s\n", maskSecret(cfg.Views.ConnectionString))
		fmt.Printf("    Project:        %s\n", cfg.Views.ProjectID)
		fmt.Printf("    Dataset:        %s\n", cfg.Views.DatasetID)
		fmt.Println()
		fmt.Printf("  Report:\n")
		fmt.Printf("    Directory:      %s\n", cfg.ReportDir())
		fmt.Printf("    MongoDB:        %s\n", maskSecret(cfg.Report.MongoURI))
		fmt.Println()
		if cfg.Stage.Bucket != "" {
			fmt.Printf("  Stage:            s3://%s/%s\n", cfg.Stage.Bucket, cfg.Stage.Prefix)
		}
		fmt.Printf("  Logging:          %s (%s)\n", cfg.Logging.Level, cfg.Logging.Directory)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file interactively",
	Long:  `Walk through prompts to create an opdbt configuration file at ~/.opdbt/opdbt.yaml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := bufio.NewReader(os.Stdin)

		fmt.Println("opdbt Configuration Setup")
		fmt.Println("=========================")
		fmt.Println()

		inputDir := prompt(reader, "Collection directory", "")
		outputDir := prompt(reader, "Output directory", inputDir)
		rulesFile := prompt(reader, "Rules file", "")
		schemaFile := prompt(reader, "Schema file (leave empty for none)", "")
		sep := prompt(reader, "Field separator", "|")
		groups := prompt(reader, "Execution groups (comma separated)", "1")
		fmt.Println()

		fmt.Println("Versions")
		fmt.Println("--------")
		dbVersion := prompt(reader, "Database version", "")
		collVersion := prompt(reader, "Collection script version", "")
		fmt.Println()

		fmt.Println("Views")
		fmt.Println("-----")
		backend := prompt(reader, "View backend (postgres/oracle/none)", "none")
		var connStr string
		if backend != "none" {
			connStr = prompt(reader, "Connection string", defaultConnString(backend))
		}
		fmt.Println()

		cfg := &config.Config{
			Version:         config.CurrentVersion,
			InputDir:        inputDir,
			OutputDir:       outputDir,
			Separator:       sep,
			RulesFile:       rulesFile,
			SchemaFile:      schemaFile,
			ExecutionGroups: splitList(groups),
			Parameters: config.ParametersConfig{
				DBVersion:         dbVersion,
				CollectionVersion: collVersion,
			},
			Views: config.ViewsConfig{
				Backend:          backend,
				ConnectionString: connStr,
			},
		}

		cfgPath := config.ExpandHome(config.DefaultPath)
		if cfgFile != "" {
			cfgPath = cfgFile
		}

		if err := cfg.Save(cfgPath); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}

		fmt.Printf("Config written to %s\n", cfgPath)
		fmt.Println()
		fmt.Println("Next steps:")
		fmt.Println("  opdbt validate   Check the rules and collected files")
		fmt.Println("  opdbt run        Run the transformation")
		return nil
	},
}

func prompt(reader *bufio.Reader, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("  %s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("  %s: ", label)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

func defaultConnString(backend string) string {
	switch backend {
	case "oracle":
		return "oracle://user:${ENV:ORACLE_PASSWORD}@localhost:1521/ORCL"
	default:
		return "postgres://user:${ENV:PGPASSWORD}@localhost:5432/assessment"
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
