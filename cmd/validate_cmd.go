package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/opdbt/opdbt/internal/config"
	"github.com/opdbt/opdbt/internal/engine"
	"github.com/opdbt/opdbt/internal/ingest"
	"github.com/opdbt/opdbt/internal/rules"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the rule file and the collected files without running",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, config.KeyInputDir, config.KeySeparator, config.KeyRulesFile)
		if err != nil {
			return err
		}

		problems := 0
		if cfg.RulesFile == "" {
			fmt.Println("  [FAIL] no rules file configured")
			problems++
		} else if rs, err := rules.Load(cfg.RulesFile); err != nil {
			fmt.Printf("  [FAIL] %v\n", err)
			problems++
		} else {
			fmt.Printf("  [OK]   %s (%d rules)\n", cfg.RulesFile, len(rs))
		}

		if _, err := cfg.ReshapeTargets(); err != nil {
			fmt.Printf("  [FAIL] %v\n", err)
			problems++
		}

		files, err := engine.CollectFiles(cfg.InputDir)
		if err != nil {
			return err
		}
		for _, path := range files {
			if ingest.IsOutputFile(path) {
				continue
			}
			name := filepath.Base(path)
			if _, err := ingest.TableName(path); err != nil {
				fmt.Printf("  [FAIL] %s: %v\n", name, err)
				problems++
				continue
			}
			if err := ingest.ValidateFile(path, ingest.Separator(path, cfg.Separator)); err != nil {
				fmt.Printf("  [FAIL] %v\n", err)
				problems++
				continue
			}
			fmt.Printf("  [OK]   %s\n", name)
		}

		if problems > 0 {
			return fmt.Errorf("%d validation problem(s)", problems)
		}
		fmt.Println("\nEverything is valid.")
		return nil
	},
}

func init() {
	f := validateCmd.Flags()
	f.String(config.KeyInputDir, "", "directory holding the collected files")
	f.String(config.KeySeparator, "", "field separator of the collected files")
	f.String(config.KeyRulesFile, "", "rule definition file (JSON)")
	rootCmd.AddCommand(validateCmd)
}
